package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/datanexus/store"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStoreWithPool(mock, "checkpoints"), mock
}

func sampleCheckpoint() *store.Checkpoint {
	return &store.Checkpoint{
		ID:        "cp-1",
		ThreadID:  "t1",
		Seq:       1,
		Node:      "router",
		Cursor:    "load_memory",
		State:     json.RawMessage(`{"question":"total sales"}`),
		CreatedAt: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	}
}

func TestPostgresStore_Save(t *testing.T) {
	s, mock := newMockStore(t)
	cp := sampleCheckpoint()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WithArgs(cp.ID, cp.ThreadID, cp.Seq, cp.Node, cp.Cursor, []byte(cp.State), cp.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Save(context.Background(), cp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveDuplicateSeq(t *testing.T) {
	s, mock := newMockStore(t)
	cp := sampleCheckpoint()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WithArgs(cp.ID, cp.ThreadID, cp.Seq, cp.Node, cp.Cursor, []byte(cp.State), cp.CreatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.Save(context.Background(), cp)
	assert.ErrorIs(t, err, store.ErrDuplicateSeq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadLatest(t *testing.T) {
	s, mock := newMockStore(t)
	cp := sampleCheckpoint()

	rows := pgxmock.NewRows([]string{"id", "thread_id", "seq", "node", "cursor", "state", "created_at"}).
		AddRow(cp.ID, cp.ThreadID, cp.Seq, cp.Node, cp.Cursor, []byte(cp.State), cp.CreatedAt)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, thread_id, seq, node, cursor, state, created_at")).
		WithArgs("t1").
		WillReturnRows(rows)

	got, err := s.LoadLatest(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, cp.ID, got.ID)
	assert.Equal(t, cp.Seq, got.Seq)
	assert.Equal(t, cp.Cursor, got.Cursor)
	assert.JSONEq(t, string(cp.State), string(got.State))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadLatestNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, thread_id, seq, node, cursor, state, created_at")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.LoadLatest(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "thread_id", "seq", "node", "cursor", "state", "created_at"}).
		AddRow("cp-1", "t1", 1, "router", "load_memory", []byte(`{}`), now).
		AddRow("cp-2", "t1", 2, "load_memory", "schema_linking", []byte(`{}`), now)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY seq ASC")).
		WithArgs("t1").
		WillReturnRows(rows)

	list, err := s.List(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].Seq)
	assert.Equal(t, 2, list[1].Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Clear(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoints WHERE thread_id = $1")).
		WithArgs("t1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, s.Clear(context.Background(), "t1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveQueryError(t *testing.T) {
	s, mock := newMockStore(t)
	cp := sampleCheckpoint()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WithArgs(cp.ID, cp.ThreadID, cp.Seq, cp.Node, cp.Cursor, []byte(cp.State), cp.CreatedAt).
		WillReturnError(errors.New("connection refused"))

	err := s.Save(context.Background(), cp)
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrDuplicateSeq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InitSchema(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS checkpoints").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
