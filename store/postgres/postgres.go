// Package postgres provides a PostgreSQL-backed checkpoint store on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallnest/datanexus/store"
)

// DBPool is the subset of pgxpool.Pool the store needs. Tests substitute a
// pgxmock pool.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements store.Store using PostgreSQL.
type PostgresStore struct {
	pool      DBPool
	tableName string
}

var _ store.Store = (*PostgresStore)(nil)

// Options configures the Postgres connection.
type Options struct {
	ConnString string
	TableName  string // Default "checkpoints"
}

// NewPostgresStore creates a new Postgres checkpoint store.
func NewPostgresStore(ctx context.Context, opts Options) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewPostgresStoreWithPool(pool, opts.TableName), nil
}

// NewPostgresStoreWithPool creates a store with an existing pool.
// Useful for testing with mocks.
func NewPostgresStoreWithPool(pool DBPool, tableName string) *PostgresStore {
	if tableName == "" {
		tableName = "checkpoints"
	}
	return &PostgresStore{
		pool:      pool,
		tableName: tableName,
	}
}

// InitSchema creates the checkpoint table if it doesn't exist. The unique
// (thread_id, seq) index enforces the append-only contract at the database
// level.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			node TEXT NOT NULL,
			cursor TEXT NOT NULL,
			state JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (thread_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_thread_id ON %s (thread_id, seq);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Save appends a checkpoint to its thread's history.
func (s *PostgresStore) Save(ctx context.Context, cp *store.Checkpoint) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, thread_id, seq, node, cursor, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.tableName)

	_, err := s.pool.Exec(ctx, query,
		cp.ID,
		cp.ThreadID,
		cp.Seq,
		cp.Node,
		cp.Cursor,
		[]byte(cp.State),
		cp.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return store.ErrDuplicateSeq
		}
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadLatest returns the highest-Seq checkpoint for the thread.
func (s *PostgresStore) LoadLatest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, seq, node, cursor, state, created_at
		FROM %s
		WHERE thread_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, s.tableName)

	var cp store.Checkpoint
	var state []byte

	err := s.pool.QueryRow(ctx, query, threadID).Scan(
		&cp.ID,
		&cp.ThreadID,
		&cp.Seq,
		&cp.Node,
		&cp.Cursor,
		&state,
		&cp.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}

	cp.State = state
	return &cp, nil
}

// List returns the thread's history in ascending Seq order.
func (s *PostgresStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, seq, node, cursor, state, created_at
		FROM %s
		WHERE thread_id = $1
		ORDER BY seq ASC
	`, s.tableName)

	rows, err := s.pool.Query(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*store.Checkpoint
	for rows.Next() {
		var cp store.Checkpoint
		var state []byte

		err := rows.Scan(
			&cp.ID,
			&cp.ThreadID,
			&cp.Seq,
			&cp.Node,
			&cp.Cursor,
			&state,
			&cp.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}

		cp.State = state
		checkpoints = append(checkpoints, &cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}
	return checkpoints, nil
}

// Clear removes all checkpoints for the thread.
func (s *PostgresStore) Clear(ctx context.Context, threadID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE thread_id = $1", s.tableName)
	if _, err := s.pool.Exec(ctx, query, threadID); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}
