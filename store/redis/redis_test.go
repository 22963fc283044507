package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/datanexus/store"
)

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := NewRedisStore(Options{Addr: mr.Addr()})
	defer s.Close()

	ctx := context.Background()

	cp1 := &store.Checkpoint{
		ID:        "cp-1",
		ThreadID:  "t1",
		Seq:       1,
		Node:      "router",
		Cursor:    "load_memory",
		State:     json.RawMessage(`{"question":"total sales"}`),
		CreatedAt: time.Now().UTC(),
	}
	cp2 := &store.Checkpoint{
		ID:        "cp-2",
		ThreadID:  "t1",
		Seq:       2,
		Node:      "load_memory",
		Cursor:    "schema_linking",
		State:     json.RawMessage(`{"question":"total sales"}`),
		CreatedAt: time.Now().UTC(),
	}

	// Save + LoadLatest
	require.NoError(t, s.Save(ctx, cp1))
	require.NoError(t, s.Save(ctx, cp2))

	latest, err := s.LoadLatest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "cp-2", latest.ID)
	assert.Equal(t, 2, latest.Seq)
	assert.Equal(t, "schema_linking", latest.Cursor)
	assert.JSONEq(t, `{"question":"total sales"}`, string(latest.State))

	// Append-only: same (thread, seq) is rejected
	dup := *cp2
	dup.ID = "cp-2-dup"
	assert.ErrorIs(t, s.Save(ctx, &dup), store.ErrDuplicateSeq)

	// List is ascending
	list, err := s.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].Seq)
	assert.Equal(t, 2, list[1].Seq)

	// Clear
	require.NoError(t, s.Clear(ctx, "t1"))
	_, err = s.LoadLatest(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRedisStore_EmptyThread(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := NewRedisStore(Options{Addr: mr.Addr()})
	defer s.Close()

	_, err = s.LoadLatest(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := s.List(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisStore_ThreadIsolation(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := NewRedisStore(Options{Addr: mr.Addr()})
	defer s.Close()

	ctx := context.Background()
	for _, threadID := range []string{"t1", "t2"} {
		require.NoError(t, s.Save(ctx, &store.Checkpoint{
			ID:        "cp-" + threadID,
			ThreadID:  threadID,
			Seq:       1,
			Node:      "router",
			Cursor:    "load_memory",
			State:     json.RawMessage(`{}`),
			CreatedAt: time.Now().UTC(),
		}))
	}

	require.NoError(t, s.Clear(ctx, "t1"))

	_, err = s.LoadLatest(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	latest, err := s.LoadLatest(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, "cp-t2", latest.ID)
}
