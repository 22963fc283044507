// Package store defines the checkpoint persistence contract for workflow
// turns. A checkpoint is a durable snapshot of the agent state taken after
// every completed step, keyed by an opaque thread id supplied by the caller.
//
// Checkpoints are append-only per thread: one entry per step, never
// overwritten, so the full sequence of partial updates for a turn can be
// replayed for debugging or audit. The latest entry carries the cursor used
// to resume an interrupted turn.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no checkpoint exists for the requested
	// thread or id.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrDuplicateSeq is returned when a checkpoint with the same
	// (thread id, sequence number) pair already exists. Checkpoint history
	// is append-only; entries are never overwritten in place.
	ErrDuplicateSeq = errors.New("checkpoint sequence already exists")
)

// Checkpoint is one durable snapshot in a thread's append-only history.
type Checkpoint struct {
	// ID uniquely identifies this checkpoint.
	ID string `json:"id"`

	// ThreadID partitions checkpoint history. Threads never share state.
	ThreadID string `json:"thread_id"`

	// Seq is the per-thread step sequence number, monotonically increasing
	// across turns.
	Seq int `json:"seq"`

	// Node is the step that completed just before this snapshot was taken.
	Node string `json:"node"`

	// Cursor is the next step to execute. An END cursor marks a finished
	// turn; anything else marks a resumable, interrupted turn.
	Cursor string `json:"cursor"`

	// State is the serialized agent state. The store treats it as opaque
	// bytes; the engine owns encoding and decoding.
	State json.RawMessage `json:"state"`

	CreatedAt time.Time `json:"created_at"`
}

// Store is the checkpoint persistence interface. Implementations must be
// safe for concurrent use by turns on distinct thread ids.
type Store interface {
	// Save appends a checkpoint to its thread's history. Saving a
	// (thread, seq) pair that already exists fails with ErrDuplicateSeq.
	Save(ctx context.Context, cp *Checkpoint) error

	// LoadLatest returns the checkpoint with the highest Seq for the
	// thread, or ErrNotFound when the thread has no history.
	LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error)

	// List returns the thread's full history in ascending Seq order.
	List(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// Clear removes all checkpoints for the thread.
	Clear(ctx context.Context, threadID string) error
}
