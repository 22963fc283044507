// Package memory provides an in-memory checkpoint store, used as the
// default backend and in tests.
package memory

import (
	"context"
	"sync"

	"github.com/smallnest/datanexus/store"
)

// MemoryStore implements store.Store with a mutex-guarded map. Checkpoint
// history survives only as long as the process.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]*store.Checkpoint
}

var _ store.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string][]*store.Checkpoint),
	}
}

// Save appends a checkpoint to the thread's history.
func (s *MemoryStore) Save(ctx context.Context, cp *store.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.threads[cp.ThreadID]
	for _, existing := range history {
		if existing.Seq == cp.Seq {
			return store.ErrDuplicateSeq
		}
	}

	clone := *cp
	s.threads[cp.ThreadID] = append(history, &clone)
	return nil
}

// LoadLatest returns the highest-Seq checkpoint for the thread.
func (s *MemoryStore) LoadLatest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.threads[threadID]
	if len(history) == 0 {
		return nil, store.ErrNotFound
	}

	latest := history[0]
	for _, cp := range history[1:] {
		if cp.Seq > latest.Seq {
			latest = cp
		}
	}

	clone := *latest
	return &clone, nil
}

// List returns the thread's history in ascending Seq order.
func (s *MemoryStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.threads[threadID]
	out := make([]*store.Checkpoint, len(history))
	for i, cp := range history {
		clone := *cp
		out[i] = &clone
	}

	// List is the replay surface, so the ascending-Seq contract must hold
	// even if saves arrived out of order.
	for i := range out {
		for j := i + 1; j < len(out); j++ {
			if out[j].Seq < out[i].Seq {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// Clear removes all checkpoints for the thread.
func (s *MemoryStore) Clear(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}
