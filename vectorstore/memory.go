package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/smallnest/datanexus/llm"
)

type entry struct {
	doc       Document
	embedding []float32
}

// MemoryStore is an in-memory vector store. Embeddings are computed through
// the configured embedder at Add and Search time. Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]entry
	embedder    llm.Embedder
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store backed by the given embedder.
func NewMemoryStore(embedder llm.Embedder) *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]entry),
		embedder:    embedder,
	}
}

// Add implements Store.
func (s *MemoryStore) Add(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}
	embeddings, err := s.embedder.CreateEmbedding(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	if len(embeddings) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(embeddings), len(docs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, doc := range docs {
		s.collections[collection] = append(s.collections[collection], entry{
			doc:       doc,
			embedding: embeddings[i],
		})
	}
	return nil
}

// Search implements Store.
func (s *MemoryStore) Search(ctx context.Context, collection, query string, topK int, filter map[string]any) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, ErrInvalidTopK
	}

	embeddings, err := s.embedder.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	queryEmbedding := embeddings[0]

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}

	var results []SearchResult
	for _, e := range entries {
		if !matchesFilter(e.doc, filter) {
			continue
		}
		results = append(results, SearchResult{
			Document: e.doc,
			Score:    cosineSimilarity(queryEmbedding, e.embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, collection string, ids []string) error {
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}

	kept := entries[:0]
	for _, e := range entries {
		if !idSet[e.doc.ID] {
			kept = append(kept, e)
		}
	}
	s.collections[collection] = kept
	return nil
}

func matchesFilter(doc Document, filter map[string]any) bool {
	for key, value := range filter {
		docValue, exists := doc.Metadata[key]
		if !exists || docValue != value {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
