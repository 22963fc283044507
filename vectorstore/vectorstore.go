// Package vectorstore provides the retrieval layer behind schema linking,
// few-shot example lookup and long-term user memory. Documents live in named
// collections and are retrieved by cosine similarity over embeddings.
package vectorstore

import (
	"context"
	"errors"
)

// Collection names used by the agent.
const (
	// CollectionSchema holds database schema descriptions used for
	// schema linking.
	CollectionSchema = "schema"
	// CollectionFewShot holds curated question/SQL example pairs.
	CollectionFewShot = "few_shot"
	// CollectionUserMemory holds per-user long-term facts. Documents carry
	// a "user_id" metadata key and searches must filter on it.
	CollectionUserMemory = "user_memory"
)

var (
	// ErrUnknownCollection is returned for operations on a collection that
	// was never written to.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrInvalidTopK is returned when a search asks for zero or fewer results.
	ErrInvalidTopK = errors.New("topK must be positive")
)

// Document is a unit of retrievable content.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchResult pairs a document with its similarity score in [0, 1] for
// normalized embeddings.
type SearchResult struct {
	Document Document
	Score    float64
}

// Store is the vector retrieval interface.
type Store interface {
	// Add embeds and stores documents in the collection, creating it on
	// first use.
	Add(ctx context.Context, collection string, docs []Document) error

	// Search returns up to topK documents most similar to the query.
	// A non-nil filter restricts candidates to documents whose metadata
	// matches every filter entry.
	Search(ctx context.Context, collection, query string, topK int, filter map[string]any) ([]SearchResult, error)

	// Delete removes documents by ID from the collection.
	Delete(ctx context.Context, collection string, ids []string) error
}
