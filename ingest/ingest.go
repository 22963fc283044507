// Package ingest populates the knowledge base collections the analyst
// retrieves from: database schema documents introspected live from
// PostgreSQL and few-shot question/SQL pairs loaded from CSV.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/smallnest/datanexus/log"
	"github.com/smallnest/datanexus/vectorstore"
)

const (
	defaultChunkSize    = 1500
	defaultChunkOverlap = 100
)

// Ingestor writes knowledge base documents into the vector store. Long
// documents are split into overlapping chunks so retrieval stays focused on
// the relevant table or example.
type Ingestor struct {
	vectors  vectorstore.Store
	splitter textsplitter.TextSplitter
	logger   log.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger overrides the default logger.
func WithLogger(l log.Logger) Option {
	return func(i *Ingestor) { i.logger = l }
}

// WithSplitter overrides the default recursive character splitter.
func WithSplitter(s textsplitter.TextSplitter) Option {
	return func(i *Ingestor) { i.splitter = s }
}

// NewIngestor builds an ingestor over the given vector store.
func NewIngestor(vectors vectorstore.Store, opts ...Option) *Ingestor {
	i := &Ingestor{
		vectors: vectors,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(defaultChunkSize),
			textsplitter.WithChunkOverlap(defaultChunkOverlap),
		),
		logger: log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IngestDocuments splits the texts and writes the chunks into a collection.
// Each source text carries a "source" metadata index so chunks of one
// document can be traced back.
func (i *Ingestor) IngestDocuments(ctx context.Context, collection string, texts []string) (int, error) {
	var docs []vectorstore.Document
	for idx, text := range texts {
		chunks, err := i.splitter.SplitText(text)
		if err != nil {
			return 0, fmt.Errorf("split document %d: %w", idx, err)
		}
		for _, chunk := range chunks {
			docs = append(docs, vectorstore.Document{
				ID:       uuid.New().String(),
				Content:  chunk,
				Metadata: map[string]any{"source": idx},
			})
		}
	}
	if len(docs) == 0 {
		i.logger.Warn("nothing to ingest into %s", collection)
		return 0, nil
	}

	if err := i.vectors.Add(ctx, collection, docs); err != nil {
		return 0, fmt.Errorf("add documents to %s: %w", collection, err)
	}
	i.logger.Info("ingested %d chunk(s) from %d document(s) into %s", len(docs), len(texts), collection)
	return len(docs), nil
}

// LoadFewShotExamples reads question/SQL pairs from a two-column CSV with a
// header row and formats them as retrieval documents.
func LoadFewShotExamples(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open few-shot examples: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read few-shot examples: %w", err)
	}

	var examples []string
	for idx, record := range records {
		if idx == 0 {
			continue
		}
		if len(record) != 2 {
			continue
		}
		examples = append(examples, fmt.Sprintf("Question: %s\nSQL Query: %s", record[0], record[1]))
	}
	return examples, nil
}
