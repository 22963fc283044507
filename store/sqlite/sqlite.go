// Package sqlite provides a SQLite-backed checkpoint store, suited to
// single-process deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smallnest/datanexus/store"
)

// SqliteStore implements store.Store using SQLite.
type SqliteStore struct {
	db        *sql.DB
	tableName string
}

var _ store.Store = (*SqliteStore)(nil)

// Options configures the SQLite connection.
type Options struct {
	Path      string
	TableName string // Default "checkpoints"
}

// NewSqliteStore opens the database and ensures the schema exists.
func NewSqliteStore(opts Options) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "checkpoints"
	}

	s := &SqliteStore{
		db:        db,
		tableName: tableName,
	}

	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema creates the checkpoint table if it doesn't exist.
func (s *SqliteStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			node TEXT NOT NULL,
			cursor TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (thread_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_thread_id ON %s (thread_id, seq);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// Save appends a checkpoint to its thread's history.
func (s *SqliteStore) Save(ctx context.Context, cp *store.Checkpoint) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, thread_id, seq, node, cursor, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.tableName)

	_, err := s.db.ExecContext(ctx, query,
		cp.ID,
		cp.ThreadID,
		cp.Seq,
		cp.Node,
		cp.Cursor,
		string(cp.State),
		cp.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrDuplicateSeq
		}
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadLatest returns the highest-Seq checkpoint for the thread.
func (s *SqliteStore) LoadLatest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, seq, node, cursor, state, created_at
		FROM %s
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, s.tableName)

	cp, err := s.scanRow(s.db.QueryRowContext(ctx, query, threadID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	return cp, nil
}

// List returns the thread's history in ascending Seq order.
func (s *SqliteStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, seq, node, cursor, state, created_at
		FROM %s
		WHERE thread_id = ?
		ORDER BY seq ASC
	`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*store.Checkpoint
	for rows.Next() {
		cp, err := s.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}
	return checkpoints, nil
}

// Clear removes all checkpoints for the thread.
func (s *SqliteStore) Clear(ctx context.Context, threadID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE thread_id = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, threadID); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SqliteStore) scanRow(row rowScanner) (*store.Checkpoint, error) {
	var cp store.Checkpoint
	var state string

	err := row.Scan(
		&cp.ID,
		&cp.ThreadID,
		&cp.Seq,
		&cp.Node,
		&cp.Cursor,
		&state,
		&cp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	cp.State = []byte(state)
	return &cp, nil
}
