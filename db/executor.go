// Package db executes generated SQL against PostgreSQL and enforces the
// read-only contract: anything that is not a SELECT (or a WITH chain ending
// in one) is rejected before it reaches the database.
package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallnest/datanexus/log"
)

// SecurityError reports a query rejected by the read-only guard. The database
// remains the true validator; this guard only catches the obvious cases early
// with a typed error the correction loop can distinguish from SQL mistakes.
type SecurityError struct {
	Query string
}

func (e *SecurityError) Error() string {
	return "security error: only read-only SELECT queries are allowed"
}

// Querier is the subset of pgxpool.Pool the executor needs. Tests substitute
// a pgxmock pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Executor runs read-only queries and returns rows as column-keyed maps.
type Executor struct {
	pool   Querier
	logger log.Logger
}

// NewExecutor connects a pool to the analytics database.
func NewExecutor(ctx context.Context, connString string) (*Executor, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewExecutorWithPool(pool), nil
}

// NewExecutorWithPool wraps an existing pool. Useful for testing with mocks.
func NewExecutorWithPool(pool Querier) *Executor {
	return &Executor{
		pool:   pool,
		logger: log.GetDefaultLogger(),
	}
}

// Execute runs the query and returns every row as a map keyed by column name.
// An empty result set returns an empty, non-nil slice so callers can tell
// "no data" from "not executed".
func (e *Executor) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty SQL query")
	}
	if err := checkReadOnly(query); err != nil {
		e.logger.Error("rejected query: %v", err)
		return nil, err
	}

	rows, err := e.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	results := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}

	e.logger.Debug("query returned %d rows", len(results))
	return results, nil
}

// cteWriteKeywords are the statements PostgreSQL permits as data-modifying
// CTE bodies. A WITH chain containing any of them is not read-only.
var cteWriteKeywords = map[string]bool{
	"INSERT": true,
	"UPDATE": true,
	"DELETE": true,
	"MERGE":  true,
}

// checkReadOnly rejects statements that do not start with SELECT or WITH.
// WITH is allowed because analytical queries routinely open with CTEs, but
// PostgreSQL also accepts data-modifying CTEs, so the chain is scanned for
// write statements in its bodies.
func checkReadOnly(query string) error {
	upper := strings.ToUpper(strings.TrimSpace(query))
	if strings.HasPrefix(upper, "SELECT") {
		return nil
	}
	if strings.HasPrefix(upper, "WITH") {
		for _, word := range strings.FieldsFunc(upper, isNotIdentRune) {
			if cteWriteKeywords[word] {
				return &SecurityError{Query: query}
			}
		}
		return nil
	}
	return &SecurityError{Query: query}
}

func isNotIdentRune(r rune) bool {
	return (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_'
}
