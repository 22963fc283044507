package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallnest/datanexus/db"
)

const (
	tablesQuery = `SELECT table_name FROM information_schema.tables WHERE table_schema = $1 ORDER BY table_name`

	columnsQuery = `SELECT column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

	primaryKeyQuery = `SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.table_schema = $1 AND tc.table_name = $2 AND tc.constraint_type = 'PRIMARY KEY'`

	foreignKeyQuery = `SELECT kcu.column_name, ccu.table_name AS referenced_table, ccu.column_name AS referenced_column
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.table_schema = $1 AND tc.table_name = $2 AND tc.constraint_type = 'FOREIGN KEY'`

	indexesQuery = `SELECT indexname, indexdef FROM pg_indexes WHERE schemaname = $1 AND tablename = $2`
)

// SchemaIntrospector reads table definitions out of PostgreSQL's catalog and
// renders one human-readable document per table, the shape the SQL
// generation prompt expects.
type SchemaIntrospector struct {
	q          db.Querier
	schemaName string
}

// NewSchemaIntrospector introspects the given database schema, "public" if
// empty.
func NewSchemaIntrospector(q db.Querier, schemaName string) *SchemaIntrospector {
	if schemaName == "" {
		schemaName = "public"
	}
	return &SchemaIntrospector{q: q, schemaName: schemaName}
}

// FetchSchemaDocs returns one document per table: columns with types and
// nullability, primary key, foreign keys and indexes.
func (s *SchemaIntrospector) FetchSchemaDocs(ctx context.Context) ([]string, error) {
	tables, err := s.tableNames(ctx)
	if err != nil {
		return nil, err
	}

	docs := make([]string, 0, len(tables))
	for _, table := range tables {
		doc, err := s.describeTable(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("describe table %s: %w", table, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *SchemaIntrospector) tableNames(ctx context.Context) ([]string, error) {
	rows, err := s.q.Query(ctx, tablesQuery, s.schemaName)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (s *SchemaIntrospector) describeTable(ctx context.Context, table string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\n", table)

	rows, err := s.q.Query(ctx, columnsQuery, s.schemaName, table)
	if err != nil {
		return "", err
	}
	b.WriteString("Columns:\n")
	for rows.Next() {
		var name, dataType, isNullable string
		var columnDefault *string
		if err := rows.Scan(&name, &dataType, &isNullable, &columnDefault); err != nil {
			rows.Close()
			return "", err
		}
		nullability := "NOT NULL"
		if isNullable == "YES" {
			nullability = "NULL"
		}
		fmt.Fprintf(&b, "  - %s %s %s", name, dataType, nullability)
		if columnDefault != nil {
			fmt.Fprintf(&b, " (default: %s)", *columnDefault)
		}
		b.WriteByte('\n')
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}

	pks, err := s.stringColumn(ctx, primaryKeyQuery, table)
	if err != nil {
		return "", err
	}
	if len(pks) > 0 {
		fmt.Fprintf(&b, "Primary Key: %s\n", strings.Join(pks, ", "))
	}

	rows, err = s.q.Query(ctx, foreignKeyQuery, s.schemaName, table)
	if err != nil {
		return "", err
	}
	var fks []string
	for rows.Next() {
		var column, refTable, refColumn string
		if err := rows.Scan(&column, &refTable, &refColumn); err != nil {
			rows.Close()
			return "", err
		}
		fks = append(fks, fmt.Sprintf("%s references %s(%s)", column, refTable, refColumn))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(fks) > 0 {
		b.WriteString("Foreign Keys:\n")
		for _, fk := range fks {
			fmt.Fprintf(&b, "  - %s\n", fk)
		}
	}

	rows, err = s.q.Query(ctx, indexesQuery, s.schemaName, table)
	if err != nil {
		return "", err
	}
	var indexes []string
	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			rows.Close()
			return "", err
		}
		indexes = append(indexes, fmt.Sprintf("%s: %s", name, def))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(indexes) > 0 {
		b.WriteString("Indexes:\n")
		for _, idx := range indexes {
			fmt.Fprintf(&b, "  - %s\n", idx)
		}
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func (s *SchemaIntrospector) stringColumn(ctx context.Context, query, table string) ([]string, error) {
	rows, err := s.q.Query(ctx, query, s.schemaName, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
