package db

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockExecutor(t *testing.T) (*Executor, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewExecutorWithPool(mock), mock
}

func TestExecutor_SelectReturnsRows(t *testing.T) {
	e, mock := newMockExecutor(t)

	query := "SELECT region, SUM(amount) AS total FROM orders GROUP BY region"
	rows := pgxmock.NewRows([]string{"region", "total"}).
		AddRow("north", int64(1200)).
		AddRow("south", int64(800))
	mock.ExpectQuery(regexp.QuoteMeta(query)).WillReturnRows(rows)

	result, err := e.Execute(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "north", result[0]["region"])
	assert.Equal(t, int64(1200), result[0]["total"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_EmptyResultIsNotNil(t *testing.T) {
	e, mock := newMockExecutor(t)

	query := "SELECT id FROM orders WHERE amount > 1000000"
	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	result, err := e.Execute(context.Background(), query)
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Empty(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_WithCTEAllowed(t *testing.T) {
	e, mock := newMockExecutor(t)

	for _, query := range []string{
		"WITH monthly AS (SELECT date_trunc('month', order_date) m, SUM(amount) s FROM orders GROUP BY 1) SELECT * FROM monthly",
		"WITH recent AS (SELECT id, deleted_at, last_update FROM orders) SELECT * FROM recent",
	} {
		mock.ExpectQuery(regexp.QuoteMeta(query)).
			WillReturnRows(pgxmock.NewRows([]string{"id"}))

		_, err := e.Execute(context.Background(), query)
		require.NoError(t, err, "query %q must be allowed", query)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_RejectsDataModifyingCTE(t *testing.T) {
	e, mock := newMockExecutor(t)
	ctx := context.Background()

	for _, query := range []string{
		"WITH d AS (DELETE FROM sales RETURNING total) SELECT * FROM d",
		"WITH u AS (UPDATE orders SET amount = 0 RETURNING id) SELECT count(*) FROM u",
		"with ins as (insert into audit_log values (1) returning id) select * from ins",
		"WITH m AS (MERGE INTO orders USING staging ON false WHEN NOT MATCHED THEN DO NOTHING) SELECT 1",
	} {
		_, err := e.Execute(ctx, query)
		var secErr *SecurityError
		require.ErrorAs(t, err, &secErr, "query %q must be rejected", query)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_RejectsWrites(t *testing.T) {
	e, _ := newMockExecutor(t)
	ctx := context.Background()

	for _, query := range []string{
		"DELETE FROM orders",
		"UPDATE orders SET amount = 0",
		"INSERT INTO orders VALUES (1)",
		"DROP TABLE orders",
		"  truncate orders",
	} {
		_, err := e.Execute(ctx, query)
		var secErr *SecurityError
		require.ErrorAs(t, err, &secErr, "query %q must be rejected", query)
		assert.NotEmpty(t, secErr.Query)
	}
}

func TestExecutor_EmptyQuery(t *testing.T) {
	e, _ := newMockExecutor(t)

	_, err := e.Execute(context.Background(), "   ")
	require.Error(t, err)
	var secErr *SecurityError
	assert.False(t, errors.As(err, &secErr))
}

func TestExecutor_DatabaseErrorPropagates(t *testing.T) {
	e, mock := newMockExecutor(t)

	query := "SELECT missing_column FROM orders"
	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WillReturnError(errors.New(`column "missing_column" does not exist`))

	_, err := e.Execute(context.Background(), query)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing_column")

	var secErr *SecurityError
	assert.False(t, errors.As(err, &secErr))
	assert.NoError(t, mock.ExpectationsWereMet())
}
