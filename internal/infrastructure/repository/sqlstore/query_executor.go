package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// QueryExecutor runs generated statements inside a read-only transaction.
type QueryExecutor struct {
	db      *sql.DB
	dialect Dialect
	maxRows int
	timeout time.Duration
}

func NewQueryExecutor(db *sql.DB, dialect Dialect, maxRows int, timeout time.Duration) *QueryExecutor {
	if maxRows <= 0 {
		maxRows = 200
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QueryExecutor{db: db, dialect: dialect, maxRows: maxRows, timeout: timeout}
}

func (e *QueryExecutor) Query(ctx context.Context, statement string) ([]string, [][]any, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if e.dialect == DialectPostgres {
		ms := e.timeout.Milliseconds()
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", ms)); err != nil {
			return nil, nil, fmt.Errorf("set statement timeout: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, statement)
	if err != nil {
		return nil, nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}

	out := make([][]any, 0)
	for rows.Next() {
		if len(out) >= e.maxRows {
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, out, nil
}
