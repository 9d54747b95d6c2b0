package db

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"

	"github.com/morezero/api-server/pkg/result"
)

const cursorLogPrefix = "db:cursor"

// Querier is the part of pgxpool.Pool used by RowsStream.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ScanFunc converts the current row into an item.
type ScanFunc func(rows pgx.Rows) (any, error)

// RowsStream is a database cursor read one row at a time. The query is only
// sent on the first call to Next, so a call can queue many cursors while
// holding at most one connection at a time.
type RowsStream struct {
	q    Querier
	scan ScanFunc
	sql  string
	args []any

	rows pgx.Rows
	done bool
}

var _ result.Stream = (*RowsStream)(nil)

// NewRowsStream creates a RowsStream for sql.
func NewRowsStream(q Querier, scan ScanFunc, sql string, args ...any) *RowsStream {
	return &RowsStream{q: q, scan: scan, sql: sql, args: args}
}

// Next returns the next scanned row, or io.EOF once the rows are exhausted.
func (s *RowsStream) Next(ctx context.Context) (any, error) {
	if s.done {
		return nil, io.EOF
	}
	if s.rows == nil {
		rows, err := s.q.Query(ctx, s.sql, s.args...)
		if err != nil {
			s.done = true
			return nil, fmt.Errorf("%s - query failed: %w", cursorLogPrefix, err)
		}
		s.rows = rows
	}
	if !s.rows.Next() {
		err := s.rows.Err()
		s.Close()
		if err != nil {
			return nil, fmt.Errorf("%s - iteration failed: %w", cursorLogPrefix, err)
		}
		return nil, io.EOF
	}
	item, err := s.scan(s.rows)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%s - scan failed: %w", cursorLogPrefix, err)
	}
	return item, nil
}

// Close releases the cursor and its connection.
func (s *RowsStream) Close() error {
	s.done = true
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
	return nil
}
