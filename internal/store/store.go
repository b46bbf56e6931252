package store

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so every store can run
// inside a caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// NewPage converts a 1-based page number and size into a Page, clamping
// out-of-range values.
func NewPage(page, size int) Page {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return Page{Limit: size, Offset: (page - 1) * size}
}

// stamp normalizes a timestamp before it is written so stored values
// compare correctly as text.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
