package storage

import (
	"context"
	"database/sql"
)

// Querier is the subset of database/sql operations shared by *sql.DB and
// *sql.Tx. Store methods that must be composable into a caller-owned
// transaction take a Querier instead of holding their own handle.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)
