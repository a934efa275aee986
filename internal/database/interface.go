// Package database is the generic storage layer used throughout scanguard.
// Implementations exist for SQLite (default/test), MySQL, and PostgreSQL.
package database

import (
	"context"
	"fmt"

	"github.com/ossguard/scanguard/internal/config"
)

// Querier is the read/write surface shared by DB and Tx.
type Querier interface {
	// Select executes a query and scans rows into dest (slice pointer).
	Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error

	// Get executes a query expected to return a single row and scans into dest.
	Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error

	// Exec executes a statement that returns no rows.
	Exec(ctx context.Context, query string, args ...interface{}) error

	// Insert inserts a struct-tagged record into table. Callers are expected
	// to have already populated the record's identity column (this catalogue
	// uses application-generated UUIDs, not autoincrement ids).
	Insert(ctx context.Context, table string, record interface{}) error

	// Update updates rows matching the where clause with values from record.
	Update(ctx context.Context, table string, record interface{}, where string, args ...interface{}) error

	// Upsert inserts or updates based on conflictCols (ON CONFLICT clause).
	Upsert(ctx context.Context, table string, record interface{}, conflictCols []string) error
}

// Tx is a Querier scoped to one transaction.
type Tx interface {
	Querier
	Commit() error
	Rollback() error
}

// DB is the generic storage interface used throughout scanguard.
type DB interface {
	Querier

	// BeginTx starts a transaction. Callers must Commit or Rollback it.
	BeginTx(ctx context.Context) (Tx, error)

	// Migrate applies pending schema migrations in order.
	Migrate(ctx context.Context) error

	// Ping verifies the database connection is alive.
	Ping(ctx context.Context) error

	// Close releases the database connection.
	Close() error

	// Driver returns the backend name: "sqlite", "mysql", or "postgres".
	Driver() string

	// SupportsSkipLocked reports whether LeaseJobs can use native
	// SELECT ... FOR UPDATE SKIP LOCKED syntax on this backend.
	SupportsSkipLocked() bool
}

// New returns a DB implementation matching cfg.Driver.
// SQLite is the default when driver is empty; an unrecognised driver is an error.
func New(cfg config.DatabaseConfig) (DB, error) {
	switch cfg.Driver {
	case "postgres", "postgresql":
		return NewPostgres(cfg)
	case "mysql":
		return NewMySQL(cfg)
	case "sqlite", "sqlite3", "":
		return NewSQLite(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q (supported: sqlite, mysql, postgres)", cfg.Driver)
	}
}
