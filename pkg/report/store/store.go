// Package store persists test results in a relational database.
//
// Two backends share one schema: SQLite for local runs and PostgreSQL for
// shared result databases. Each test is written inside its own transaction,
// so concurrent workers rely on the database for isolation, not on locks in
// this process.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Column widths of the schema. Values longer than these are truncated by the caller.
const (
	MaxIdentifier = 255
	MaxName       = 255
	MaxSessionID  = 64
	MaxStatus     = 16
	MaxMessage    = 2048
	MaxTrace      = 8192
	MaxParamName  = 255
	MaxParamValue = 1024
)

// Test is one row of the tests table.
type Test struct {
	ProjectID  int64
	SessionID  string
	Identifier string
	Name       string
	Status     string
	StartTime  time.Time
	EndTime    time.Time
}

// Step is one row of the steps table. ParentStepID is invalid for top-level steps.
type Step struct {
	TestID       int64
	ParentStepID sql.NullInt64
	Identifier   string
	Name         string
	Status       string
	Message      string
	Trace        string
	StartTime    time.Time
	EndTime      time.Time
}

// Connection is an open result database.
type Connection interface {
	// EnsureSchema creates missing tables. Existing tables are left alone.
	EnsureSchema(ctx context.Context) error
	Begin(ctx context.Context) (Transactor, error)
	Close() error
}

// Transactor writes the rows of one test atomically.
type Transactor interface {
	InsertTest(ctx context.Context, t Test) (int64, error)
	InsertStep(ctx context.Context, s Step) (int64, error)
	InsertStepParameter(ctx context.Context, stepID int64, name, value string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context)
}

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the database selected by driver.
func Open(ctx context.Context, driver, dsn string) (Connection, error) {
	switch driver {
	case DriverSQLite:
		return OpenSQLite(dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
