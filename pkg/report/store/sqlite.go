package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/devicelab-dev/uirunner/pkg/logger"
)

// SQLite stores results in a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at dsn. A plain path is
// turned into a DSN with WAL journaling, a busy timeout and immediate
// transactions so concurrent writers queue instead of failing.
func OpenSQLite(dsn string) (*SQLite, error) {
	if !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		q := url.Values{}
		q.Add("_pragma", "busy_timeout(10000)")
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "foreign_keys(1)")
		q.Set("_txlock", "immediate")
		dsn = "file:" + dsn + "?" + q.Encode()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open db: %w", err)
	}
	return &SQLite{db: db}, nil
}

// DB exposes the underlying handle for queries outside the reporter.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Begin(ctx context.Context) (Transactor, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) InsertTest(ctx context.Context, rec Test) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO tests (project_id, session_id, identifier, name, status, start_time, end_time)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ProjectID,
		rec.SessionID,
		rec.Identifier,
		rec.Name,
		rec.Status,
		formatTime(rec.StartTime),
		formatTime(rec.EndTime),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert test: %w", err)
	}
	return res.LastInsertId()
}

func (t *sqliteTx) InsertStep(ctx context.Context, rec Step) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO steps (test_id, parent_step_id, identifier, name, status, message, trace, start_time, end_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TestID,
		rec.ParentStepID,
		rec.Identifier,
		rec.Name,
		rec.Status,
		rec.Message,
		rec.Trace,
		formatTime(rec.StartTime),
		formatTime(rec.EndTime),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert step: %w", err)
	}
	return res.LastInsertId()
}

func (t *sqliteTx) InsertStepParameter(ctx context.Context, stepID int64, name, value string) error {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO step_parameters (step_id, name, value) VALUES (?, ?, ?)`,
		stepID, name, value,
	); err != nil {
		return fmt.Errorf("failed to insert step parameter: %w", err)
	}
	return nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback(ctx context.Context) {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logger.Error("error rolling back transaction: %v", err)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
