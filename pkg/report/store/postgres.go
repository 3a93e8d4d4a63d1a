package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devicelab-dev/uirunner/pkg/logger"
)

// Postgres stores results in a shared PostgreSQL database.
type Postgres struct {
	conn *pgxpool.Pool
}

// OpenPostgres creates a connection pool. Connections are made lazily.
func OpenPostgres(ctx context.Context, uri string) (*Postgres, error) {
	conn, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	return &Postgres{conn: conn}, nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Begin(ctx context.Context) (Transactor, error) {
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &pgxTransactor{tx: tx}, nil
}

func (p *Postgres) Close() error {
	p.conn.Close()
	return nil
}

// pgxTransactor is used by one reporter at a time; concurrent reporters
// each get their own transaction.
type pgxTransactor struct {
	tx pgx.Tx
}

func (p *pgxTransactor) InsertTest(ctx context.Context, t Test) (int64, error) {
	sql := `
INSERT INTO tests (project_id, session_id, identifier, name, status, start_time, end_time)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id
`
	var id int64
	if err := p.tx.QueryRow(ctx,
		sql,
		t.ProjectID,
		t.SessionID,
		t.Identifier,
		t.Name,
		t.Status,
		t.StartTime,
		t.EndTime,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert test: %w", err)
	}
	return id, nil
}

func (p *pgxTransactor) InsertStep(ctx context.Context, s Step) (int64, error) {
	sql := `
INSERT INTO steps (test_id, parent_step_id, identifier, name, status, message, trace, start_time, end_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id
`
	var parent *int64
	if s.ParentStepID.Valid {
		parent = &s.ParentStepID.Int64
	}
	var id int64
	if err := p.tx.QueryRow(ctx,
		sql,
		s.TestID,
		parent,
		s.Identifier,
		s.Name,
		s.Status,
		s.Message,
		s.Trace,
		s.StartTime,
		s.EndTime,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert step: %w", err)
	}
	return id, nil
}

func (p *pgxTransactor) InsertStepParameter(ctx context.Context, stepID int64, name, value string) error {
	if _, err := p.tx.Exec(ctx,
		`INSERT INTO step_parameters (step_id, name, value) VALUES ($1, $2, $3)`,
		stepID, name, value,
	); err != nil {
		return fmt.Errorf("failed to insert step parameter: %w", err)
	}
	return nil
}

func (p *pgxTransactor) Commit(ctx context.Context) error {
	return p.tx.Commit(ctx)
}

func (p *pgxTransactor) Rollback(ctx context.Context) {
	if err := p.tx.Rollback(context.Background()); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.Error("error rolling back transaction: %v", err)
	}
}
