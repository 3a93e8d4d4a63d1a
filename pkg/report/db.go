package report

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/logger"
	"github.com/devicelab-dev/uirunner/pkg/report/store"
)

// dbWriteTimeout bounds the transaction that stores one test.
const dbWriteTimeout = time.Minute

type dbBackend struct {
	conn      store.Connection
	runID     string
	projectID int64
}

func openDB(opts Options) (Backend, error) {
	driver := opts.DatabaseDriver
	if driver == "" {
		driver = store.DriverSQLite
	}
	dsn := opts.DSN
	if dsn == "" && driver == store.DriverSQLite {
		dsn = filepath.Join(opts.Dir, "results.db")
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbWriteTimeout)
	defer cancel()
	conn, err := store.Open(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return newDBBackend(conn, opts), nil
}

func newDBBackend(conn store.Connection, opts Options) *dbBackend {
	return &dbBackend{conn: conn, runID: opts.RunID, projectID: opts.ProjectID}
}

func (b *dbBackend) NewReporter() Reporter {
	return &dbReporter{backend: b}
}

func (b *dbBackend) Close() error {
	return b.conn.Close()
}

// dbReporter buffers sealed steps and writes the whole test in one
// transaction at End.
type dbReporter struct {
	backend *dbBackend
	info    core.TestInfo
	steps   []*core.StepNode
}

func (r *dbReporter) Begin(info core.TestInfo) error {
	r.info = info
	r.steps = r.steps[:0]
	return nil
}

func (r *dbReporter) AddStep(node *core.StepNode) error {
	r.steps = append(r.steps, node)
	return nil
}

func (r *dbReporter) End(root *core.StepNode) error {
	ctx, cancel := context.WithTimeout(context.Background(), dbWriteTimeout)
	defer cancel()

	tx, err := r.backend.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin result transaction: %w", err)
	}
	if err := r.write(ctx, tx, root); err != nil {
		tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit results of %s: %w", r.info.ID, err)
	}
	return nil
}

func (r *dbReporter) write(ctx context.Context, tx store.Transactor, root *core.StepNode) error {
	testID, err := tx.InsertTest(ctx, store.Test{
		ProjectID:  r.backend.projectID,
		SessionID:  r.truncate("session id", "", r.backend.runID, store.MaxSessionID),
		Identifier: r.truncate("identifier", "", r.info.ID, store.MaxIdentifier),
		Name:       r.truncate("name", "", r.info.Name, store.MaxName),
		Status:     root.Status.String(),
		StartTime:  root.Start,
		EndTime:    root.Stop,
	})
	if err != nil {
		return fmt.Errorf("insert test %s: %w", r.info.ID, err)
	}

	// Steps arrive children first; parents must be inserted before the
	// rows that reference them.
	nodes := make([]*core.StepNode, len(r.steps))
	copy(nodes, r.steps)
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Depth() < nodes[j].Depth() })

	ids := make(map[string]int64, len(nodes))
	for _, n := range nodes {
		var parent sql.NullInt64
		if n.ParentPath != "" {
			id, ok := ids[n.ParentPath]
			if !ok {
				return fmt.Errorf("step %s of %s has no recorded parent %s", n.Path, r.info.ID, n.ParentPath)
			}
			parent = sql.NullInt64{Int64: id, Valid: true}
		}

		stepID, err := tx.InsertStep(ctx, store.Step{
			TestID:       testID,
			ParentStepID: parent,
			Identifier:   r.truncate("identifier", n.Path, n.Path, store.MaxIdentifier),
			Name:         r.truncate("name", n.Path, n.Name, store.MaxName),
			Status:       n.Status.String(),
			Message:      r.truncate("message", n.Path, n.Message, store.MaxMessage),
			Trace:        r.truncate("trace", n.Path, n.Trace, store.MaxTrace),
			StartTime:    n.Start,
			EndTime:      n.Stop,
		})
		if err != nil {
			return fmt.Errorf("insert step %s of %s: %w", n.Path, r.info.ID, err)
		}
		ids[n.Path] = stepID

		for _, p := range n.Parameters {
			name := r.truncate("parameter name", n.Path, p.Name, store.MaxParamName)
			value := r.truncate("parameter "+p.Name, n.Path, p.Value, store.MaxParamValue)
			if err := tx.InsertStepParameter(ctx, stepID, name, value); err != nil {
				return fmt.Errorf("insert parameter %s of step %s: %w", p.Name, n.Path, err)
			}
		}
	}
	return nil
}

// truncate cuts value to max characters, logging a warning when it does.
func (r *dbReporter) truncate(field, path, value string, max int) string {
	n := utf8.RuneCountInString(value)
	if n <= max {
		return value
	}
	where := r.info.ID
	if path != "" {
		where += " step " + path
	}
	logger.Warn("truncating %s of %s from %d to %d characters", field, where, n, max)
	return string([]rune(value)[:max])
}
