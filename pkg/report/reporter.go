// Package report persists step trees in interchangeable output formats.
//
// A Backend is opened once per run and hands out one Reporter per test.
// Reporters are driven by a single worker and never shared; backends are
// shared by every worker and must be safe for concurrent NewReporter calls.
package report

import (
	"fmt"
	"sort"
	"sync"

	"github.com/devicelab-dev/uirunner/pkg/core"
)

// Reporter writes the steps of one test.
//
// Begin is called once before any step. AddStep is called once per sealed
// node, children before their parents, and never for the root. End receives
// the sealed root and must flush and release everything the reporter holds.
type Reporter interface {
	Begin(info core.TestInfo) error
	AddStep(node *core.StepNode) error
	End(root *core.StepNode) error
}

// Backend creates reporters for one run and owns run-level artifacts.
type Backend interface {
	NewReporter() Reporter
	Close() error
}

// Options configure a backend. Formats ignore the fields they do not use.
type Options struct {
	Dir            string
	RunID          string
	ProjectID      int64
	CSVDelimiter   rune
	DatabaseDriver string
	DSN            string
	Environment    map[string]string
}

// Opener creates a backend from options.
type Opener func(opts Options) (Backend, error)

// Format keys understood by Open.
const (
	FormatAllure = "allure"
	FormatCSV    = "csv"
	FormatDB     = "db"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Opener{}
)

func init() {
	Register(FormatAllure, openAllure)
	Register(FormatCSV, openCSV)
	Register(FormatDB, openDB)
}

// Register makes a format available under key. It panics on a nil opener
// or a duplicate key.
func Register(key string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if open == nil {
		panic("report: Register opener is nil")
	}
	if _, dup := registry[key]; dup {
		panic("report: Register called twice for format " + key)
	}
	registry[key] = open
}

// Open creates the backend registered under key.
func Open(key string, opts Options) (Backend, error) {
	registryMu.RLock()
	open, ok := registry[key]
	registryMu.RUnlock()
	if !ok {
		return nil, core.ErrUnknownReporter.WithMessage(
			fmt.Sprintf("unknown reporter %q (available: %v)", key, Formats()))
	}
	b, err := open(opts)
	if err != nil {
		return nil, fmt.Errorf("open %s reporter: %w", key, err)
	}
	return b, nil
}

// Formats returns the registered format keys in sorted order.
func Formats() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
