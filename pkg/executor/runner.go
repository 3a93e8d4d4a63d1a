// Package executor schedules test units across a fixed pool of workers.
//
// Each worker runs one unit at a time. For every unit it leases a device if
// the unit needs one, opens a driver, builds a private session and step tree,
// runs the body, and hands the sealed tree to the reporter. Nothing a unit
// does (including panicking) reaches the scheduler or the other workers.
package executor

import (
	"fmt"
	"time"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/devicepool"
	"github.com/devicelab-dev/uirunner/pkg/driver"
	"github.com/devicelab-dev/uirunner/pkg/report"
	"github.com/devicelab-dev/uirunner/pkg/session"
	"github.com/devicelab-dev/uirunner/pkg/visual"
)

// TestUnit is one independently schedulable test case.
type TestUnit struct {
	ID          string
	Name        string
	Description string
	Labels      []core.Label

	// Device is the lease requirement, nil when the unit runs without a device.
	Device *devicepool.Requirement

	Body func(s *session.Session) error
}

// RunnerConfig configures the scheduler.
type RunnerConfig struct {
	Workers int
	RunID   string

	Reporter report.Backend     // nil discards steps
	Pool     *devicepool.Pool   // required when any unit needs a device
	Visual   *visual.Comparator // nil disables screen assertions

	DriverName    string // registry key; empty runs units without a driver
	DriverOptions map[string]string

	// Live progress callbacks, invoked from worker goroutines.
	OnUnitStart func(workerID int, unit TestUnit)
	OnUnitEnd   func(workerID int, result UnitResult)
}

// RunResult contains the outcome of a test run.
type RunResult struct {
	Status   core.Status // worst unit status
	Total    int
	Passed   int
	Failed   int
	Broken   int
	Duration time.Duration // wall clock
	Units    []UnitResult  // in submission order
}

// UnitResult contains the outcome of a single unit.
type UnitResult struct {
	ID          string
	Name        string
	Status      core.Status
	Message     string
	WorkerID    int
	Device      string
	Duration    time.Duration
	StepsTotal  int
	StepsPassed int
	StepsFailed int
	StepsBroken int
}

// Runner is the scheduler. One Runner may execute several runs, one at a time.
type Runner struct {
	config RunnerConfig
}

// New validates cfg and creates a Runner.
func New(cfg RunnerConfig) (*Runner, error) {
	if cfg.Workers < 1 {
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("worker count must be at least 1, got %d", cfg.Workers))
	}
	if cfg.DriverName != "" {
		if _, err := driver.Lookup(cfg.DriverName); err != nil {
			return nil, err
		}
	}
	return &Runner{config: cfg}, nil
}

// buildRunResult aggregates unit results into a run result.
func buildRunResult(units []UnitResult, wallClock time.Duration) *RunResult {
	result := &RunResult{
		Total:    len(units),
		Units:    units,
		Duration: wallClock,
	}
	for _, u := range units {
		switch u.Status {
		case core.StatusPassed:
			result.Passed++
		case core.StatusFailed:
			result.Failed++
		default:
			result.Broken++
		}
		result.Status = core.Worst(result.Status, u.Status)
	}
	return result
}
