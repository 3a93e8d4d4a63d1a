package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/logger"
	"github.com/devicelab-dev/uirunner/pkg/metrics"
)

// workItem represents a unit and its index in the submitted list.
type workItem struct {
	unit  TestUnit
	index int
}

// Run executes every unit exactly once using a work queue: all workers pull
// from the same queue until it is empty. Run returns after every worker has
// exited. Unit failures never surface as an error; they are in the result.
func (r *Runner) Run(ctx context.Context, units []TestUnit) *RunResult {
	startTime := time.Now()

	workQueue := make(chan workItem, len(units))
	for i, u := range units {
		workQueue <- workItem{unit: u, index: i}
	}
	close(workQueue)

	workers := r.config.Workers
	if workers > len(units) {
		workers = len(units)
	}

	results := make([]UnitResult, len(units))
	var resultsMu sync.Mutex
	var wg conc.WaitGroup

	for i := 0; i < workers; i++ {
		workerID := i + 1
		wg.Go(func() {
			for item := range workQueue {
				result := r.runSafely(ctx, workerID, item.unit)

				resultsMu.Lock()
				results[item.index] = result
				resultsMu.Unlock()
			}
		})
	}

	// Panics are converted per unit; anything recovered here escaped a worker loop.
	if recovered := wg.WaitAndRecover(); recovered != nil {
		logger.Error("worker crashed: %v", recovered.Value)
	}

	result := buildRunResult(results, time.Since(startTime))
	logger.Info("all done: %d tests in %s (%d passed, %d failed, %d broken)",
		result.Total, result.Duration.Round(time.Millisecond), result.Passed, result.Failed, result.Broken)
	return result
}

// runSafely runs one unit and turns a crash of the worker wrapper itself
// into a Broken result, so the worker goes on to the next unit.
func (r *Runner) runSafely(ctx context.Context, workerID int, unit TestUnit) (result UnitResult) {
	metrics.WorkerBusy(1)
	defer metrics.WorkerBusy(-1)

	if r.config.OnUnitStart != nil {
		r.config.OnUnitStart(workerID, unit)
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("[worker %d] unit %s crashed outside its body: %v", workerID, unit.ID, rec)
			result = UnitResult{
				ID:       unit.ID,
				Name:     unit.Name,
				Status:   core.StatusBroken,
				Message:  fmt.Sprintf("worker crashed: %v", rec),
				WorkerID: workerID,
			}
			metrics.RecordTest(core.StatusBroken)
		}
		if r.config.OnUnitEnd != nil {
			r.config.OnUnitEnd(workerID, result)
		}
	}()
	return r.runUnit(ctx, workerID, unit)
}
