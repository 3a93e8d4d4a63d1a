package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/driver"
	"github.com/devicelab-dev/uirunner/pkg/logger"
	"github.com/devicelab-dev/uirunner/pkg/metrics"
	"github.com/devicelab-dev/uirunner/pkg/report"
	"github.com/devicelab-dev/uirunner/pkg/session"
	"github.com/devicelab-dev/uirunner/pkg/steptree"
)

// runUnit executes one unit on the calling worker. Every failure, from a
// lease timeout to a panic in the body, ends up in the unit's root step.
func (r *Runner) runUnit(ctx context.Context, workerID int, unit TestUnit) UnitResult {
	start := time.Now()
	info := core.TestInfo{
		ID:          unit.ID,
		Name:        unit.Name,
		Description: unit.Description,
		Labels:      unit.Labels,
		RunID:       r.config.RunID,
		SessionID:   uuid.NewString(),
		WorkerID:    workerID,
	}
	log := logger.WithFields(map[string]interface{}{"test": unit.ID, "worker": workerID})

	device, setupErr := r.lease(ctx, unit)
	if device != nil {
		info.Device = device.ID
	}

	rep := r.newReporter()
	sink := &stepSink{next: rep}
	if err := rep.Begin(info); err != nil {
		log.Warnf("reporter failed to begin: %v", err)
	}
	tree := steptree.New(unit.ID, unit.Name, sink)

	var sess *session.Session
	bodyErr := setupErr
	if setupErr == nil {
		drv, err := r.openDriver(device)
		if err != nil {
			bodyErr = err
		} else {
			sess = session.New(info, session.Options{
				Tree:   tree,
				Driver: drv,
				Device: device,
				Visual: r.config.Visual,
			})
			bodyErr = steptree.Recover(func() error {
				if unit.Body == nil {
					return core.ErrInvalidConfig.WithMessage("test has no body")
				}
				return unit.Body(sess)
			})
		}
	}

	root := tree.Finish(bodyErr)
	if err := rep.End(root); err != nil {
		log.Warnf("reporter failed to finish: %v", err)
	}

	lost := errors.Is(bodyErr, core.ErrDeviceLost)
	if sess != nil {
		lost = lost || sess.DeviceLost()
		if err := sess.Close(); err != nil {
			log.Warnf("closing driver: %v", err)
		}
	}
	r.returnDevice(device, lost)

	metrics.RecordTest(root.Status)
	log.Infof("%s in %s", root.Status, time.Since(start).Round(time.Millisecond))

	return UnitResult{
		ID:          unit.ID,
		Name:        unit.Name,
		Status:      root.Status,
		Message:     root.Message,
		WorkerID:    workerID,
		Device:      info.Device,
		Duration:    time.Since(start),
		StepsTotal:  sink.total,
		StepsPassed: sink.passed,
		StepsFailed: sink.failed,
		StepsBroken: sink.broken,
	}
}

func (r *Runner) lease(ctx context.Context, unit TestUnit) (*core.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run cancelled before the test started: %w", err)
	}
	if unit.Device == nil {
		return nil, nil
	}
	if r.config.Pool == nil {
		return nil, core.ErrInvalidConfig.WithMessage("test needs a device but no devices are configured")
	}
	d, err := r.config.Pool.Lease(ctx, *unit.Device)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, core.ErrNoDeviceAvailable.WithCause(err)
		}
		return nil, err
	}
	return &d, nil
}

func (r *Runner) returnDevice(device *core.DeviceInfo, lost bool) {
	if device == nil {
		return
	}
	var err error
	if lost {
		err = r.config.Pool.Blocklist(device.ID)
	} else {
		err = r.config.Pool.Release(device.ID)
	}
	if err != nil {
		logger.Error("returning device %s: %v", device.ID, err)
	}
}

func (r *Runner) openDriver(device *core.DeviceInfo) (core.Driver, error) {
	if r.config.DriverName == "" {
		return nil, nil
	}
	d, err := driver.Open(r.config.DriverName, device, r.config.DriverOptions)
	if err != nil {
		return nil, fmt.Errorf("open driver %s: %w", r.config.DriverName, err)
	}
	return d, nil
}

func (r *Runner) newReporter() report.Reporter {
	if r.config.Reporter == nil {
		return nopReporter{}
	}
	return r.config.Reporter.NewReporter()
}

// stepSink forwards sealed steps to the reporter and counts leaf outcomes.
type stepSink struct {
	next   report.Reporter
	total  int
	passed int
	failed int
	broken int
}

func (s *stepSink) AddStep(node *core.StepNode) error {
	if !node.IsGroup() {
		s.total++
		switch node.Status {
		case core.StatusPassed:
			s.passed++
		case core.StatusFailed:
			s.failed++
		default:
			s.broken++
		}
		metrics.RecordStep(node.Status)
	}
	return s.next.AddStep(node)
}

type nopReporter struct{}

func (nopReporter) Begin(core.TestInfo) error { return nil }

func (nopReporter) AddStep(*core.StepNode) error { return nil }

func (nopReporter) End(*core.StepNode) error { return nil }
