package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/devicepool"
	"github.com/devicelab-dev/uirunner/pkg/driver/mock"
	"github.com/devicelab-dev/uirunner/pkg/report"
	"github.com/devicelab-dev/uirunner/pkg/session"
)

// recordingBackend keeps every sealed root, keyed by test id.
type recordingBackend struct {
	mu    sync.Mutex
	roots map[string]*core.StepNode
	infos map[string]core.TestInfo
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{roots: map[string]*core.StepNode{}, infos: map[string]core.TestInfo{}}
}

func (b *recordingBackend) NewReporter() report.Reporter { return &recordingReporter{backend: b} }
func (b *recordingBackend) Close() error                 { return nil }

func (b *recordingBackend) root(id string) *core.StepNode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.roots[id]
}

type recordingReporter struct {
	backend *recordingBackend
	info    core.TestInfo
	steps   int
}

func (r *recordingReporter) Begin(info core.TestInfo) error {
	r.info = info
	return nil
}

func (r *recordingReporter) AddStep(*core.StepNode) error {
	r.steps++
	return nil
}

func (r *recordingReporter) End(root *core.StepNode) error {
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	r.backend.roots[r.info.ID] = root
	r.backend.infos[r.info.ID] = r.info
	return nil
}

func newRunner(t *testing.T, cfg RunnerConfig) *Runner {
	t.Helper()
	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(RunnerConfig{Workers: 0})
	assert.True(t, errors.Is(err, core.ErrInvalidConfig), "err = %v", err)

	_, err = New(RunnerConfig{Workers: 1, DriverName: "selenium-grid"})
	assert.True(t, errors.Is(err, core.ErrUnknownDriver), "err = %v", err)
}

func TestEveryUnitRunsOnceWithIsolatedSessions(t *testing.T) {
	const units, workers = 50, 5

	var (
		mu      sync.Mutex
		runs    = map[string]int{}
		active  = map[*session.Session]bool{}
		current int32
		peak    int32
	)

	list := make([]TestUnit, units)
	for i := range list {
		id := fmt.Sprintf("unit-%02d", i)
		list[i] = TestUnit{ID: id, Name: id, Body: func(s *session.Session) error {
			n := atomic.AddInt32(&current, 1)
			defer atomic.AddInt32(&current, -1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}

			mu.Lock()
			runs[id]++
			if active[s] {
				mu.Unlock()
				return fmt.Errorf("session %s used by two units at once", s.ID)
			}
			active[s] = true
			mu.Unlock()
			defer func() {
				mu.Lock()
				delete(active, s)
				mu.Unlock()
			}()

			s.Store("owner", id)
			time.Sleep(2 * time.Millisecond)
			got, _ := s.Value("owner")
			return s.Assert("value storage is private", got == id && s.Values().Len() == 1,
				fmt.Sprintf("owner = %q, %d values", got, s.Values().Len()))
		}}
	}

	backend := newRecordingBackend()
	result := newRunner(t, RunnerConfig{Workers: workers, Reporter: backend}).Run(context.Background(), list)

	assert.Equal(t, units, result.Total)
	assert.Equal(t, units, result.Passed)
	assert.Equal(t, core.StatusPassed, result.Status)
	assert.LessOrEqual(t, int(peak), workers)
	for i, u := range result.Units {
		assert.Equal(t, list[i].ID, u.ID, "results keep submission order")
		assert.Equal(t, 1, runs[u.ID], "unit %s", u.ID)
		assert.True(t, u.WorkerID >= 1 && u.WorkerID <= workers, "worker id %d", u.WorkerID)
		assert.Equal(t, 1, u.StepsTotal)
	}
}

func TestPanicInBodyIsBrokenAndIsolated(t *testing.T) {
	backend := newRecordingBackend()
	units := []TestUnit{
		{ID: "before", Name: "before", Body: func(s *session.Session) error { return s.Record("ok") }},
		{ID: "crash", Name: "crash", Body: func(s *session.Session) error {
			s.Record("first")
			var m map[string]int
			m["boom"] = 1
			return nil
		}},
		{ID: "after", Name: "after", Body: func(s *session.Session) error { return s.Record("ok") }},
	}

	result := newRunner(t, RunnerConfig{Workers: 2, Reporter: backend}).Run(context.Background(), units)

	assert.Equal(t, 2, result.Passed)
	assert.Equal(t, 1, result.Broken)
	assert.Equal(t, core.StatusBroken, result.Status)

	crash := backend.root("crash")
	require.NotNil(t, crash)
	assert.Equal(t, core.StatusBroken, crash.Status)
	assert.Contains(t, crash.Message, "panic")
	assert.Contains(t, crash.Trace, "goroutine")
	assert.Len(t, crash.Children, 1, "steps recorded before the panic are kept")
}

func TestRequiredFailureStopsUnit(t *testing.T) {
	backend := newRecordingBackend()
	ran := false
	unit := TestUnit{ID: "b", Name: "b", Body: func(s *session.Session) error {
		if err := s.Action("check", "assertEquals",
			core.Parameter{Name: "expected", Value: "1"}, core.Parameter{Name: "actual", Value: "2"}); err != nil {
			return err
		}
		ran = true
		return s.Action("next", "tap")
	}}

	result := newRunner(t, RunnerConfig{Workers: 1, Reporter: backend, DriverName: mock.Name}).
		Run(context.Background(), []TestUnit{unit})

	assert.False(t, ran)
	require.Len(t, result.Units, 1)
	assert.Equal(t, core.StatusFailed, result.Units[0].Status)
	assert.Equal(t, 1, result.Units[0].StepsTotal)
	assert.Equal(t, 1, result.Units[0].StepsFailed)
}

func TestLeaseTimeoutIsBrokenRoot(t *testing.T) {
	pool, err := devicepool.New([]core.DeviceInfo{{ID: "d1"}}, devicepool.Options{
		PollInterval: 5 * time.Millisecond,
		MaxWait:      50 * time.Millisecond,
	})
	require.NoError(t, err)
	_, err = pool.Lease(context.Background(), devicepool.Requirement{})
	require.NoError(t, err)

	backend := newRecordingBackend()
	bodyRan := false
	units := []TestUnit{
		{ID: "needs-device", Name: "n", Device: &devicepool.Requirement{}, Body: func(*session.Session) error {
			bodyRan = true
			return nil
		}},
		{ID: "no-device", Name: "f", Body: func(s *session.Session) error { return s.Record("ok") }},
	}
	result := newRunner(t, RunnerConfig{Workers: 2, Reporter: backend, Pool: pool}).Run(context.Background(), units)

	assert.False(t, bodyRan)
	root := backend.root("needs-device")
	require.NotNil(t, root)
	assert.Equal(t, core.StatusBroken, root.Status)
	assert.Contains(t, root.Message, "no device available")
	assert.Equal(t, core.StatusPassed, result.Units[1].Status)
}

func TestDevicesAreReleasedBetweenUnits(t *testing.T) {
	pool, err := devicepool.New([]core.DeviceInfo{{ID: "d1", Platform: "android"}}, devicepool.Options{
		PollInterval: time.Millisecond,
		MaxWait:      5 * time.Second,
	})
	require.NoError(t, err)

	backend := newRecordingBackend()
	var units []TestUnit
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("u%d", i)
		units = append(units, TestUnit{ID: id, Name: id, Device: &devicepool.Requirement{Platform: "android"},
			Body: func(s *session.Session) error {
				if s.Device() == nil || s.Device().ID != "d1" {
					return errors.New("no device in session")
				}
				return s.Action("tap", "tap")
			}})
	}

	result := newRunner(t, RunnerConfig{Workers: 4, Reporter: backend, Pool: pool, DriverName: mock.Name}).
		Run(context.Background(), units)

	assert.Equal(t, 4, result.Passed)
	for _, u := range result.Units {
		assert.Equal(t, "d1", u.Device)
		assert.Equal(t, "d1", backend.infos[u.ID].Device)
	}
	state, err := pool.State("d1")
	require.NoError(t, err)
	assert.Equal(t, devicepool.StateFree, state)
}

func TestLostDeviceIsBlocklisted(t *testing.T) {
	pool, err := devicepool.New([]core.DeviceInfo{{ID: "d1"}}, devicepool.Options{
		PollInterval: time.Millisecond,
		MaxWait:      time.Second,
	})
	require.NoError(t, err)

	backend := newRecordingBackend()
	units := []TestUnit{
		{ID: "drops", Name: "drops", Device: &devicepool.Requirement{}, Body: func(s *session.Session) error {
			return s.Action("reboot", "reboot")
		}},
		{ID: "next", Name: "next", Device: &devicepool.Requirement{}, Body: func(s *session.Session) error {
			return s.Record("ok")
		}},
	}
	result := newRunner(t, RunnerConfig{
		Workers:       1,
		Reporter:      backend,
		Pool:          pool,
		DriverName:    mock.Name,
		DriverOptions: map[string]string{"lostActions": "reboot"},
	}).Run(context.Background(), units)

	assert.Equal(t, core.StatusBroken, result.Units[0].Status)
	assert.Equal(t, core.StatusBroken, result.Units[1].Status)
	assert.Contains(t, result.Units[1].Message, "no device available")
	state, err := pool.State("d1")
	require.NoError(t, err)
	assert.Equal(t, devicepool.StateBlocked, state)
}

func TestDeviceUnitWithoutPool(t *testing.T) {
	backend := newRecordingBackend()
	result := newRunner(t, RunnerConfig{Workers: 1, Reporter: backend}).Run(context.Background(), []TestUnit{
		{ID: "x", Name: "x", Device: &devicepool.Requirement{}, Body: func(*session.Session) error { return nil }},
	})
	assert.Equal(t, core.StatusBroken, result.Units[0].Status)
}

func TestCancelledRunStillReportsEveryUnit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend := newRecordingBackend()
	result := newRunner(t, RunnerConfig{Workers: 2, Reporter: backend}).Run(ctx, []TestUnit{
		{ID: "a", Name: "a", Body: func(*session.Session) error { return nil }},
		{ID: "b", Name: "b", Body: func(*session.Session) error { return nil }},
	})
	assert.Equal(t, 2, result.Broken)
	assert.NotNil(t, backend.root("a"))
	assert.NotNil(t, backend.root("b"))
}

func TestEmptyRun(t *testing.T) {
	result := newRunner(t, RunnerConfig{Workers: 3}).Run(context.Background(), nil)
	assert.Equal(t, 0, result.Total)
	assert.Equal(t, core.StatusPassed, result.Status)
}

func TestCallbacks(t *testing.T) {
	var started, ended int32
	r := newRunner(t, RunnerConfig{
		Workers:     2,
		OnUnitStart: func(int, TestUnit) { atomic.AddInt32(&started, 1) },
		OnUnitEnd: func(_ int, res UnitResult) {
			atomic.AddInt32(&ended, 1)
		},
	})
	r.Run(context.Background(), []TestUnit{
		{ID: "a", Name: "a", Body: func(*session.Session) error { return nil }},
		{ID: "b", Name: "b"},
	})
	assert.Equal(t, int32(2), started)
	assert.Equal(t, int32(2), ended)
}
