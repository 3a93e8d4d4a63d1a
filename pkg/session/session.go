// Package session holds the mutable state of one running test.
//
// A Session is created by the worker that runs the test and destroyed when
// the test ends. It is never shared between goroutines, so nothing in it is
// locked: value storage, the current page, the device lease and the driver
// handle are all private to one test.
package session

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/jsengine"
	"github.com/devicelab-dev/uirunner/pkg/logger"
	"github.com/devicelab-dev/uirunner/pkg/steptree"
	"github.com/devicelab-dev/uirunner/pkg/visual"
)

// Session is the per-test execution context handed to test bodies.
type Session struct {
	ID   string
	Info core.TestInfo

	values *ValueStore
	page   string
	onPage bool

	device     *core.DeviceInfo
	deviceLost bool
	driver     core.Driver
	tree       *steptree.TestContext
	js         *jsengine.Engine
	visual     *visual.Comparator
}

// Options carries the collaborators a worker wires into a new session.
type Options struct {
	Tree   *steptree.TestContext
	Driver core.Driver
	Device *core.DeviceInfo
	Visual *visual.Comparator
}

// New creates a session for one test.
func New(info core.TestInfo, opts Options) *Session {
	js := jsengine.New()
	js.SetIdentity(info.ID, info.RunID)

	id := info.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:     id,
		Info:   info,
		values: NewValueStore(js),
		device: opts.Device,
		driver: opts.Driver,
		tree:   opts.Tree,
		js:     js,
		visual: opts.Visual,
	}
}

// Tree returns the step tree of the test.
func (s *Session) Tree() *steptree.TestContext {
	return s.tree
}

// Values returns the session's value storage.
func (s *Session) Values() *ValueStore {
	return s.values
}

// Device returns the leased device, or nil when the test runs without one.
func (s *Session) Device() *core.DeviceInfo {
	return s.device
}

// Driver returns the session's driver handle.
func (s *Session) Driver() core.Driver {
	return s.driver
}

// DeviceLost reports whether the driver signalled that the device is gone.
// The worker blocklists such a device instead of releasing it.
func (s *Session) DeviceLost() bool {
	return s.deviceLost
}

func (s *Session) noteDeviceLoss(err error) {
	if errors.Is(err, core.ErrDeviceLost) {
		s.deviceLost = true
	}
}

// Page returns the current page and whether one has been set.
func (s *Session) Page() (string, bool) {
	return s.page, s.onPage
}

// SetPage records the logical page the test navigated to.
func (s *Session) SetPage(page string) {
	s.page = page
	s.onPage = true
	s.js.SetPage(page)
}

// Store writes a value into value storage.
func (s *Session) Store(name, value string) {
	s.values.Set(name, value)
}

// Value reads a value from value storage.
func (s *Session) Value(name string) (string, bool) {
	return s.values.Get(name)
}

// Expand replaces ${...} expressions in text using value storage.
func (s *Session) Expand(text string) (string, error) {
	return s.js.ExpandVariables(text)
}

// Optional marks the next step or scope as optional.
func (s *Session) Optional() *Session {
	s.tree.Optional()
	return s
}

// Scope runs body as a named group step.
func (s *Session) Scope(name string, body func() error) error {
	return s.tree.Scope(name, body)
}

// Before runs a setup block whose failures never abort.
func (s *Session) Before(name string, body func() error) error {
	return s.tree.Before(name, body)
}

// After runs a cleanup block whose failures never abort.
func (s *Session) After(name string, body func() error) error {
	return s.tree.After(name, body)
}

// Action expands params, invokes action on the driver and records the
// result as a leaf step named name. A parameter that fails to expand makes
// the step Broken without calling the driver.
func (s *Session) Action(name, action string, params ...core.Parameter) error {
	start := time.Now()
	expanded, err := s.expandParams(params)
	if err != nil {
		return s.tree.Step(name, core.ResultFromError(start, fmt.Errorf("expand parameters: %w", err), params...))
	}
	if s.driver == nil {
		return s.tree.Step(name, core.ResultFromError(start, core.ErrDriverUnavailable.WithMessage("session has no driver"), expanded...))
	}
	return s.tree.Do(name, expanded, func() core.ActionResult {
		r := s.driver.Invoke(action, expanded)
		s.noteDeviceLoss(r.Err)
		return r
	})
}

// Assert records a local check as a leaf step: Passed when ok, Failed otherwise.
func (s *Session) Assert(name string, ok bool, message string, params ...core.Parameter) error {
	start := time.Now()
	if ok {
		return s.tree.Step(name, core.Passed(start, params...))
	}
	return s.tree.Step(name, core.ResultFromError(start, core.ErrAssertion.WithMessage(message), params...))
}

// Record adds a leaf step that did not come from the driver, such as a value write.
func (s *Session) Record(name string, params ...core.Parameter) error {
	return s.tree.Step(name, core.Passed(time.Now(), params...))
}

// AssertScreen captures the screen and compares it against the baseline of
// this step. The comparator's judgment becomes the step result.
func (s *Session) AssertScreen(name string, ignored []image.Rectangle) error {
	start := time.Now()
	key := visual.Key(s.Info.ID, s.tree.NextPath())
	params := []core.Parameter{{Name: "baseline", Value: key}}
	if len(ignored) > 0 {
		params = append(params, core.Parameter{Name: "ignored", Value: fmt.Sprintf("%v", ignored)})
	}

	if s.visual == nil {
		return s.tree.Step(name, core.ResultFromError(start, core.ErrInvalidConfig.WithMessage("visual comparison is not configured"), params...))
	}
	if s.driver == nil {
		return s.tree.Step(name, core.ResultFromError(start, core.ErrDriverUnavailable.WithMessage("session has no driver"), params...))
	}

	return s.tree.Do(name, params, func() core.ActionResult {
		shot, err := s.driver.Screenshot()
		if err != nil {
			s.noteDeviceLoss(err)
			r := core.ResultFromError(start, fmt.Errorf("capture screenshot: %w", err), params...)
			r.Status = core.StatusBroken
			return r
		}
		j := s.visual.Compare(shot, key, ignored)
		if !j.Status.IsSuccess() {
			logger.Debug("[%s] visual %s: %s", s.Info.ID, key, j.Message)
		}
		return j.Result(start, params...)
	})
}

// Close releases the driver handle and the JS engine. The device lease is
// returned by the worker, which owns the pool.
func (s *Session) Close() error {
	s.js.Close()
	if s.driver == nil {
		return nil
	}
	err := s.driver.Close()
	s.driver = nil
	return err
}

func (s *Session) expandParams(params []core.Parameter) ([]core.Parameter, error) {
	if len(params) == 0 {
		return params, nil
	}
	out := make([]core.Parameter, len(params))
	for i, p := range params {
		v, err := s.js.ExpandVariables(p.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		out[i] = core.Parameter{Name: p.Name, Value: v}
	}
	return out, nil
}
