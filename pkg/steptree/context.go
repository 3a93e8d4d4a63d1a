// Package steptree builds the nested step tree of one test while it runs.
//
// A TestContext is owned by exactly one worker goroutine for the duration of
// one test, so it needs no locking. Every sealed node is forwarded to the
// Sink (the active reporter) in seal order: children before their parents.
package steptree

import (
	"errors"
	"strconv"
	"time"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/logger"
)

// Sink receives every sealed step exactly once.
type Sink interface {
	AddStep(node *core.StepNode) error
}

// frame is an open scope.
type frame struct {
	node     *core.StepNode
	required bool // entered as required
	exempt   bool // inside before/after: failures never abort
	children int
}

// TestContext records the steps of one test.
type TestContext struct {
	testID   string
	root     *core.StepNode
	stack    []*frame
	optional bool // set by Optional, consumed by the next Step or scope
	sink     Sink
	sinkErr  error
	finished bool
}

// New creates a context rooted at the test identifier.
func New(testID, testName string, sink Sink) *TestContext {
	root := &core.StepNode{
		ID:       testID,
		Name:     testName,
		Kind:     core.KindRoot,
		Status:   core.StatusPassed,
		Start:    time.Now(),
		Required: true,
	}
	return &TestContext{
		testID: testID,
		root:   root,
		stack:  []*frame{{node: root, required: true}},
		sink:   sink,
	}
}

// Root returns the root node. Its status is final only after Finish.
func (tc *TestContext) Root() *core.StepNode {
	return tc.root
}

// SinkErr returns the first error the sink reported, if any.
func (tc *TestContext) SinkErr() error {
	return tc.sinkErr
}

// Optional marks the next Step or scope as optional: its failure is recorded
// but never aborts the enclosing scope. The mark applies to that one call only.
func (tc *TestContext) Optional() *TestContext {
	tc.optional = true
	return tc
}

// Step records a leaf step from an action result.
// It returns an *AbortError when the step is required and did not pass.
func (tc *TestContext) Step(name string, result core.ActionResult) error {
	if tc.finished {
		return nil
	}
	parent := tc.top()
	required := tc.consumeRequired()

	node := tc.newNode(parent, name, core.KindLeaf, required)
	if !result.Start.IsZero() {
		node.Start = result.Start
	}
	node.Stop = result.Stop
	if node.Stop.IsZero() {
		node.Stop = time.Now()
	}
	node.Status = result.Status
	node.Message = result.Message
	if node.Message == "" && result.Err != nil {
		node.Message = result.Err.Error()
	}
	node.Trace = result.Trace
	if node.Trace == "" {
		node.Trace = traceOf(result.Err)
	}
	node.Parameters = result.Parameters
	if len(result.Screenshot) > 0 {
		node.Attachments = append(node.Attachments, core.NewScreenshotAttachment(result.Screenshot))
	}
	node.Attachments = append(node.Attachments, result.Attachments...)

	tc.attach(parent, node)

	if !node.Status.IsSuccess() && required {
		return &AbortError{Path: node.Path, Name: node.Name, Status: node.Status, Message: node.Message}
	}
	return nil
}

// Do invokes an action and records its result as a leaf step. A panic inside
// fn becomes a Broken step whose trace is the panic stack.
func (tc *TestContext) Do(name string, params []core.Parameter, fn func() core.ActionResult) error {
	start := time.Now()
	var result core.ActionResult
	err := Recover(func() error {
		result = fn()
		return nil
	})
	if err != nil {
		result = core.ActionResult{
			Status:     core.StatusBroken,
			Message:    err.Error(),
			Trace:      traceOf(err),
			Parameters: params,
			Start:      start,
			Stop:       time.Now(),
			Err:        core.ErrActionPanic.WithCause(err),
		}
	}
	if result.Parameters == nil {
		result.Parameters = params
	}
	if result.Start.IsZero() {
		result.Start = start
	}
	return tc.Step(name, result)
}

// Scope runs body as a named group step.
// The group's status is the worst status among its children. An abort raised
// inside an optional scope stops at that scope; a required scope passes it on.
func (tc *TestContext) Scope(name string, body func() error) error {
	return tc.runScope(name, core.KindGroup, body)
}

// Before runs a setup block. Failures are recorded but never abort.
func (tc *TestContext) Before(name string, body func() error) error {
	return tc.runScope(name, core.KindBefore, body)
}

// After runs a cleanup block. Failures are recorded but never abort.
func (tc *TestContext) After(name string, body func() error) error {
	return tc.runScope(name, core.KindAfter, body)
}

func (tc *TestContext) runScope(name string, kind core.StepKind, body func() error) error {
	if tc.finished {
		return nil
	}
	parent := tc.top()
	exempt := parent.exempt || kind == core.KindBefore || kind == core.KindAfter
	required := tc.consumeRequired() && !exempt

	node := tc.newNode(parent, name, kind, required)
	f := &frame{node: node, required: required, exempt: exempt}
	tc.stack = append(tc.stack, f)

	err := body()

	// The body may leave a pending Optional mark behind; it must not leak.
	tc.optional = false
	tc.stack = tc.stack[:len(tc.stack)-1]

	status := node.WorstChild()
	var out error
	switch {
	case err == nil:
	case errors.Is(err, ErrAborted):
		status = core.Worst(status, core.StatusFailed)
		if required {
			out = err
		}
	default:
		status = core.Worst(status, core.StatusOf(err))
		node.Message = err.Error()
		node.Trace = traceOf(err)
		if required {
			out = &AbortError{Path: node.Path, Name: node.Name, Status: status, Message: node.Message}
		}
	}
	node.Status = status
	node.Stop = time.Now()
	tc.attach(parent, node)
	return out
}

// Finish seals the root. err is what the test body returned (or the panic
// the worker recovered); scopes left open by a panic are sealed as Broken.
func (tc *TestContext) Finish(err error) *core.StepNode {
	if tc.finished {
		return tc.root
	}
	tc.Unwind(err)
	tc.finished = true

	status := tc.root.WorstChild()
	switch {
	case err == nil:
	case errors.Is(err, ErrAborted):
		status = core.Worst(status, core.StatusFailed)
		var ae *AbortError
		if errors.As(err, &ae) {
			tc.root.Message = ae.Error()
		}
	default:
		// Assertion errors returned by the body are Failed; anything else is Broken.
		status = core.Worst(status, core.StatusOf(err))
		tc.root.Message = err.Error()
		tc.root.Trace = traceOf(err)
	}
	tc.root.Status = status
	tc.root.Stop = time.Now()
	return tc.root
}

// Unwind seals the scopes a panic left open as Broken, innermost first, so
// recording can continue at the root. err is the recovered panic.
func (tc *TestContext) Unwind(err error) {
	for len(tc.stack) > 1 {
		f := tc.stack[len(tc.stack)-1]
		tc.stack = tc.stack[:len(tc.stack)-1]
		f.node.Status = core.Worst(f.node.WorstChild(), core.StatusBroken)
		f.node.Stop = time.Now()
		if err != nil {
			f.node.Message = err.Error()
			f.node.Trace = traceOf(err)
		}
		tc.attach(tc.top(), f.node)
	}
	tc.optional = false
}

// NextPath returns the path the next step recorded in the current scope
// will get. For a test that runs the same steps every time it is the same
// on every run, so it keys visual baselines.
func (tc *TestContext) NextPath() string {
	parent := tc.top()
	return core.JoinPath(parent.node.Path, strconv.Itoa(parent.children+1))
}

// TestID returns the identifier the tree is rooted at.
func (tc *TestContext) TestID() string {
	return tc.testID
}

func (tc *TestContext) top() *frame {
	return tc.stack[len(tc.stack)-1]
}

func (tc *TestContext) consumeRequired() bool {
	required := !tc.optional
	tc.optional = false
	if tc.top().exempt {
		return false
	}
	return required
}

func (tc *TestContext) newNode(parent *frame, name string, kind core.StepKind, required bool) *core.StepNode {
	parent.children++
	id := strconv.Itoa(parent.children)
	parentPath := parent.node.Path
	return &core.StepNode{
		ID:         id,
		Path:       core.JoinPath(parentPath, id),
		ParentPath: parentPath,
		Name:       name,
		Kind:       kind,
		Status:     core.StatusPassed,
		Start:      time.Now(),
		Required:   required,
	}
}

// attach seals node into parent and forwards it to the sink.
func (tc *TestContext) attach(parent *frame, node *core.StepNode) {
	parent.node.Children = append(parent.node.Children, node)
	if tc.sink == nil {
		return
	}
	if err := tc.sink.AddStep(node); err != nil {
		logger.Warn("reporter rejected step %s of %s: %v", node.Path, tc.testID, err)
		if tc.sinkErr == nil {
			tc.sinkErr = err
		}
	}
}
