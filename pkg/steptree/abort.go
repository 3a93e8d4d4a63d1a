package steptree

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/devicelab-dev/uirunner/pkg/core"
)

// ErrAborted is the abort signal raised by a required step that did not pass.
// Use errors.Is(err, ErrAborted) to tell it apart from ordinary faults.
var ErrAborted = errors.New("step aborted")

// AbortError carries the failing step while the abort unwinds enclosing scopes.
type AbortError struct {
	Path    string
	Name    string
	Status  core.Status
	Message string
}

func (e *AbortError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("step %s %q %s: %s", e.Path, e.Name, e.Status, e.Message)
	}
	return fmt.Sprintf("step %s %q %s", e.Path, e.Name, e.Status)
}

// Is makes every AbortError match ErrAborted.
func (e *AbortError) Is(target error) bool {
	return target == ErrAborted
}

// PanicError is an uncaught panic converted into an error with its stack.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes a panicked error value to errors.Is/As.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Recover runs fn and converts a panic into a *PanicError.
func Recover(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// traceOf returns the stack captured for err, if any.
func traceOf(err error) string {
	var pe *PanicError
	if errors.As(err, &pe) {
		return string(pe.Stack)
	}
	return ""
}
