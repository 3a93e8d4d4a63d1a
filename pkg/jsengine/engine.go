// Package jsengine evaluates the ${...} expressions found in suite step parameters.
//
// Every session owns one Engine. Stored values become JS globals so a step
// can reference an earlier result, e.g. "${orderId}" or "${total * 2}".
package jsengine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/uirunner/pkg/logger"
)

// Engine wraps a goja runtime scoped to one test session.
type Engine struct {
	runtime   *goja.Runtime
	variables map[string]interface{}
	output    map[string]interface{}
	page      string
	testID    string
	runID     string
	mu        sync.Mutex
}

// New creates a new JS engine instance.
func New() *Engine {
	e := &Engine{
		runtime:   goja.New(),
		variables: make(map[string]interface{}),
		output:    make(map[string]interface{}),
	}
	e.setupBuiltins()
	return e
}

func (e *Engine) setupBuiltins() {
	e.setupConsole()
	e.runtime.Set("json", e.jsonFunc())
	// Values scripts want to hand back to the session
	e.runtime.Set("output", e.output)
	e.runtime.Set("session", e.sessionObject())
}

// setupConsole routes console.* to the run log instead of stdout,
// which belongs to the run summary.
func (e *Engine) setupConsole() {
	makeConsoleFunc := func(log func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = fmt.Sprint(arg.Export())
			}
			log("[js %s] %s", e.testID, strings.Join(parts, " "))
			return goja.Undefined()
		}
	}

	console := e.runtime.NewObject()
	console.Set("log", makeConsoleFunc(logger.Info))
	console.Set("error", makeConsoleFunc(logger.Error))
	console.Set("warn", makeConsoleFunc(logger.Warn))
	e.runtime.Set("console", console)
}

func (e *Engine) jsonFunc() func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(e.runtime.NewTypeError("json requires 1 argument"))
		}
		result, err := e.runtime.RunString(fmt.Sprintf("JSON.parse(%q)", call.Arguments[0].String()))
		if err != nil {
			panic(e.runtime.NewTypeError(fmt.Sprintf("invalid JSON: %v", err)))
		}
		return result
	}
}

// sessionObject exposes read-only facts about the running session.
func (e *Engine) sessionObject() *goja.Object {
	obj := e.runtime.NewObject()
	getters := map[string]func() string{
		"page":   func() string { return e.page },
		"testId": func() string { return e.testID },
		"runId":  func() string { return e.runID },
	}
	for name, get := range getters {
		obj.DefineAccessorProperty(name, e.runtime.ToValue(get), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}
	return obj
}

// SetIdentity records the test and run identifiers seen as session.testId / session.runId.
func (e *Engine) SetIdentity(testID, runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.testID = testID
	e.runID = runID
}

// SetPage records the current page seen as session.page.
func (e *Engine) SetPage(page string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.page = page
}

// SetVariable sets a variable accessible in JS as a global.
func (e *Engine) SetVariable(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.variables[name] = value
	e.runtime.Set(name, value)
}

// SetVariables sets multiple variables.
func (e *Engine) SetVariables(vars map[string]interface{}) {
	for k, v := range vars {
		e.SetVariable(k, v)
	}
}

// GetOutput returns a copy of the output object.
func (e *Engine) GetOutput() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	source := e.output
	if v := e.runtime.Get("output"); v != nil && !goja.IsUndefined(v) {
		if m, ok := v.Export().(map[string]interface{}); ok {
			source = m
		}
	}

	result := make(map[string]interface{}, len(source))
	for k, v := range source {
		result[k] = v
	}
	return result
}

// Eval evaluates a JavaScript expression and returns the exported result.
func (e *Engine) Eval(script string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.runtime.RunString(script)
	if err != nil {
		return nil, fmt.Errorf("JS eval error: %w", err)
	}
	return result.Export(), nil
}

// EvalString evaluates a JavaScript expression and formats the result.
func (e *Engine) EvalString(script string) (string, error) {
	result, err := e.Eval(script)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return fmt.Sprintf("%v", result), nil
}

// ExpandVariables replaces every ${expr} in text with its evaluated value.
// Expressions that fail to evaluate are left untouched and reported together.
func (e *Engine) ExpandVariables(text string) (string, error) {
	result := text
	start := 0
	var failed []string

	for {
		idx := strings.Index(result[start:], "${")
		if idx == -1 {
			break
		}
		idx += start

		depth := 1
		end := idx + 2
		for end < len(result) && depth > 0 {
			switch result[end] {
			case '{':
				depth++
			case '}':
				depth--
			}
			end++
		}
		if depth != 0 {
			start = idx + 2
			continue
		}

		expr := result[idx+2 : end-1]
		value, err := e.EvalString(expr)
		if err != nil {
			failed = append(failed, expr)
			start = end
			continue
		}

		result = result[:idx] + value + result[end:]
		start = idx + len(value)
	}

	if len(failed) > 0 {
		return result, fmt.Errorf("could not evaluate %s", strings.Join(failed, ", "))
	}
	return result, nil
}

// Close interrupts any script still running. Safe to call multiple times.
func (e *Engine) Close() {
	e.runtime.Interrupt("engine closed")
}
