package core

import (
	"time"
)

// Driver is the opaque automation-action layer owned by one session.
// Implementations: mock (built in); real browser/device drivers register
// themselves with the driver registry.
// The StepTree never knows what an action did, only the ActionResult.
type Driver interface {
	// Invoke runs a single named action synchronously
	Invoke(action string, params []Parameter) ActionResult

	// Screenshot captures the current screen as PNG
	Screenshot() ([]byte, error)

	// Close releases the driver handle
	Close() error
}

// ActionResult is the outcome of one action call: the exact shape a leaf step consumes.
type ActionResult struct {
	Status     Status      `json:"status"`
	Message    string      `json:"message,omitempty"`
	Trace      string      `json:"trace,omitempty"`
	Screenshot []byte      `json:"-"`
	Parameters []Parameter `json:"parameters,omitempty"` // Parameters actually used
	Start      time.Time   `json:"start"`
	Stop       time.Time   `json:"stop"`

	// Attachments beyond the screenshot (comparison artifacts, logs)
	Attachments []Attachment `json:"-"`
	// Err is the underlying error for Broken/Failed results, if any
	Err error `json:"-"`
}

// Passed builds a successful result spanning start..now.
func Passed(start time.Time, params ...Parameter) ActionResult {
	return ActionResult{Status: StatusPassed, Parameters: params, Start: start, Stop: time.Now()}
}

// ResultFromError builds a result from an error, using StatusOf to pick the status.
func ResultFromError(start time.Time, err error, params ...Parameter) ActionResult {
	r := ActionResult{
		Status:     StatusOf(err),
		Parameters: params,
		Start:      start,
		Stop:       time.Now(),
		Err:        err,
	}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

// DeviceInfo describes a pooled device. Capabilities are free-form.
type DeviceInfo struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	Platform     string            `json:"platform" yaml:"platform"` // ios, android, web
	OSVersion    string            `json:"osVersion" yaml:"osVersion"`
	IsSimulator  bool              `json:"isSimulator" yaml:"isSimulator"`
	Capabilities map[string]string `json:"capabilities,omitempty" yaml:"capabilities"`
}
