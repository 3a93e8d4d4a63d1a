package core

import (
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with a category and code
type ExecutionError struct {
	Category ErrorCategory
	Code     string // Machine-readable code: no_device_available, baseline_missing, etc.
	Message  string // Human-readable message
	Cause    error  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches any ExecutionError with the same code, so copies made with
// WithCause or WithMessage still match the predefined sentinel.
func (e *ExecutionError) Is(target error) bool {
	var t *ExecutionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Assertion errors
	ErrAssertion = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "assertion_failed",
		Message:  "assertion failed",
	}

	// Environment errors
	ErrActionPanic = &ExecutionError{
		Category: ErrCategoryEnvironment,
		Code:     "action_panic",
		Message:  "action raised an unexpected error",
	}
	ErrDeviceLost = &ExecutionError{
		Category: ErrCategoryEnvironment,
		Code:     "device_lost",
		Message:  "device connection lost",
	}
	ErrDriverUnavailable = &ExecutionError{
		Category: ErrCategoryEnvironment,
		Code:     "driver_unavailable",
		Message:  "could not start automation driver",
	}

	// Resource errors
	ErrNoDeviceAvailable = &ExecutionError{
		Category: ErrCategoryResource,
		Code:     "no_device_available",
		Message:  "no device available",
	}
	ErrDeviceNotLeased = &ExecutionError{
		Category: ErrCategoryResource,
		Code:     "device_not_leased",
		Message:  "device is not leased",
	}
	ErrUnknownDevice = &ExecutionError{
		Category: ErrCategoryResource,
		Code:     "unknown_device",
		Message:  "device does not belong to this pool",
	}

	// Visual errors
	ErrBaselineMissing = &ExecutionError{
		Category: ErrCategoryVisual,
		Code:     "baseline_missing",
		Message:  "baseline missing",
	}
	ErrImageDecode = &ExecutionError{
		Category: ErrCategoryVisual,
		Code:     "image_decode",
		Message:  "could not decode image",
	}
	ErrVisualMismatch = &ExecutionError{
		Category: ErrCategoryVisual,
		Code:     "visual_mismatch",
		Message:  "screen does not match baseline",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrUnknownReporter = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "unknown_reporter",
		Message:  "unknown reporter format",
	}
	ErrUnknownDriver = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "unknown_driver",
		Message:  "unknown driver",
	}
)

// StatusOf maps an error to the status it should produce on a step.
// nil is Passed, categorized assertion errors are Failed, everything else is Broken.
func StatusOf(err error) Status {
	if err == nil {
		return StatusPassed
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Category.Status()
	}
	return StatusBroken
}
