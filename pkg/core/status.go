package core

import (
	"fmt"
	"strings"
)

// Status is the tri-state outcome of a step or a test.
// Values are ordered worst-wins: Passed < Failed < Broken.
type Status int

const (
	StatusPassed Status = iota // Action or assertion succeeded
	StatusFailed               // Assertion did not hold (product defect signal)
	StatusBroken               // Test could not complete as designed (environment, baseline, driver)
)

// String returns the lowercase name used by every report format.
func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// IsSuccess returns true only for StatusPassed.
func (s Status) IsSuccess() bool {
	return s == StatusPassed
}

// Worse reports whether s is strictly worse than other.
func (s Status) Worse(other Status) bool {
	return s > other
}

// Worst returns the worst of the given statuses, or StatusPassed if none.
func Worst(statuses ...Status) Status {
	worst := StatusPassed
	for _, s := range statuses {
		if s.Worse(worst) {
			worst = s
		}
	}
	return worst
}

// ParseStatus parses the lowercase status name.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "passed":
		return StatusPassed, nil
	case "failed":
		return StatusFailed, nil
	case "broken":
		return StatusBroken, nil
	default:
		return StatusPassed, fmt.Errorf("unknown status %q", s)
	}
}

// MarshalText encodes the status as its name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ErrorCategory classifies the type of error for reporting.
type ErrorCategory int

const (
	ErrCategoryNone        ErrorCategory = iota // No error
	ErrCategoryAssertion                        // Expected behavior did not occur
	ErrCategoryEnvironment                      // Driver crash, connection loss, I/O
	ErrCategoryResource                         // Device pool exhaustion or misuse
	ErrCategoryVisual                           // Baseline missing, image decode, mismatch
	ErrCategoryConfig                           // Invalid configuration or unknown registry key
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryEnvironment:
		return "environment"
	case ErrCategoryResource:
		return "resource"
	case ErrCategoryVisual:
		return "visual"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Status maps the category to the step status it produces.
// Only assertion errors are product-level failures; everything else is Broken.
func (c ErrorCategory) Status() Status {
	switch c {
	case ErrCategoryNone:
		return StatusPassed
	case ErrCategoryAssertion:
		return StatusFailed
	default:
		return StatusBroken
	}
}
