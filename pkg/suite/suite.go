// Package suite handles parsing of declarative YAML test suites.
//
// A suite file lists tests. Each test has optional before and after blocks
// and a list of steps; a step is an action, a group of nested steps, a value
// write, a page change or a screen assertion.
package suite

import (
	"image"

	"github.com/devicelab-dev/uirunner/pkg/config"
	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/devicepool"
)

// Suite represents a parsed suite file.
type Suite struct {
	SourcePath string
	Name       string
	Tags       []string
	Tests      []Test
}

// Test is one test case of a suite.
type Test struct {
	ID          string
	Name        string
	Description string
	Tags        []string
	Labels      []core.Label            // In file order
	Device      *devicepool.Requirement // nil when the test runs without a device
	Before      []Step
	Steps       []Step
	After       []Step
}

// StepKind identifies what a step does.
type StepKind string

// Step kinds
const (
	StepAction     StepKind = "action"
	StepGroup      StepKind = "group"
	StepStore      StepKind = "store"
	StepPage       StepKind = "page"
	StepScreenshot StepKind = "screenshot"
)

// Step is one entry of a steps list. Only the fields of its kind are set.
type Step struct {
	Kind     StepKind
	Name     string
	Optional bool
	Line     int

	Action string           // action
	Params []core.Parameter // action: in file order
	Steps  []Step           // group
	Values []core.Parameter // store: in file order
	Page   string           // page
	Ignore []config.Region  // screenshot
}

// Label returns the step name, or a generated one when none was given.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	switch s.Kind {
	case StepAction:
		return s.Action
	case StepStore:
		label := "store"
		for i, v := range s.Values {
			if i == 0 {
				label += " " + v.Name
			} else {
				label += ", " + v.Name
			}
		}
		return label
	case StepPage:
		return "page " + s.Page
	default:
		return string(s.Kind)
	}
}

// IgnoredRects converts the ignored regions to image rectangles.
func (s Step) IgnoredRects() []image.Rectangle {
	if len(s.Ignore) == 0 {
		return nil
	}
	rects := make([]image.Rectangle, len(s.Ignore))
	for i, r := range s.Ignore {
		rects[i] = r.Rect()
	}
	return rects
}
