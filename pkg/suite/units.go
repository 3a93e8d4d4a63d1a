package suite

import (
	"fmt"
	"time"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/executor"
	"github.com/devicelab-dev/uirunner/pkg/session"
	"github.com/devicelab-dev/uirunner/pkg/steptree"
)

// Units turns the tests of the given suites into schedulable units, in
// file order, keeping only tests that pass the tag filters. Test ids must be
// unique across all suites because they key visual baselines.
func Units(suites []*Suite, includeTags, excludeTags []string) ([]executor.TestUnit, error) {
	var units []executor.TestUnit
	owner := make(map[string]string)
	for _, s := range suites {
		for _, t := range s.Tests {
			if !ShouldIncludeTest(s, t, includeTags, excludeTags) {
				continue
			}
			if prev, dup := owner[t.ID]; dup {
				return nil, core.ErrInvalidConfig.WithMessage(
					fmt.Sprintf("test id %q is defined in both %s and %s", t.ID, prev, s.SourcePath))
			}
			owner[t.ID] = s.SourcePath
			units = append(units, t.Unit(s))
		}
	}
	return units, nil
}

// Unit converts the test into a schedulable unit.
func (t Test) Unit(s *Suite) executor.TestUnit {
	labels := append([]core.Label{}, t.Labels...)
	if s != nil {
		if s.Name != "" {
			labels = append(labels, core.Label{Name: "parentSuite", Value: s.Name})
		}
		for _, tag := range s.Tags {
			labels = append(labels, core.Label{Name: "tag", Value: tag})
		}
	}
	for _, tag := range t.Tags {
		labels = append(labels, core.Label{Name: "tag", Value: tag})
	}

	return executor.TestUnit{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Labels:      labels,
		Device:      t.Device,
		Body:        t.run,
	}
}

// run is the unit body: before, steps, after. Before and after never
// abort; after runs even when the steps aborted or panicked.
func (t Test) run(s *session.Session) error {
	var before, after func() error
	if len(t.Before) > 0 {
		before = func() error { return runSteps(s, t.Before) }
	}
	if len(t.After) > 0 {
		after = func() error { return runSteps(s, t.After) }
	}
	return runPhases(s, before, func() error { return runSteps(s, t.Steps) }, after)
}

// runPhases runs the optional before block, the steps and the optional after
// block. A panic in a phase becomes its error and the scopes it left open are
// sealed Broken, so after is always attempted. The steps are skipped only
// when before panicked.
func runPhases(s *session.Session, before, steps, after func() error) error {
	var err error
	if before != nil {
		err = guarded(s, func() error { return s.Before("before", before) })
	}
	if err == nil {
		err = guarded(s, steps)
	}
	if after != nil {
		if afterErr := guarded(s, func() error { return s.After("after", after) }); err == nil {
			err = afterErr
		}
	}
	return err
}

func guarded(s *session.Session, fn func() error) error {
	err := steptree.Recover(fn)
	if err != nil {
		s.Tree().Unwind(err)
	}
	return err
}

func runSteps(s *session.Session, steps []Step) error {
	for _, step := range steps {
		if err := runStep(s, step); err != nil {
			return err
		}
	}
	return nil
}

func runStep(s *session.Session, step Step) error {
	if step.Optional {
		s.Optional()
	}
	name := step.Label()

	switch step.Kind {
	case StepAction:
		return s.Action(name, step.Action, step.Params...)

	case StepGroup:
		return s.Scope(name, func() error { return runSteps(s, step.Steps) })

	case StepStore:
		start := time.Now()
		expanded := make([]core.Parameter, len(step.Values))
		for i, v := range step.Values {
			value, err := s.Expand(v.Value)
			if err != nil {
				return s.Tree().Step(name, core.ResultFromError(start, fmt.Errorf("store %s: %w", v.Name, err), step.Values...))
			}
			// Later values may refer to earlier ones.
			s.Store(v.Name, value)
			expanded[i] = core.Parameter{Name: v.Name, Value: value}
		}
		return s.Record(name, expanded...)

	case StepPage:
		s.SetPage(step.Page)
		return s.Record(name, core.Parameter{Name: "page", Value: step.Page})

	case StepScreenshot:
		return s.AssertScreen(name, step.IgnoredRects())

	default:
		return s.Tree().Step(name, core.ResultFromError(time.Now(),
			core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown step kind %q", step.Kind))))
	}
}
