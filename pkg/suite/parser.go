package suite

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/uirunner/pkg/config"
	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/devicepool"
	"github.com/devicelab-dev/uirunner/pkg/logger"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a single suite file.
func ParseFile(path string) (*Suite, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided suite file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

type rawSuite struct {
	Name  string    `yaml:"name"`
	Tags  []string  `yaml:"tags"`
	Tests []rawTest `yaml:"tests"`
}

type rawTest struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Tags        []string    `yaml:"tags"`
	Labels      yaml.Node   `yaml:"labels"`
	Device      yaml.Node   `yaml:"device"`
	Before      []yaml.Node `yaml:"before"`
	Steps       []yaml.Node `yaml:"steps"`
	After       []yaml.Node `yaml:"after"`
	line        int
}

// Parse parses suite YAML content.
func Parse(data []byte, sourcePath string) (*Suite, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("invalid suite: %v", err)}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "empty suite file"}
	}

	var raw rawSuite
	if err := doc.Decode(&raw); err != nil {
		return nil, wrapParseError(sourcePath, 0, err)
	}
	testLines := testLines(doc.Content[0])

	s := &Suite{SourcePath: sourcePath, Name: raw.Name, Tags: raw.Tags}
	seen := make(map[string]bool)
	for i, rt := range raw.Tests {
		if i < len(testLines) {
			rt.line = testLines[i]
		}
		t, err := parseTest(rt, sourcePath)
		if err != nil {
			return nil, err
		}
		if seen[t.ID] {
			return nil, &ParseError{Path: sourcePath, Line: rt.line, Message: fmt.Sprintf("duplicate test id %q", t.ID)}
		}
		seen[t.ID] = true
		s.Tests = append(s.Tests, t)
	}
	if len(s.Tests) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "suite has no tests"}
	}
	return s, nil
}

// testLines returns the line of each entry of the top-level tests list.
func testLines(root *yaml.Node) []int {
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(root.Content)-1; i += 2 {
		if root.Content[i].Value == "tests" {
			var lines []int
			for _, n := range root.Content[i+1].Content {
				lines = append(lines, n.Line)
			}
			return lines
		}
	}
	return nil
}

func parseTest(rt rawTest, sourcePath string) (Test, error) {
	if rt.ID == "" {
		return Test{}, &ParseError{Path: sourcePath, Line: rt.line, Message: "test without id"}
	}
	t := Test{
		ID:          rt.ID,
		Name:        rt.Name,
		Description: rt.Description,
		Tags:        rt.Tags,
	}
	if t.Name == "" {
		t.Name = t.ID
	}

	var err error
	if t.Labels, err = orderedPairs(&rt.Labels, sourcePath); err != nil {
		return Test{}, err
	}

	if t.Device, err = parseDevice(&rt.Device, sourcePath); err != nil {
		return Test{}, err
	}
	if t.Before, err = parseSteps(rt.Before, sourcePath); err != nil {
		return Test{}, err
	}
	if t.Steps, err = parseSteps(rt.Steps, sourcePath); err != nil {
		return Test{}, err
	}
	if t.After, err = parseSteps(rt.After, sourcePath); err != nil {
		return Test{}, err
	}
	return t, nil
}

// parseDevice accepts `device: true` or a requirement mapping.
func parseDevice(node *yaml.Node, sourcePath string) (*devicepool.Requirement, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		var want bool
		if err := node.Decode(&want); err != nil {
			return nil, wrapParseError(sourcePath, node.Line, err)
		}
		if !want {
			return nil, nil
		}
		return &devicepool.Requirement{}, nil
	case yaml.MappingNode:
		var req devicepool.Requirement
		if err := node.Decode(&req); err != nil {
			return nil, wrapParseError(sourcePath, node.Line, err)
		}
		return &req, nil
	default:
		return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: "device must be true or a mapping"}
	}
}

func parseSteps(nodes []yaml.Node, sourcePath string) ([]Step, error) {
	steps := make([]Step, 0, len(nodes))
	for i := range nodes {
		step, err := parseStep(&nodes[i], sourcePath)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

var stepKinds = []StepKind{StepAction, StepGroup, StepStore, StepPage, StepScreenshot}

func parseStep(node *yaml.Node, sourcePath string) (Step, error) {
	if node.Kind != yaml.MappingNode {
		return Step{}, &ParseError{Path: sourcePath, Line: node.Line, Message: "step must be a mapping"}
	}

	var kind StepKind
	var value *yaml.Node
	for i := 0; i < len(node.Content)-1; i += 2 {
		key := StepKind(node.Content[i].Value)
		for _, k := range stepKinds {
			if key != k {
				continue
			}
			if kind != "" {
				return Step{}, &ParseError{Path: sourcePath, Line: node.Line,
					Message: fmt.Sprintf("step has both %s and %s", kind, key)}
			}
			kind, value = key, node.Content[i+1]
		}
	}
	if kind == "" {
		return Step{}, &ParseError{Path: sourcePath, Line: node.Line, Message: "unknown step type"}
	}

	var common struct {
		Name     string          `yaml:"name"`
		Optional bool            `yaml:"optional"`
		Params   yaml.Node       `yaml:"params"`
		Steps    []yaml.Node     `yaml:"steps"`
		Ignore   []config.Region `yaml:"ignore"`
	}
	if err := node.Decode(&common); err != nil {
		return Step{}, wrapParseError(sourcePath, node.Line, err)
	}

	s := Step{Kind: kind, Name: common.Name, Optional: common.Optional, Line: node.Line}
	var err error
	switch kind {
	case StepAction:
		if value.Kind != yaml.ScalarNode || value.Value == "" {
			return Step{}, &ParseError{Path: sourcePath, Line: value.Line, Message: "action must be a name"}
		}
		s.Action = value.Value
		if s.Params, err = orderedParams(&common.Params, sourcePath); err != nil {
			return Step{}, err
		}

	case StepGroup:
		// The group key carries the group name.
		if s.Name == "" {
			s.Name = value.Value
		}
		if s.Name == "" {
			return Step{}, &ParseError{Path: sourcePath, Line: value.Line, Message: "group needs a name"}
		}
		if s.Steps, err = parseSteps(common.Steps, sourcePath); err != nil {
			return Step{}, err
		}

	case StepStore:
		if value.Kind != yaml.MappingNode {
			return Step{}, &ParseError{Path: sourcePath, Line: value.Line, Message: "store must be a mapping of names to values"}
		}
		if s.Values, err = orderedParams(value, sourcePath); err != nil {
			return Step{}, err
		}

	case StepPage:
		if value.Kind != yaml.ScalarNode || value.Value == "" {
			return Step{}, &ParseError{Path: sourcePath, Line: value.Line, Message: "page must be a name"}
		}
		s.Page = value.Value

	case StepScreenshot:
		if s.Name == "" {
			s.Name = value.Value
		}
		if s.Name == "" {
			return Step{}, &ParseError{Path: sourcePath, Line: value.Line, Message: "screenshot needs a name"}
		}
		s.Ignore = common.Ignore
	}
	return s, nil
}

// orderedPairs reads a mapping of scalars keeping file order.
func orderedPairs(node *yaml.Node, sourcePath string) ([]core.Label, error) {
	params, err := orderedParams(node, sourcePath)
	if err != nil {
		return nil, err
	}
	labels := make([]core.Label, len(params))
	for i, p := range params {
		labels[i] = core.Label{Name: p.Name, Value: p.Value}
	}
	return labels, nil
}

func orderedParams(node *yaml.Node, sourcePath string) ([]core.Parameter, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: "expected a mapping"}
	}
	params := make([]core.Parameter, 0, len(node.Content)/2)
	for i := 0; i < len(node.Content)-1; i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, &ParseError{Path: sourcePath, Line: v.Line, Message: fmt.Sprintf("value of %s must be a scalar", k.Value)}
		}
		params = append(params, core.Parameter{Name: k.Value, Value: v.Value})
	}
	return params, nil
}

func wrapParseError(path string, line int, err error) error {
	return &ParseError{
		Path:    path,
		Line:    line,
		Message: err.Error(),
	}
}

// ParseDirectory parses all YAML files under dir. Files that fail to parse
// are skipped with a warning.
func ParseDirectory(dir string) ([]*Suite, error) {
	var suites []*Suite

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		s, parseErr := ParseFile(path)
		if parseErr != nil {
			logger.Warn("skipping %s: %v", path, parseErr)
			return nil
		}
		suites = append(suites, s)
		return nil
	})

	return suites, err
}

// ParsePaths parses each path, which may be a suite file or a directory.
func ParsePaths(paths []string) ([]*Suite, error) {
	var suites []*Suite
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			found, err := ParseDirectory(p)
			if err != nil {
				return nil, err
			}
			suites = append(suites, found...)
			continue
		}
		s, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		suites = append(suites, s)
	}
	return suites, nil
}

// ShouldIncludeTest checks if a test matches tag filters. Suite tags apply
// to every test of the suite.
func ShouldIncludeTest(s *Suite, t Test, includeTags, excludeTags []string) bool {
	tags := append(append([]string{}, s.Tags...), t.Tags...)
	if len(includeTags) > 0 {
		hasTag := false
		for _, tag := range tags {
			for _, include := range includeTags {
				if tag == include {
					hasTag = true
					break
				}
			}
		}
		if !hasTag {
			return false
		}
	}

	for _, tag := range tags {
		for _, exclude := range excludeTags {
			if tag == exclude {
				return false
			}
		}
	}

	return true
}
