package core

import (
	"strings"
	"time"
)

// StepKind tells reporters how a node was opened.
type StepKind string

// StepKind values
const (
	KindRoot   StepKind = "root"
	KindLeaf   StepKind = "step"
	KindGroup  StepKind = "group"
	KindBefore StepKind = "before"
	KindAfter  StepKind = "after"
)

// PathSeparator joins parent and child identifiers.
const PathSeparator = "."

// StepNode is one recorded step or scope of a test's execution tree.
// A node is open while its call runs and sealed once its status is fixed;
// reporters only ever see sealed nodes.
type StepNode struct {
	ID          string       `json:"id"`         // Unique among siblings
	Path        string       `json:"path"`       // parentPath.ID, empty for the root
	ParentPath  string       `json:"parentPath"` // Empty for root children and the root
	Name        string       `json:"name"`
	Kind        StepKind     `json:"kind"`
	Status      Status       `json:"status"`
	Message     string       `json:"message,omitempty"`
	Trace       string       `json:"trace,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Parameters  []Parameter  `json:"parameters,omitempty"`
	Start       time.Time    `json:"start"`
	Stop        time.Time    `json:"stop"`
	Required    bool         `json:"required"`
	Children    []*StepNode  `json:"children,omitempty"`
}

// Depth returns the nesting depth: 0 for the root, 1 for its children.
func (n *StepNode) Depth() int {
	if n.Path == "" {
		return 0
	}
	return strings.Count(n.Path, PathSeparator) + 1
}

// IsGroup reports whether the node aggregates children.
func (n *StepNode) IsGroup() bool {
	return n.Kind != KindLeaf
}

// WorstChild returns the worst status among children, or Passed if there are none.
func (n *StepNode) WorstChild() Status {
	worst := StatusPassed
	for _, c := range n.Children {
		if c.Status > worst {
			worst = c.Status
		}
	}
	return worst
}

// Duration returns Stop-Start, or zero for an unsealed node.
func (n *StepNode) Duration() time.Duration {
	if n.Stop.IsZero() || n.Start.IsZero() {
		return 0
	}
	return n.Stop.Sub(n.Start)
}

// Walk visits the node and its descendants depth-first, parents before children.
func (n *StepNode) Walk(fn func(*StepNode)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// JoinPath builds a child path from its parent path and local identifier.
func JoinPath(parentPath, id string) string {
	if parentPath == "" {
		return id
	}
	return parentPath + PathSeparator + id
}

// TestInfo identifies the test a reporter is writing.
type TestInfo struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Labels      []Label `json:"labels,omitempty"`
	RunID       string  `json:"runId"`
	SessionID   string  `json:"sessionId"`
	WorkerID    int     `json:"workerId"`
	Device      string  `json:"device,omitempty"`
}
