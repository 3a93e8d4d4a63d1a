package report

import (
	"errors"
	"testing"
	"time"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/steptree"
)

// runTest drives r through one test the way a worker does.
func runTest(t *testing.T, r Reporter, info core.TestInfo, body func(tc *steptree.TestContext) error) *core.StepNode {
	t.Helper()
	if err := r.Begin(info); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tc := steptree.New(info.ID, info.Name, r)
	root := tc.Finish(body(tc))
	if err := tc.SinkErr(); err != nil {
		t.Fatalf("AddStep: %v", err)
	}
	if err := r.End(root); err != nil {
		t.Fatalf("End: %v", err)
	}
	return root
}

func passed() core.ActionResult {
	return core.Passed(time.Now())
}

func failed(msg string) core.ActionResult {
	return core.ActionResult{Status: core.StatusFailed, Message: msg, Start: time.Now(), Stop: time.Now()}
}

func TestFormats(t *testing.T) {
	got := Formats()
	want := []string{FormatAllure, FormatCSV, FormatDB}
	if len(got) != len(want) {
		t.Fatalf("Formats() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Formats()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestOpenUnknownFormat(t *testing.T) {
	_, err := Open("xml", Options{Dir: t.TempDir()})
	if !errors.Is(err, core.ErrUnknownReporter) {
		t.Fatalf("err = %v, want ErrUnknownReporter", err)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("duplicate Register should panic")
		}
	}()
	Register(FormatCSV, openCSV)
}

func TestRegisterRejectsNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("nil opener should panic")
		}
	}()
	Register("nil-opener", nil)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"login Login", "login Login"},
		{"a/b:c", "a_b_c"},
		{"..", "_"},
		{"  spaced  ", "spaced"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
