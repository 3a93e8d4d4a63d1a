package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/steptree"
)

func readAllureResults(t *testing.T, dir string) []AllureResult {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, allureDirName, "*-result.json"))
	if err != nil {
		t.Fatal(err)
	}
	results := make([]AllureResult, 0, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			t.Fatalf("read %s: %v", m, err)
		}
		var r AllureResult
		if err := json.Unmarshal(data, &r); err != nil {
			t.Fatalf("parse %s: %v", m, err)
		}
		if !strings.HasPrefix(filepath.Base(m), r.UUID) {
			t.Errorf("file %s not named by uuid %s", m, r.UUID)
		}
		results = append(results, r)
	}
	return results
}

func TestAllureRebuildsNesting(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(FormatAllure, Options{Dir: dir, RunID: "run-7"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	info := core.TestInfo{
		ID:          "TC-9",
		Name:        "Checkout",
		Description: "pays with a card",
		Labels:      []core.Label{{Name: "owner", Value: "payments"}, {Name: "suite", Value: "smoke"}},
		WorkerID:    2,
		Device:      "pixel-1",
	}

	runTest(t, b.NewReporter(), info, func(tc *steptree.TestContext) error {
		if err := tc.Step("open", passed()); err != nil {
			return err
		}
		return tc.Scope("payment", func() error {
			tc.Optional().Step("dismiss banner", failed("no banner"))
			r := passed()
			r.Parameters = []core.Parameter{{Name: "card", Value: "4242"}}
			return tc.Step("enter card", r)
		})
	})
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	results := readAllureResults(t, dir)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	r := results[0]
	if r.Name != "Checkout" || r.Description != "pays with a card" || r.Stage != "finished" {
		t.Errorf("result header = %+v", r)
	}
	if r.Status != "failed" {
		t.Errorf("status = %q, want failed from the optional failure", r.Status)
	}
	if r.HistoryID != fnv32aHash("TC-9:Checkout") {
		t.Errorf("historyId = %q", r.HistoryID)
	}
	if len(r.Steps) != 2 {
		t.Fatalf("top-level steps = %d, want 2", len(r.Steps))
	}
	if r.Steps[0].Name != "open" || r.Steps[0].Status != "passed" {
		t.Errorf("step 1 = %+v", r.Steps[0])
	}
	payment := r.Steps[1]
	if payment.Name != "payment" || payment.Status != "failed" || len(payment.Steps) != 2 {
		t.Fatalf("payment = %+v", payment)
	}
	if payment.Steps[0].StatusDetails.Message != "no banner" {
		t.Errorf("banner details = %+v", payment.Steps[0].StatusDetails)
	}
	card := payment.Steps[1]
	if len(card.Parameters) != 1 || card.Parameters[0].Value != "4242" {
		t.Errorf("card parameters = %+v", card.Parameters)
	}

	labels := map[string]string{}
	for _, l := range r.Labels {
		labels[l.Name] = l.Value
	}
	want := map[string]string{"owner": "payments", "suite": "smoke", "framework": "uirunner", "thread": "worker-2", "host": "pixel-1"}
	for k, v := range want {
		if labels[k] != v {
			t.Errorf("label %s = %q, want %q", k, labels[k], v)
		}
	}

	for _, name := range []string{"categories.json", "executor.json", "environment.properties"} {
		if _, err := os.Stat(filepath.Join(dir, allureDirName, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	env, _ := os.ReadFile(filepath.Join(dir, allureDirName, "environment.properties"))
	if !strings.Contains(string(env), "run.id=run-7") {
		t.Errorf("environment = %q", env)
	}
}

func TestAllureAttachments(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(FormatAllure, Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "baseline.png")
	if err := os.WriteFile(src, []byte("template"), 0o644); err != nil {
		t.Fatal(err)
	}

	runTest(t, b.NewReporter(), core.TestInfo{ID: "a", Name: "A"}, func(tc *steptree.TestContext) error {
		r := passed()
		r.Screenshot = []byte("shot")
		r.Attachments = []core.Attachment{
			{Name: core.AttachmentTemplate, ContentType: core.ContentTypePNG, Path: src},
			{Name: "missing", ContentType: core.ContentTypePNG, Path: filepath.Join(dir, "nope.png")},
		}
		return tc.Step("look", r)
	})

	results := readAllureResults(t, dir)
	if len(results) != 1 || len(results[0].Steps) != 1 {
		t.Fatalf("results = %+v", results)
	}
	atts := results[0].Steps[0].Attachments
	if len(atts) != 2 {
		t.Fatalf("attachments = %+v, want screenshot and template", atts)
	}
	wantBodies := map[string]string{core.AttachmentScreenshot: "shot", core.AttachmentTemplate: "template"}
	for _, a := range atts {
		if !strings.HasSuffix(a.Source, "-attachment.png") || a.Type != core.ContentTypePNG {
			t.Errorf("attachment = %+v", a)
		}
		data, err := os.ReadFile(filepath.Join(dir, allureDirName, a.Source))
		if err != nil {
			t.Errorf("read %s: %v", a.Source, err)
			continue
		}
		if string(data) != wantBodies[a.Name] {
			t.Errorf("%s content = %q", a.Name, data)
		}
	}
}

func TestAllureBrokenRoot(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(FormatAllure, Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	runTest(t, b.NewReporter(), core.TestInfo{ID: "b", Name: "B"}, func(tc *steptree.TestContext) error {
		return core.ErrNoDeviceAvailable.WithMessage("no device available after waiting 1s")
	})

	results := readAllureResults(t, dir)
	if len(results) != 1 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Status != "broken" || !strings.Contains(results[0].StatusDetails.Message, "no device available") {
		t.Errorf("result = %+v", results[0])
	}
	if results[0].Steps == nil || len(results[0].Steps) != 0 {
		t.Errorf("steps = %v, want empty list", results[0].Steps)
	}
}

func TestAllureReportersDoNotShareFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(FormatAllure, Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"x", "x", "y"} {
		runTest(t, b.NewReporter(), core.TestInfo{ID: id, Name: id}, func(tc *steptree.TestContext) error {
			return tc.Step("s", passed())
		})
	}
	if got := len(readAllureResults(t, dir)); got != 3 {
		t.Errorf("results = %d, want 3 distinct files", got)
	}
}
