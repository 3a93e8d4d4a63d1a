package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uirunner/pkg/config"
	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/logger"
)

func TestResolveOutputDir_Default(t *testing.T) {
	dir := resolveOutputDir("", false)

	if !strings.HasPrefix(dir, "reports/") {
		t.Errorf("expected dir to start with reports/, got %s", dir)
	}
	// Should have timestamp subfolder
	parts := strings.Split(dir, "/")
	if len(parts) != 2 {
		t.Errorf("expected reports/<timestamp>, got %s", dir)
	}
}

func TestResolveOutputDir_Flatten(t *testing.T) {
	if dir := resolveOutputDir("./my-reports", true); dir != "my-reports" {
		t.Errorf("expected my-reports, got %s", dir)
	}
}

func TestParseKeyValues(t *testing.T) {
	result := parseKeyValues([]string{"USER=test", "URL=http://x/?a=b", "EMPTY=", "garbage"})

	if result["USER"] != "test" {
		t.Errorf("expected USER=test, got %s", result["USER"])
	}
	if result["URL"] != "http://x/?a=b" {
		t.Errorf("value should keep later '=', got %s", result["URL"])
	}
	if v, ok := result["EMPTY"]; !ok || v != "" {
		t.Errorf("expected EMPTY='', got %q %v", v, ok)
	}
	if len(result) != 3 {
		t.Errorf("entries without '=' should be skipped: %v", result)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{450 * time.Millisecond, "450ms"},
		{1500 * time.Millisecond, "1.5s"},
		{61 * time.Second, "1m 1s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestVisualOptions(t *testing.T) {
	opts := visualOptions(config.VisualConfig{
		BaselineDir: "b",
		Threshold:   3,
		Region:      &config.Region{X: 1, Y: 2, Width: 10, Height: 20},
	})
	if opts.BaselineDir != "b" || opts.Threshold != 3 {
		t.Errorf("opts = %+v", opts)
	}
	if opts.Region == nil || opts.Region.Dx() != 10 || opts.Region.Min.Y != 2 {
		t.Errorf("region = %v", opts.Region)
	}
	if visualOptions(config.VisualConfig{}).Region != nil {
		t.Error("no region should compare the whole image")
	}
}

func TestReportOptions(t *testing.T) {
	cfg := config.Defaults()
	cfg.CSV.Delimiter = ";"
	rc := &RunConfig{
		Config:    &cfg,
		RunID:     "run-1",
		OutputDir: "out",
		Env:       map[string]string{"BUILD": "42", "driver": "custom"},
	}

	opts := reportOptions(rc)
	if opts.CSVDelimiter != ';' || opts.Dir != "out" || opts.RunID != "run-1" {
		t.Errorf("opts = %+v", opts)
	}
	if opts.Environment["BUILD"] != "42" || opts.Environment["workers"] != "4" {
		t.Errorf("environment = %v", opts.Environment)
	}
	if opts.Environment["driver"] != "custom" {
		t.Error("user entries should win over derived ones")
	}
}

// runApp runs the CLI with args and returns the error instead of exiting.
func runApp(t *testing.T, args ...string) error {
	t.Helper()
	app := NewApp()
	app.ExitErrHandler = func(*cli.Context, error) {}
	t.Cleanup(logger.Close)
	return app.Run(append([]string{"uirunner"}, args...))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeConfig(t *testing.T, dir string) string {
	return writeFile(t, dir, "uirunner.yaml", `
workers: 2
visual:
  baselineDir: `+filepath.Join(dir, "baselines")+`
driver:
  name: mock
`)
}

const passingSuite = `
name: Smoke
tests:
  - id: S-1
    name: open home
    steps:
      - action: navigate
        params: {page: home}
  - id: S-2
    name: store values
    tags: [slow]
    steps:
      - store: {user: ada}
      - action: assertEquals
        params: {expected: ada, actual: "${user}"}
`

func TestRunCommand_Passing(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	suitePath := writeFile(t, dir, "smoke.yaml", passingSuite)
	out := filepath.Join(dir, "out")

	err := runApp(t, "--config", cfgPath, "--no-ansi",
		"run", "--output", out, "--flatten", "--reporter", "csv", suitePath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, name := range []string{"S-1 open home.csv", "S-2 store values.csv"} {
		if _, err := os.Stat(filepath.Join(out, "csv", name)); err != nil {
			t.Errorf("missing report %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "uirunner.log")); err != nil {
		t.Errorf("log file not written: %v", err)
	}
}

func TestRunCommand_TagFilter(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	suitePath := writeFile(t, dir, "smoke.yaml", passingSuite)
	out := filepath.Join(dir, "out")

	err := runApp(t, "--config", cfgPath,
		"run", "--output", out, "--flatten", "--reporter", "csv", "--exclude-tags", "slow", suitePath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(out, "csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 report, got %d", len(entries))
	}
}

func TestRunCommand_FailingExitsNonZero(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	suitePath := writeFile(t, dir, "fail.yaml", `
tests:
  - id: F-1
    steps:
      - action: fail
`)

	err := runApp(t, "--config", cfgPath,
		"run", "--output", filepath.Join(dir, "out"), "--flatten", "--reporter", "allure", suitePath)
	var exit cli.ExitCoder
	if !errors.As(err, &exit) || exit.ExitCode() != 1 {
		t.Fatalf("expected exit code 1, got %v", err)
	}

	results, _ := filepath.Glob(filepath.Join(dir, "out", "allure-results", "*-result.json"))
	if len(results) != 1 {
		t.Errorf("expected 1 allure result, got %d", len(results))
	}
}

func TestRunCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	suitePath := writeFile(t, dir, "smoke.yaml", passingSuite)
	out := filepath.Join(dir, "out")

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{"no suites", []string{"--config", cfgPath, "run", "--output", out}, core.ErrInvalidConfig},
		{"bad workers", []string{"--config", cfgPath, "run", "--output", out, "--workers", "0", suitePath}, core.ErrInvalidConfig},
		{"bad reporter", []string{"--config", cfgPath, "run", "--output", out, "--reporter", "xml", suitePath}, core.ErrUnknownReporter},
		{"bad driver", []string{"--config", cfgPath, "run", "--output", out, "--driver", "selenium", suitePath}, core.ErrUnknownDriver},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runApp(t, tt.args...)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunCommand_VerboseMirrorsWarnings(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	suites := filepath.Join(dir, "suites")
	if err := os.Mkdir(suites, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, suites, "smoke.yaml", passingSuite)
	writeFile(t, suites, "broken.yaml", "tests:\n  - name: no id\n")

	var buf bytes.Buffer
	stderr = &buf
	t.Cleanup(func() { stderr = os.Stderr })

	err := runApp(t, "--config", cfgPath, "--verbose",
		"run", "--output", filepath.Join(dir, "out"), "--flatten", "--reporter", "csv", suites)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "skipping") || !strings.Contains(out, "broken.yaml") {
		t.Errorf("expected skipped suite warning on stderr, got %q", out)
	}
	if strings.Contains(out, "Test run") {
		t.Errorf("info lines should stay in the log file: %q", out)
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	good := writeFile(t, dir, "smoke.yaml", passingSuite)
	bad := writeFile(t, dir, "bad.yaml", "tests:\n  - name: no id\n")

	if err := runApp(t, "--config", cfgPath, "validate", good); err != nil {
		t.Errorf("valid suite: %v", err)
	}
	if err := runApp(t, "--config", cfgPath, "validate", bad); err == nil {
		t.Error("suite without ids should fail validation")
	}
}

func TestFormatsCommand(t *testing.T) {
	if err := runApp(t, "formats"); err != nil {
		t.Errorf("formats: %v", err)
	}
}
