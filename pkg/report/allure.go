package report

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/logger"
)

// Allure result schema types.

// AllureResult represents a single test result in Allure format.
type AllureResult struct {
	UUID          string              `json:"uuid"`
	HistoryID     string              `json:"historyId"`
	FullName      string              `json:"fullName"`
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	Status        string              `json:"status"`
	Stage         string              `json:"stage"`
	Start         int64               `json:"start"`
	Stop          int64               `json:"stop"`
	Labels        []AllureLabel       `json:"labels"`
	Parameters    []AllureParameter   `json:"parameters"`
	StatusDetails AllureStatusDetails `json:"statusDetails"`
	Steps         []AllureStep        `json:"steps"`
	Attachments   []AllureAttachment  `json:"attachments"`
}

// AllureStep represents a step within a test result.
type AllureStep struct {
	Name          string              `json:"name"`
	Status        string              `json:"status"`
	Stage         string              `json:"stage"`
	Start         int64               `json:"start"`
	Stop          int64               `json:"stop"`
	StatusDetails AllureStatusDetails `json:"statusDetails"`
	Parameters    []AllureParameter   `json:"parameters"`
	Steps         []AllureStep        `json:"steps"`
	Attachments   []AllureAttachment  `json:"attachments"`
}

// AllureAttachment represents a file attachment.
type AllureAttachment struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// AllureParameter is one name/value pair of a step or result.
type AllureParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AllureLabel represents a label on a test result.
type AllureLabel struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AllureStatusDetails holds failure message and trace.
type AllureStatusDetails struct {
	Message string `json:"message,omitempty"`
	Trace   string `json:"trace,omitempty"`
}

// AllureCategory defines a failure category with regex matching.
type AllureCategory struct {
	Name            string   `json:"name"`
	MatchedStatuses []string `json:"matchedStatuses"`
	MessageRegex    string   `json:"messageRegex"`
}

// AllureExecutor holds executor branding info.
type AllureExecutor struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	BuildName  string `json:"buildName,omitempty"`
	ReportURL  string `json:"reportUrl"`
	ReportName string `json:"reportName"`
}

const allureDirName = "allure-results"

type allureBackend struct {
	dir   string
	runID string
	env   map[string]string
}

func openAllure(opts Options) (Backend, error) {
	dir := filepath.Join(opts.Dir, allureDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create allure-results dir: %w", err)
	}
	return &allureBackend{dir: dir, runID: opts.RunID, env: opts.Environment}, nil
}

func (b *allureBackend) NewReporter() Reporter {
	return &allureReporter{dir: b.dir, pending: make(map[string][]AllureStep)}
}

// Close writes the run-level files: categories, executor and environment.
func (b *allureBackend) Close() error {
	if err := writeAllureCategories(b.dir); err != nil {
		return err
	}
	if err := writeAllureExecutor(b.dir, b.runID); err != nil {
		return err
	}
	return writeAllureEnvironment(b.dir, b.runID, b.env)
}

// allureReporter rebuilds the nesting from sealed nodes. Children are sealed
// before their parent, so each node collects the steps pending under its
// path and then parks itself under its parent's path.
type allureReporter struct {
	dir     string
	uuid    string
	info    core.TestInfo
	pending map[string][]AllureStep
}

func (r *allureReporter) Begin(info core.TestInfo) error {
	r.info = info
	r.uuid = uuid.NewString()
	return nil
}

func (r *allureReporter) AddStep(node *core.StepNode) error {
	step := AllureStep{
		Name:          node.Name,
		Status:        node.Status.String(),
		Stage:         "finished",
		Start:         unixMilli(node.Start),
		Stop:          unixMilli(node.Stop),
		StatusDetails: AllureStatusDetails{Message: node.Message, Trace: node.Trace},
		Parameters:    allureParameters(node.Parameters),
		Steps:         r.takePending(node.Path),
		Attachments:   r.writeAttachments(node.Attachments),
	}
	r.pending[node.ParentPath] = append(r.pending[node.ParentPath], step)
	return nil
}

func (r *allureReporter) End(root *core.StepNode) error {
	if r.uuid == "" {
		r.uuid = uuid.NewString()
	}
	result := AllureResult{
		UUID:          r.uuid,
		HistoryID:     fnv32aHash(r.info.ID + ":" + r.info.Name),
		FullName:      r.info.ID + " " + r.info.Name,
		Name:          r.info.Name,
		Description:   r.info.Description,
		Status:        root.Status.String(),
		Stage:         "finished",
		Start:         unixMilli(root.Start),
		Stop:          unixMilli(root.Stop),
		Labels:        r.labels(),
		Parameters:    allureParameters(root.Parameters),
		StatusDetails: AllureStatusDetails{Message: root.Message, Trace: root.Trace},
		Steps:         r.takePending(""),
		Attachments:   r.writeAttachments(root.Attachments),
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal allure result for %s: %w", r.info.ID, err)
	}
	resultPath := filepath.Join(r.dir, r.uuid+"-result.json")
	if err := os.WriteFile(resultPath, data, 0o644); err != nil {
		return fmt.Errorf("write allure result %s: %w", r.info.ID, err)
	}
	return nil
}

func (r *allureReporter) takePending(path string) []AllureStep {
	steps := r.pending[path]
	delete(r.pending, path)
	if steps == nil {
		steps = []AllureStep{}
	}
	return steps
}

func (r *allureReporter) labels() []AllureLabel {
	labels := make([]AllureLabel, 0, len(r.info.Labels)+4)
	has := make(map[string]bool)
	for _, l := range r.info.Labels {
		labels = append(labels, AllureLabel{Name: l.Name, Value: l.Value})
		has[l.Name] = true
	}
	add := func(name, value string) {
		if value != "" && !has[name] {
			labels = append(labels, AllureLabel{Name: name, Value: value})
		}
	}
	add("suite", r.info.Name)
	add("framework", "uirunner")
	add("thread", fmt.Sprintf("worker-%d", r.info.WorkerID))
	add("host", r.info.Device)
	return labels
}

// writeAttachments stores each attachment as a uniquely named file next to
// the result. In-memory bodies are written; path-only attachments are copied.
func (r *allureReporter) writeAttachments(atts []core.Attachment) []AllureAttachment {
	out := make([]AllureAttachment, 0, len(atts))
	for _, a := range atts {
		source := uuid.NewString() + "-attachment" + extensionFor(a.ContentType)
		dst := filepath.Join(r.dir, source)
		switch {
		case len(a.Body) > 0:
			if err := os.WriteFile(dst, a.Body, 0o644); err != nil {
				logger.Warn("failed to write attachment %s of %s: %v", a.Name, r.info.ID, err)
				continue
			}
		case a.Path != "":
			if err := copyFile(a.Path, dst); err != nil {
				logger.Warn("failed to copy attachment %s of %s: %v", a.Name, r.info.ID, err)
				continue
			}
		default:
			continue
		}
		out = append(out, AllureAttachment{Name: a.Name, Source: source, Type: a.ContentType})
	}
	return out
}

func allureParameters(params []core.Parameter) []AllureParameter {
	out := make([]AllureParameter, len(params))
	for i, p := range params {
		out[i] = AllureParameter{Name: p.Name, Value: p.Value}
	}
	return out
}

func extensionFor(contentType string) string {
	switch contentType {
	case core.ContentTypePNG:
		return ".png"
	case core.ContentTypeJPEG:
		return ".jpg"
	case core.ContentTypeJSON:
		return ".json"
	case core.ContentTypeText:
		return ".txt"
	default:
		return ""
	}
}

// copyFile copies a single file from src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src) //#nosec G304 -- artifact paths come from this run
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// fnv32aHash returns a hex-encoded FNV-32a hash of the input string.
func fnv32aHash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}

// writeAllureCategories writes categories.json for failure categorization.
func writeAllureCategories(allureDir string) error {
	categories := []AllureCategory{
		{Name: "Visual Mismatch", MatchedStatuses: []string{"broken"}, MessageRegex: "(?i).*differs from baseline.*|.*does not match baseline.*"},
		{Name: "Baseline Missing", MatchedStatuses: []string{"broken"}, MessageRegex: "(?i).*baseline missing.*"},
		{Name: "Device Unavailable", MatchedStatuses: []string{"broken"}, MessageRegex: "(?i).*no device available.*|.*device connection lost.*"},
		{Name: "Driver Error", MatchedStatuses: []string{"broken"}, MessageRegex: "(?i).*panic.*|.*driver.*"},
		{Name: "Image Decode", MatchedStatuses: []string{"broken"}, MessageRegex: "(?i).*decode.*"},
		{Name: "Assertion Failed", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*"},
	}

	data, err := json.MarshalIndent(categories, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}

	path := filepath.Join(allureDir, "categories.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write categories.json: %w", err)
	}

	return nil
}

// writeAllureEnvironment writes environment.properties with run metadata.
func writeAllureEnvironment(allureDir, runID string, env map[string]string) error {
	var b strings.Builder
	b.WriteString("framework=uirunner\n")
	if runID != "" {
		b.WriteString(fmt.Sprintf("run.id=%s\n", runID))
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("%s=%s\n", k, env[k]))
	}

	path := filepath.Join(allureDir, "environment.properties")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write environment.properties: %w", err)
	}

	return nil
}

// writeAllureExecutor writes executor.json with DeviceLab branding.
func writeAllureExecutor(allureDir, runID string) error {
	executor := AllureExecutor{
		Name:       "DeviceLab",
		Type:       "devicelab",
		BuildName:  runID,
		ReportURL:  "https://devicelab.dev",
		ReportName: "Powered by DeviceLab",
	}

	data, err := json.MarshalIndent(executor, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal executor: %w", err)
	}

	path := filepath.Join(allureDir, "executor.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write executor.json: %w", err)
	}

	return nil
}
