package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/logger"
)

const csvDirName = "csv"

var csvHeader = []string{"ID", "Name", "Status", "Error"}

type csvBackend struct {
	dir       string
	delimiter rune
}

func openCSV(opts Options) (Backend, error) {
	dir := filepath.Join(opts.Dir, csvDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create csv dir: %w", err)
	}
	delim := opts.CSVDelimiter
	if delim == 0 {
		delim = ','
	}
	return &csvBackend{dir: dir, delimiter: delim}, nil
}

func (b *csvBackend) NewReporter() Reporter {
	return &csvReporter{dir: b.dir, delimiter: b.delimiter}
}

func (b *csvBackend) Close() error { return nil }

// csvReporter appends one row per sealed step and flushes after every row,
// so a crashed run still leaves the rows written so far.
type csvReporter struct {
	dir       string
	delimiter rune
	info      core.TestInfo
	file      *os.File
	w         *csv.Writer
}

func (r *csvReporter) Begin(info core.TestInfo) error {
	r.info = info
	path := filepath.Join(r.dir, sanitizeFilename(info.ID+" "+info.Name)+".csv")
	f, err := os.Create(path) //#nosec G304 -- report dir is configured
	if err != nil {
		return fmt.Errorf("create csv report: %w", err)
	}
	r.file = f
	r.w = csv.NewWriter(f)
	r.w.Comma = r.delimiter
	return r.write(csvHeader)
}

func (r *csvReporter) AddStep(node *core.StepNode) error {
	if r.w == nil {
		return fmt.Errorf("csv report for %s was not started", node.Path)
	}
	r.saveAttachments(node)
	return r.write([]string{node.Path, node.Name, node.Status.String(), node.Message})
}

func (r *csvReporter) End(root *core.StepNode) error {
	if r.file == nil {
		return nil
	}
	r.w.Flush()
	err := r.w.Error()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	r.file = nil
	r.w = nil
	if err != nil {
		return fmt.Errorf("finalize csv report: %w", err)
	}
	logger.Debug("csv report for %s finished: %s", r.info.ID, root.Status)
	return nil
}

func (r *csvReporter) write(row []string) error {
	if err := r.w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	r.w.Flush()
	return r.w.Error()
}

// saveAttachments writes image attachments as sibling files named by test,
// step path and step name.
func (r *csvReporter) saveAttachments(node *core.StepNode) {
	for _, a := range node.Attachments {
		ext := extensionFor(a.ContentType)
		if ext != ".png" && ext != ".jpg" {
			continue
		}
		name := r.info.ID + " " + node.Path + " " + node.Name
		if a.Name != core.AttachmentScreenshot {
			name += " " + a.Name
		}
		dst := filepath.Join(r.dir, sanitizeFilename(name)+ext)

		var err error
		switch {
		case len(a.Body) > 0:
			err = os.WriteFile(dst, a.Body, 0o644)
		case a.Path != "":
			err = copyFile(a.Path, dst)
		default:
			continue
		}
		if err != nil {
			logger.Warn("failed to save %s of step %s (%s): %v", a.Name, node.Path, r.info.ID, err)
		}
	}
}
