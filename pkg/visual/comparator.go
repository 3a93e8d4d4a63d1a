// Package visual compares screenshots against stored baselines.
//
// A comparison masks the ignored regions of the captured image, stores the
// masked copy as the current image, then diffs it against the baseline
// stored under the same key. Missing baselines and mismatches are Broken,
// never Failed: both need a human to decide whether the product or the
// baseline is wrong.
package visual

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/logger"
)

// Messages reported for the baseline-missing outcomes.
const (
	MsgBaselineMissing      = "baseline missing"
	MsgBaselineMissingSaved = "baseline missing, saved"
)

var (
	maskColor = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	diffColor = color.RGBA{R: 255, A: 255}
)

// Options configure a Comparator.
type Options struct {
	BaselineDir      string
	CurrentDir       string
	Threshold        int // differing pixels tolerated
	Margin           int // pixels added around each ignored region before exclusion
	ColorTolerance   int // per-channel difference (0-255) still counted as equal
	AutoSaveBaseline bool
	Region           *image.Rectangle // comparison area, whole image when nil
}

// Comparator is stateless apart from the files it reads and writes, so one
// instance may be shared by every worker. Keys must be unique per step.
type Comparator struct {
	opts Options
}

// New creates a Comparator.
func New(opts Options) *Comparator {
	return &Comparator{opts: opts}
}

// Judgment is the outcome of one comparison.
type Judgment struct {
	Status   core.Status
	Message  string
	DiffSize int
	Artifact core.ComparisonArtifact
	Err      error
}

// Result converts the judgment into the leaf-step shape.
func (j Judgment) Result(start time.Time, params ...core.Parameter) core.ActionResult {
	return core.ActionResult{
		Status:      j.Status,
		Message:     j.Message,
		Parameters:  params,
		Start:       start,
		Stop:        time.Now(),
		Attachments: j.Artifact.Attachments(),
		Err:         j.Err,
	}
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Key derives the baseline key of a step from the test id and the step's
// numeric path, e.g. "TC-1/2.3". Sibling steps never share a key, even when
// they have the same name.
func Key(testID, stepPath string) string {
	id := strings.Trim(unsafeKeyChars.ReplaceAllString(testID, "_"), "_.")
	if id == "" {
		id = "_"
	}
	return id + "/" + stepPath
}

// Compare judges a captured PNG against the baseline stored under key.
func (c *Comparator) Compare(captured []byte, key string, ignored []image.Rectangle) Judgment {
	current, err := png.Decode(bytes.NewReader(captured))
	if err != nil {
		return broken(core.ErrImageDecode.WithCause(err).WithMessage("could not decode captured image"), core.ComparisonArtifact{})
	}

	canvas := toNRGBA(current)
	for _, r := range ignored {
		draw.Draw(canvas, r.Intersect(canvas.Bounds()), &image.Uniform{C: maskColor}, image.Point{}, draw.Src)
	}
	maskedPNG, err := encode(canvas)
	if err != nil {
		return broken(fmt.Errorf("encode current image: %w", err), core.ComparisonArtifact{})
	}
	// Diff the persisted bytes so both sides went through the same PNG encoding.
	masked, err := png.Decode(bytes.NewReader(maskedPNG))
	if err != nil {
		return broken(core.ErrImageDecode.WithCause(err).WithMessage("could not decode masked image"), core.ComparisonArtifact{})
	}

	artifact := core.ComparisonArtifact{
		Current:     maskedPNG,
		CurrentPath: c.currentPath(key, ""),
	}
	if err := writeFile(artifact.CurrentPath, maskedPNG); err != nil {
		return broken(fmt.Errorf("save current image: %w", err), artifact)
	}

	baselinePath := c.baselinePath(key)
	baselinePNG, err := os.ReadFile(baselinePath) //#nosec G304 -- path derived from configured baseline dir
	if errors.Is(err, fs.ErrNotExist) {
		return c.baselineMissing(key, baselinePath, maskedPNG, artifact)
	}
	if err != nil {
		return broken(fmt.Errorf("read baseline: %w", err), artifact)
	}
	artifact.Template = baselinePNG
	artifact.TemplatePath = baselinePath

	baseline, err := png.Decode(bytes.NewReader(baselinePNG))
	if err != nil {
		return broken(core.ErrImageDecode.WithCause(err).WithMessage("could not decode baseline "+baselinePath), artifact)
	}

	diff := c.diff(masked, baseline, ignored)
	artifact.DiffSize = len(diff)
	if len(diff) <= c.opts.Threshold {
		return Judgment{Status: core.StatusPassed, DiffSize: len(diff), Artifact: artifact}
	}

	marked := markDiff(masked, baseline, diff)
	markedPNG, err := encode(marked)
	if err == nil {
		artifact.Marked = markedPNG
		artifact.MarkedPath = c.currentPath(key, ".marked")
		err = writeFile(artifact.MarkedPath, markedPNG)
	}
	if err != nil {
		return broken(fmt.Errorf("save marked image: %w", err), artifact)
	}

	mismatch := core.ErrVisualMismatch.WithMessage(
		fmt.Sprintf("screen differs from baseline in %d pixels (threshold %d)", len(diff), c.opts.Threshold))
	j := broken(mismatch, artifact)
	j.DiffSize = len(diff)
	return j
}

func (c *Comparator) baselineMissing(key, path string, maskedPNG []byte, artifact core.ComparisonArtifact) Judgment {
	if !c.opts.AutoSaveBaseline {
		return Judgment{
			Status:   core.StatusBroken,
			Message:  MsgBaselineMissing,
			Artifact: artifact,
			Err:      core.ErrBaselineMissing.WithMessage(MsgBaselineMissing + ": " + path),
		}
	}
	if err := writeFile(path, maskedPNG); err != nil {
		return broken(fmt.Errorf("save new baseline: %w", err), artifact)
	}
	logger.Info("saved new baseline for %s at %s", key, path)
	artifact.TemplatePath = path
	return Judgment{
		Status:   core.StatusBroken,
		Message:  MsgBaselineMissingSaved,
		Artifact: artifact,
		Err:      core.ErrBaselineMissing.WithMessage(MsgBaselineMissingSaved + ": " + path),
	}
}

// diff returns the differing points inside the comparison region, skipping
// ignored regions grown by the margin. Points covered by only one of the
// two images count as different.
func (c *Comparator) diff(current, baseline image.Image, ignored []image.Rectangle) []image.Point {
	area := current.Bounds().Union(baseline.Bounds())
	if c.opts.Region != nil {
		area = area.Intersect(*c.opts.Region)
	}

	excluded := make([]image.Rectangle, len(ignored))
	for i, r := range ignored {
		excluded[i] = r.Inset(-c.opts.Margin)
	}

	var diff []image.Point
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			p := image.Point{X: x, Y: y}
			if inAny(p, excluded) {
				continue
			}
			inCur, inBase := p.In(current.Bounds()), p.In(baseline.Bounds())
			if inCur != inBase || (inCur && !c.samePixel(current.At(x, y), baseline.At(x, y))) {
				diff = append(diff, p)
			}
		}
	}
	return diff
}

func (c *Comparator) samePixel(a, b color.Color) bool {
	ar, ag, ab, aa := a.RGBA()
	br, bg, bb, ba := b.RGBA()
	tol := c.opts.ColorTolerance
	return within(ar, br, tol) && within(ag, bg, tol) && within(ab, bb, tol) && within(aa, ba, tol)
}

// within compares 16-bit channels at 8-bit precision.
func within(a, b uint32, tol int) bool {
	d := int(a>>8) - int(b>>8)
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func inAny(p image.Point, rects []image.Rectangle) bool {
	for _, r := range rects {
		if p.In(r) {
			return true
		}
	}
	return false
}

// markDiff draws the current image on a canvas covering both images and
// paints every differing point.
func markDiff(current, baseline image.Image, diff []image.Point) *image.RGBA {
	canvas := image.NewRGBA(current.Bounds().Union(baseline.Bounds()))
	draw.Draw(canvas, current.Bounds(), current, current.Bounds().Min, draw.Src)
	for _, p := range diff {
		canvas.SetRGBA(p.X, p.Y, diffColor)
	}
	return canvas
}

func (c *Comparator) baselinePath(key string) string {
	return filepath.Join(c.opts.BaselineDir, filepath.FromSlash(key)+".png")
}

func (c *Comparator) currentPath(key, suffix string) string {
	return filepath.Join(c.opts.CurrentDir, filepath.FromSlash(key)+suffix+".png")
}

func broken(err error, artifact core.ComparisonArtifact) Judgment {
	return Judgment{
		Status:   core.StatusBroken,
		Message:  err.Error(),
		DiffSize: artifact.DiffSize,
		Artifact: artifact,
		Err:      err,
	}
}

// toNRGBA returns img as non-premultiplied RGBA, the layout PNG stores.
func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba
	}
	out := image.NewNRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644) //#nosec G306 -- report artifacts are meant to be shared
}
