// Package mock provides a scripted driver for running suites without a real device.
//
// Outcomes are scripted by action name through driver options, and a few
// built-in actions model a screen so visual assertions have something to compare.
package mock

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/driver"
)

// Name is the registry key of this driver.
const Name = "mock"

func init() {
	driver.Register(Name, Open)
}

// Config configures mock driver behavior.
type Config struct {
	// Actions whose result is Failed, Broken, a panic, or a lost device
	FailActions   map[string]bool
	BrokenActions map[string]bool
	PanicActions  map[string]bool
	LostActions   map[string]bool
	// FailOnCall makes call N fail (1-indexed). 0 = never fail.
	FailOnCall int
	// StepDelay adds artificial delay per action
	StepDelay time.Duration
	// Screen size of generated screenshots
	Width  int
	Height int
}

// Driver is a mock implementation of core.Driver. Like every driver it is
// owned by one session and needs no locking.
type Driver struct {
	Config Config

	device    *core.DeviceInfo
	callCount int
	page      string
	overlays  []overlay
	closed    bool
}

type overlay struct {
	rect  image.Rectangle
	color color.RGBA
}

// New creates a new mock driver.
func New(cfg Config, device *core.DeviceInfo) *Driver {
	if cfg.Width <= 0 {
		cfg.Width = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 48
	}
	return &Driver{Config: cfg, device: device}
}

// Open is the registry factory. Recognized options: failActions,
// brokenActions, panicActions, lostActions (comma separated action names),
// failOnCall, delay, width, height.
func Open(device *core.DeviceInfo, options map[string]string) (core.Driver, error) {
	cfg := Config{
		FailActions:   splitSet(options["failActions"]),
		BrokenActions: splitSet(options["brokenActions"]),
		PanicActions:  splitSet(options["panicActions"]),
		LostActions:   splitSet(options["lostActions"]),
	}
	var err error
	if v := options["failOnCall"]; v != "" {
		if cfg.FailOnCall, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("mock: failOnCall: %w", err)
		}
	}
	if v := options["delay"]; v != "" {
		if cfg.StepDelay, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("mock: delay: %w", err)
		}
	}
	if v := options["width"]; v != "" {
		if cfg.Width, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("mock: width: %w", err)
		}
	}
	if v := options["height"]; v != "" {
		if cfg.Height, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("mock: height: %w", err)
		}
	}
	return New(cfg, device), nil
}

func splitSet(list string) map[string]bool {
	set := make(map[string]bool)
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			set[name] = true
		}
	}
	return set
}

// Invoke simulates one action.
//
// Built-in actions:
//
//	navigate  page=<name>                  switch the rendered screen
//	draw      x,y,width,height[,color]     paint a block onto the screen
//	clear                                  remove painted blocks
//	assertEquals expected=<v> actual=<v>   Failed when the values differ
//	fail                                   always Failed
//	sleep     duration=<d>
//
// Anything else passes unless scripted through Config.
func (d *Driver) Invoke(action string, params []core.Parameter) core.ActionResult {
	d.callCount++
	start := time.Now()

	if d.Config.StepDelay > 0 {
		time.Sleep(d.Config.StepDelay)
	}
	if d.closed {
		return d.broken(start, core.ErrDriverUnavailable.WithMessage("driver closed"), params)
	}

	switch {
	case d.Config.PanicActions[action]:
		panic(fmt.Sprintf("mock: scripted panic in %s", action))
	case d.Config.LostActions[action]:
		return d.broken(start, core.ErrDeviceLost.WithMessage(fmt.Sprintf("device dropped during %s", action)), params)
	case d.Config.BrokenActions[action]:
		return d.broken(start, fmt.Errorf("mock: scripted error in %s", action), params)
	case d.Config.FailActions[action]:
		return d.failed(start, fmt.Sprintf("scripted failure in %s", action), params)
	case d.Config.FailOnCall > 0 && d.callCount == d.Config.FailOnCall:
		return d.failed(start, fmt.Sprintf("simulated failure on call %d (%s)", d.callCount, action), params)
	}

	args := paramMap(params)
	switch action {
	case "navigate":
		d.page = args["page"]
		d.overlays = nil
	case "draw":
		o, err := parseOverlay(args)
		if err != nil {
			return d.broken(start, err, params)
		}
		d.overlays = append(d.overlays, o)
	case "clear":
		d.overlays = nil
	case "assertEquals":
		if args["expected"] != args["actual"] {
			return d.failed(start, fmt.Sprintf("expected %q but was %q", args["expected"], args["actual"]), params)
		}
	case "fail":
		return d.failed(start, "fail action", params)
	case "sleep":
		dur, err := time.ParseDuration(args["duration"])
		if err != nil {
			return d.broken(start, fmt.Errorf("mock: sleep: %w", err), params)
		}
		time.Sleep(dur)
	}

	r := core.Passed(start, params...)
	r.Message = fmt.Sprintf("mock executed: %s", action)
	return r
}

func (d *Driver) failed(start time.Time, msg string, params []core.Parameter) core.ActionResult {
	r := core.ResultFromError(start, core.ErrAssertion.WithMessage(msg), params...)
	r.Screenshot, _ = d.Screenshot()
	return r
}

func (d *Driver) broken(start time.Time, err error, params []core.Parameter) core.ActionResult {
	r := core.ResultFromError(start, err, params...)
	r.Status = core.StatusBroken
	if !d.closed {
		r.Screenshot, _ = d.Screenshot()
	}
	return r
}

// Screenshot renders the current screen as PNG: a background derived from
// the page name plus any painted blocks.
func (d *Driver) Screenshot() ([]byte, error) {
	if d.closed {
		return nil, core.ErrDriverUnavailable.WithMessage("driver closed")
	}
	img := image.NewRGBA(image.Rect(0, 0, d.Config.Width, d.Config.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: pageColor(d.page)}, image.Point{}, draw.Src)
	for _, o := range d.overlays {
		draw.Draw(img, o.rect, &image.Uniform{C: o.color}, image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Device returns the leased device this driver was opened for, if any.
func (d *Driver) Device() *core.DeviceInfo {
	return d.device
}

// Close releases the driver. Further calls report Broken.
func (d *Driver) Close() error {
	d.closed = true
	return nil
}

func paramMap(params []core.Parameter) map[string]string {
	m := make(map[string]string, len(params))
	for _, p := range params {
		m[p.Name] = p.Value
	}
	return m
}

func parseOverlay(args map[string]string) (overlay, error) {
	var v [4]int
	for i, key := range []string{"x", "y", "width", "height"} {
		n, err := strconv.Atoi(args[key])
		if err != nil {
			return overlay{}, fmt.Errorf("mock: draw %s: %w", key, err)
		}
		v[i] = n
	}
	c := color.RGBA{A: 255}
	if hex := strings.TrimPrefix(args["color"], "#"); hex != "" {
		rgb, err := strconv.ParseUint(hex, 16, 32)
		if err != nil || len(hex) != 6 {
			return overlay{}, fmt.Errorf("mock: draw color %q", args["color"])
		}
		c.R, c.G, c.B = uint8(rgb>>16), uint8(rgb>>8), uint8(rgb)
	}
	return overlay{rect: image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]), color: c}, nil
}

func pageColor(page string) color.RGBA {
	h := fnv.New32a()
	h.Write([]byte(page))
	sum := h.Sum32()
	return color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 255}
}
