package cli

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/executor"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Slow test threshold
const slowThreshold = time.Minute

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

// progressMu keeps progress lines from different workers whole.
var progressMu sync.Mutex

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

func printBanner(rc *RunConfig) {
	fmt.Println()
	fmt.Printf("  %suirunner%s %s\n", color(colorBold), color(colorReset), Version)
	fmt.Printf("  %srun %s, %d workers, %s driver%s\n",
		color(colorGray), rc.RunID, rc.Config.Workers, rc.Config.Driver.Name, color(colorReset))
	fmt.Println()
}

// Live progress callbacks, called from worker goroutines.
func onUnitStart(workerID int, unit executor.TestUnit) {
	progressMu.Lock()
	defer progressMu.Unlock()
	fmt.Printf("  %s[worker %d]%s %s %s\n",
		color(colorCyan), workerID, color(colorReset), unit.ID, unit.Name)
}

func onUnitEnd(workerID int, r executor.UnitResult) {
	progressMu.Lock()
	defer progressMu.Unlock()

	durColor := color(colorGray)
	if r.Duration >= slowThreshold {
		durColor = color(colorYellow)
	}
	fmt.Printf("  %s[worker %d]%s %s%s %s%s %s(%s)%s\n",
		color(colorCyan), workerID, color(colorReset),
		statusColor(r.Status), statusSymbol(r.Status), r.ID, color(colorReset),
		durColor, formatDuration(r.Duration), color(colorReset))
	if !r.Status.IsSuccess() && r.Message != "" {
		fmt.Printf("             %s╰─%s %s\n", color(colorGray), color(colorReset), r.Message)
	}
}

func statusSymbol(s core.Status) string {
	switch s {
	case core.StatusPassed:
		return "✓"
	case core.StatusFailed:
		return "✗"
	default:
		return "!"
	}
}

func statusColor(s core.Status) string {
	switch s {
	case core.StatusPassed:
		return color(colorGreen)
	case core.StatusFailed:
		return color(colorRed)
	default:
		return color(colorYellow)
	}
}

func printSummary(result *executor.RunResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Results (%s)", formatDuration(result.Duration)))
	t.SetStyle(table.StyleLight)
	if colorsEnabled {
		t.SetStyle(table.StyleRounded)
	}

	t.AppendHeader(table.Row{
		"Test", "Status", "Worker", "Device", "Steps", "Passed", "Failed", "Broken", "Duration",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 48, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Worker", Align: text.AlignRight},
		{Name: "Steps", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Broken", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
	})

	var steps, passed, failed, broken int
	for _, u := range result.Units {
		device := u.Device
		if device == "" {
			device = "-"
		}
		t.AppendRow(table.Row{
			u.ID + " " + u.Name,
			statusColor(u.Status) + statusSymbol(u.Status) + " " + u.Status.String() + color(colorReset),
			u.WorkerID,
			device,
			u.StepsTotal,
			u.StepsPassed,
			u.StepsFailed,
			u.StepsBroken,
			formatDuration(u.Duration),
		})
		steps += u.StepsTotal
		passed += u.StepsPassed
		failed += u.StepsFailed
		broken += u.StepsBroken
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d/%d", result.Passed, result.Total),
		"",
		"",
		steps,
		passed,
		failed,
		broken,
		formatDuration(result.Duration),
	})

	fmt.Println()
	t.Render()
	fmt.Printf("\n  %s%d passed%s, %s%d failed%s, %s%d broken%s\n",
		color(colorGreen), result.Passed, color(colorReset),
		color(colorRed), result.Failed, color(colorReset),
		color(colorYellow), result.Broken, color(colorReset))
}

// formatDuration shows milliseconds below one second, seconds below one
// minute, and minutes with seconds otherwise.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
