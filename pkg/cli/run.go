package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uirunner/pkg/config"
	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/devicepool"
	"github.com/devicelab-dev/uirunner/pkg/executor"
	"github.com/devicelab-dev/uirunner/pkg/logger"
	"github.com/devicelab-dev/uirunner/pkg/metrics"
	"github.com/devicelab-dev/uirunner/pkg/report"
	"github.com/devicelab-dev/uirunner/pkg/suite"
	"github.com/devicelab-dev/uirunner/pkg/visual"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run test suites",
	ArgsUsage: "<suite-file-or-folder>...",
	Description: `Run the tests of one or more suite files on a pool of workers.

Reports are generated in the output directory:
  - Default: <reportDir>/<timestamp>/
  - With --output: <output>/<timestamp>/
  - With --flatten: no timestamp subfolder

Examples:
  uirunner run suites/
  uirunner run login.yaml checkout.yaml --workers 2
  uirunner run suites/ -e BUILD=1234 --reporter db
  uirunner run suites/ --driver-option failActions=tap`,
	Flags: []cli.Flag{
		// Environment entries recorded in the report
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Report environment entries (KEY=VALUE)",
		},

		// Tag filtering
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include tests with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude tests with these tags",
		},

		// Output
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output directory for reports (default: reportDir from config)",
			EnvVars: []string{"UIRUNNER_OUTPUT"},
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Don't create timestamp subfolder",
		},
		&cli.StringFlag{
			Name:    "reporter",
			Aliases: []string{"r"},
			Usage:   "Report format (allure, csv, db)",
			EnvVars: []string{"UIRUNNER_REPORTER"},
		},

		// Parallelization
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"w"},
			Usage:   "Number of tests run at the same time",
			EnvVars: []string{"UIRUNNER_WORKERS"},
		},

		// Driver settings
		&cli.StringFlag{
			Name:    "driver",
			Aliases: []string{"d"},
			Usage:   "Driver to run actions with",
			EnvVars: []string{"UIRUNNER_DRIVER"},
		},
		&cli.StringSliceFlag{
			Name:  "driver-option",
			Usage: "Driver option (KEY=VALUE)",
		},

		// Visual comparison
		&cli.StringFlag{
			Name:    "baseline-dir",
			Usage:   "Directory holding visual baselines",
			EnvVars: []string{"UIRUNNER_BASELINE_DIR"},
		},
		&cli.IntFlag{
			Name:  "threshold",
			Usage: "Differing pixels tolerated by screen assertions",
		},

		// Observability
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			EnvVars: []string{"UIRUNNER_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Serve Prometheus metrics on this address while running (e.g. :9090)",
			EnvVars: []string{"UIRUNNER_METRICS_ADDR"},
		},
	},
	Action: runTests,
}

// RunConfig is everything one run needs, resolved from config file and flags.
type RunConfig struct {
	Config      *config.Config
	RunID       string
	OutputDir   string
	SuitePaths  []string
	IncludeTags []string
	ExcludeTags []string
	Env         map[string]string
	MetricsAddr string
	Verbose     bool
}

// stderr receives mirrored warnings under --verbose.
var stderr io.Writer = os.Stderr

func runTests(c *cli.Context) error {
	rc, err := buildRunConfig(c)
	if err != nil {
		return err
	}

	printBanner(rc)
	result, err := executeRun(c.Context, rc)
	if err != nil {
		return err
	}

	printSummary(result)
	fmt.Printf("  Reports: %s (%s)\n\n", rc.OutputDir, rc.Config.Reporter)

	// Exit with code 1 if any test did not pass (summary already printed)
	if !result.Status.IsSuccess() {
		return cli.Exit("", 1)
	}
	return nil
}

// loadConfig reads --config, or uirunner.yaml from the working directory.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.LoadFromDir(".")
}

func buildRunConfig(c *cli.Context) (*RunConfig, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	applyOverrides(c, cfg)

	base := cfg.ReportDir
	if c.String("output") != "" {
		base = c.String("output")
	}
	cfg.ReportDir = resolveOutputDir(base, c.Bool("flatten"))
	cfg.Finalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	paths := c.Args().Slice()
	if len(paths) == 0 {
		paths = cfg.Suites
	}
	if len(paths) == 0 {
		return nil, core.ErrInvalidConfig.WithMessage("no suites given: pass suite files or folders, or set suites in the config")
	}

	return &RunConfig{
		Config:      cfg,
		RunID:       uuid.NewString(),
		OutputDir:   cfg.ReportDir,
		SuitePaths:  paths,
		IncludeTags: c.StringSlice("include-tags"),
		ExcludeTags: c.StringSlice("exclude-tags"),
		Env:         parseKeyValues(c.StringSlice("env")),
		MetricsAddr: c.String("metrics-addr"),
		Verbose:     c.Bool("verbose"),
	}, nil
}

// applyOverrides copies explicitly set flags over the loaded config.
func applyOverrides(c *cli.Context, cfg *config.Config) {
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("reporter") {
		cfg.Reporter = c.String("reporter")
	}
	if c.IsSet("driver") {
		cfg.Driver.Name = c.String("driver")
	}
	if opts := c.StringSlice("driver-option"); len(opts) > 0 {
		if cfg.Driver.Options == nil {
			cfg.Driver.Options = make(map[string]string)
		}
		for k, v := range parseKeyValues(opts) {
			cfg.Driver.Options[k] = v
		}
	}
	if c.IsSet("baseline-dir") {
		cfg.Visual.BaselineDir = c.String("baseline-dir")
	}
	if c.IsSet("threshold") {
		cfg.Visual.Threshold = c.Int("threshold")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.Bool("verbose") {
		cfg.LogLevel = "debug"
	}
}

// resolveOutputDir determines the report directory.
// - default: <base>/<timestamp>/
// - flatten: <base>/
func resolveOutputDir(base string, flatten bool) string {
	if base == "" {
		base = "./reports"
	}
	if flatten {
		return filepath.Clean(base)
	}

	// Create timestamp-based subfolder
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(base, timestamp)
}

func executeRun(ctx context.Context, rc *RunConfig) (*executor.RunResult, error) {
	cfg := rc.Config

	// 1. Create output directory
	if err := os.MkdirAll(rc.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// 2. Initialize logging
	logPath := filepath.Join(rc.OutputDir, "uirunner.log")
	if err := logger.Init(logPath); err != nil {
		fmt.Printf("Warning: Failed to initialize logger: %v\n", err)
	}
	defer logger.Close()
	if rc.Verbose {
		logger.MirrorWarnings(stderr)
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn("ignoring log level: %v", err)
	}

	logger.Info("=== Test run %s started ===", rc.RunID)
	logger.Info("Output directory: %s", rc.OutputDir)
	logger.Info("Workers: %d, reporter: %s, driver: %s", cfg.Workers, cfg.Reporter, cfg.Driver.Name)

	// Cancel on Ctrl+C or kill; units not yet started are reported as Broken.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rc.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, rc.MetricsAddr); err != nil {
				logger.Error("metrics server: %v", err)
			}
		}()
		logger.Info("Serving metrics on %s/metrics", rc.MetricsAddr)
	}

	// 3. Parse suites
	suites, err := suite.ParsePaths(rc.SuitePaths)
	if err != nil {
		logger.Error("Suite parsing failed: %v", err)
		return nil, err
	}
	units, err := suite.Units(suites, rc.IncludeTags, rc.ExcludeTags)
	if err != nil {
		return nil, err
	}
	logger.Info("Parsed %d suite(s), %d test(s) selected", len(suites), len(units))

	// 4. Wire collaborators
	var pool *devicepool.Pool
	if len(cfg.Devices.List) > 0 {
		pool, err = devicepool.New(cfg.Devices.List, devicepool.Options{
			PollInterval: cfg.Devices.PollInterval,
			MaxWait:      cfg.Devices.MaxWait,
		})
		if err != nil {
			return nil, err
		}
	}

	backend, err := report.Open(cfg.Reporter, reportOptions(rc))
	if err != nil {
		return nil, err
	}

	runner, err := executor.New(executor.RunnerConfig{
		Workers:       cfg.Workers,
		RunID:         rc.RunID,
		Reporter:      backend,
		Pool:          pool,
		Visual:        visual.New(visualOptions(cfg.Visual)),
		DriverName:    cfg.Driver.Name,
		DriverOptions: cfg.Driver.Options,
		OnUnitStart:   onUnitStart,
		OnUnitEnd:     onUnitEnd,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}

	// 5. Execute
	result := runner.Run(ctx, units)

	// 6. Finish reports
	if err := backend.Close(); err != nil {
		logger.Error("Failed to finish %s report: %v", cfg.Reporter, err)
		return result, fmt.Errorf("finish %s report: %w", cfg.Reporter, err)
	}
	logger.Info("Run finished: %s", result.Status)
	return result, nil
}

func reportOptions(rc *RunConfig) report.Options {
	cfg := rc.Config
	env := map[string]string{
		"workers": strconv.Itoa(cfg.Workers),
		"driver":  cfg.Driver.Name,
	}
	for k, v := range rc.Env {
		env[k] = v
	}

	delimiter := ','
	if r := []rune(cfg.CSV.Delimiter); len(r) == 1 {
		delimiter = r[0]
	}
	return report.Options{
		Dir:            rc.OutputDir,
		RunID:          rc.RunID,
		ProjectID:      cfg.ProjectID,
		CSVDelimiter:   delimiter,
		DatabaseDriver: cfg.Database.Driver,
		DSN:            cfg.Database.DSN,
		Environment:    env,
	}
}

func visualOptions(vc config.VisualConfig) visual.Options {
	opts := visual.Options{
		BaselineDir:      vc.BaselineDir,
		CurrentDir:       vc.CurrentDir,
		Threshold:        vc.Threshold,
		Margin:           vc.Margin,
		ColorTolerance:   vc.ColorTolerance,
		AutoSaveBaseline: vc.AutoSaveBaseline,
	}
	if vc.Region != nil {
		r := vc.Region.Rect()
		opts.Region = &r
	}
	return opts
}

func parseKeyValues(pairs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range pairs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}
