// Package config handles configuration for uirunner.
package config

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/uirunner/pkg/core"
)

// Config represents the run configuration (uirunner.yaml).
// It is built once at startup and never mutated afterwards.
type Config struct {
	// Execution settings
	Workers   int    `yaml:"workers"`
	ReportDir string `yaml:"reportDir"`
	Reporter  string `yaml:"reporter"` // allure, csv or db
	ProjectID int64  `yaml:"projectId"`
	LogLevel  string `yaml:"logLevel"`

	CSV      CSVConfig      `yaml:"csv"`
	Database DatabaseConfig `yaml:"database"`
	Visual   VisualConfig   `yaml:"visual"`
	Devices  DevicesConfig  `yaml:"devices"`
	Driver   DriverConfig   `yaml:"driver"`

	// Suite files to run when none are given on the command line
	Suites []string `yaml:"suites"`

	derivedCurrentDir bool
	derivedDSN        bool
}

// CSVConfig configures the flat-tabular reporter.
type CSVConfig struct {
	Delimiter string `yaml:"delimiter"`
}

// DatabaseConfig configures the relational reporter.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// VisualConfig configures screenshot comparison.
type VisualConfig struct {
	BaselineDir      string  `yaml:"baselineDir"`
	CurrentDir       string  `yaml:"currentDir"`
	Threshold        int     `yaml:"threshold"`      // Allowed differing pixels
	Margin           int     `yaml:"margin"`         // Pixels added around ignored regions
	ColorTolerance   int     `yaml:"colorTolerance"` // Per-channel difference still counted as equal
	AutoSaveBaseline bool    `yaml:"autoSaveBaseline"`
	Region           *Region `yaml:"region"` // Comparison area; whole image when nil
}

// Region is a rectangle in image pixels.
type Region struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Rect converts the region to an image rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// DevicesConfig configures the device pool.
type DevicesConfig struct {
	PollInterval time.Duration     `yaml:"pollInterval"`
	MaxWait      time.Duration     `yaml:"maxWait"`
	List         []core.DeviceInfo `yaml:"list"`
}

// DriverConfig selects the automation driver.
type DriverConfig struct {
	Name    string            `yaml:"name"`
	Options map[string]string `yaml:"options"`
}

// Reporter keys known to the registry.
const (
	ReporterAllure = "allure"
	ReporterCSV    = "csv"
	ReporterDB     = "db"
)

// Database drivers.
const (
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
)

// Defaults returns a configuration with every value set.
func Defaults() Config {
	return Config{
		Workers:   4,
		ReportDir: "reports",
		Reporter:  ReporterAllure,
		LogLevel:  "info",
		CSV:       CSVConfig{Delimiter: ","},
		Database:  DatabaseConfig{Driver: DatabaseSQLite},
		Visual: VisualConfig{
			BaselineDir:      GetBaselineDir(),
			Margin:           2,
			AutoSaveBaseline: true,
		},
		Devices: DevicesConfig{
			PollInterval: 5 * time.Second,
			MaxWait:      30 * time.Minute,
		},
		Driver: DriverConfig{Name: "mock"},
	}
}

// Load loads configuration from a file on top of Defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.fillDerived()
	return &cfg, nil
}

// LoadFromDir looks for uirunner.yaml or uirunner.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"uirunner.yaml", "uirunner.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, use defaults
	cfg := Defaults()
	cfg.fillDerived()
	return &cfg, nil
}

// fillDerived sets values that depend on other fields.
func (c *Config) fillDerived() {
	if c.Visual.CurrentDir == "" || c.derivedCurrentDir {
		c.Visual.CurrentDir = filepath.Join(c.ReportDir, "screenshots")
		c.derivedCurrentDir = true
	}
	if c.Database.Driver == DatabaseSQLite && (c.Database.DSN == "" || c.derivedDSN) {
		c.Database.DSN = filepath.Join(c.ReportDir, "results.db")
		c.derivedDSN = true
	}
}

// Finalize recomputes derived values after command-line overrides.
// Derived values set explicitly in the file are kept.
func (c *Config) Finalize() {
	c.fillDerived()
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf(format, args...))
	}

	if c.Workers < 1 {
		return invalid("workers must be at least 1, got %d", c.Workers)
	}
	if c.ReportDir == "" {
		return invalid("reportDir is required")
	}
	switch c.Reporter {
	case ReporterAllure, ReporterCSV, ReporterDB:
	default:
		return core.ErrUnknownReporter.WithMessage(fmt.Sprintf("unknown reporter %q", c.Reporter))
	}
	if len([]rune(c.CSV.Delimiter)) != 1 {
		return invalid("csv.delimiter must be a single character, got %q", c.CSV.Delimiter)
	}
	if c.Reporter == ReporterDB {
		switch c.Database.Driver {
		case DatabaseSQLite, DatabasePostgres:
		default:
			return invalid("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
		}
		if c.Database.DSN == "" {
			return invalid("database.dsn is required")
		}
	}
	if c.Visual.Threshold < 0 {
		return invalid("visual.threshold must not be negative")
	}
	if c.Visual.Margin < 0 {
		return invalid("visual.margin must not be negative")
	}
	if c.Visual.ColorTolerance < 0 || c.Visual.ColorTolerance > 255 {
		return invalid("visual.colorTolerance must be between 0 and 255")
	}
	if r := c.Visual.Region; r != nil && (r.Width <= 0 || r.Height <= 0) {
		return invalid("visual.region must have a positive size")
	}
	if c.Devices.PollInterval <= 0 {
		return invalid("devices.pollInterval must be positive")
	}
	if c.Devices.MaxWait < 0 {
		return invalid("devices.maxWait must not be negative")
	}
	seen := make(map[string]bool, len(c.Devices.List))
	for _, d := range c.Devices.List {
		if d.ID == "" {
			return invalid("every device needs an id")
		}
		if seen[d.ID] {
			return invalid("duplicate device id %q", d.ID)
		}
		seen[d.ID] = true
	}
	if c.Driver.Name == "" {
		return invalid("driver.name is required")
	}
	return nil
}
