// Package cli provides the command-line interface for uirunner.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	// Drivers
	_ "github.com/devicelab-dev/uirunner/pkg/driver/mock"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to uirunner.yaml (default: ./uirunner.yaml if present)",
		EnvVars: []string{"UIRUNNER_CONFIG"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"UIRUNNER_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the command tree.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "uirunner",
		Usage:   "Parallel UI test runner with visual checks",
		Version: Version,
		Description: `uirunner executes declarative UI test suites on a pool of workers,
compares screens against stored baselines and writes Allure, CSV or
database reports.

Examples:
  uirunner run suites/
  uirunner run checkout.yaml --workers 8 --reporter csv
  uirunner --config ci.yaml run suites/ --include-tags smoke
  uirunner validate suites/`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			validateCommand,
			formatsCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
