package cli

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/driver"
	"github.com/devicelab-dev/uirunner/pkg/report"
	"github.com/devicelab-dev/uirunner/pkg/suite"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Check the config and suite files without running anything",
	ArgsUsage: "<suite-file-or-folder>...",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include tests with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude tests with these tags",
		},
	},
	Action: validateSuites,
}

var formatsCommand = &cli.Command{
	Name:   "formats",
	Usage:  "List the report formats and drivers available",
	Action: listFormats,
}

func validateSuites(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	cfg.Finalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := driver.Lookup(cfg.Driver.Name); err != nil {
		return err
	}

	paths := c.Args().Slice()
	if len(paths) == 0 {
		paths = cfg.Suites
	}
	if len(paths) == 0 {
		return core.ErrInvalidConfig.WithMessage("no suites given")
	}

	suites, err := suite.ParsePaths(paths)
	if err != nil {
		return err
	}
	units, err := suite.Units(suites, c.StringSlice("include-tags"), c.StringSlice("exclude-tags"))
	if err != nil {
		return err
	}

	for _, s := range suites {
		fmt.Printf("  %s✓%s %s (%d tests)\n", color(colorGreen), color(colorReset), s.SourcePath, len(s.Tests))
	}
	fmt.Printf("\n  %d suite(s) valid, %d test(s) selected\n", len(suites), len(units))
	return nil
}

func listFormats(c *cli.Context) error {
	fmt.Printf("Report formats: %s\n", strings.Join(report.Formats(), ", "))
	fmt.Printf("Drivers:        %s\n", strings.Join(driver.Names(), ", "))
	return nil
}
