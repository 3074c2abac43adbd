package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/shehryarbajwa/gridrunner/internal/artifacts"
	"github.com/shehryarbajwa/gridrunner/internal/config"
	"github.com/shehryarbajwa/gridrunner/internal/exitcodes"
	"github.com/shehryarbajwa/gridrunner/internal/flags"
	"github.com/shehryarbajwa/gridrunner/internal/summary"
)

var extractFlag = &cli.StringFlag{
	Name:    "extract",
	EnvVars: []string{flags.EnvVarPrefix + "_REPORT_EXTRACT"},
	Usage:   "Also unpack the archive's summary and worker payloads into this directory",
}

var reportCommand = &cli.Command{
	Name:      "report",
	Usage:     "Print the summary of an archived run",
	ArgsUsage: "<run-<id>.tar.gz>",
	Flags: []cli.Flag{
		extractFlag,
		&cli.BoolFlag{Name: "color", Usage: "Colorize the summary table"},
	},
	Action: report,
}

// report re-renders a run from its archive and exits with that run's code
func report(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("report takes exactly one archive path", exitcodes.RuntimeErr)
	}
	archive := c.Args().First()

	level, err := config.ParseLogLevel(c.String(flags.LogLevel.Name))
	if err != nil {
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}
	logger := config.NewLogger(os.Stderr, level, flags.LogFormat(c.String(flags.LogFormatFlag.Name)))
	store, err := artifacts.NewStore(filepath.Dir(archive), logger)
	if err != nil {
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}

	s, err := store.LoadSummary(archive)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load run archive: %v", err), exitcodes.RuntimeErr)
	}

	if dir := c.String(extractFlag.Name); dir != "" {
		if err := store.Extract(archive, dir); err != nil {
			return cli.Exit(err.Error(), exitcodes.RuntimeErr)
		}
		logger.Info("Extracted run archive", "run", s.RunID, "dir", dir)
	}

	if err := summary.NewReporter(c.App.Writer, c.Bool("color")).Report(s); err != nil {
		return cli.Exit(fmt.Sprintf("failed to write report: %v", err), exitcodes.RuntimeErr)
	}

	if s.OverallExitCode != exitcodes.Success {
		return cli.Exit("", exitcodes.TestFailure)
	}
	return nil
}
