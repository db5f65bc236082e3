// Package cli parses command-line arguments into an application
// configuration.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/benchgrid/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("benchgrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
benchgrid - a declarative experiment orchestrator for benchmarks.

Usage:
  benchgrid [options] [WORKSPACE_PATH]

Arguments:
  WORKSPACE_PATH
    Path to a workspace directory containing .hcl configuration files.

Options:
`)
		flagSet.PrintDefaults()
	}

	workspaceFlag := flagSet.String("workspace", "", "Path to the workspace directory.")
	wFlag := flagSet.String("w", "", "Path to the workspace directory (shorthand).")
	pipelineFlag := flagSet.String("pipeline", "execute", "Pipeline to run. Options: 'setup', 'execute', 'analyze', 'archive'.")
	phasesFlag := flagSet.String("phases", "", "Comma-separated phase name globs to run; empty runs every phase.")
	includeDepsFlag := flagSet.Bool("include-phase-dependencies", false, "Also run the phases the selected phases depend on.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 10, "Number of concurrent workers for the execute pipeline.")
	dryRunFlag := flagSet.Bool("dry-run", false, "Echo commands instead of executing them.")
	disableLockFlag := flagSet.Bool("disable-lock", false, "Skip the workspace lock. Refused on shared-writable directories.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *workspaceFlag != "" {
		path = *workspaceFlag
	} else if *wFlag != "" {
		path = *wFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Workspace path determined.", "path", path)

	if path == "" {
		slog.Debug("No workspace path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	var phases []string
	if *phasesFlag != "" {
		for _, p := range strings.Split(*phasesFlag, ",") {
			if p = strings.TrimSpace(p); p != "" {
				phases = append(phases, p)
			}
		}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		WorkspacePath:            path,
		Pipeline:                 strings.ToLower(*pipelineFlag),
		Phases:                   phases,
		IncludePhaseDependencies: *includeDepsFlag,
		LogFormat:                logFormat,
		LogLevel:                 logLevel,
		WorkerCount:              *workersFlag,
		DryRun:                   *dryRunFlag,
		DisableLock:              *disableLockFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
