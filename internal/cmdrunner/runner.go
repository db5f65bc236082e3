// Package cmdrunner executes external commands on behalf of phase bodies.
// The core ordering algorithms never shell out themselves; everything that
// does goes through a Runner so dry-run mode can intercept it.
package cmdrunner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/vk/benchgrid/internal/ctxlog"
)

// Output captures the result of one external command.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// DryRun marks an echoed command that was never executed.
	DryRun bool
}

// Runner runs external commands with a fixed working directory and
// environment overlay.
type Runner struct {
	// DryRun logs and echoes commands instead of executing them.
	DryRun bool
	// Dir is the working directory for every command; empty means inherit.
	Dir string
	// Env holds KEY=VALUE pairs appended to the inherited environment.
	Env []string
}

// New returns a Runner executing for real.
func New() *Runner {
	return &Runner{}
}

// Execute runs name with args. In dry-run mode it returns the would-be
// command line as stdout without spawning anything.
func (r *Runner) Execute(ctx context.Context, name string, args ...string) (*Output, error) {
	logger := ctxlog.FromContext(ctx)
	rendered := name
	if len(args) > 0 {
		rendered += " " + strings.Join(args, " ")
	}

	if r.DryRun {
		logger.Info("DRY-RUN: would execute command.", "command", rendered)
		return &Output{Stdout: rendered, DryRun: true}, nil
	}

	logger.Debug("Executing external command.", "command", rendered, "dir", r.Dir)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	out := &Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}
	if err != nil {
		return out, fmt.Errorf("command %q failed: %w (stderr: %s)", rendered, err, strings.TrimSpace(out.Stderr))
	}
	return out, nil
}
