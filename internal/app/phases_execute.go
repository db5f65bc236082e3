package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/benchgrid/internal/conf"
	"github.com/vk/benchgrid/internal/ctxlog"
	"github.com/vk/benchgrid/internal/expander"
	"github.com/vk/benchgrid/internal/generator"
	"github.com/vk/benchgrid/internal/pipeline"
)

// phaseExecute runs the rendered execution script with the instance's
// environment actions applied.
func (a *App) phaseExecute(ctx context.Context, run *pipeline.Run, inst *generator.ExperimentInstance) error {
	logger := ctxlog.FromContext(ctx)
	dir := workdir(run, inst)
	script := filepath.Join(dir, executeScript)
	if !run.DryRun {
		if _, err := os.Stat(script); err != nil {
			return fmt.Errorf("execution script missing, run the setup pipeline first: %w", err)
		}
	}

	bindings := inst.Variables.Bindings()
	extras := instanceExtras(run, inst)
	env, err := renderEnv(run.Expander, inst.Source.EnvActions, mergedBindings(bindings, extras))
	if err != nil {
		return err
	}

	sh := *run.Commands
	sh.Dir = dir
	sh.Env = append(append([]string(nil), sh.Env...), env...)
	out, err := sh.Execute(ctx, "/bin/sh", script)
	if err != nil {
		return fmt.Errorf("executing %s: %w", inst.FullName(), err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("executing %s: exit code %d: %s", inst.FullName(), out.ExitCode, out.Stderr)
	}
	logger.Info("Experiment executed.", "experiment", inst.FullName(), "dry_run", out.DryRun)
	return nil
}

// renderEnv turns declared environment actions into KEY=VALUE overlay pairs.
// Append and prepend join against the current process environment; unset
// degrades to assigning an empty value since the overlay cannot remove
// inherited entries.
func renderEnv(exp *expander.Expander, actions []conf.EnvAction, bindings expander.Bindings) ([]string, error) {
	var out []string
	for _, act := range actions {
		if act.Op == conf.EnvUnset {
			out = append(out, act.Name+"=")
			continue
		}
		val, err := exp.Expand(act.Value, bindings)
		if err != nil {
			return nil, fmt.Errorf("expanding environment value for %s: %w", act.Name, err)
		}
		sep := act.Separator
		if sep == "" {
			sep = ":"
		}
		current := os.Getenv(act.Name)
		switch act.Op {
		case conf.EnvSet:
			out = append(out, act.Name+"="+val)
		case conf.EnvAppend:
			if current == "" {
				out = append(out, act.Name+"="+val)
			} else {
				out = append(out, act.Name+"="+current+sep+val)
			}
		case conf.EnvPrepend:
			if current == "" {
				out = append(out, act.Name+"="+val)
			} else {
				out = append(out, act.Name+"="+val+sep+current)
			}
		}
	}
	return out, nil
}

// analysisResult is the per-experiment summary written by the analyze
// pipeline.
type analysisResult struct {
	Experiment string            `json:"experiment"`
	Namespace  string            `json:"namespace"`
	Variables  map[string]string `json:"variables"`
	Tags       []string          `json:"tags,omitempty"`
	Outputs    []string          `json:"outputs,omitempty"`
	AnalyzedAt time.Time         `json:"analyzed_at"`
}

// phaseAnalyze collects the instance's captured output files into a result
// summary next to them.
func (a *App) phaseAnalyze(ctx context.Context, run *pipeline.Run, inst *generator.ExperimentInstance) error {
	logger := ctxlog.FromContext(ctx)
	dir := workdir(run, inst)

	outputs, err := filepath.Glob(filepath.Join(dir, "*.out"))
	if err != nil {
		return fmt.Errorf("scanning outputs for %s: %w", inst.FullName(), err)
	}
	for i, p := range outputs {
		outputs[i] = filepath.Base(p)
	}

	vars := make(map[string]string, inst.Variables.Len())
	for _, name := range inst.Variables.Names() {
		v, _ := inst.Variables.Get(name)
		vars[name] = v.Text()
	}
	result := analysisResult{
		Experiment: inst.FullName(),
		Namespace:  inst.Namespace,
		Variables:  vars,
		Tags:       inst.Tags,
		Outputs:    outputs,
		AnalyzedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding analysis for %s: %w", inst.FullName(), err)
	}
	if run.DryRun {
		logger.Info("DRY-RUN: would write analysis results.", "experiment", inst.FullName())
		return nil
	}
	if err := os.WriteFile(filepath.Join(dir, "results.benchgrid.json"), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing analysis for %s: %w", inst.FullName(), err)
	}
	logger.Debug("Analysis written.", "experiment", inst.FullName(), "outputs", len(outputs))
	return nil
}

// phaseArchive snapshots the instance working directory into the workspace
// archive.
func (a *App) phaseArchive(ctx context.Context, run *pipeline.Run, inst *generator.ExperimentInstance) error {
	logger := ctxlog.FromContext(ctx)
	dir := workdir(run, inst)
	archiveDir := filepath.Join(run.Root, "archive")
	dest := filepath.Join(archiveDir, inst.FullName()+".tar.gz")

	if run.DryRun {
		logger.Info("DRY-RUN: would archive experiment.", "experiment", inst.FullName(), "dest", dest)
		return nil
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	if err := tarDirectory(dir, dest); err != nil {
		return fmt.Errorf("archiving %s: %w", inst.FullName(), err)
	}
	logger.Info("Experiment archived.", "experiment", inst.FullName(), "dest", dest)
	return nil
}
