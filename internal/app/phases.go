package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/benchgrid/internal/conf"
	"github.com/vk/benchgrid/internal/ctxlog"
	"github.com/vk/benchgrid/internal/executable"
	"github.com/vk/benchgrid/internal/expander"
	"github.com/vk/benchgrid/internal/generator"
	"github.com/vk/benchgrid/internal/pipeline"
	"github.com/vk/benchgrid/internal/registry"
	"github.com/vk/benchgrid/internal/value"
	"github.com/vk/benchgrid/internal/workspace"
)

const executeScript = "execute_experiment.sh"

// corePhases declares the phases every workspace gets, regardless of which
// definitions are compiled in.
func (a *App) corePhases() []*pipeline.Phase {
	return []*pipeline.Phase{
		{Name: "get_inputs", Pipeline: "setup", Body: a.phaseGetInputs},
		{Name: "software_create_env", Pipeline: "setup", RunAfter: []string{"get_inputs"}, Body: a.phaseSoftwareCreateEnv},
		{Name: "make_experiments", Pipeline: "setup", RunAfter: []string{"software_create_env"}, Body: a.phaseMakeExperiments},
		{Name: "execute", Pipeline: "execute", Body: a.phaseExecute},
		{Name: "analyze", Pipeline: "analyze", Body: a.phaseAnalyze},
		{Name: "archive", Pipeline: "archive", Body: a.phaseArchive},
	}
}

// workdir returns the absolute working directory of one instance. The
// namespace becomes a directory hierarchy under experiments/.
func workdir(run *pipeline.Run, inst *generator.ExperimentInstance) string {
	nsPath := strings.ReplaceAll(inst.Namespace, ".", string(os.PathSeparator))
	return filepath.Join(run.Root, "experiments", nsPath, inst.WorkdirRel)
}

// instanceExtras are the reserved bindings every expansion of an instance
// can rely on.
func instanceExtras(run *pipeline.Run, inst *generator.ExperimentInstance) expander.Bindings {
	return expander.Bindings{
		"experiment_name":      value.Str(inst.Name),
		"experiment_namespace": value.Str(inst.Namespace),
		"experiment_run_dir":   value.Str(workdir(run, inst)),
		"experiment_index":     value.Int(int64(inst.Index)),
	}
}

// mergedBindings overlays extras on top of the instance bindings.
func mergedBindings(base, extras expander.Bindings) expander.Bindings {
	out := make(expander.Bindings, len(base)+len(extras))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extras {
		out[k] = v
	}
	return out
}

// inputElems normalizes the input_files declaration: a scalar counts as a
// one-element list.
func inputElems(v value.Value) []value.Value {
	if v.IsVector() {
		return v.Elems()
	}
	return []value.Value{v}
}

// phaseGetInputs creates the instance working directory and fetches any
// declared input files into it.
func (a *App) phaseGetInputs(ctx context.Context, run *pipeline.Run, inst *generator.ExperimentInstance) error {
	logger := ctxlog.FromContext(ctx)
	dir := workdir(run, inst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating experiment directory: %w", err)
	}

	inputs, ok := inst.Variables.Get("input_files")
	if !ok {
		logger.Debug("No input files declared.", "experiment", inst.FullName())
		return nil
	}
	bindings := inst.Variables.Bindings()
	extras := instanceExtras(run, inst)
	for _, elem := range inputElems(inputs) {
		url, err := run.Expander.Expand(elem.Text(), bindings, expander.WithExtraVars(extras))
		if err != nil {
			return fmt.Errorf("expanding input file reference: %w", err)
		}
		fetch := *run.Commands
		fetch.Dir = dir
		out, err := fetch.Execute(ctx, "curl", "-sfLO", url)
		if err != nil {
			return fmt.Errorf("fetching input %s: %w", url, err)
		}
		if out.ExitCode != 0 {
			return fmt.Errorf("fetching input %s: exit code %d: %s", url, out.ExitCode, out.Stderr)
		}
		logger.Debug("Input fetched.", "url", url)
	}
	return nil
}

// phaseSoftwareCreateEnv provisions the software environment the instance
// asks for, at most once per environment per run.
func (a *App) phaseSoftwareCreateEnv(ctx context.Context, run *pipeline.Run, inst *generator.ExperimentInstance) error {
	logger := ctxlog.FromContext(ctx)
	bindings := inst.Variables.Bindings()
	extras := instanceExtras(run, inst)

	envName, err := run.Expander.ExpandVarName("env_name", bindings, expander.WithExtraVars(extras))
	if err != nil {
		envName = inst.Namespace
	}
	if envName == "" || envName == "{env_name}" {
		envName = inst.Namespace
	}

	if !run.Software.BeginProvision(envName) {
		logger.Debug("Software environment already provisioned.", "env", envName)
		return nil
	}
	logger.Info("Provisioning software environment.", "env", envName)

	pmVar, ok := inst.Variables.Get("package_manager")
	if !ok {
		logger.Debug("No package manager requested, environment is a no-op.", "env", envName)
		return nil
	}
	def, found := a.registry.Lookup(pmVar.Text())
	if !found || def.Kind() != registry.KindPackageManager {
		return fmt.Errorf("package manager %q is not registered", pmVar.Text())
	}
	lines, err := executable.RenderScript(ctx, run.Expander, def.Executables(), mergedBindings(bindings, extras))
	if err != nil {
		return fmt.Errorf("rendering package manager commands: %w", err)
	}
	sh := *run.Commands
	sh.Dir = workdir(run, inst)
	for _, line := range lines {
		out, err := sh.Execute(ctx, "/bin/sh", "-c", line)
		if err != nil {
			return fmt.Errorf("provisioning %s: %w", envName, err)
		}
		if out.ExitCode != 0 {
			return fmt.Errorf("provisioning %s: exit code %d: %s", envName, out.ExitCode, out.Stderr)
		}
	}
	return nil
}

// phaseMakeExperiments renders the execution script for one instance and
// records its content hashes in the inventory.
func (a *App) phaseMakeExperiments(ctx context.Context, run *pipeline.Run, inst *generator.ExperimentInstance) error {
	logger := ctxlog.FromContext(ctx)
	dir := workdir(run, inst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating experiment directory: %w", err)
	}

	comp, err := a.buildComposition(ctx, inst)
	if err != nil {
		return err
	}
	execs, err := comp.Order(ctx)
	if err != nil {
		return fmt.Errorf("ordering executables for %s: %w", inst.FullName(), err)
	}

	bindings := inst.Variables.Bindings()
	extras := instanceExtras(run, inst)
	lines, err := executable.RenderScript(ctx, run.Expander, execs, mergedBindings(bindings, extras))
	if err != nil {
		return err
	}

	rec := workspace.Record{
		Experiment:   inst.FullName(),
		ContextHash:  workspace.HashContext(inst.Variables),
		TemplateHash: workspace.HashLines(lines),
		SoftwareHash: workspace.HashLines([]string{inst.Namespace}),
	}
	if upToDate, err := run.Inventory.UpToDate(ctx, rec); err == nil && upToDate {
		logger.Debug("Experiment unchanged since last setup, skipping regeneration.", "experiment", inst.FullName())
		return nil
	}

	script := "#!/bin/sh\n" + strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, executeScript), []byte(script), 0o755); err != nil {
		return fmt.Errorf("writing execution script: %w", err)
	}
	if err := run.Inventory.Put(ctx, rec); err != nil {
		return err
	}
	logger.Debug("Execution script rendered.", "experiment", inst.FullName(), "commands", len(lines))
	return nil
}

// buildComposition assembles the full command list for one instance: the
// application's declared executables, custom executables from
// configuration, builtin fragments, injections, and modifier wrapping.
func (a *App) buildComposition(ctx context.Context, inst *generator.ExperimentInstance) (*executable.Composition, error) {
	comp := executable.NewComposition()

	var appExecs []executable.Executable
	var builtins []executable.Builtin
	if appVar, ok := inst.Variables.Get("application_name"); ok {
		if def, found := a.registry.Lookup(appVar.Text()); found {
			appExecs = def.Executables()
			builtins = def.Builtins()
		}
	}

	internals := inst.Source.Internals
	execs := orderedExecutables(appExecs, internals)
	if err := comp.AddExecutables(execs); err != nil {
		return nil, fmt.Errorf("composing executables for %s: %w", inst.FullName(), err)
	}
	for _, b := range builtins {
		if err := comp.AddBuiltin(b); err != nil {
			return nil, fmt.Errorf("composing builtins for %s: %w", inst.FullName(), err)
		}
	}
	for _, inj := range internals.Injections {
		comp.Inject(inj)
	}

	for _, modName := range inst.Source.Modifiers {
		def, found := a.registry.Lookup(modName)
		if !found || def.Kind() != registry.KindModifier {
			return nil, fmt.Errorf("modifier %q is not registered", modName)
		}
		for _, mod := range def.Modifications() {
			if err := comp.Apply(ctx, mod); err != nil {
				return nil, err
			}
		}
	}
	return comp, nil
}

// orderedExecutables resolves the final base command sequence: an explicit
// executable_order wins wholesale; otherwise application executables run
// first, followed by custom ones in name order. A custom executable sharing
// an application executable's name replaces it.
func orderedExecutables(appExecs []executable.Executable, internals conf.Internals) []executable.Executable {
	byName := make(map[string]executable.Executable, len(appExecs))
	for _, e := range appExecs {
		byName[e.Name] = e
	}
	if len(internals.ExecutableOrder) > 0 {
		var out []executable.Executable
		for _, name := range internals.ExecutableOrder {
			if e, ok := internals.CustomExecutables[name]; ok {
				out = append(out, e)
				continue
			}
			if e, ok := byName[name]; ok {
				out = append(out, e)
			}
		}
		return out
	}
	out := make([]executable.Executable, 0, len(appExecs)+len(internals.CustomExecutables))
	for _, e := range appExecs {
		if custom, ok := internals.CustomExecutables[e.Name]; ok {
			out = append(out, custom)
			continue
		}
		out = append(out, e)
	}
	names := make([]string, 0, len(internals.CustomExecutables))
	for name := range internals.CustomExecutables {
		if _, shadows := byName[name]; !shadows {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, internals.CustomExecutables[name])
	}
	return out
}
