package app

import (
	"context"
	"fmt"

	"github.com/vk/benchgrid/internal/cmdrunner"
	"github.com/vk/benchgrid/internal/ctxlog"
	"github.com/vk/benchgrid/internal/expander"
	"github.com/vk/benchgrid/internal/generator"
	"github.com/vk/benchgrid/internal/pipeline"
	"github.com/vk/benchgrid/internal/workspace"
)

// Run executes the selected pipeline over every experiment the workspace
// declares.
func (a *App) Run(ctx context.Context, appConfig *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "pipeline", appConfig.Pipeline)

	lock, err := workspace.NewLock(appConfig.WorkspacePath, appConfig.DisableLock)
	if err != nil {
		return fmt.Errorf("workspace lock: %w", err)
	}
	if err := lock.Acquire(ctx); err != nil {
		return fmt.Errorf("acquiring workspace lock: %w", err)
	}
	defer lock.Release()

	inventory, err := workspace.OpenInventory(appConfig.WorkspacePath)
	if err != nil {
		return err
	}
	defer inventory.Close()

	instances, genErrs := a.generateInstances(ctx)
	if len(instances) == 0 {
		if len(genErrs) > 0 {
			return fmt.Errorf("%d experiment blocks failed to generate", len(genErrs))
		}
		a.logger.Warn("No experiments generated, nothing to run.")
		return nil
	}
	a.logger.Info("Experiments generated.", "count", len(instances), "failed_blocks", len(genErrs))

	commands := cmdrunner.New()
	commands.DryRun = appConfig.DryRun

	run := pipeline.NewRun(
		appConfig.Pipeline,
		appConfig.WorkspacePath,
		expander.New(),
		commands,
		inventory,
		workspace.NewSoftwareCache(),
	)
	run.DryRun = appConfig.DryRun

	phases := append(a.corePhases(), a.registry.Phases(appConfig.Pipeline)...)
	runner := pipeline.NewRunner(appConfig.WorkerCount)
	filter := pipeline.Filter{
		Globs:               appConfig.Phases,
		IncludeDependencies: appConfig.IncludePhaseDependencies,
	}

	report, err := runner.Run(ctx, run, instances, phases, filter)
	if err != nil {
		return fmt.Errorf("pipeline %q failed: %w", appConfig.Pipeline, err)
	}

	a.printSummary(report, instances)
	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d experiments failed", len(failed), len(instances))
	}
	if len(genErrs) > 0 {
		return fmt.Errorf("%d experiment blocks failed to generate", len(genErrs))
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

// generateInstances expands every resolved experiment context, layering in
// the registered application definition's defaults, then resolves chained
// experiments across the whole set. A generation failure is fatal for its
// own block only; sibling blocks still generate and run, and the collected
// errors fail the run at the end.
func (a *App) generateInstances(ctx context.Context) ([]*generator.ExperimentInstance, []error) {
	gen := generator.New(expander.New())
	var all []*generator.ExperimentInstance
	var blockErrs []error
	for _, c := range a.contexts {
		if appVar, ok := c.Variables.Get("application_name"); ok {
			if def, found := a.registry.Lookup(appVar.Text()); found {
				c.Merge(def.Context())
			} else {
				a.logger.Warn("No registered application definition.", "application", appVar.Text())
			}
		}
		instances, err := gen.Generate(ctx, c)
		if err != nil {
			a.logger.Error("Experiment generation failed for block.", "namespace", c.Namespace, "error", err)
			blockErrs = append(blockErrs, fmt.Errorf("generating experiments for %s: %w", c.Namespace, err))
			continue
		}
		all = append(all, instances...)
	}
	resolved, err := gen.ResolveChains(ctx, all)
	if err != nil {
		a.logger.Error("Chain resolution failed.", "error", err)
		return all, append(blockErrs, err)
	}
	return resolved, blockErrs
}

func (a *App) printSummary(report *pipeline.Report, instances []*generator.ExperimentInstance) {
	completed, failed := 0, 0
	for _, inst := range instances {
		switch report.Status(inst.FullName()) {
		case pipeline.StatusCompleted:
			completed++
		case pipeline.StatusFailed:
			failed++
		}
	}
	fmt.Fprintf(a.outW, "experiments: %d total, %d complete, %d failed\n", len(instances), completed, failed)
	for _, inst := range instances {
		name := inst.FullName()
		if report.Status(name) != pipeline.StatusFailed {
			continue
		}
		fmt.Fprintf(a.outW, "  FAILED %s: %v\n", name, report.Err(name))
	}
}
