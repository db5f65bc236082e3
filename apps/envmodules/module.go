// Package envmodules provisions software through the environment-modules
// system. Experiments opt in by setting package_manager to
// "environment-modules" and software_spec to the modules to load.
package envmodules

import (
	"context"
	"fmt"

	"github.com/vk/benchgrid/internal/ctxlog"
	"github.com/vk/benchgrid/internal/executable"
	"github.com/vk/benchgrid/internal/generator"
	"github.com/vk/benchgrid/internal/pipeline"
	"github.com/vk/benchgrid/internal/registry"
)

// Module registers the environment-modules package manager.
type Module struct{}

// Register implements registry.Module.
func (m *Module) Register(r *registry.Registry) {
	r.Register(registry.NewPackageManager("environment-modules").
		WithExecutable(executable.Executable{
			Name:     "module_purge",
			Template: []string{"module purge"},
		}).
		WithExecutable(executable.Executable{
			Name:     "module_load",
			Template: []string{"module load {software_spec}"},
		}).
		WithPhase(&pipeline.Phase{
			Name:     "software_list_modules",
			Pipeline: "setup",
			RunAfter: []string{"software_create_env"},
			Body:     listModules,
		}).
		Build())
}

// listModules records which modules ended up loaded, as a provisioning
// audit trail next to the experiment.
func listModules(ctx context.Context, run *pipeline.Run, inst *generator.ExperimentInstance) error {
	logger := ctxlog.FromContext(ctx)
	if pm, ok := inst.Variables.Get("package_manager"); !ok || pm.Text() != "environment-modules" {
		return nil
	}
	out, err := run.Commands.Execute(ctx, "/bin/sh", "-c", "module list 2>&1 || true")
	if err != nil {
		return fmt.Errorf("listing modules for %s: %w", inst.FullName(), err)
	}
	logger.Debug("Module list captured.", "experiment", inst.FullName(), "dry_run", out.DryRun)
	return nil
}
