// Package hclconf loads workspace configuration from .hcl files and folds
// the nested blocks (workspace > application > workload > experiment) into
// merged per-experiment contexts ready for generation.
package hclconf

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/benchgrid/internal/conf"
	"github.com/vk/benchgrid/internal/ctxlog"
	"github.com/vk/benchgrid/internal/fsutil"
	"github.com/vk/benchgrid/internal/value"
)

// Experiment is one declared experiment block with its own context layer.
type Experiment struct {
	Name    string
	Context *conf.Context
}

// Workload groups the experiments of one application workload.
type Workload struct {
	Name        string
	Context     *conf.Context
	Experiments []*Experiment
}

// Application groups the workloads declared for one application name. The
// name must match a registered application definition at resolve time.
type Application struct {
	Name      string
	Context   *conf.Context
	Workloads []*Workload
}

// Config is the aggregate of every configuration file in a workspace.
type Config struct {
	Workspace    *conf.Context
	Applications []*Application
}

// Load finds and parses every .hcl file under root. Blocks from different
// files are appended in sorted file order; at most one workspace block may
// appear across all files.
func Load(ctx context.Context, root string) (*Config, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading configuration from path.", "path", root)

	files, err := fsutil.FindFilesByExtension(root, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("failed to find configuration files in %s: %w", root, err)
	}

	cfg := &Config{Workspace: conf.NewContext("workspace")}
	if len(files) == 0 {
		logger.Warn("No .hcl configuration files found in path.", "path", root)
		return cfg, nil
	}

	parser := hclparse.NewParser()
	sawWorkspace := false
	for _, file := range files {
		if err := loadFile(cfg, parser, file, &sawWorkspace); err != nil {
			return nil, err
		}
	}
	logger.Debug("Configuration loaded.", "files", len(files), "applications", len(cfg.Applications))
	return cfg, nil
}

func loadFile(cfg *Config, parser *hclparse.Parser, file string, sawWorkspace *bool) error {
	hclFileHandle, diags := parser.ParseHCLFile(file)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse configuration file %s: %w", file, diags)
	}
	var parsed hclFile
	if diags := gohcl.DecodeBody(hclFileHandle.Body, nil, &parsed); diags.HasErrors() {
		return fmt.Errorf("failed to decode configuration file %s: %w", file, diags)
	}

	if parsed.Workspace != nil {
		if *sawWorkspace {
			return fmt.Errorf("duplicate workspace block in %s", file)
		}
		*sawWorkspace = true
		ws, err := newContext("workspace", parsed.Workspace)
		if err != nil {
			return fmt.Errorf("workspace block in %s: %w", file, err)
		}
		if len(parsed.Workspace.Workloads) > 0 || len(parsed.Workspace.Experiments) > 0 {
			return fmt.Errorf("workspace block in %s may not declare workloads or experiments", file)
		}
		cfg.Workspace = ws
	}

	for _, appBlock := range parsed.Applications {
		app, err := newApplication(appBlock)
		if err != nil {
			return fmt.Errorf("application %q in %s: %w", appBlock.Name, file, err)
		}
		cfg.Applications = append(cfg.Applications, app)
	}
	return nil
}

func newApplication(block *hclLabelled) (*Application, error) {
	body, err := decodeBody(block.Body)
	if err != nil {
		return nil, err
	}
	appCtx, err := newContext(block.Name, body)
	if err != nil {
		return nil, err
	}
	app := &Application{Name: block.Name, Context: appCtx}

	// Experiments directly under an application get an implicit workload
	// named after the application.
	if len(body.Experiments) > 0 {
		wl := &Workload{Name: block.Name, Context: conf.NewContext(block.Name + "." + block.Name)}
		if err := addExperiments(wl, block.Name, body.Experiments); err != nil {
			return nil, err
		}
		app.Workloads = append(app.Workloads, wl)
	}

	for _, wlBlock := range body.Workloads {
		wlBody, err := decodeBody(wlBlock.Body)
		if err != nil {
			return nil, fmt.Errorf("workload %q: %w", wlBlock.Name, err)
		}
		if len(wlBody.Workloads) > 0 {
			return nil, fmt.Errorf("workload %q may not nest workloads", wlBlock.Name)
		}
		ns := block.Name + "." + wlBlock.Name
		wlCtx, err := newContext(ns, wlBody)
		if err != nil {
			return nil, fmt.Errorf("workload %q: %w", wlBlock.Name, err)
		}
		wl := &Workload{Name: wlBlock.Name, Context: wlCtx}
		if err := addExperiments(wl, block.Name, wlBody.Experiments); err != nil {
			return nil, err
		}
		app.Workloads = append(app.Workloads, wl)
	}
	return app, nil
}

func addExperiments(wl *Workload, appName string, blocks []*hclLabelled) error {
	for _, expBlock := range blocks {
		body, err := decodeBody(expBlock.Body)
		if err != nil {
			return fmt.Errorf("experiment %q: %w", expBlock.Name, err)
		}
		if len(body.Workloads) > 0 || len(body.Experiments) > 0 {
			return fmt.Errorf("experiment %q may not nest workloads or experiments", expBlock.Name)
		}
		ns := appName + "." + wl.Name
		expCtx, err := newContext(ns, body)
		if err != nil {
			return fmt.Errorf("experiment %q: %w", expBlock.Name, err)
		}
		// The block label is the experiment name template.
		expCtx.NameTemplate = expBlock.Name
		wl.Experiments = append(wl.Experiments, &Experiment{Name: expBlock.Name, Context: expCtx})
	}
	return nil
}

// Resolve flattens the configuration into one merged context per declared
// experiment. Each merged context stacks experiment over workload over
// application over workspace and carries the reserved application_name,
// workload_name, and experiment_name variables.
func Resolve(ctx context.Context, cfg *Config) ([]*conf.Context, error) {
	logger := ctxlog.FromContext(ctx)
	var out []*conf.Context
	seen := make(map[string]bool)
	for _, app := range cfg.Applications {
		for _, wl := range app.Workloads {
			for _, exp := range wl.Experiments {
				key := app.Name + "." + wl.Name + "." + exp.Name
				if seen[key] {
					return nil, fmt.Errorf("experiment %q declared twice", key)
				}
				seen[key] = true

				merged := conf.NewContext(app.Name + "." + wl.Name)
				merged.Merge(exp.Context)
				merged.Merge(wl.Context)
				merged.Merge(app.Context)
				merged.Merge(cfg.Workspace)
				merged.NameTemplate = exp.Name

				merged.Variables.Set("application_name", value.Str(app.Name))
				merged.Variables.Set("workload_name", value.Str(wl.Name))
				out = append(out, merged)
			}
		}
	}
	logger.Debug("Configuration resolved.", "experiment_blocks", len(out))
	return out, nil
}
