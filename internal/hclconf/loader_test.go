package hclconf

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/benchgrid/internal/conf"
	"github.com/vk/benchgrid/internal/ctxlog"
	"github.com/vk/benchgrid/internal/executable"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return ctxlog.WithLogger(context.Background(), slog.Default())
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	return dir
}

func varText(t *testing.T, c *conf.Context, name string) string {
	t.Helper()
	v, ok := c.Variables.Get(name)
	require.True(t, ok, "variable %q not bound", name)
	return v.Text()
}

func TestLoad_EmptyWorkspace(t *testing.T) {
	cfg, err := Load(testCtx(t), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, cfg.Applications)
	assert.Equal(t, "workspace", cfg.Workspace.Namespace)
}

func TestLoad_WorkspaceAndApplication(t *testing.T) {
	dir := writeConfig(t, "workspace.hcl", `
workspace {
  variables {
    mpi_command = "mpirun -n {n_ranks}"
    batch_size  = 8
  }
}

application "gromacs" {
  variables {
    n_nodes = [1, 2]
  }

  workload "water_bare" {
    variables {
      input_file = "water.tpr"
    }

    experiment "scaling_{n_nodes}" {
      variables {
        n_threads = 4
      }
    }
  }
}
`)

	cfg, err := Load(testCtx(t), dir)
	require.NoError(t, err)

	assert.Equal(t, "mpirun -n {n_ranks}", varText(t, cfg.Workspace, "mpi_command"))
	assert.Equal(t, "8", varText(t, cfg.Workspace, "batch_size"))

	require.Len(t, cfg.Applications, 1)
	app := cfg.Applications[0]
	assert.Equal(t, "gromacs", app.Name)
	assert.Equal(t, "[1, 2]", varText(t, app.Context, "n_nodes"))

	require.Len(t, app.Workloads, 1)
	wl := app.Workloads[0]
	assert.Equal(t, "water_bare", wl.Name)
	assert.Equal(t, "gromacs.water_bare", wl.Context.Namespace)

	require.Len(t, wl.Experiments, 1)
	exp := wl.Experiments[0]
	assert.Equal(t, "scaling_{n_nodes}", exp.Name)
	assert.Equal(t, "scaling_{n_nodes}", exp.Context.NameTemplate)
	assert.Equal(t, "4", varText(t, exp.Context, "n_threads"))
}

func TestLoad_VariablesKeepDeclarationOrder(t *testing.T) {
	dir := writeConfig(t, "order.hcl", `
application "app" {
  workload "wl" {
    experiment "e" {
      variables {
        zeta  = 1
        alpha = 2
        mid   = 3
      }
    }
  }
}
`)

	cfg, err := Load(testCtx(t), dir)
	require.NoError(t, err)
	exp := cfg.Applications[0].Workloads[0].Experiments[0]
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, exp.Context.Variables.Names())
}

func TestLoad_ExperimentDirectlyUnderApplication(t *testing.T) {
	dir := writeConfig(t, "direct.hcl", `
application "hostname" {
  experiment "single_node" {
    variables {
      n_nodes = 1
    }
  }
}
`)

	cfg, err := Load(testCtx(t), dir)
	require.NoError(t, err)
	app := cfg.Applications[0]
	require.Len(t, app.Workloads, 1, "an implicit workload is created")
	assert.Equal(t, "hostname", app.Workloads[0].Name)
	require.Len(t, app.Workloads[0].Experiments, 1)
	assert.Equal(t, "single_node", app.Workloads[0].Experiments[0].Name)
}

func TestLoad_GenerationBlocks(t *testing.T) {
	dir := writeConfig(t, "gen.hcl", `
application "app" {
  workload "wl" {
    experiment "run_{n_nodes}" {
      n_repeats = 3
      tags      = ["scaling"]
      modifiers = ["timers"]
      zips      = ["sizes"]

      variables {
        n_nodes = [1, 2, 4]
        mem     = ["4G", "8G", "16G"]
      }

      matrix {
        variables = ["n_nodes"]
      }

      zip "sizes" {
        variables = ["mem"]
      }

      exclude {
        where = ["{n_nodes} > 2"]
      }

      chain {
        pattern           = "app.wl.warmup"
        order             = "before"
        inherit_variables = ["n_nodes"]
      }
    }
  }
}
`)

	cfg, err := Load(testCtx(t), dir)
	require.NoError(t, err)
	c := cfg.Applications[0].Workloads[0].Experiments[0].Context

	assert.Equal(t, 3, c.NRepeats)
	assert.Equal(t, []string{"scaling"}, c.Tags)
	assert.Equal(t, []string{"timers"}, c.Modifiers)
	assert.Equal(t, []string{"sizes"}, c.ZipRefs)

	require.Len(t, c.Matrices, 1)
	assert.Equal(t, []string{"n_nodes"}, c.Matrices[0].Variables)

	require.Contains(t, c.Zips, "sizes")
	assert.Equal(t, []string{"mem"}, c.Zips["sizes"].Variables)

	require.Len(t, c.Excludes, 1)
	assert.Equal(t, []string{"{n_nodes} > 2"}, c.Excludes[0].Where)

	require.Len(t, c.Chains, 1)
	assert.Equal(t, "app.wl.warmup", c.Chains[0].Pattern)
	assert.Equal(t, conf.ChainBeforeRoot, c.Chains[0].Order)
	assert.Equal(t, []string{"n_nodes"}, c.Chains[0].InheritVariables)
}

func TestLoad_EnvBlocks(t *testing.T) {
	dir := writeConfig(t, "env.hcl", `
application "app" {
  workload "wl" {
    experiment "e" {
      env {
        set = {
          OMP_NUM_THREADS = "{n_threads}"
        }
        append = {
          PATH = "/opt/app/bin"
        }
        unset     = ["DEBUG"]
        separator = ":"
      }
    }
  }
}
`)

	cfg, err := Load(testCtx(t), dir)
	require.NoError(t, err)
	c := cfg.Applications[0].Workloads[0].Experiments[0].Context

	require.Len(t, c.EnvActions, 3)
	assert.Equal(t, conf.EnvAction{Op: conf.EnvSet, Name: "OMP_NUM_THREADS", Value: "{n_threads}", Separator: ":"}, c.EnvActions[0])
	assert.Equal(t, conf.EnvAction{Op: conf.EnvAppend, Name: "PATH", Value: "/opt/app/bin", Separator: ":"}, c.EnvActions[1])
	assert.Equal(t, conf.EnvUnset, c.EnvActions[2].Op)
	assert.Equal(t, "DEBUG", c.EnvActions[2].Name)
}

func TestLoad_ExecutableAndInjectBlocks(t *testing.T) {
	dir := writeConfig(t, "exec.hcl", `
application "app" {
  workload "wl" {
    experiment "e" {
      executable_order = ["preprocess", "execute"]

      executable "preprocess" {
        template          = ["gmx grompp -f {input_file}"]
        use_mpi           = true
        redirect          = "{experiment_run_dir}/pre.out"
        run_in_background = false

        variables = {
          input_file = "md.mdp"
        }
      }

      inject "env_dump" {
        position    = "before"
        relative_to = "execute"
      }
    }
  }
}
`)

	cfg, err := Load(testCtx(t), dir)
	require.NoError(t, err)
	internals := cfg.Applications[0].Workloads[0].Experiments[0].Context.Internals

	assert.Equal(t, []string{"preprocess", "execute"}, internals.ExecutableOrder)

	exec, ok := internals.CustomExecutables["preprocess"]
	require.True(t, ok)
	assert.Equal(t, []string{"gmx grompp -f {input_file}"}, exec.Template)
	assert.True(t, exec.UseMPI)
	assert.Equal(t, "{experiment_run_dir}/pre.out", exec.Redirect)
	require.Contains(t, exec.VariableOverrides, "input_file")
	assert.Equal(t, "md.mdp", exec.VariableOverrides["input_file"].Text())

	require.Len(t, internals.Injections, 1)
	assert.Equal(t, executable.Injection{
		Name:     "env_dump",
		Position: executable.PositionBefore,
		Anchor:   "execute",
	}, internals.Injections[0])
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "workspace cannot declare experiments",
			content: `
workspace {
  experiment "e" {}
}
`,
			wantErr: "may not declare workloads or experiments",
		},
		{
			name: "workload cannot nest workloads",
			content: `
application "a" {
  workload "w" {
    workload "inner" {}
  }
}
`,
			wantErr: "may not nest workloads",
		},
		{
			name: "experiment cannot nest experiments",
			content: `
application "a" {
  workload "w" {
    experiment "e" {
      experiment "inner" {}
    }
  }
}
`,
			wantErr: "may not nest workloads or experiments",
		},
		{
			name: "invalid chain order",
			content: `
application "a" {
  workload "w" {
    experiment "e" {
      chain {
        pattern = "x"
        order   = "sideways"
      }
    }
  }
}
`,
			wantErr: `chain order must be "before" or "after"`,
		},
		{
			name: "duplicate zip name",
			content: `
application "a" {
  workload "w" {
    experiment "e" {
      zip "z" { variables = ["a"] }
      zip "z" { variables = ["b"] }
    }
  }
}
`,
			wantErr: `zip "z" declared twice`,
		},
		{
			name:    "syntax error",
			content: `application "a" {`,
			wantErr: "failed to parse configuration file",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := writeConfig(t, "bad.hcl", tc.content)
			_, err := Load(testCtx(t), dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_DuplicateWorkspaceAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"), []byte("workspace {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.hcl"), []byte("workspace {}\n"), 0o644))

	_, err := Load(testCtx(t), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate workspace block")
}

func TestResolve(t *testing.T) {
	dir := writeConfig(t, "resolve.hcl", `
workspace {
  variables {
    processes_per_node = 16
    shared             = "workspace"
  }
}

application "gromacs" {
  variables {
    shared  = "application"
    n_nodes = 2
  }

  workload "water_bare" {
    variables {
      input_file = "water.tpr"
    }

    experiment "scaling_{n_nodes}" {
      variables {
        shared = "experiment"
      }
    }
  }
}
`)

	ctx := testCtx(t)
	cfg, err := Load(ctx, dir)
	require.NoError(t, err)

	contexts, err := Resolve(ctx, cfg)
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	merged := contexts[0]

	assert.Equal(t, "gromacs.water_bare", merged.Namespace)
	assert.Equal(t, "scaling_{n_nodes}", merged.NameTemplate)

	// Innermost layer wins; untouched outer bindings fall through.
	assert.Equal(t, "experiment", varText(t, merged, "shared"))
	assert.Equal(t, "16", varText(t, merged, "processes_per_node"))
	assert.Equal(t, "2", varText(t, merged, "n_nodes"))
	assert.Equal(t, "water.tpr", varText(t, merged, "input_file"))

	assert.Equal(t, "gromacs", varText(t, merged, "application_name"))
	assert.Equal(t, "water_bare", varText(t, merged, "workload_name"))
}

func TestResolve_DuplicateExperiment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"), []byte(`
application "app" {
  workload "wl" {
    experiment "e" {}
  }
}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.hcl"), []byte(`
application "app" {
  workload "wl" {
    experiment "e" {}
  }
}
`), 0o644))

	ctx := testCtx(t)
	cfg, err := Load(ctx, dir)
	require.NoError(t, err)

	_, err = Resolve(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `experiment "app.wl.e" declared twice`)
}
