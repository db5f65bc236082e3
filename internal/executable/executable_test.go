package executable

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/benchgrid/internal/ctxlog"
	"github.com/vk/benchgrid/internal/expander"
	"github.com/vk/benchgrid/internal/value"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return ctxlog.WithLogger(context.Background(), slog.Default())
}

func keys(execs []Executable) []string {
	out := make([]string, len(execs))
	for i, e := range execs {
		out[i] = e.Name
	}
	return out
}

func TestComposition_BaseSequence(t *testing.T) {
	comp := NewComposition()
	require.NoError(t, comp.AddExecutables([]Executable{
		{Name: "prepare"},
		{Name: "execute"},
		{Name: "teardown"},
	}))

	order, err := comp.Order(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"prepare", "execute", "teardown"}, keys(order))
}

func TestComposition_BuiltinPlacement(t *testing.T) {
	comp := NewComposition()
	require.NoError(t, comp.AddExecutables([]Executable{
		{Name: "prepare"},
		{Name: "execute"},
	}))
	require.NoError(t, comp.AddBuiltin(Builtin{
		Name:      "env_dump",
		Template:  []string{"env"},
		RunBefore: []string{"execute"},
		RunAfter:  []string{"prepare"},
	}))

	order, err := comp.Order(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"prepare", "builtin::env_dump", "execute"}, keys(order))
}

func TestComposition_Injection(t *testing.T) {
	comp := NewComposition()
	require.NoError(t, comp.AddExecutables([]Executable{
		{Name: "a"},
		{Name: "b"},
	}))
	require.NoError(t, comp.AddBuiltin(Builtin{Name: "probe", Template: []string{"true"}}))
	comp.Inject(Injection{Name: "builtin::probe", Position: PositionBefore, Anchor: "b"})

	order, err := comp.Order(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "builtin::probe", "b"}, keys(order))
}

func TestComposition_ModifierWrapping(t *testing.T) {
	comp := NewComposition()
	require.NoError(t, comp.AddExecutables([]Executable{
		{Name: "execute"},
	}))
	require.NoError(t, comp.Apply(testCtx(t), Modification{
		Target:  "execute",
		Prepend: []Executable{{Name: "timer_start"}},
		Append:  []Executable{{Name: "timer_stop"}},
	}))

	order, err := comp.Order(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"timer_start", "execute", "timer_stop"}, keys(order))
}

func TestComposition_ModifierMissingTargetTolerated(t *testing.T) {
	comp := NewComposition()
	require.NoError(t, comp.AddExecutables([]Executable{{Name: "execute"}}))

	err := comp.Apply(testCtx(t), Modification{
		Target:  "does_not_exist",
		Prepend: []Executable{{Name: "x"}},
	})
	require.NoError(t, err)

	order, err := comp.Order(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"execute"}, keys(order))
}

func TestRenderScript(t *testing.T) {
	exp := expander.New()
	bindings := expander.Bindings{
		"mpi_command":        value.Str("mpirun -n {n_ranks}"),
		"n_ranks":            value.Int(8),
		"experiment_run_dir": value.Str("/ws/exp1"),
		"input":              value.Str("water.tpr"),
	}

	t.Run("mpi prefix and redirect", func(t *testing.T) {
		lines, err := RenderScript(testCtx(t), exp, []Executable{{
			Name:     "execute",
			Template: []string{"gmx mdrun -s {input}"},
			UseMPI:   true,
			Redirect: "{experiment_run_dir}/md.out",
		}}, bindings)
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.Equal(t, "mpirun -n 8 gmx mdrun -s water.tpr >> /ws/exp1/md.out", lines[0])
	})

	t.Run("background suffix", func(t *testing.T) {
		lines, err := RenderScript(testCtx(t), exp, []Executable{{
			Name:            "monitor",
			Template:        []string{"top -b"},
			RunInBackground: true,
		}}, bindings)
		require.NoError(t, err)
		assert.Equal(t, "top -b &", lines[0])
	})

	t.Run("variable overrides shadow bindings", func(t *testing.T) {
		lines, err := RenderScript(testCtx(t), exp, []Executable{{
			Name:              "execute",
			Template:          []string{"run -i {input}"},
			VariableOverrides: map[string]value.Value{"input": value.Str("ice.tpr")},
		}}, bindings)
		require.NoError(t, err)
		assert.Equal(t, "run -i ice.tpr", lines[0])
	})

	t.Run("multiple template lines keep order", func(t *testing.T) {
		lines, err := RenderScript(testCtx(t), exp, []Executable{{
			Name:     "prepare",
			Template: []string{"mkdir -p out", "cp {input} out/"},
		}}, bindings)
		require.NoError(t, err)
		assert.Equal(t, []string{"mkdir -p out", "cp water.tpr out/"}, lines)
	})
}

func TestBuiltinQualifiedName(t *testing.T) {
	assert.Equal(t, "builtin::x", Builtin{Name: "x"}.QualifiedName())
	assert.Equal(t, "builtin::x", Builtin{Name: "builtin::x"}.QualifiedName())
}
