package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/benchgrid/internal/conf"
	"github.com/vk/benchgrid/internal/ctxlog"
	"github.com/vk/benchgrid/internal/executable"
	"github.com/vk/benchgrid/internal/pipeline"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return ctxlog.WithLogger(context.Background(), slog.Default())
}

func TestBuilder(t *testing.T) {
	vars := conf.NewContext("defaults")
	def := NewApplication("gromacs").
		WithExecutable(executable.Executable{Name: "execute", Template: []string{"gmx mdrun"}}).
		WithBuiltin(executable.Builtin{Name: "env_dump", Template: []string{"env"}}).
		WithPhase(&pipeline.Phase{Name: "fetch_tarball", Pipeline: "setup"}).
		WithContext(vars).
		Build()

	assert.Equal(t, "gromacs", def.Name())
	assert.Equal(t, KindApplication, def.Kind())
	require.Len(t, def.Executables(), 1)
	assert.Equal(t, "execute", def.Executables()[0].Name)
	require.Len(t, def.Builtins(), 1)
	require.Len(t, def.Phases(), 1)
	assert.Same(t, vars, def.Context())
}

func TestBuilder_AccessorsReturnCopies(t *testing.T) {
	def := NewApplication("app").
		WithExecutable(executable.Executable{Name: "execute"}).
		Build()

	execs := def.Executables()
	execs[0].Name = "mutated"
	assert.Equal(t, "execute", def.Executables()[0].Name)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "application", KindApplication.String())
	assert.Equal(t, "modifier", KindModifier.String())
	assert.Equal(t, "package_manager", KindPackageManager.String())
}

func TestRegister_DuplicatePanics(t *testing.T) {
	r := New()
	r.Register(NewApplication("stream").Build())

	assert.PanicsWithValue(t,
		"definition with name 'stream' already registered",
		func() { r.Register(NewModifier("stream").Build()) })
}

func TestLookup(t *testing.T) {
	r := New()
	def := NewApplication("hostname").Build()
	r.Register(def)

	got, ok := r.Lookup("hostname")
	require.True(t, ok)
	assert.Same(t, def, got)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestDefinitions_FiltersByKindInRegistrationOrder(t *testing.T) {
	r := New()
	r.Register(NewModifier("timers").Build())
	r.Register(NewApplication("stream").Build())
	r.Register(NewApplication("hostname").Build())
	r.Register(NewPackageManager("environment-modules").Build())

	apps := r.Definitions(KindApplication)
	require.Len(t, apps, 2)
	assert.Equal(t, "stream", apps[0].Name())
	assert.Equal(t, "hostname", apps[1].Name())

	mods := r.Definitions(KindModifier)
	require.Len(t, mods, 1)
	assert.Equal(t, "timers", mods[0].Name())
}

func TestPhases_CollectsPerPipelineInRegistrationOrder(t *testing.T) {
	r := New()
	r.Register(NewPackageManager("environment-modules").
		WithPhase(&pipeline.Phase{Name: "software_list_modules", Pipeline: "setup"}).
		Build())
	r.Register(NewApplication("gromacs").
		WithPhase(&pipeline.Phase{Name: "fetch_tarball", Pipeline: "setup"}).
		WithPhase(&pipeline.Phase{Name: "summarize", Pipeline: "analyze"}).
		Build())

	setup := r.Phases("setup")
	require.Len(t, setup, 2)
	assert.Equal(t, "software_list_modules", setup[0].Name)
	assert.Equal(t, "fetch_tarball", setup[1].Name)

	analyze := r.Phases("analyze")
	require.Len(t, analyze, 1)
	assert.Equal(t, "summarize", analyze[0].Name)

	assert.Empty(t, r.Phases("archive"))
}

func TestValidate(t *testing.T) {
	t.Run("passes on a well-formed registry", func(t *testing.T) {
		r := New()
		r.Register(NewApplication("stream").
			WithExecutable(executable.Executable{Name: "execute"}).
			Build())
		r.Register(NewModifier("timers").
			WithModification(executable.Modification{Target: "execute"}).
			Build())

		assert.NoError(t, r.Validate(testCtx(t)))
	})

	t.Run("rejects duplicate executable names", func(t *testing.T) {
		r := New()
		r.Register(NewApplication("stream").
			WithExecutable(executable.Executable{Name: "execute"}).
			WithExecutable(executable.Executable{Name: "execute"}).
			Build())

		err := r.Validate(testCtx(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `declares executable "execute" twice`)
	})

	t.Run("rejects modifications outside modifiers", func(t *testing.T) {
		r := New()
		r.Register(NewApplication("stream").
			WithModification(executable.Modification{Target: "execute"}).
			Build())

		err := r.Validate(testCtx(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "but is a application")
	})
}
