package cmdrunner

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/benchgrid/internal/ctxlog"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return ctxlog.WithLogger(context.Background(), slog.Default())
}

func TestExecute_CapturesOutput(t *testing.T) {
	r := New()

	out, err := r.Execute(testCtx(t), "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, 0, out.ExitCode)
	assert.False(t, out.DryRun)
}

func TestExecute_NonZeroExitIsAnError(t *testing.T) {
	r := New()

	out, err := r.Execute(testCtx(t), "/bin/sh", "-c", "echo oops >&2; exit 3")
	require.Error(t, err)
	assert.Equal(t, 3, out.ExitCode)
	assert.Contains(t, out.Stderr, "oops")
	assert.Contains(t, err.Error(), "oops")
}

func TestExecute_MissingBinary(t *testing.T) {
	r := New()

	out, err := r.Execute(testCtx(t), "definitely-not-a-real-binary-xyz")
	require.Error(t, err)
	assert.Equal(t, -1, out.ExitCode)
}

func TestExecute_DryRunEchoesCommand(t *testing.T) {
	r := New()
	r.DryRun = true

	out, err := r.Execute(testCtx(t), "rm", "-rf", "/important")
	require.NoError(t, err)
	assert.True(t, out.DryRun)
	assert.Equal(t, "rm -rf /important", out.Stdout)
	assert.Equal(t, 0, out.ExitCode)
}

func TestExecute_WorkingDirectory(t *testing.T) {
	r := New()
	r.Dir = t.TempDir()

	out, err := r.Execute(testCtx(t), "pwd")
	require.NoError(t, err)
	assert.Equal(t, r.Dir, strings.TrimSpace(out.Stdout))
}

func TestExecute_EnvOverlay(t *testing.T) {
	r := New()
	r.Env = []string{"BENCHGRID_TEST_VAR=from-overlay"}

	out, err := r.Execute(testCtx(t), "/bin/sh", "-c", "echo $BENCHGRID_TEST_VAR")
	require.NoError(t, err)
	assert.Equal(t, "from-overlay", strings.TrimSpace(out.Stdout))
}
