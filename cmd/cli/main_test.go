package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/benchgrid/internal/cli"
)

func TestRun_HelpExitsCleanly(t *testing.T) {
	var out bytes.Buffer
	err := run(&out, []string{"-h"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Usage:")
}

func TestRun_NoArgsPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	err := run(&out, nil)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "WORKSPACE_PATH")
}

func TestRun_ParseErrorIsExitError(t *testing.T) {
	var out bytes.Buffer
	err := run(&out, []string{"-no-such-flag"})
	require.Error(t, err)

	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestRun_RecoversStartupPanic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.hcl"),
		[]byte(`application "oops" {`), 0o644))

	var out bytes.Buffer
	err := run(&out, []string{"-log-level", "error", dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "application startup panicked")
}

func TestRun_EmptyWorkspaceSucceeds(t *testing.T) {
	var out bytes.Buffer
	err := run(&out, []string{"-log-level", "error", t.TempDir()})
	assert.NoError(t, err)
}
