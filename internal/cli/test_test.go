package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func copyScenario(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "harness", "testdata", "scenarios", name))
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestTestCommand(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("test", filepath.Join("..", "harness", "testdata", "scenarios"))
	assert.Contains(t, out, "✓ ")
	assert.Contains(t, out, "✓ All scenarios passed")
	assert.Contains(t, out, "0 failed")
}

func TestTestCommandGolden(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()
	scenario := copyScenario(t, dir, "fluid_day.yaml")
	golden := filepath.Join(dir, "golden", "fluid_day.golden")

	env.mustRun("test", scenario, "--update")
	require.FileExists(t, golden)

	var res TestResult
	_, err := env.runJSON(&res, "test", dir)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Passed)

	writeFile(t, golden, `{"scenario_name":"fluid_day","trace":[]}`)
	resp, err := env.runJSON(&res, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTestFailed, resp.Error.Code)
	require.Len(t, res.Scenarios, 1)
	assert.Contains(t, res.Scenarios[0].Errors, "trace does not match golden file (run with --update to regenerate)")
}

func TestTestCommandFilter(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()
	copyScenario(t, dir, "fluid_day.yaml")
	copyScenario(t, dir, "cross_day_edit.yaml")

	var res TestResult
	_, err := env.runJSON(&res, "test", dir, "--filter", "cross_*")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
}

func TestTestCommandErrors(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run("test")
	require.Error(t, err)

	_, stderr, err := env.run("test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stderr, "scenario path not found")

	dir := t.TempDir()
	out := env.mustRun("test", dir)
	assert.Contains(t, out, "No scenarios found.")

	broken := filepath.Join(dir, "broken.yaml")
	writeFile(t, broken, "name: broken\nflow: [")
	_, _, err = env.run("test", broken)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
