package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controlroom/internal/classify"
	"controlroom/internal/store"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Cleanup(func() {
		flagStore, flagPolicy, flagLogLevel, flagLogFormat = "", "", "", ""
		discoverFormat, discoverReport, discoverFailOn, discoverAudit = "json", false, "", false
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err = rootCmd.Execute()
	return out.String(), err
}

func TestCheckPrintsEffectivePolicy(t *testing.T) {
	dir := t.TempDir()
	policy := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(policy, []byte(`
thresholds:
  error_rate: {critical: 0.10}
projects:
  ops-cell-lite:
    thresholds:
      volume_rpm: {warning: 500, critical: 200, direction: below}
`), 0o644))
	t.Setenv("CONTROLROOM_POLICY_FILE", "")

	out, err := runCLI(t, "check", "--store", dir, "--policy", policy, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "store:            disk "+dir)
	assert.Contains(t, out, "error_rate: critical >= 0.1")
	assert.Contains(t, out, "ops-cell-lite overrides:")
	assert.Contains(t, out, "volume_rpm: warning <= 500, critical <= 200")
	assert.Contains(t, out, "ok\n")
}

func TestCheckRejectsInvertedThresholds(t *testing.T) {
	policy := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(policy, []byte("thresholds:\n  error_rate: {warning: 0.5, critical: 0.1}\n"), 0o644))
	t.Setenv("CONTROLROOM_POLICY_FILE", "")

	_, err := runCLI(t, "check", "--policy", policy, "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error_rate")
}

func TestDiscoverCommandPrintsView(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "control_room_snapshot.json"),
		[]byte(`{"project":"ops-cell-lite","timestamp":"2025-01-01T00:00:00Z","status":"warning"}`), 0o644))
	// Producer domain output sharing the tree is not a candidate.
	require.NoError(t, os.WriteFile(filepath.Join(root, "anomaly_snapshot_20250101_000000.json"),
		[]byte(`[{"metric":"latency"}]`), 0o644))
	t.Setenv("CONTROLROOM_POLICY_FILE", "")
	t.Setenv("CONTROLROOM_ARTIFACT_GLOB", "")

	out, err := runCLI(t, "discover", "--store", root, "--format", "markdown", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "## ops-cell-lite")
	assert.Contains(t, out, "## Unknown projects")
	assert.NotContains(t, out, "anomaly_snapshot")
}

func TestDescribeRuleAndRedact(t *testing.T) {
	assert.Equal(t, "x: warning >= 1, critical >= 2",
		describeRule("x", classify.Rule{Warning: classify.Bound(1), Critical: classify.Bound(2)}))
	assert.Equal(t, "postgres://***@db:5432/suite", redact(store.KindPostgres, "postgres://u:secret@db:5432/suite"))
	assert.Equal(t, "outputs", redact(store.KindDisk, "outputs"))
}
