package main

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/linesearch"
	"github.com/san-kum/dynopt/internal/riccati"
)

func newTestCommand() *cobra.Command {
	preset, configFile, logLevel, logJSON = "", "", "", false
	cmd := &cobra.Command{Use: "test"}
	solverFlags(cmd)
	mpcFlags(cmd)
	return cmd
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(newTestCommand(), "pendulum")
	require.NoError(t, err)
	assert.Equal(t, "pendulum", cfg.Scenario)
	assert.Equal(t, config.DefaultPartitions, cfg.Partitions)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigPresetThenFlags(t *testing.T) {
	cmd := newTestCommand()
	preset = "swing-up"
	defer func() { preset = "" }()
	require.NoError(t, cmd.Flags().Set("algorithm", "ilqr"))
	require.NoError(t, cmd.Flags().Set("partitions", "6"))

	cfg, err := loadConfig(cmd, "pendulum")
	require.NoError(t, err)
	want := config.GetPreset("pendulum", "swing-up")
	assert.Equal(t, riccati.ILQR, cfg.Solver.Algorithm)
	assert.Equal(t, 6, cfg.Partitions)
	assert.Equal(t, want.FinalTime, cfg.FinalTime)
	assert.Equal(t, want.Solver.MaxIterations, cfg.Solver.MaxIterations)
}

func TestLoadConfigFileKeepsUnsetFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	file := config.DefaultConfig()
	file.Solver.Strategy = linesearch.TrustRegion
	file.Duration = 7
	require.NoError(t, config.Save(path, file))

	cmd := newTestCommand()
	configFile = path
	defer func() { configFile = "" }()
	require.NoError(t, cmd.Flags().Set("time", "2"))

	cfg, err := loadConfig(cmd, "double-integrator")
	require.NoError(t, err)
	assert.Equal(t, linesearch.TrustRegion, cfg.Solver.Strategy)
	assert.Equal(t, 2.0, cfg.Duration)
}

func TestLoadConfigRejects(t *testing.T) {
	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("algorithm", "newton"))
	_, err := loadConfig(cmd, "double-integrator")
	assert.Error(t, err)

	cmd = newTestCommand()
	preset = "nope"
	defer func() { preset = "" }()
	_, err = loadConfig(cmd, "double-integrator")
	assert.ErrorContains(t, err, "unknown preset")
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, sortedKeys(map[string]float64{"c": 1, "a": 2, "b": 3}))
}
