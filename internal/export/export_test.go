package export

import (
	"bytes"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dynopt/internal/ddp"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/ocp"
)

func eventTrajectory() ocp.Trajectory {
	tr := ocp.NewTrajectory(5)
	tr.Append(0, dynamo.State{1, 0}, dynamo.Control{-1}, 0)
	tr.Append(0.5, dynamo.State{0.8, -0.5}, dynamo.Control{-0.5}, 0)
	tr.Append(0.5, dynamo.State{0.8, -0.5}, dynamo.Control{0.2}, 1)
	tr.MarkEvent()
	tr.Append(1, dynamo.State{0.5, -0.3}, dynamo.Control{0.1}, 1)
	return tr
}

func TestSavePlots(t *testing.T) {
	dir := t.TempDir()
	tr := eventTrajectory()
	log := []ddp.IterationLog{
		{Iteration: 0, Accepted: true, Performance: ocp.PerformanceIndex{Merit: 3}},
		{Iteration: 1, Accepted: false, Performance: ocp.PerformanceIndex{Merit: 3}},
		{Iteration: 2, Accepted: true, Performance: ocp.PerformanceIndex{Merit: 1}},
	}
	require.NoError(t, SavePlots(dir, "test", &tr, log))

	for _, name := range PlotFiles {
		f, err := os.Open(filepath.Join(dir, name))
		require.NoError(t, err, name)
		cfg, err := png.DecodeConfig(f)
		f.Close()
		require.NoError(t, err, name)
		assert.Equal(t, 8*plotDPI, cfg.Width, name)
	}
}

func TestSavePlotsWithoutLog(t *testing.T) {
	dir := t.TempDir()
	tr := eventTrajectory()
	require.NoError(t, SavePlots(dir, "test", &tr, nil))
	_, err := os.Stat(filepath.Join(dir, "cost.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestSavePlotsRejectsEmptyTrajectory(t *testing.T) {
	tr := ocp.NewTrajectory(0)
	assert.Error(t, SavePlots(t.TempDir(), "empty", &tr, nil))
}

func TestMeritPlotNeedsAcceptedIterations(t *testing.T) {
	_, err := MeritPlot("m", []ddp.IterationLog{{Accepted: false}})
	assert.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	sol := ocp.PrimalSolution{
		Trajectory: eventTrajectory(),
		Status:     ocp.StatusConverged,
		Iterations: 2,
	}
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, NewData("double-integrator", "slq", sol, map[string]float64{"final_error": 0.5}, nil)))

	var got Data
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, []int{2}, got.Events)
	assert.Equal(t, []int{0, 0, 1, 1}, got.Modes)
	assert.Equal(t, [][]float64{{1, 0}, {0.8, -0.5}, {0.8, -0.5}, {0.5, -0.3}}, got.States)
	assert.Equal(t, ocp.StatusConverged, got.Status)
	assert.Equal(t, 0.5, got.Metrics["final_error"])
}

func TestExportJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, ExportJSON(path, NewData("s", "ilqr", ocp.PrimalSolution{Trajectory: eventTrajectory()}, nil, nil)))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"algorithm": "ilqr"`)
}
