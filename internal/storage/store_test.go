package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/control"
	"github.com/san-kum/dynopt/internal/ddp"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/ocp"
)

func sampleRun() *Run {
	tr := ocp.NewTrajectory(4)
	tr.Append(0, dynamo.State{1, 0}, dynamo.Control{-0.5}, 0)
	tr.Append(0.1, dynamo.State{0.99, -0.05}, dynamo.Control{-0.4}, 0)
	tr.Append(0.1, dynamo.State{0.99, -0.05}, dynamo.Control{0.25}, 1)
	tr.MarkEvent()
	tr.Append(0.2, dynamo.State{0.985, -0.025}, dynamo.Control{0.1}, 1)

	c := control.NewLinearController(2)
	c.Append(0, mat.NewDense(1, 2, []float64{-1, -1.5}), dynamo.Control{0.1}, dynamo.Control{0.2})
	c.Append(0.2, mat.NewDense(1, 2, []float64{-0.5, -1}), dynamo.Control{0}, dynamo.Control{0.4})
	c.Step = 0.5

	return &Run{
		Metadata: RunMetadata{
			Scenario:    "double-integrator",
			Kind:        KindSolve,
			FinalTime:   0.2,
			Partitions:  2,
			Settings:    ddp.DefaultSettings(),
			Status:      ocp.StatusConverged,
			Iterations:  3,
			Performance: ocp.PerformanceIndex{TotalCost: 1.25, Merit: 1.25},
			Schedule:    ocp.ModeSchedule{EventTimes: []float64{0.1}, Modes: []int{0, 1}},
			Metrics:     map[string]float64{"control_effort": 0.3},
			IterationLog: []ddp.IterationLog{
				{Iteration: 0, Accepted: true},
				{Iteration: 1, Accepted: true, Step: 1},
			},
		},
		Trajectory: tr,
		Controller: c,
	}
}

func TestStoreSaveLoad(t *testing.T) {
	st := New(t.TempDir())
	require.NoError(t, st.Init())

	run := sampleRun()
	id, err := st.Save(run)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, run.Metadata.ID)

	meta, err := st.Load(id)
	require.NoError(t, err)
	assert.Equal(t, "double-integrator", meta.Scenario)
	assert.Equal(t, ocp.StatusConverged, meta.Status)
	assert.Equal(t, run.Metadata.Settings, meta.Settings)
	assert.Equal(t, run.Metadata.Schedule, meta.Schedule)
	assert.Len(t, meta.IterationLog, 2)
	assert.Equal(t, 0.3, meta.Metrics["control_effort"])
}

func TestTrajectoryRoundTrip(t *testing.T) {
	st := New(t.TempDir())
	run := sampleRun()
	id, err := st.Save(run)
	require.NoError(t, err)

	tr, err := st.LoadTrajectory(id)
	require.NoError(t, err)
	assert.Equal(t, run.Trajectory, tr)
}

func TestControllerRoundTrip(t *testing.T) {
	st := New(t.TempDir())
	run := sampleRun()
	id, err := st.Save(run)
	require.NoError(t, err)

	c, err := st.LoadController(id)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	x := dynamo.State{0.3, -0.2}
	for _, tm := range []float64{0, 0.05, 0.2} {
		assert.InDeltaSlice(t, run.Controller.Compute(x, tm), c.Compute(x, tm), 1e-12)
	}
}

func TestLoadControllerMissing(t *testing.T) {
	st := New(t.TempDir())
	run := sampleRun()
	run.Controller = nil
	id, err := st.Save(run)
	require.NoError(t, err)

	_, err = st.LoadController(id)
	assert.ErrorIs(t, err, dynamo.ErrNoSolution)
}

func TestStoreList(t *testing.T) {
	dir := t.TempDir()
	st := New(dir)

	runs, err := st.List()
	require.NoError(t, err)
	assert.Empty(t, runs)

	first, err := st.Save(sampleRun())
	require.NoError(t, err)
	second, err := st.Save(sampleRun())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "stray"), 0755))

	runs, err = st.List()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	ids := []string{runs[0].ID, runs[1].ID}
	assert.ElementsMatch(t, []string{first, second}, ids)
	assert.False(t, runs[0].Timestamp.Before(runs[1].Timestamp))
}

func TestStoreListMissingDirectory(t *testing.T) {
	runs, err := New(filepath.Join(t.TempDir(), "absent")).List()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestLoadTrajectoryRejectsShortRows(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bad"), 0755))
	data := "time,mode,event,x0,u0\n0,0,0,1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad", trajectoryFile), []byte(data), 0644))

	_, err := New(dir).LoadTrajectory("bad")
	assert.Error(t, err)
}
