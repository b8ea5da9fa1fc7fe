package experiment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/ocp"
)

func TestRegistryBuildsEveryScenario(t *testing.T) {
	reg := NewRegistry()
	for _, s := range reg.List() {
		t.Run(s.Name, func(t *testing.T) {
			inst, err := reg.Build(s.Name, 1)
			require.NoError(t, err)
			require.NoError(t, inst.Problem.Validate())
			require.NoError(t, inst.Problem.ValidateSchedule(inst.Schedule))
			assert.Len(t, inst.InitialState, inst.Problem.StateDim())
			assert.Len(t, inst.Target, inst.Problem.StateDim())
			assert.NotEmpty(t, s.Description)
		})
	}
}

func TestEveryPresetHasAScenario(t *testing.T) {
	reg := NewRegistry()
	for _, name := range config.Scenarios() {
		_, err := reg.Get(name)
		assert.NoError(t, err, name)
	}
}

func TestRegistryUnknownScenario(t *testing.T) {
	_, err := NewRegistry().Build("unicycle", 0)
	assert.ErrorContains(t, err, "unknown scenario")
}

func TestRandomScenarioIsSeeded(t *testing.T) {
	reg := NewRegistry()
	a, err := reg.Build("random-lq", 11)
	require.NoError(t, err)
	b, err := reg.Build("random-lq", 11)
	require.NoError(t, err)
	assert.Equal(t, a.InitialState, b.InitialState)
}

func TestDefaultMetrics(t *testing.T) {
	reg := NewRegistry()
	inst, err := reg.Build("pendulum", 0)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, m := range reg.DefaultMetrics(inst) {
		names[m.Name()] = true
	}
	for _, want := range []string{"control_effort", "tracking_rms", "final_error", "energy_drift"} {
		assert.True(t, names[want], want)
	}
}

func TestInitialStateOverride(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.InitialState = []float64{0.5, -0.5}
	e, err := New(NewRegistry(), cfg)
	require.NoError(t, err)
	assert.Equal(t, dynamo.State{0.5, -0.5}, e.Instance().InitialState)

	cfg.InitialState = []float64{1}
	_, err = New(NewRegistry(), cfg)
	assert.ErrorIs(t, err, dynamo.ErrDimensionMismatch)
}

func TestSolveAndRunMPC(t *testing.T) {
	cfg := config.GetPreset("double-integrator", "ilqr")
	cfg.Duration = 0.5
	cfg.MPC.ReplanPeriod = 0.1
	e, err := New(NewRegistry(), cfg)
	require.NoError(t, err)

	out, err := e.Solve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ocp.StatusConverged, out.Solution.Status)
	assert.Len(t, out.Log, out.Solution.Iterations+1)
	assert.Contains(t, out.Metrics, "peak_input")
	assert.InDelta(t, out.Solution.Trajectory.FinalState().Norm(), out.Metrics["final_error"], 1e-12)

	res, err := e.RunMPC(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Solves)
	assert.Contains(t, res.Metrics, "tracking_rms")
}

func TestRunBaseline(t *testing.T) {
	cfg := config.GetPreset("double-integrator", "ilqr")
	cfg.Duration = 0.5
	cfg.MPC.ReplanPeriod = 0.1
	e, err := New(NewRegistry(), cfg)
	require.NoError(t, err)

	res, err := e.RunBaseline(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Solves)
	assert.InDelta(t, 0.5, res.Trajectory.FinalTime(), 1e-9)
	assert.Less(t, res.Trajectory.FinalState().Norm(), e.Instance().InitialState.Norm())
}

func TestEvaluate(t *testing.T) {
	tr := ocp.NewTrajectory(2)
	tr.Append(0, dynamo.State{1, 0}, dynamo.Control{2}, 0)
	tr.Append(1, dynamo.State{0, 0}, dynamo.Control{-3}, 0)
	got := Evaluate(NewRegistry().DefaultMetrics(&Instance{}), &tr)
	assert.Equal(t, 3.0, got["peak_input"])
	assert.NotContains(t, got, "tracking_rms")
}
