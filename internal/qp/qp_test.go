package qp

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/models"
	"github.com/san-kum/dynopt/internal/ocp"
)

func scalarProblem() *ocp.Problem {
	dyn := models.NewLinearSystem(mat.NewDense(1, 1, nil), mat.NewDense(1, 1, []float64{1}))
	return &ocp.Problem{
		Variants: []ocp.Variant{{Name: "integrator", Dynamics: dyn, Cost: models.NewQuadraticCost(models.Identity(1, 1), models.Identity(1, 1))}},
		Final:    &models.QuadraticFinalCost{Qf: models.Identity(1, 1)},
	}
}

func TestSingleIntervalClosedForm(t *testing.T) {
	prog, err := Transcribe(scalarProblem(), ocp.SingleMode(0), ocp.Penalties{}, 0, 1, 1, dynamo.State{1})
	require.NoError(t, err)
	sol, err := prog.Solve()
	require.NoError(t, err)

	// min ½(1 + u²) + ½(1 + u)²  =>  u = -½
	assert.InDelta(t, -0.5, sol.Trajectory.Inputs[0][0], 1e-12)
	assert.InDelta(t, 0.5, sol.Trajectory.FinalState()[0], 1e-12)
	assert.InDelta(t, 0.75, sol.Cost, 1e-12)
	assert.Equal(t, []float64{0, 1}, sol.Trajectory.Times)
}

// rectangleCost evaluates Σ dt·L(x_k, u_k) + Φ(x_N) with the model itself.
func rectangleCost(t *testing.T, p *ocp.Problem, tr *ocp.Trajectory, dt float64) float64 {
	var j float64
	for k := 0; k+1 < tr.Len(); k++ {
		l, err := p.Variant(tr.Modes[k]).Cost.Cost(tr.Times[k], tr.States[k], tr.Inputs[k])
		require.NoError(t, err)
		j += dt * l
	}
	phi, err := p.Final.FinalCost(tr.FinalTime(), tr.FinalState())
	require.NoError(t, err)
	return j + phi
}

func eulerRollout(t *testing.T, p *ocp.Problem, x0 dynamo.State, inputs []dynamo.Control, dt float64) ocp.Trajectory {
	tr := ocp.NewTrajectory(len(inputs) + 1)
	x := x0.Clone()
	for k, u := range inputs {
		tr.Append(float64(k)*dt, x, u, 0)
		dx, err := p.Variant(0).Dynamics.Flow(float64(k)*dt, x, u)
		require.NoError(t, err)
		x = x.Add(dx.Scale(dt))
	}
	tr.Append(float64(len(inputs))*dt, x, inputs[len(inputs)-1], 0)
	return tr
}

func TestSolutionIsOptimalAmongFeasibleInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := models.RandomLinearProblem(rng, 3, 2, 0)
	const dt, n = 0.05, 20
	x0 := dynamo.State{0.4, -0.2, 0.9}

	prog, err := Transcribe(p, ocp.SingleMode(0), ocp.Penalties{}, 0, dt, n, x0)
	require.NoError(t, err)
	sol, err := prog.Solve()
	require.NoError(t, err)

	inputs := make([]dynamo.Control, n)
	copy(inputs, sol.Trajectory.Inputs[:n])
	replay := eulerRollout(t, p, x0, inputs, dt)
	for k := range replay.States {
		assert.InDeltaSlice(t, sol.Trajectory.States[k], replay.States[k], 1e-9)
	}
	best := rectangleCost(t, p, &replay, dt)
	assert.InDelta(t, best, sol.Cost, 1e-9)

	for trial := 0; trial < 5; trial++ {
		perturbed := make([]dynamo.Control, n)
		for k := range perturbed {
			perturbed[k] = inputs[k].Clone()
			for i := range perturbed[k] {
				perturbed[k][i] += 0.05 * rng.NormFloat64()
			}
		}
		tr := eulerRollout(t, p, x0, perturbed, dt)
		assert.Greater(t, rectangleCost(t, p, &tr, dt), best)
	}
}

func TestStateInputConstraintsHold(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	p := models.RandomLinearProblem(rng, 3, 2, 1)
	const dt, n = 0.05, 20
	x0 := dynamo.State{1, 0, -1}

	prog, err := Transcribe(p, ocp.SingleMode(0), ocp.Penalties{}, 0, dt, n, x0)
	require.NoError(t, err)
	sol, err := prog.Solve()
	require.NoError(t, err)

	c := p.Variant(0).Constraint
	tr := sol.Trajectory
	for k := 0; k < n; k++ {
		eq, err := c.StateInputEquality(tr.Times[k], tr.States[k], tr.Inputs[k])
		require.NoError(t, err)
		assert.InDelta(t, 0, eq.Value.AtVec(0), 1e-9, "sample %d", k)

		dx, err := p.Variant(0).Dynamics.Flow(tr.Times[k], tr.States[k], tr.Inputs[k])
		require.NoError(t, err)
		assert.InDeltaSlice(t, tr.States[k].Add(dx.Scale(dt)), tr.States[k+1], 1e-9)
	}
}

func TestTranscribeRejectsBadInput(t *testing.T) {
	_, err := Transcribe(scalarProblem(), ocp.SingleMode(0), ocp.Penalties{}, 0, 0.1, 0, dynamo.State{1})
	assert.Error(t, err)
	_, err = Transcribe(scalarProblem(), ocp.SingleMode(0), ocp.Penalties{}, 0, 0.1, 3, dynamo.State{1, 2})
	assert.ErrorIs(t, err, dynamo.ErrDimensionMismatch)
}
