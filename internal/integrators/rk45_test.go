package integrators

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dynopt/internal/dynamo"
)

func harmonic(x dynamo.State, t float64) (dynamo.State, error) {
	return dynamo.State{x[1], -x[0]}, nil
}

func energy(x dynamo.State) float64 {
	return 0.5 * (x[0]*x[0] + x[1]*x[1])
}

func TestRK45_EnergyConservation(t *testing.T) {
	integrator := NewRK45()
	x := dynamo.State{1.0, 0.0}
	dt := 0.01

	var err error
	for i := 0; i < 10000; i++ {
		x, err = integrator.Step(dynamo.SystemFunc(harmonic), x, float64(i)*dt, dt)
		require.NoError(t, err)
	}

	drift := math.Abs(energy(x)-0.5) / 0.5
	if drift > 1e-6 {
		t.Errorf("RK45 energy drift too high: %e", drift)
	}
}

func TestRK45_AdaptiveStep(t *testing.T) {
	integrator := NewRK45()
	tol := dynamo.Tolerance{Abs: 1e-10, Rel: 1e-8}

	_, small, accepted, err := integrator.StepAdaptive(dynamo.SystemFunc(harmonic), dynamo.State{1, 0}, 0, 1.0, tol)
	require.NoError(t, err)
	assert.False(t, accepted, "a unit step cannot meet 1e-8")
	assert.Less(t, small, 1.0)

	_, next, accepted, err := integrator.StepAdaptive(dynamo.SystemFunc(harmonic), dynamo.State{1, 0}, 0, 1e-4, tol)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Greater(t, next, 1e-4)
}

func TestIntegrateHitsEndpointExactly(t *testing.T) {
	tests := []struct {
		name  string
		integ dynamo.Integrator
		tol   float64
	}{
		{"ode45", NewRK45(), 1e-7},
		{"rk4", NewRK4(), 1e-6},
		{"euler", NewEuler(), 5e-3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stats Stats
			opts := Options{Tolerance: dynamo.Tolerance{Abs: 1e-10, Rel: 1e-8}, InitialStep: 1e-3}
			x, err := Integrate(tt.integ, dynamo.SystemFunc(harmonic), dynamo.State{1, 0}, 0, 1, opts, &stats)
			require.NoError(t, err)
			assert.InDelta(t, math.Cos(1), x[0], tt.tol)
			assert.InDelta(t, -math.Sin(1), x[1], tt.tol)
			assert.Positive(t, stats.Steps)
		})
	}
}

func TestIntegrateStepBudget(t *testing.T) {
	var stats Stats
	opts := Options{InitialStep: 1e-3, MaxSteps: 10}
	_, err := Integrate(NewRK4(), dynamo.SystemFunc(harmonic), dynamo.State{1, 0}, 0, 1, opts, &stats)
	assert.ErrorIs(t, err, dynamo.ErrRunaway)
}

func TestIntegrateZeroSpan(t *testing.T) {
	var stats Stats
	x, err := Integrate(NewRK45(), dynamo.SystemFunc(harmonic), dynamo.State{1, 2}, 3, 3, Options{}, &stats)
	require.NoError(t, err)
	assert.Equal(t, dynamo.State{1, 2}, x)
	assert.Zero(t, stats.Steps)
}

func TestIntegratePropagatesEvaluatorError(t *testing.T) {
	boom := errors.New("boom")
	sys := dynamo.SystemFunc(func(x dynamo.State, t float64) (dynamo.State, error) {
		if t > 0.5 {
			return nil, boom
		}
		return harmonic(x, t)
	})
	var stats Stats
	_, err := Integrate(NewRK45(), sys, dynamo.State{1, 0}, 0, 1, Options{InitialStep: 0.1, Tolerance: dynamo.Tolerance{Abs: 1e-6, Rel: 1e-6}}, &stats)
	assert.ErrorIs(t, err, boom)
}

func TestIntegrateDetectsBlowUp(t *testing.T) {
	sys := dynamo.SystemFunc(func(x dynamo.State, t float64) (dynamo.State, error) {
		return dynamo.State{math.Inf(1)}, nil
	})
	var stats Stats
	_, err := Integrate(NewEuler(), sys, dynamo.State{1}, 0, 1, Options{InitialStep: 0.5}, &stats)
	assert.ErrorIs(t, err, dynamo.ErrInvalidState)
}

func TestNew(t *testing.T) {
	for _, name := range Names() {
		integ, err := New(name)
		require.NoError(t, err)
		assert.NotNil(t, integ)
	}
	_, err := New("verlet")
	assert.Error(t, err)
}

func TestStepBudget(t *testing.T) {
	assert.Equal(t, 0, StepBudget(0, 1))
	assert.Equal(t, 10000, StepBudget(10000, 1))
	assert.Equal(t, 1, StepBudget(10000, 0))
}
