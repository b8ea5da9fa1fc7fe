package mpc

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/control"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/ocp"
	"github.com/san-kum/dynopt/internal/rollout"
)

// Result is a closed-loop run.
type Result struct {
	Trajectory ocp.Trajectory
	Metrics    map[string]float64
	// Merits holds the merit of every published solution.
	Merits   []float64
	Solves   int
	Failures int
	Errors   []error
}

// Simulate runs the closed loop for duration from (t0, x0): every
// ReplanPeriod the MPC re-solves and the plant follows the latest policy.
// Failed solves keep the previous policy; before the first success the
// plant holds the operating-point inputs.
func (m *MPC) Simulate(ctx context.Context, t0 float64, x0 dynamo.State, duration float64) (*Result, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("mpc: duration must be positive, got %g", duration)
	}
	res := &Result{Metrics: make(map[string]float64)}
	for _, metric := range m.metrics {
		metric.Reset()
	}

	period := m.settings.ReplanPeriod
	steps := max(int(math.Ceil(duration/period-1e-9)), 1)
	parts := make([]ocp.Trajectory, 0, steps)
	x := x0.Clone()
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			res.Trajectory = ocp.Concatenate(parts)
			return res, err
		}
		t := t0 + float64(i)*period
		t1 := math.Min(t+period, t0+duration)

		var policy dynamo.Controller
		sol, err := m.Advance(ctx, t, x)
		switch {
		case err == nil:
			res.Solves++
			res.Merits = append(res.Merits, sol.Performance.Merit)
			policy = sol.Controller
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			res.Trajectory = ocp.Concatenate(parts)
			return res, err
		default:
			res.Failures++
			res.Errors = append(res.Errors, err)
			m.logger.Warn("mpc solve failed, keeping previous policy", zap.Float64("time", t), zap.Error(err))
			if prev, perr := m.Solution(); perr == nil {
				policy = prev.Controller
			} else {
				policy = m.holdOperatingPoint()
			}
		}

		tr, err := m.step(policy, t, t1, x)
		if err != nil {
			res.Trajectory = ocp.Concatenate(parts)
			return res, fmt.Errorf("mpc: plant at t=%g: %w", t, err)
		}
		m.observe(&tr)
		parts = append(parts, tr)
		x = tr.FinalState()
	}

	res.Trajectory = ocp.Concatenate(parts)
	for _, metric := range m.metrics {
		res.Metrics[metric.Name()] = metric.Value()
	}
	return res, nil
}

// SimulatePolicy runs the plant under a fixed policy without re-solving.
func (m *MPC) SimulatePolicy(ctx context.Context, policy dynamo.Controller, t0 float64, x0 dynamo.State, duration float64) (*Result, error) {
	res := &Result{Metrics: make(map[string]float64)}
	for _, metric := range m.metrics {
		metric.Reset()
	}
	period := m.settings.ReplanPeriod
	steps := max(int(math.Ceil(duration/period-1e-9)), 1)
	var parts []ocp.Trajectory
	x := x0.Clone()
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			res.Trajectory = ocp.Concatenate(parts)
			return res, err
		}
		t := t0 + float64(i)*period
		tr, err := m.step(policy, t, math.Min(t+period, t0+duration), x)
		if err != nil {
			res.Trajectory = ocp.Concatenate(parts)
			return res, fmt.Errorf("mpc: plant at t=%g: %w", t, err)
		}
		m.observe(&tr)
		parts = append(parts, tr)
		x = tr.FinalState()
	}
	res.Trajectory = ocp.Concatenate(parts)
	for _, metric := range m.metrics {
		res.Metrics[metric.Name()] = metric.Value()
	}
	return res, nil
}

// step integrates the plant over [t0, t1] with the solver's integrator and
// the mode schedule of that interval.
func (m *MPC) step(policy dynamo.Controller, t0, t1 float64, x dynamo.State) (ocp.Trajectory, error) {
	engine := &rollout.Engine{
		Problem:  m.solver.Problem(),
		Schedule: m.Schedule(t0, t1),
		Settings: m.solver.Settings().RolloutSettings(),
		Origin:   t0,
	}
	res, err := engine.Run(policy, t0, t1, x)
	if err != nil {
		return ocp.Trajectory{}, err
	}
	return res.Trajectory, nil
}

// observe feeds every sample but the last, which starts the next interval.
func (m *MPC) observe(tr *ocp.Trajectory) {
	for k := 0; k < tr.Len()-1; k++ {
		for _, metric := range m.metrics {
			metric.Observe(tr.States[k], tr.Inputs[k], tr.Times[k])
		}
		for _, o := range m.observers {
			o.OnStep(tr.States[k], tr.Inputs[k], tr.Times[k])
		}
	}
}

func (m *MPC) holdOperatingPoint() dynamo.Controller {
	p := m.solver.Problem()
	nu := p.InputDim()
	return control.NewFeedforward(func(t float64) dynamo.Control {
		if p.OperatingPoints == nil {
			return make(dynamo.Control, nu)
		}
		_, u := p.OperatingPoints.At(t, m.Schedule(t, t).ModeAt(t))
		return u
	})
}
