// Package rollout integrates the closed-loop system forward over time
// partitions, recording exact samples at mode events.
package rollout

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/integrators"
	"github.com/san-kum/dynopt/internal/ocp"
)

// snap merges grid points closer than this to an event or boundary.
const snap = 1e-9

type Settings struct {
	Integrator        string
	TimeStep          float64
	Tolerance         dynamo.Tolerance
	MaxStepsPerSecond float64
}

type Result struct {
	Trajectory ocp.Trajectory
	Steps      int
	Rejected   int
}

func (r Result) FinalState() dynamo.State {
	return r.Trajectory.FinalState()
}

// Engine rolls out one problem under a fixed mode schedule. It is safe for
// concurrent use: every call builds its own integrator.
type Engine struct {
	Problem  *ocp.Problem
	Schedule ocp.ModeSchedule
	Settings Settings
	// Origin anchors the sampling grid so that partitions sample at the same
	// global times.
	Origin float64
}

// leftLimiter is implemented by policies that distinguish pre-event values
// at repeated sample times.
type leftLimiter interface {
	ComputeBefore(x dynamo.State, t float64) dynamo.Control
}

func evalBefore(ctrl dynamo.Controller, x dynamo.State, t float64) dynamo.Control {
	if l, ok := ctrl.(leftLimiter); ok {
		return l.ComputeBefore(x, t)
	}
	return ctrl.Compute(x, t)
}

// closedLoop is the vector field of one mode under a policy over the
// interval [t0, t1]. Stages after t0 read the policy from the left.
type closedLoop struct {
	dyn  dynamo.Dynamics
	ctrl dynamo.Controller
	mode int
	t0   float64
}

func (c closedLoop) Derive(x dynamo.State, t float64) (dynamo.State, error) {
	var u dynamo.Control
	if t <= c.t0 {
		u = c.ctrl.Compute(x, t)
	} else {
		u = evalBefore(c.ctrl, x, t)
	}
	if !u.IsValid() {
		return nil, fmt.Errorf("%w: input at t=%g", dynamo.ErrInvalidState, t)
	}
	dx, err := c.dyn.Flow(t, x, u)
	if err != nil {
		return nil, &dynamo.EvaluationError{Time: t, Mode: c.mode, Wrapped: err}
	}
	return dx, nil
}

// Grid returns the sample times of [t0, tf]: multiples of dt from origin,
// the events strictly inside the span and both ends. Grid points within
// snap of an event or end are dropped in its favour.
func Grid(origin, t0, tf, dt float64, events []float64) []float64 {
	pts := []float64{t0}
	if tf <= t0 {
		return pts
	}
	anchors := append([]float64{t0, tf}, events...)
	near := func(t float64) bool {
		for _, a := range anchors {
			if math.Abs(t-a) < snap {
				return true
			}
		}
		return false
	}
	if dt > 0 {
		k := math.Floor((t0-origin)/dt+snap) + 1
		for ; ; k++ {
			t := origin + k*dt
			if t >= tf-snap {
				break
			}
			if t > t0 && !near(t) {
				pts = append(pts, t)
			}
		}
	}
	pts = append(pts, events...)
	pts = append(pts, tf)
	sort.Float64s(pts)
	return pts
}

// Run integrates from x0 over [t0, tf] under ctrl.
func (e *Engine) Run(ctrl dynamo.Controller, t0, tf float64, x0 dynamo.State) (Result, error) {
	var res Result
	if !x0.IsValid() {
		return res, fmt.Errorf("%w: initial state", dynamo.ErrInvalidState)
	}
	integ, err := integrators.New(e.Settings.Integrator)
	if err != nil {
		return res, err
	}
	events := e.Schedule.EventsIn(t0, tf)
	grid := Grid(e.Origin, t0, tf, e.Settings.TimeStep, events)
	isEvent := make(map[float64]bool, len(events))
	for _, te := range events {
		isEvent[te] = true
	}

	opts := integrators.Options{
		Tolerance:   e.Settings.Tolerance,
		InitialStep: e.Settings.TimeStep,
		MaxSteps:    integrators.StepBudget(e.Settings.MaxStepsPerSecond, tf-t0),
	}
	var stats integrators.Stats

	tr := ocp.NewTrajectory(len(grid) + len(events))
	mode := e.Schedule.ModeAt(t0)
	x := x0.Clone()
	u := ctrl.Compute(x, t0)
	if !u.IsValid() {
		return res, fmt.Errorf("%w: input at t=%g", dynamo.ErrInvalidState, t0)
	}
	tr.Append(t0, x, u, mode)

	for j := 1; j < len(grid); j++ {
		ta, tb := grid[j-1], grid[j]
		sys := closedLoop{dyn: e.Problem.Variant(mode).Dynamics, ctrl: ctrl, mode: mode, t0: ta}
		x, err = integrators.Integrate(integ, sys, x, ta, tb, opts, &stats)
		if err != nil {
			res.Steps, res.Rejected = stats.Steps, stats.Rejected
			return res, fmt.Errorf("rollout on [%g, %g]: %w", ta, tb, err)
		}
		tr.Append(tb, x, evalBefore(ctrl, x, tb), mode)

		if isEvent[tb] {
			next := e.Schedule.ModeAt(tb)
			if next != mode {
				mode = next
				tr.Append(tb, x.Clone(), ctrl.Compute(x, tb), mode)
				tr.MarkEvent()
			}
		}
	}

	res.Trajectory = tr
	res.Steps, res.Rejected = stats.Steps, stats.Rejected
	return res, nil
}

// RunPartitions rolls out every partition in order, each starting from the
// exact final state of its predecessor.
func (e *Engine) RunPartitions(ctrl dynamo.Controller, parts ocp.Partitioning, x0 dynamo.State) ([]Result, error) {
	out := make([]Result, parts.Count())
	x := x0
	for i := range out {
		t0, tf := parts.Span(i)
		res, err := e.Run(ctrl, t0, tf, x)
		if err != nil {
			return out, &dynamo.SolveError{Phase: dynamo.PhaseRollout, Partition: i, Wrapped: err}
		}
		out[i] = res
		x = res.FinalState()
	}
	return out, nil
}

// Trajectories extracts the partition trajectories of results.
func Trajectories(results []Result) []ocp.Trajectory {
	out := make([]ocp.Trajectory, len(results))
	for i, r := range results {
		out[i] = r.Trajectory
	}
	return out
}
