package ocp

import (
	"github.com/san-kum/dynopt/internal/control"
	"github.com/san-kum/dynopt/internal/dynamo"
)

type Status string

const (
	StatusConverged     Status = "converged"
	StatusMaxIterations Status = "max-iterations"
	StatusFailed        Status = "failed"
	StatusCanceled      Status = "canceled"
)

// PrimalSolution is the result consumed by MPC and the CLI. It is returned
// by value and never mutated by the solver afterwards.
type PrimalSolution struct {
	Trajectory  Trajectory
	Controller  *control.LinearController
	Performance PerformanceIndex
	Schedule    ModeSchedule
	Status      Status
	Iterations  int
}

func (s PrimalSolution) Empty() bool {
	return s.Controller == nil || s.Trajectory.Len() == 0
}

// Policy returns the controller as a dynamo.Controller.
func (s PrimalSolution) Policy() dynamo.Controller {
	return s.Controller
}

// Reference is a desired state/input trajectory tracked by a cost.
type Reference struct {
	Times  []float64
	States []dynamo.State
	Inputs []dynamo.Control
}

func (r *Reference) StateAt(t float64) dynamo.State {
	i, w := dynamo.Locate(r.Times, t)
	if i < 0 {
		return nil
	}
	if w == 0 || i+1 >= len(r.States) {
		return r.States[i].Clone()
	}
	return dynamo.Lerp(r.States[i], r.States[i+1], w)
}

func (r *Reference) InputAt(t float64) dynamo.Control {
	i, w := dynamo.Locate(r.Times, t)
	if i < 0 || len(r.Inputs) == 0 {
		return nil
	}
	if w == 0 || i+1 >= len(r.Inputs) {
		return r.Inputs[i].Clone()
	}
	return dynamo.Lerp(r.Inputs[i], r.Inputs[i+1], w)
}
