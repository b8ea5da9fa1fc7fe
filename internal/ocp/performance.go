package ocp

import (
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// PerformanceIndex summarizes a trajectory. ISE terms are time integrals of
// squared constraint violations.
type PerformanceIndex struct {
	TotalCost       float64 `json:"total_cost"`
	StateInputEqISE float64 `json:"state_input_eq_ise"`
	StateEqISE      float64 `json:"state_eq_ise"`
	InequalityISE   float64 `json:"inequality_ise"`
	Merit           float64 `json:"merit"`
}

func (p PerformanceIndex) Add(o PerformanceIndex) PerformanceIndex {
	return PerformanceIndex{
		TotalCost:       p.TotalCost + o.TotalCost,
		StateInputEqISE: p.StateInputEqISE + o.StateInputEqISE,
		StateEqISE:      p.StateEqISE + o.StateEqISE,
		InequalityISE:   p.InequalityISE + o.InequalityISE,
		Merit:           p.Merit + o.Merit,
	}
}

// ConstraintISE is the total squared violation across constraint classes.
func (p PerformanceIndex) ConstraintISE() float64 {
	return p.StateInputEqISE + p.StateEqISE + p.InequalityISE
}

func (p PerformanceIndex) IsValid() bool {
	return !math.IsNaN(p.Merit) && !math.IsInf(p.Merit, 0)
}

type sampleCost struct {
	cost, eq, stateEq, ineq float64
}

func (p *Problem) sampleCost(t float64, x dynamo.State, u dynamo.Control, mode int) (sampleCost, error) {
	v := p.Variant(mode)
	var sc sampleCost
	c, err := v.Cost.Cost(t, x, u)
	if err != nil {
		return sc, &dynamo.EvaluationError{Time: t, Mode: mode, Wrapped: err}
	}
	sc.cost = c
	if v.Constraint == nil {
		return sc, nil
	}
	eq, err := v.Constraint.StateInputEquality(t, x, u)
	if err != nil {
		return sc, &dynamo.EvaluationError{Time: t, Mode: mode, Wrapped: err}
	}
	sc.eq = eq.SquaredNorm()
	seq, err := v.Constraint.StateEquality(t, x)
	if err != nil {
		return sc, &dynamo.EvaluationError{Time: t, Mode: mode, Wrapped: err}
	}
	sc.stateEq = seq.SquaredNorm()
	ineq, err := v.Constraint.Inequality(t, x, u)
	if err != nil {
		return sc, &dynamo.EvaluationError{Time: t, Mode: mode, Wrapped: err}
	}
	for i := 0; i < ineq.Len(); i++ {
		if g := ineq.Value.AtVec(i); g < 0 {
			sc.ineq += g * g
		}
	}
	return sc, nil
}

// Evaluate integrates the running cost and constraint violations of tr with
// the trapezoidal rule. Zero-length event intervals contribute nothing.
func (p *Problem) Evaluate(tr *Trajectory, pen Penalties) (PerformanceIndex, error) {
	var perf PerformanceIndex
	if tr.Len() == 0 {
		return perf, nil
	}
	prev, err := p.sampleCost(tr.Times[0], tr.States[0], tr.Inputs[0], tr.Modes[0])
	if err != nil {
		return perf, err
	}
	for k := 1; k < tr.Len(); k++ {
		cur, err := p.sampleCost(tr.Times[k], tr.States[k], tr.Inputs[k], tr.Modes[k])
		if err != nil {
			return perf, err
		}
		dt := tr.Times[k] - tr.Times[k-1]
		if dt > 0 {
			perf.TotalCost += 0.5 * dt * (prev.cost + cur.cost)
			perf.StateInputEqISE += 0.5 * dt * (prev.eq + cur.eq)
			perf.StateEqISE += 0.5 * dt * (prev.stateEq + cur.stateEq)
			perf.InequalityISE += 0.5 * dt * (prev.ineq + cur.ineq)
		}
		prev = cur
	}
	perf.Merit = merit(perf, pen)
	return perf, nil
}

// EvaluateFinal adds the terminal cost of tr to perf.
func (p *Problem) EvaluateFinal(tr *Trajectory, perf PerformanceIndex) (PerformanceIndex, error) {
	if tr.Len() == 0 {
		return perf, nil
	}
	phi, err := p.Final.FinalCost(tr.FinalTime(), tr.FinalState())
	if err != nil {
		return perf, &dynamo.EvaluationError{Time: tr.FinalTime(), Mode: tr.Modes[tr.Len()-1], Wrapped: err}
	}
	perf.TotalCost += phi
	perf.Merit += phi
	return perf, nil
}

func merit(perf PerformanceIndex, pen Penalties) float64 {
	return perf.TotalCost +
		0.5*pen.StateInputEq*perf.StateInputEqISE +
		0.5*pen.StateEq*perf.StateEqISE +
		0.5*pen.Inequality*perf.InequalityISE
}
