// Package lq builds linear-quadratic approximations of an optimal control
// problem along a nominal trajectory.
package lq

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/ocp"
)

// ModelData is the LQ model at one sample. Cost holds Q = Lxx, R = Luu,
// P = Lux, q = Lx, r = Lu and q0 = L with state-only equality and active
// inequality penalties already absorbed. StateInputEq is nil when the mode
// has no state-input equality constraints.
type ModelData struct {
	Time         float64
	Mode         int
	Dynamics     dynamo.LinearApproximation
	Cost         dynamo.QuadraticApproximation
	StateInputEq *dynamo.ConstraintApproximation
}

type Approximator struct {
	Problem   *ocp.Problem
	Penalties ocp.Penalties
}

func NewApproximator(p *ocp.Problem, pen ocp.Penalties) *Approximator {
	return &Approximator{Problem: p, Penalties: pen}
}

// Approximate evaluates the variant active at sample k of tr.
func (a *Approximator) Approximate(tr *ocp.Trajectory, k int) (ModelData, error) {
	t, x, u, mode := tr.Times[k], tr.States[k], tr.Inputs[k], tr.Modes[k]
	v := a.Problem.Variant(mode)
	nx, nu := a.Problem.StateDim(), a.Problem.InputDim()
	wrap := func(err error) error {
		return &dynamo.EvaluationError{Time: t, Mode: mode, Wrapped: err}
	}

	md := ModelData{Time: t, Mode: mode}
	dyn, err := v.Dynamics.LinearApproximation(t, x, u)
	if err != nil {
		return md, wrap(err)
	}
	if err := checkDynamics(dyn, nx, nu); err != nil {
		return md, wrap(err)
	}
	md.Dynamics = dyn

	cost, err := v.Cost.QuadraticApproximation(t, x, u)
	if err != nil {
		return md, wrap(err)
	}
	md.Cost = normalize(cost, nx, nu)

	if v.Constraint == nil {
		return md, nil
	}
	eq, err := v.Constraint.StateInputEquality(t, x, u)
	if err != nil {
		return md, wrap(err)
	}
	if eq.Len() > 0 {
		md.StateInputEq = eq
	}
	if a.Penalties.StateEq > 0 {
		h, err := v.Constraint.StateEquality(t, x)
		if err != nil {
			return md, wrap(err)
		}
		addStatePenalty(&md.Cost, h, a.Penalties.StateEq)
	}
	if a.Penalties.Inequality > 0 {
		g, err := v.Constraint.Inequality(t, x, u)
		if err != nil {
			return md, wrap(err)
		}
		addInequalityPenalty(&md.Cost, g, a.Penalties.Inequality)
	}
	return md, nil
}

// ApproximateRange fills out[k-from] for samples from..to-1.
func (a *Approximator) ApproximateRange(tr *ocp.Trajectory, from, to int, out []ModelData) error {
	for k := from; k < to; k++ {
		md, err := a.Approximate(tr, k)
		if err != nil {
			return err
		}
		out[k-from] = md
	}
	return nil
}

// Terminal approximates the final cost at the last sample of tr.
func (a *Approximator) Terminal(tr *ocp.Trajectory) (dynamo.QuadraticApproximation, error) {
	k := tr.Len() - 1
	t, x := tr.Times[k], tr.States[k]
	q, err := a.Problem.Final.FinalQuadraticApproximation(t, x)
	if err != nil {
		return q, &dynamo.EvaluationError{Time: t, Mode: tr.Modes[k], Wrapped: err}
	}
	nx := a.Problem.StateDim()
	out := dynamo.QuadraticApproximation{L: q.L}
	out.Lx = copyOrZeroVec(q.Lx, nx)
	out.Lxx = symmetrized(q.Lxx, nx, nx)
	return out, nil
}

func checkDynamics(d dynamo.LinearApproximation, nx, nu int) error {
	if d.A == nil || d.B == nil || d.F == nil {
		return fmt.Errorf("%w: incomplete linear approximation", dynamo.ErrDimensionMismatch)
	}
	ar, ac := d.A.Dims()
	br, bc := d.B.Dims()
	if ar != nx || ac != nx || br != nx || bc != nu || d.F.Len() != nx {
		return fmt.Errorf("%w: A %dx%d, B %dx%d, f %d for %d states %d inputs",
			dynamo.ErrDimensionMismatch, ar, ac, br, bc, d.F.Len(), nx, nu)
	}
	return nil
}

// normalize copies q so that later penalty updates never touch model-owned
// matrices, symmetrizes the Hessians and fills absent terms with zeros.
func normalize(q dynamo.QuadraticApproximation, nx, nu int) dynamo.QuadraticApproximation {
	out := dynamo.QuadraticApproximation{L: q.L}
	out.Lx = copyOrZeroVec(q.Lx, nx)
	out.Lu = copyOrZeroVec(q.Lu, nu)
	out.Lxx = symmetrized(q.Lxx, nx, nx)
	out.Luu = symmetrized(q.Luu, nu, nu)
	if q.Lux != nil {
		out.Lux = mat.DenseCopyOf(q.Lux)
	} else {
		out.Lux = mat.NewDense(nu, nx, nil)
	}
	return out
}

func copyOrZeroVec(v *mat.VecDense, n int) *mat.VecDense {
	if v == nil {
		return mat.NewVecDense(n, nil)
	}
	return mat.VecDenseCopyOf(v)
}

func symmetrized(m *mat.Dense, r, c int) *mat.Dense {
	if m == nil {
		return mat.NewDense(r, c, nil)
	}
	out := mat.NewDense(r, c, nil)
	out.Add(m, m.T())
	out.Scale(0.5, out)
	return out
}

// addStatePenalty adds μ/2‖h‖² with h linearized as h0 + F dx.
func addStatePenalty(q *dynamo.QuadraticApproximation, h *dynamo.ConstraintApproximation, mu float64) {
	if h.Len() == 0 {
		return
	}
	q.L += 0.5 * mu * mat.Dot(h.Value, h.Value)
	var g mat.VecDense
	g.MulVec(h.Dx.T(), h.Value)
	q.Lx.AddScaledVec(q.Lx, mu, &g)
	var ff mat.Dense
	ff.Mul(h.Dx.T(), h.Dx)
	q.Lxx.Add(q.Lxx, scaled(mu, &ff))
}

// addInequalityPenalty adds μ/2·min(0, g)² for the rows violated at the
// nominal point.
func addInequalityPenalty(q *dynamo.QuadraticApproximation, g *dynamo.ConstraintApproximation, mu float64) {
	for i := 0; i < g.Len(); i++ {
		gi := g.Value.AtVec(i)
		if gi >= 0 {
			continue
		}
		q.L += 0.5 * mu * gi * gi
		gx := g.Dx.RawRowView(i)
		for a, va := range gx {
			q.Lx.SetVec(a, q.Lx.AtVec(a)+mu*gi*va)
			for b, vb := range gx {
				q.Lxx.Set(a, b, q.Lxx.At(a, b)+mu*va*vb)
			}
		}
		if g.Du == nil {
			continue
		}
		gu := g.Du.RawRowView(i)
		for a, va := range gu {
			q.Lu.SetVec(a, q.Lu.AtVec(a)+mu*gi*va)
			for b, vb := range gu {
				q.Luu.Set(a, b, q.Luu.At(a, b)+mu*va*vb)
			}
			for b, vb := range gx {
				q.Lux.Set(a, b, q.Lux.At(a, b)+mu*va*vb)
			}
		}
	}
}

func scaled(s float64, m *mat.Dense) *mat.Dense {
	m.Scale(s, m)
	return m
}
