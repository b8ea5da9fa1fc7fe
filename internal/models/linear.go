package models

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// LinearSystem is dx/dt = A x + B u + Drift. Returned approximations share
// A and B, which callers must treat as read-only.
type LinearSystem struct {
	A     *mat.Dense
	B     *mat.Dense
	Drift *mat.VecDense
}

func NewLinearSystem(a, b *mat.Dense) *LinearSystem {
	return &LinearSystem{A: a, B: b}
}

func (l *LinearSystem) StateDim() int {
	r, _ := l.A.Dims()
	return r
}

func (l *LinearSystem) InputDim() int {
	_, c := l.B.Dims()
	return c
}

func (l *LinearSystem) Flow(t float64, x dynamo.State, u dynamo.Control) (dynamo.State, error) {
	if err := dynamo.CheckDims(x, u, l.StateDim(), l.InputDim()); err != nil {
		return nil, err
	}
	dx := make(dynamo.State, len(x))
	v := dx.Vec()
	v.MulVec(l.A, x.Vec())
	var bu mat.VecDense
	bu.MulVec(l.B, u.Vec())
	v.AddVec(v, &bu)
	if l.Drift != nil {
		v.AddVec(v, l.Drift)
	}
	return dx, nil
}

func (l *LinearSystem) LinearApproximation(t float64, x dynamo.State, u dynamo.Control) (dynamo.LinearApproximation, error) {
	f, err := l.Flow(t, x, u)
	if err != nil {
		return dynamo.LinearApproximation{}, err
	}
	return dynamo.LinearApproximation{A: l.A, B: l.B, F: f.Vec()}, nil
}

// Affine is the vector function Dx x + Du u + Offset. Du is nil for
// state-only functions.
type Affine struct {
	Dx     *mat.Dense
	Du     *mat.Dense
	Offset *mat.VecDense
}

func (a *Affine) Rows() int {
	if a == nil {
		return 0
	}
	r, _ := a.Dx.Dims()
	return r
}

func (a *Affine) Evaluate(x dynamo.State, u dynamo.Control) *dynamo.ConstraintApproximation {
	if a.Rows() == 0 {
		return nil
	}
	v := mat.NewVecDense(a.Rows(), nil)
	v.MulVec(a.Dx, x.Vec())
	if a.Du != nil {
		var du mat.VecDense
		du.MulVec(a.Du, u.Vec())
		v.AddVec(v, &du)
	}
	if a.Offset != nil {
		v.AddVec(v, a.Offset)
	}
	return &dynamo.ConstraintApproximation{Value: v, Dx: a.Dx, Du: a.Du}
}

// LinearConstraint holds affine constraints: InputEq = 0, StateEq = 0 and
// Ineq >= 0. Any of them may be nil.
type LinearConstraint struct {
	InputEq *Affine
	StateEq *Affine
	Ineq    *Affine
}

func (c *LinearConstraint) StateInputEquality(t float64, x dynamo.State, u dynamo.Control) (*dynamo.ConstraintApproximation, error) {
	return c.InputEq.Evaluate(x, u), nil
}

func (c *LinearConstraint) StateEquality(t float64, x dynamo.State) (*dynamo.ConstraintApproximation, error) {
	return c.StateEq.Evaluate(x, nil), nil
}

func (c *LinearConstraint) Inequality(t float64, x dynamo.State, u dynamo.Control) (*dynamo.ConstraintApproximation, error) {
	return c.Ineq.Evaluate(x, u), nil
}
