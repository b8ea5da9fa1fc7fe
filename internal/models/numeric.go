package models

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

type FlowFunc func(t float64, x dynamo.State, u dynamo.Control) (dynamo.State, error)

// NumericDynamics wraps a flow map and derives its Jacobians by central
// differences.
type NumericDynamics struct {
	Nx, Nu int
	F      FlowFunc
	Eps    float64
}

func NewNumericDynamics(nx, nu int, f FlowFunc) *NumericDynamics {
	return &NumericDynamics{Nx: nx, Nu: nu, F: f, Eps: 1e-6}
}

func (n *NumericDynamics) StateDim() int { return n.Nx }
func (n *NumericDynamics) InputDim() int { return n.Nu }

func (n *NumericDynamics) Flow(t float64, x dynamo.State, u dynamo.Control) (dynamo.State, error) {
	if err := dynamo.CheckDims(x, u, n.Nx, n.Nu); err != nil {
		return nil, err
	}
	return n.F(t, x, u)
}

func (n *NumericDynamics) LinearApproximation(t float64, x dynamo.State, u dynamo.Control) (dynamo.LinearApproximation, error) {
	if err := dynamo.CheckDims(x, u, n.Nx, n.Nu); err != nil {
		return dynamo.LinearApproximation{}, err
	}
	return CentralDifference(n.F, t, x, u, n.Eps)
}

// CentralDifference linearizes f around (x, u).
func CentralDifference(f FlowFunc, t float64, x dynamo.State, u dynamo.Control, eps float64) (dynamo.LinearApproximation, error) {
	f0, err := f(t, x, u)
	if err != nil {
		return dynamo.LinearApproximation{}, err
	}
	nx, nu := len(x), len(u)
	a := mat.NewDense(nx, nx, nil)
	b := mat.NewDense(nx, nu, nil)

	xp, xm := x.Clone(), x.Clone()
	for j := 0; j < nx; j++ {
		h := eps * math.Max(1, math.Abs(x[j]))
		xp[j], xm[j] = x[j]+h, x[j]-h
		fp, err := f(t, xp, u)
		if err != nil {
			return dynamo.LinearApproximation{}, err
		}
		fm, err := f(t, xm, u)
		if err != nil {
			return dynamo.LinearApproximation{}, err
		}
		for i := 0; i < nx; i++ {
			a.Set(i, j, (fp[i]-fm[i])/(2*h))
		}
		xp[j], xm[j] = x[j], x[j]
	}

	up, um := u.Clone(), u.Clone()
	for j := 0; j < nu; j++ {
		h := eps * math.Max(1, math.Abs(u[j]))
		up[j], um[j] = u[j]+h, u[j]-h
		fp, err := f(t, x, up)
		if err != nil {
			return dynamo.LinearApproximation{}, err
		}
		fm, err := f(t, x, um)
		if err != nil {
			return dynamo.LinearApproximation{}, err
		}
		for i := 0; i < nx; i++ {
			b.Set(i, j, (fp[i]-fm[i])/(2*h))
		}
		up[j], um[j] = u[j], u[j]
	}
	return dynamo.LinearApproximation{A: a, B: b, F: f0.Vec()}, nil
}
