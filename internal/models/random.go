package models

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/ocp"
)

func randomDense(rng *rand.Rand, r, c int) *mat.Dense {
	d := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d.Set(i, j, 2*rng.Float64()-1)
		}
	}
	return d
}

func randomVec(rng *rand.Rand, n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 2*rng.Float64() - 1
	}
	return v
}

func randomPD(rng *rand.Rand, n int) *mat.Dense {
	m := randomDense(rng, n, n)
	h := mat.NewDense(n, n, nil)
	h.Mul(m.T(), m)
	for i := 0; i < n; i++ {
		h.Set(i, i, h.At(i, i)+1)
	}
	return h
}

// randomJointHessian returns Q, R and P from a positive definite
// (nx+nu)-square matrix MᵀM + I, so the stage cost is strictly convex.
func randomJointHessian(rng *rand.Rand, nx, nu int) (q, r, p *mat.Dense) {
	n := nx + nu
	h := randomPD(rng, n)
	q = mat.DenseCopyOf(h.Slice(0, nx, 0, nx))
	r = mat.DenseCopyOf(h.Slice(nx, n, nx, n))
	p = mat.DenseCopyOf(h.Slice(nx, n, 0, nx))
	return q, r, p
}

// RandomLinearProblem generates a single-mode LQ problem with random stable
// or unstable dynamics, a convex tracking cost and nc state-input equality
// constraints whose input matrix has full row rank.
func RandomLinearProblem(rng *rand.Rand, nx, nu, nc int) *ocp.Problem {
	dyn := NewLinearSystem(randomDense(rng, nx, nx), randomDense(rng, nx, nu))
	dyn.Drift = mat.NewVecDense(nx, randomVec(rng, nx))

	q, r, p := randomJointHessian(rng, nx, nu)
	cost := &QuadraticCost{
		Q: q, R: r, P: p,
		XNominal: dynamo.State(randomVec(rng, nx)),
		UNominal: dynamo.Control(randomVec(rng, nu)),
	}
	final := &QuadraticFinalCost{Qf: randomPD(rng, nx), XFinal: dynamo.State(randomVec(rng, nx))}

	var constraint dynamo.Constraint
	if nc > 0 {
		if nc > nu {
			nc = nu
		}
		du := randomDense(rng, nc, nu)
		for i := 0; i < nc; i++ {
			du.Set(i, i, du.At(i, i)+3)
		}
		constraint = &LinearConstraint{InputEq: &Affine{
			Dx:     randomDense(rng, nc, nx),
			Du:     du,
			Offset: mat.NewVecDense(nc, randomVec(rng, nc)),
		}}
	}

	return &ocp.Problem{
		Variants: []ocp.Variant{{Name: "random", Dynamics: dyn, Cost: cost, Constraint: constraint}},
		Final:    final,
		OperatingPoints: ocp.ConstantOperatingPoint{
			State: make(dynamo.State, nx),
			Input: make(dynamo.Control, nu),
		},
	}
}
