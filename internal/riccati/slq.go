package riccati

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/integrators"
)

// riccatiSystem is the flattened Riccati ODE on one sample interval in
// reversed time τ = t1 - t. The right-hand side blends the right-hand sides
// of the two bounding stages, which stays valid when their null-space bases
// differ.
type riccatiSystem struct {
	lo, hi     *Stage
	chLo, chHi *mat.Cholesky
	t0, t1     float64
}

func (r riccatiSystem) Derive(y dynamo.State, tau float64) (dynamo.State, error) {
	nx := r.lo.Nx
	v := unflatten(nx, y)
	w := (r.t1 - tau - r.t0) / (r.t1 - r.t0)
	w = math.Min(1, math.Max(0, w))
	lo, err := r.lo.rhs(v, r.chLo)
	if err != nil || w == 0 {
		return lo, err
	}
	hi, err := r.hi.rhs(v, r.chHi)
	if err != nil {
		return nil, err
	}
	for i := range lo {
		lo[i] = (1-w)*lo[i] + w*hi[i]
	}
	return lo, nil
}

// rhs evaluates
//
//	-dS/dt  = Q + AᵀS + SA - MᵀR⁻¹M,       M = P + BᵀS
//	-ds/dt  = q + Aᵀs + S·b - MᵀR⁻¹g,      g = r + Bᵀs
//	-ds0/dt = q0 + sᵀb - ½ gᵀR⁻¹g
func (st *Stage) rhs(v Value, ch *mat.Cholesky) (dynamo.State, error) {
	nx := st.Nx
	out := make(dynamo.State, nx*nx+nx+1)

	var as mat.Dense
	as.Mul(st.A.T(), v.S)
	ds := mat.NewDense(nx, nx, out[:nx*nx])
	ds.Add(&as, as.T())
	ds.Add(ds, st.Q)

	dsv := mat.NewVecDense(nx, out[nx*nx:nx*nx+nx])
	dsv.MulVec(st.A.T(), v.Sv)
	dsv.AddVec(dsv, st.Qv)
	ds0 := st.Q0
	if st.Bias != nil {
		var sb mat.VecDense
		sb.MulVec(v.S, st.Bias)
		dsv.AddVec(dsv, &sb)
		ds0 += mat.Dot(v.Sv, st.Bias)
	}

	if st.Nv > 0 {
		m := mat.NewDense(st.Nv, nx, nil)
		m.Mul(st.B.T(), v.S)
		m.Add(m, st.P)
		g := mat.NewVecDense(st.Nv, nil)
		g.MulVec(st.B.T(), v.Sv)
		g.AddVec(g, st.Rv)

		var rm mat.Dense
		if err := ch.SolveTo(&rm, m); err != nil {
			return nil, fmt.Errorf("%w: %v", dynamo.ErrIndefiniteHessian, err)
		}
		var rg mat.VecDense
		if err := ch.SolveVecTo(&rg, g); err != nil {
			return nil, fmt.Errorf("%w: %v", dynamo.ErrIndefiniteHessian, err)
		}

		var mrm mat.Dense
		mrm.Mul(m.T(), &rm)
		ds.Sub(ds, &mrm)
		var mrg mat.VecDense
		mrg.MulVec(m.T(), &rg)
		dsv.SubVec(dsv, &mrg)
		ds0 -= 0.5 * mat.Dot(g, &rg)
	}
	out[nx*nx+nx] = ds0
	return out, nil
}

func solveContinuous(cfg Settings, p *Partition, boundary Value, mu float64) error {
	n := len(p.Stages)
	nx := p.Stages[0].Nx

	chols := make([]*mat.Cholesky, n)
	for k := range p.Stages {
		st := &p.Stages[k]
		if st.Nv == 0 {
			continue
		}
		ch, err := factorize(st.R, mu)
		if err != nil {
			return fmt.Errorf("t=%g: %w", st.Time, err)
		}
		chols[k] = ch
	}

	p.Values[n-1] = boundary.Clone()
	y := p.Values[n-1].flatten(nil)

	duration := p.Stages[n-1].Time - p.Stages[0].Time
	opts := integrators.Options{
		Tolerance:   cfg.Tolerance,
		InitialStep: cfg.TimeStep,
		MaxSteps:    integrators.StepBudget(cfg.MaxStepsPerSecond, duration),
	}
	var stats integrators.Stats
	rk := integrators.NewRK45()

	for k := n - 2; k >= 0; k-- {
		t0, t1 := p.Stages[k].Time, p.Stages[k+1].Time
		if t1 > t0 {
			sys := riccatiSystem{
				lo: &p.Stages[k], hi: &p.Stages[k+1],
				chLo: chols[k], chHi: chols[k+1],
				t0: t0, t1: t1,
			}
			var err error
			y, err = integrators.Integrate(rk, sys, y, 0, t1-t0, opts, &stats)
			if err != nil {
				return fmt.Errorf("riccati integration on [%g, %g]: %w", t0, t1, err)
			}
		}
		p.Values[k] = unflatten(nx, y)
		if !validValue(p.Values[k]) {
			return fmt.Errorf("%w: value function diverged at t=%g", dynamo.ErrInvalidState, t0)
		}
		y = p.Values[k].flatten(nil)
	}
	return nil
}
