// Package riccati implements the backward pass of the DDP family: the
// continuous-time Riccati differential equation (SLQ) and the discrete
// Riccati recursion (ILQR), both on constraint-projected stages.
package riccati

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/control"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/ocp"
)

type Algorithm string

const (
	SLQ  Algorithm = "slq"
	ILQR Algorithm = "ilqr"
)

func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case SLQ, ILQR:
		return Algorithm(s), nil
	}
	return "", fmt.Errorf("unknown algorithm %q (want slq or ilqr)", s)
}

type Settings struct {
	Algorithm         Algorithm
	Tolerance         dynamo.Tolerance
	TimeStep          float64
	MaxStepsPerSecond float64
}

// Partition is the backward-pass workspace of one time partition. The
// scheduler owns one per partition and reuses it across iterations.
type Partition struct {
	Index  int
	Stages []Stage
	Values []Value

	Gains       []*mat.Dense
	Feedforward []*mat.VecDense

	// ExpectedDecrease is the predicted first-order merit decrease of a full
	// step over this partition.
	ExpectedDecrease float64
}

// Reset sizes the workspace for n samples.
func (p *Partition) Reset(n int) {
	if cap(p.Stages) < n {
		p.Stages = make([]Stage, n)
		p.Values = make([]Value, n)
		p.Gains = make([]*mat.Dense, n)
		p.Feedforward = make([]*mat.VecDense, n)
	}
	p.Stages = p.Stages[:n]
	p.Values = p.Values[:n]
	p.Gains = p.Gains[:n]
	p.Feedforward = p.Feedforward[:n]
	p.ExpectedDecrease = 0
}

// Start returns the value at the first sample, which is the boundary value
// of the preceding partition.
func (p *Partition) Start() Value {
	return p.Values[0]
}

// Solve runs the value recursion of partition p from the boundary value at
// its last sample. For ILQR the gains are computed alongside; for SLQ they
// are extracted separately by ExtractGains.
func Solve(cfg Settings, p *Partition, boundary Value, mu float64) error {
	p.ExpectedDecrease = 0
	if len(p.Stages) == 0 {
		return nil
	}
	switch cfg.Algorithm {
	case ILQR:
		return solveDiscrete(p, boundary, mu)
	default:
		return solveContinuous(cfg, p, boundary, mu)
	}
}

// ExtractGains computes the SLQ feedback and feedforward at every sample
// from the stored value function. It is a no-op for ILQR.
func ExtractGains(cfg Settings, p *Partition, mu float64) error {
	if cfg.Algorithm == ILQR {
		return nil
	}
	decrease := make([]float64, len(p.Stages))
	for k := range p.Stages {
		st := &p.Stages[k]
		kv, ffv, dec, err := st.continuousGains(p.Values[k], mu)
		if err != nil {
			return err
		}
		p.Gains[k], p.Feedforward[k] = st.lift(kv, ffv)
		decrease[k] = dec
	}
	p.ExpectedDecrease = 0
	for k := 0; k+1 < len(p.Stages); k++ {
		dt := p.Stages[k+1].Time - p.Stages[k].Time
		p.ExpectedDecrease += 0.5 * dt * (decrease[k] + decrease[k+1])
	}
	return nil
}

// continuousGains returns Kv = -R⁻¹(P + BᵀS), kv = -R⁻¹(r + Bᵀs) and the
// local decrease rate -kvᵀ(r + Bᵀs).
func (st *Stage) continuousGains(v Value, mu float64) (*mat.Dense, *mat.VecDense, float64, error) {
	if st.Nv == 0 {
		return nil, nil, 0, nil
	}
	ch, err := factorize(st.R, mu)
	if err != nil {
		return nil, nil, 0, err
	}
	m := mat.NewDense(st.Nv, st.Nx, nil)
	m.Mul(st.B.T(), v.S)
	m.Add(m, st.P)
	g := mat.NewVecDense(st.Nv, nil)
	g.MulVec(st.B.T(), v.Sv)
	g.AddVec(g, st.Rv)

	kv := mat.NewDense(st.Nv, st.Nx, nil)
	if err := ch.SolveTo(kv, m); err != nil {
		return nil, nil, 0, fmt.Errorf("%w: %v", dynamo.ErrIndefiniteHessian, err)
	}
	kv.Scale(-1, kv)
	ffv := mat.NewVecDense(st.Nv, nil)
	if err := ch.SolveVecTo(ffv, g); err != nil {
		return nil, nil, 0, fmt.Errorf("%w: %v", dynamo.ErrIndefiniteHessian, err)
	}
	ffv.ScaleVec(-1, ffv)
	return kv, ffv, -mat.Dot(ffv, g), nil
}

// Controller assembles the affine policy of partition p around the nominal
// samples of tr: u = (u_nom - K·x_nom) + α·k + K·x.
func (p *Partition) Controller(tr *ocp.Trajectory) *control.LinearController {
	c := control.NewLinearController(len(p.Stages))
	for k := range p.Stages {
		kk := p.Gains[k]
		var kx mat.VecDense
		kx.MulVec(kk, tr.States[k].Vec())
		bias := tr.Inputs[k].Clone()
		for i := range bias {
			bias[i] -= kx.AtVec(i)
		}
		ff := make(dynamo.Control, p.Feedforward[k].Len())
		for i := range ff {
			ff[i] = p.Feedforward[k].AtVec(i)
		}
		c.Append(tr.Times[k], kk, bias, ff)
	}
	return c
}

func validValue(v Value) bool {
	if math.IsNaN(v.S0) || math.IsInf(v.S0, 0) {
		return false
	}
	for _, x := range v.S.RawMatrix().Data {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
