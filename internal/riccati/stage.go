package riccati

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/lq"
)

// Stage is the LQ model of one sample after eliminating state-input
// equality constraints. Inputs are parametrized as
//
//	δu = Pu·δx + pu + N·v
//
// and the cost and dynamics are expressed in (δx, v). Unconstrained stages
// have N = I, Pu = 0 and pu = 0, represented by nil fields. Stages with
// Nv == 0 are fully constrained and carry no R, P, Rv or B.
type Stage struct {
	Time   float64
	Mode   int
	Nx, Nu int
	Nv     int

	A    *mat.Dense
	B    *mat.Dense
	Bias *mat.VecDense

	Q  *mat.Dense
	Qv *mat.VecDense
	Q0 float64
	R  *mat.Dense
	P  *mat.Dense
	Rv *mat.VecDense

	N  *mat.Dense
	Pu *mat.Dense
	Pv *mat.VecDense
}

// Project builds the stage for one sample.
func Project(md *lq.ModelData) (Stage, error) {
	a, b := md.Dynamics.A, md.Dynamics.B
	c := md.Cost
	nx, nu := b.Dims()
	st := Stage{Time: md.Time, Mode: md.Mode, Nx: nx, Nu: nu}

	eq := md.StateInputEq
	if eq.Len() == 0 {
		st.Nv = nu
		st.A, st.B = a, b
		st.Q, st.Qv, st.Q0 = c.Lxx, c.Lx, c.L
		st.R, st.P, st.Rv = c.Luu, c.Lux, c.Lu
		return st, nil
	}

	nc := eq.Len()
	if nc > nu {
		return st, fmt.Errorf("%w: %d state-input constraints for %d inputs at t=%g",
			dynamo.ErrDimensionMismatch, nc, nu, md.Time)
	}

	// Dᵀ = [Q1 Q2]·[R1; 0]
	var dT mat.Dense
	dT.CloneFrom(eq.Du.T())
	var qr mat.QR
	qr.Factorize(&dT)
	var qm, rm mat.Dense
	qr.QTo(&qm)
	qr.RTo(&rm)
	r1 := rm.Slice(0, nc, 0, nc)
	q1 := qm.Slice(0, nu, 0, nc)
	for i := 0; i < nc; i++ {
		if math.Abs(r1.At(i, i)) < 1e-12 {
			return st, fmt.Errorf("%w: state-input constraint jacobian is rank deficient at t=%g",
				dynamo.ErrModelEvaluation, md.Time)
		}
	}

	var y mat.Dense
	if err := y.Solve(r1.T(), eq.Dx); err != nil {
		return st, fmt.Errorf("%w: constraint projection at t=%g: %v", dynamo.ErrModelEvaluation, md.Time, err)
	}
	var ye mat.VecDense
	if err := ye.SolveVec(r1.T(), eq.Value); err != nil {
		return st, fmt.Errorf("%w: constraint projection at t=%g: %v", dynamo.ErrModelEvaluation, md.Time, err)
	}

	pu := mat.NewDense(nu, nx, nil)
	pu.Mul(q1, &y)
	pu.Scale(-1, pu)
	pv := mat.NewVecDense(nu, nil)
	pv.MulVec(q1, &ye)
	pv.ScaleVec(-1, pv)
	st.Pu, st.Pv = pu, pv
	st.Nv = nu - nc

	// Ã = A + B·Pu, b = B·pu
	st.A = mat.NewDense(nx, nx, nil)
	st.A.Mul(b, pu)
	st.A.Add(st.A, a)
	st.Bias = mat.NewVecDense(nx, nil)
	st.Bias.MulVec(b, pv)

	rPu := mat.NewDense(nu, nx, nil)
	rPu.Mul(c.Luu, pu)
	rpu := mat.NewVecDense(nu, nil)
	rpu.MulVec(c.Luu, pv)

	// Q̃ = Q + PuᵀP + PᵀPu + PuᵀR·Pu
	st.Q = mat.NewDense(nx, nx, nil)
	var tmp mat.Dense
	tmp.Mul(pu.T(), c.Lux)
	st.Q.Add(c.Lxx, &tmp)
	st.Q.Add(st.Q, tmp.T())
	tmp.Reset()
	tmp.Mul(pu.T(), rPu)
	st.Q.Add(st.Q, &tmp)
	symmetrize(st.Q)

	// q̃ = q + Puᵀr + Pᵀpu + PuᵀR·pu
	st.Qv = mat.VecDenseCopyOf(c.Lx)
	var tv mat.VecDense
	tv.MulVec(pu.T(), c.Lu)
	st.Qv.AddVec(st.Qv, &tv)
	tv.Reset()
	tv.MulVec(c.Lux.T(), pv)
	st.Qv.AddVec(st.Qv, &tv)
	tv.Reset()
	tv.MulVec(pu.T(), rpu)
	st.Qv.AddVec(st.Qv, &tv)

	st.Q0 = c.L + mat.Dot(c.Lu, pv) + 0.5*mat.Dot(pv, rpu)

	if st.Nv == 0 {
		return st, nil
	}
	n := mat.DenseCopyOf(qm.Slice(0, nu, nc, nu))
	st.N = n

	st.B = mat.NewDense(nx, st.Nv, nil)
	st.B.Mul(b, n)

	var rn mat.Dense
	rn.Mul(c.Luu, n)
	st.R = mat.NewDense(st.Nv, st.Nv, nil)
	st.R.Mul(n.T(), &rn)
	symmetrize(st.R)

	var pr mat.Dense
	pr.Add(c.Lux, rPu)
	st.P = mat.NewDense(st.Nv, nx, nil)
	st.P.Mul(n.T(), &pr)

	var rr mat.VecDense
	rr.AddVec(c.Lu, rpu)
	st.Rv = mat.NewVecDense(st.Nv, nil)
	st.Rv.MulVec(n.T(), &rr)
	return st, nil
}

// ProjectRange projects every sample of mds into out.
func ProjectRange(mds []lq.ModelData, out []Stage) error {
	for k := range mds {
		st, err := Project(&mds[k])
		if err != nil {
			return err
		}
		out[k] = st
	}
	return nil
}

// lift maps projected gains back to input coordinates.
func (st *Stage) lift(kv *mat.Dense, ffv *mat.VecDense) (*mat.Dense, *mat.VecDense) {
	k := mat.NewDense(st.Nu, st.Nx, nil)
	ff := mat.NewVecDense(st.Nu, nil)
	if st.N == nil && st.Pu == nil {
		k.Copy(kv)
		ff.CopyVec(ffv)
		return k, ff
	}
	k.Copy(st.Pu)
	ff.CopyVec(st.Pv)
	if st.Nv > 0 {
		var nk mat.Dense
		nk.Mul(st.N, kv)
		k.Add(k, &nk)
		var nf mat.VecDense
		nf.MulVec(st.N, ffv)
		ff.AddVec(ff, &nf)
	}
	return k, ff
}

func symmetrize(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for j := i + 1; j < r; j++ {
			v := 0.5 * (m.At(i, j) + m.At(j, i))
			m.Set(i, j, v)
			m.Set(j, i, v)
		}
	}
}

// factorize returns the Cholesky factor of (H + Hᵀ)/2 + mu·I.
func factorize(h *mat.Dense, mu float64) (*mat.Cholesky, error) {
	n, _ := h.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.5 * (h.At(i, j) + h.At(j, i))
			if i == j {
				v += mu
			}
			sym.SetSym(i, j, v)
		}
	}
	var ch mat.Cholesky
	if ok := ch.Factorize(sym); !ok {
		return nil, dynamo.ErrIndefiniteHessian
	}
	return &ch, nil
}
