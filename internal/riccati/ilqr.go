package riccati

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// solveDiscrete runs the ILQR recursion with Ad = I + dt·A, Bd = dt·B and
// dt-scaled costs. Zero-length intervals and the last sample pass the value
// through and use the continuous-limit gains.
func solveDiscrete(p *Partition, boundary Value, mu float64) error {
	n := len(p.Stages)
	next := boundary.Clone()
	p.Values[n-1] = next
	if err := p.limitGains(n-1, mu); err != nil {
		return err
	}

	for k := n - 2; k >= 0; k-- {
		st := &p.Stages[k]
		dt := p.Stages[k+1].Time - st.Time
		if dt <= 0 {
			p.Values[k] = next
			if err := p.limitGains(k, mu); err != nil {
				return err
			}
			continue
		}
		v, kv, ffv, dec, err := st.discreteStep(next, dt, mu)
		if err != nil {
			return fmt.Errorf("t=%g: %w", st.Time, err)
		}
		if !validValue(v) {
			return fmt.Errorf("%w: value function diverged at t=%g", dynamo.ErrInvalidState, st.Time)
		}
		p.Values[k] = v
		p.Gains[k], p.Feedforward[k] = st.lift(kv, ffv)
		p.ExpectedDecrease += dec
		next = v
	}
	return nil
}

func (p *Partition) limitGains(k int, mu float64) error {
	st := &p.Stages[k]
	kv, ffv, _, err := st.continuousGains(p.Values[k], mu)
	if err != nil {
		return fmt.Errorf("t=%g: %w", st.Time, err)
	}
	p.Gains[k], p.Feedforward[k] = st.lift(kv, ffv)
	return nil
}

func (st *Stage) discreteStep(next Value, dt, mu float64) (Value, *mat.Dense, *mat.VecDense, float64, error) {
	nx := st.Nx
	ad := mat.NewDense(nx, nx, nil)
	ad.Scale(dt, st.A)
	for i := 0; i < nx; i++ {
		ad.Set(i, i, ad.At(i, i)+1)
	}

	// sb = s' + S'·bd
	sb := mat.VecDenseCopyOf(next.Sv)
	h0 := dt*st.Q0 + next.S0
	if st.Bias != nil {
		bd := mat.NewVecDense(nx, nil)
		bd.ScaleVec(dt, st.Bias)
		var sbd mat.VecDense
		sbd.MulVec(next.S, bd)
		h0 += mat.Dot(next.Sv, bd) + 0.5*mat.Dot(bd, &sbd)
		sb.AddVec(sb, &sbd)
	}

	var sad mat.Dense
	sad.Mul(next.S, ad)
	hxx := mat.NewDense(nx, nx, nil)
	hxx.Mul(ad.T(), &sad)
	var qd mat.Dense
	qd.Scale(dt, st.Q)
	hxx.Add(hxx, &qd)

	hx := mat.NewVecDense(nx, nil)
	hx.MulVec(ad.T(), sb)
	hx.AddScaledVec(hx, dt, st.Qv)

	if st.Nv == 0 {
		symmetrize(hxx)
		return Value{S: hxx, Sv: hx, S0: h0}, nil, nil, 0, nil
	}

	nv := st.Nv
	bd := mat.NewDense(nx, nv, nil)
	bd.Scale(dt, st.B)

	var sbd mat.Dense
	sbd.Mul(next.S, bd)
	huu := mat.NewDense(nv, nv, nil)
	huu.Mul(bd.T(), &sbd)
	var rd mat.Dense
	rd.Scale(dt, st.R)
	huu.Add(huu, &rd)

	hux := mat.NewDense(nv, nx, nil)
	hux.Mul(bd.T(), &sad)
	var pd mat.Dense
	pd.Scale(dt, st.P)
	hux.Add(hux, &pd)

	hu := mat.NewVecDense(nv, nil)
	hu.MulVec(bd.T(), sb)
	hu.AddScaledVec(hu, dt, st.Rv)

	ch, err := factorize(huu, dt*mu)
	if err != nil {
		return Value{}, nil, nil, 0, err
	}
	kv := mat.NewDense(nv, nx, nil)
	if err := ch.SolveTo(kv, hux); err != nil {
		return Value{}, nil, nil, 0, fmt.Errorf("%w: %v", dynamo.ErrIndefiniteHessian, err)
	}
	kv.Scale(-1, kv)
	ffv := mat.NewVecDense(nv, nil)
	if err := ch.SolveVecTo(ffv, hu); err != nil {
		return Value{}, nil, nil, 0, fmt.Errorf("%w: %v", dynamo.ErrIndefiniteHessian, err)
	}
	ffv.ScaleVec(-1, ffv)

	// S = Hxx + KᵀHuuK + KᵀHux + HuxᵀK
	var huuK mat.Dense
	huuK.Mul(huu, kv)
	s := mat.NewDense(nx, nx, nil)
	s.Mul(kv.T(), &huuK)
	var kHux mat.Dense
	kHux.Mul(kv.T(), hux)
	s.Add(s, &kHux)
	s.Add(s, kHux.T())
	s.Add(s, hxx)
	symmetrize(s)

	// s = hx + KᵀHuu·k + Kᵀhu + Huxᵀk
	var huuk mat.VecDense
	huuk.MulVec(huu, ffv)
	sv := mat.NewVecDense(nx, nil)
	var tmp mat.VecDense
	tmp.AddVec(&huuk, hu)
	sv.MulVec(kv.T(), &tmp)
	tmp.Reset()
	tmp.MulVec(hux.T(), ffv)
	sv.AddVec(sv, &tmp)
	sv.AddVec(sv, hx)

	s0 := h0 + mat.Dot(ffv, hu) + 0.5*mat.Dot(ffv, &huuk)
	return Value{S: s, Sv: sv, S0: s0}, kv, ffv, -mat.Dot(ffv, hu), nil
}
