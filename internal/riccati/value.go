package riccati

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Value is the quadratic value function V(δx) = s0 + sᵀδx + ½ δxᵀSδx.
type Value struct {
	S  *mat.Dense
	Sv *mat.VecDense
	S0 float64
}

// TerminalValue converts a final cost approximation into the boundary value
// of the last partition.
func TerminalValue(q dynamo.QuadraticApproximation) Value {
	s := mat.DenseCopyOf(q.Lxx)
	symmetrize(s)
	return Value{S: s, Sv: mat.VecDenseCopyOf(q.Lx), S0: q.L}
}

func (v Value) Clone() Value {
	return Value{S: mat.DenseCopyOf(v.S), Sv: mat.VecDenseCopyOf(v.Sv), S0: v.S0}
}

// flatten packs [vec S, s, s0] row-major into dst.
func (v Value) flatten(dst []float64) []float64 {
	n, _ := v.S.Dims()
	if cap(dst) < n*n+n+1 {
		dst = make([]float64, n*n+n+1)
	}
	dst = dst[:n*n+n+1]
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			dst[i*n+j] = v.S.At(i, j)
		}
	}
	for i := 0; i < n; i++ {
		dst[n*n+i] = v.Sv.AtVec(i)
	}
	dst[n*n+n] = v.S0
	return dst
}

func unflatten(n int, y []float64) Value {
	s := mat.NewDense(n, n, append([]float64(nil), y[:n*n]...))
	symmetrize(s)
	return Value{
		S:  s,
		Sv: mat.NewVecDense(n, append([]float64(nil), y[n*n:n*n+n]...)),
		S0: y[n*n+n],
	}
}
