package control

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// LQR applies constant feedback u = Input + K·(x - Target).
type LQR struct {
	K      *mat.Dense
	Target dynamo.State
	Input  dynamo.Control
}

func NewLQR(k *mat.Dense, target dynamo.State, input dynamo.Control) *LQR {
	return &LQR{K: k, Target: target, Input: input}
}

// FreezeAt builds an LQR from the gain of c at time t, regulating around the
// point (x, u) of the nominal solution.
func FreezeAt(c *LinearController, t float64, x dynamo.State) *LQR {
	i, _ := dynamo.Locate(c.Times, t)
	k := mat.DenseCopyOf(c.Gains[i])
	return NewLQR(k, x.Clone(), c.Sample(i, x))
}

func (l *LQR) Compute(x dynamo.State, t float64) dynamo.Control {
	u := l.Input.Clone()
	dx := x.Sub(l.Target)
	var du mat.VecDense
	du.MulVec(l.K, dx.Vec())
	for i := range u {
		u[i] += du.AtVec(i)
	}
	return u
}
