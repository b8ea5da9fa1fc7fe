package models

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/ocp"
)

// QuadraticCost is
//
//	L = ½ δxᵀQ δx + ½ δuᵀR δu + δuᵀP δx,  δx = x - x*(t), δu = u - u*(t)
//
// where the desired point comes from Reference when set, otherwise from
// XNominal and UNominal (zero when nil). P may be nil.
type QuadraticCost struct {
	Q, R, P   *mat.Dense
	XNominal  dynamo.State
	UNominal  dynamo.Control
	Reference *ocp.Reference
}

func NewQuadraticCost(q, r *mat.Dense) *QuadraticCost {
	return &QuadraticCost{Q: q, R: r}
}

func (c *QuadraticCost) deviation(t float64, x dynamo.State, u dynamo.Control) (*mat.VecDense, *mat.VecDense) {
	xd, ud := c.XNominal, c.UNominal
	if c.Reference != nil {
		xd = c.Reference.StateAt(t)
		if in := c.Reference.InputAt(t); in != nil {
			ud = in
		}
	}
	dx := mat.VecDenseCopyOf(x.Vec())
	if xd != nil {
		dx.SubVec(dx, xd.Vec())
	}
	du := mat.VecDenseCopyOf(u.Vec())
	if ud != nil {
		du.SubVec(du, ud.Vec())
	}
	return dx, du
}

func (c *QuadraticCost) Cost(t float64, x dynamo.State, u dynamo.Control) (float64, error) {
	dx, du := c.deviation(t, x, u)
	l := 0.5*mat.Inner(dx, c.Q, dx) + 0.5*mat.Inner(du, c.R, du)
	if c.P != nil {
		l += mat.Inner(du, c.P, dx)
	}
	return l, nil
}

func (c *QuadraticCost) QuadraticApproximation(t float64, x dynamo.State, u dynamo.Control) (dynamo.QuadraticApproximation, error) {
	dx, du := c.deviation(t, x, u)
	l, _ := c.Cost(t, x, u)

	lx := mat.NewVecDense(dx.Len(), nil)
	lx.MulVec(c.Q, dx)
	lu := mat.NewVecDense(du.Len(), nil)
	lu.MulVec(c.R, du)
	lux := c.P
	if c.P != nil {
		var tmp mat.VecDense
		tmp.MulVec(c.P.T(), du)
		lx.AddVec(lx, &tmp)
		tmp.Reset()
		tmp.MulVec(c.P, dx)
		lu.AddVec(lu, &tmp)
	} else {
		lux = mat.NewDense(du.Len(), dx.Len(), nil)
	}
	return dynamo.QuadraticApproximation{L: l, Lx: lx, Lu: lu, Lxx: c.Q, Luu: c.R, Lux: lux}, nil
}

// QuadraticFinalCost is Φ = ½ (x - XFinal)ᵀ Qf (x - XFinal).
type QuadraticFinalCost struct {
	Qf     *mat.Dense
	XFinal dynamo.State
}

func (c *QuadraticFinalCost) deviation(x dynamo.State) *mat.VecDense {
	dx := mat.VecDenseCopyOf(x.Vec())
	if c.XFinal != nil {
		dx.SubVec(dx, c.XFinal.Vec())
	}
	return dx
}

func (c *QuadraticFinalCost) FinalCost(t float64, x dynamo.State) (float64, error) {
	dx := c.deviation(x)
	return 0.5 * mat.Inner(dx, c.Qf, dx), nil
}

func (c *QuadraticFinalCost) FinalQuadraticApproximation(t float64, x dynamo.State) (dynamo.QuadraticApproximation, error) {
	dx := c.deviation(x)
	lx := mat.NewVecDense(dx.Len(), nil)
	lx.MulVec(c.Qf, dx)
	return dynamo.QuadraticApproximation{L: 0.5 * mat.Dot(dx, lx), Lx: lx, Lxx: c.Qf}, nil
}

// Diag builds a diagonal matrix.
func Diag(values ...float64) *mat.Dense {
	n := len(values)
	d := mat.NewDense(n, n, nil)
	for i, v := range values {
		d.Set(i, i, v)
	}
	return d
}

// Identity returns s·I of size n.
func Identity(n int, s float64) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, s)
	}
	return d
}
