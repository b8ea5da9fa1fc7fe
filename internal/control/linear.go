package control

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// LinearController is a time-indexed affine feedback policy
//
//	u(t, x) = Bias(t) + Step·Delta(t) + Gains(t)·x
//
// sampled at Times and linearly interpolated in between. Times may repeat at
// mode events; a query at an event time uses the post-event sample.
type LinearController struct {
	Times []float64
	Gains []*mat.Dense
	Bias  []dynamo.Control
	Delta []dynamo.Control
	Step  float64
}

func NewLinearController(capacity int) *LinearController {
	return &LinearController{
		Times: make([]float64, 0, capacity),
		Gains: make([]*mat.Dense, 0, capacity),
		Bias:  make([]dynamo.Control, 0, capacity),
		Delta: make([]dynamo.Control, 0, capacity),
		Step:  1,
	}
}

// NewOpenLoop returns a controller with zero feedback that replays inputs.
func NewOpenLoop(times []float64, inputs []dynamo.Control, stateDim int) *LinearController {
	c := NewLinearController(len(times))
	for i, t := range times {
		nu := len(inputs[i])
		c.Append(t, mat.NewDense(nu, stateDim, nil), inputs[i].Clone(), make(dynamo.Control, nu))
	}
	return c
}

func (c *LinearController) Len() int { return len(c.Times) }

func (c *LinearController) Append(t float64, k *mat.Dense, bias, delta dynamo.Control) {
	c.Times = append(c.Times, t)
	c.Gains = append(c.Gains, k)
	c.Bias = append(c.Bias, bias)
	c.Delta = append(c.Delta, delta)
}

// WithStep returns a copy scaling the feedforward update by alpha. Sample
// data is shared.
func (c *LinearController) WithStep(alpha float64) *LinearController {
	out := *c
	out.Step = alpha
	return &out
}

// Sample evaluates the policy at sample i.
func (c *LinearController) Sample(i int, x dynamo.State) dynamo.Control {
	u := make(dynamo.Control, len(c.Bias[i]))
	uv := u.Vec()
	uv.MulVec(c.Gains[i], x.Vec())
	for j := range u {
		u[j] += c.Bias[i][j] + c.Step*c.Delta[i][j]
	}
	return u
}

func (c *LinearController) Compute(x dynamo.State, t float64) dynamo.Control {
	i, w := dynamo.Locate(c.Times, t)
	if i < 0 {
		return nil
	}
	u := c.Sample(i, x)
	if w == 0 || i+1 >= len(c.Times) {
		return u
	}
	return dynamo.Lerp(u, c.Sample(i+1, x), w)
}

// ComputeBefore evaluates the left limit of the policy at t, which differs
// from Compute only at repeated event times.
func (c *LinearController) ComputeBefore(x dynamo.State, t float64) dynamo.Control {
	i, w := dynamo.LocateLeft(c.Times, t)
	if i < 0 {
		return nil
	}
	u := c.Sample(i, x)
	if w == 0 || i+1 >= len(c.Times) {
		return u
	}
	return dynamo.Lerp(u, c.Sample(i+1, x), w)
}

// Flatten folds the step into the bias, yielding an equivalent controller
// with Step 1 and zero Delta.
func (c *LinearController) Flatten() *LinearController {
	out := NewLinearController(c.Len())
	for i, t := range c.Times {
		b := c.Bias[i].Clone()
		for j := range b {
			b[j] += c.Step * c.Delta[i][j]
		}
		out.Append(t, c.Gains[i], b, make(dynamo.Control, len(b)))
	}
	return out
}

// Concatenate joins per-partition controllers into one policy. Boundary
// samples are kept on both sides; lookup at a boundary resolves to the later
// partition.
func Concatenate(parts []*LinearController) *LinearController {
	total := 0
	step := 1.0
	for i, p := range parts {
		total += p.Len()
		if i == 0 {
			step = p.Step
		}
	}
	out := NewLinearController(total)
	out.Step = step
	for _, p := range parts {
		out.Times = append(out.Times, p.Times...)
		out.Gains = append(out.Gains, p.Gains...)
		out.Bias = append(out.Bias, p.Bias...)
		out.Delta = append(out.Delta, p.Delta...)
	}
	return out
}
