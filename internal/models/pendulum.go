package models

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Pendulum state is [theta, omega] with theta = 0 hanging down; the input is
// the joint torque.
type Pendulum struct {
	Mass    float64
	Length  float64
	Damping float64
	Gravity float64
}

func NewPendulum() *Pendulum {
	return &Pendulum{
		Mass:    1.0,
		Length:  1.0,
		Damping: 0.1,
		Gravity: 9.81,
	}
}

func (p *Pendulum) StateDim() int { return 2 }
func (p *Pendulum) InputDim() int { return 1 }

func (p *Pendulum) Flow(t float64, x dynamo.State, u dynamo.Control) (dynamo.State, error) {
	if err := dynamo.CheckDims(x, u, 2, 1); err != nil {
		return nil, err
	}
	theta := x[0]
	omega := x[1]
	inertia := p.Mass * p.Length * p.Length
	alpha := (-p.Damping*omega - p.Mass*p.Gravity*p.Length*math.Sin(theta) + u[0]) / inertia

	return dynamo.State{omega, alpha}, nil
}

func (p *Pendulum) LinearApproximation(t float64, x dynamo.State, u dynamo.Control) (dynamo.LinearApproximation, error) {
	f, err := p.Flow(t, x, u)
	if err != nil {
		return dynamo.LinearApproximation{}, err
	}
	inertia := p.Mass * p.Length * p.Length
	a := mat.NewDense(2, 2, []float64{
		0, 1,
		-p.Gravity / p.Length * math.Cos(x[0]), -p.Damping / inertia,
	})
	b := mat.NewDense(2, 1, []float64{0, 1 / inertia})
	return dynamo.LinearApproximation{A: a, B: b, F: f.Vec()}, nil
}

func (p *Pendulum) Energy(x dynamo.State) float64 {
	v := p.Length * x[1]
	ke := 0.5 * p.Mass * v * v
	pe := p.Mass * p.Gravity * p.Length * (1.0 - math.Cos(x[0]))
	return ke + pe
}
