package models

import (
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// CartPole state is [pos, vel, theta, omega] with theta = 0 upright; the
// input is the horizontal force on the cart.
type CartPole struct {
	CartMass   float64
	PoleMass   float64
	PoleLength float64
	Gravity    float64
}

func NewCartPole() *CartPole {
	return &CartPole{
		CartMass:   1.0,
		PoleMass:   0.1,
		PoleLength: 1.0,
		Gravity:    9.81,
	}
}

func (c *CartPole) StateDim() int { return 4 }
func (c *CartPole) InputDim() int { return 1 }

func (c *CartPole) Flow(t float64, x dynamo.State, u dynamo.Control) (dynamo.State, error) {
	if err := dynamo.CheckDims(x, u, 4, 1); err != nil {
		return nil, err
	}
	vel := x[1]
	theta := x[2]
	omega := x[3]
	force := u[0]

	mc := c.CartMass
	mp := c.PoleMass
	l := c.PoleLength
	g := c.Gravity

	sint := math.Sin(theta)
	cost := math.Cos(theta)

	temp := (force + mp*l*omega*omega*sint) / (mc + mp)
	thetaacc := (g*sint - cost*temp) / (l * (4.0/3.0 - mp*cost*cost/(mc+mp)))
	xacc := temp - mp*l*thetaacc*cost/(mc+mp)

	return dynamo.State{vel, xacc, omega, thetaacc}, nil
}

func (c *CartPole) LinearApproximation(t float64, x dynamo.State, u dynamo.Control) (dynamo.LinearApproximation, error) {
	if err := dynamo.CheckDims(x, u, 4, 1); err != nil {
		return dynamo.LinearApproximation{}, err
	}
	return CentralDifference(c.Flow, t, x, u, 1e-6)
}
