package models

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/ocp"
)

func singleMode(name string, dyn dynamo.Dynamics, cost dynamo.Cost, c dynamo.Constraint, final dynamo.FinalCost, op ocp.OperatingPoints) *ocp.Problem {
	return &ocp.Problem{
		Variants:        []ocp.Variant{{Name: name, Dynamics: dyn, Cost: cost, Constraint: c}},
		Final:           final,
		OperatingPoints: op,
	}
}

// DoubleIntegratorProblem regulates ẍ = u to the origin with Q = R = I and
// Qf = 2I.
func DoubleIntegratorProblem() *ocp.Problem {
	dyn := NewLinearSystem(
		mat.NewDense(2, 2, []float64{0, 1, 0, 0}),
		mat.NewDense(2, 1, []float64{0, 1}),
	)
	return singleMode("double-integrator", dyn,
		NewQuadraticCost(Identity(2, 1), Identity(1, 1)), nil,
		&QuadraticFinalCost{Qf: Identity(2, 2)},
		ocp.ConstantOperatingPoint{State: dynamo.State{0, 0}, Input: dynamo.Control{0}})
}

// PendulumSwingUpProblem drives the pendulum to the upright position.
func PendulumSwingUpProblem() *ocp.Problem {
	p := NewPendulum()
	upright := dynamo.State{math.Pi, 0}
	cost := &QuadraticCost{Q: Diag(10, 1), R: Diag(0.1), XNominal: upright}
	return singleMode("pendulum", p, cost, nil,
		&QuadraticFinalCost{Qf: Diag(200, 20), XFinal: upright},
		ocp.ConstantOperatingPoint{State: dynamo.State{0, 0}, Input: dynamo.Control{0}})
}

// CartPoleBalanceProblem stabilizes the pole upright over the cart origin.
func CartPoleBalanceProblem() *ocp.Problem {
	c := NewCartPole()
	cost := NewQuadraticCost(Diag(1, 0.1, 50, 1), Diag(0.05))
	return singleMode("cartpole", c, cost, nil,
		&QuadraticFinalCost{Qf: Diag(10, 1, 500, 10)},
		ocp.ConstantOperatingPoint{State: make(dynamo.State, 4), Input: dynamo.Control{0}})
}

// DroneHoverProblem flies the planar quadrotor to hover at (x, y) with
// thrusts kept within [0, 4·hover].
func DroneHoverProblem(x, y float64) *ocp.Problem {
	d := NewDrone()
	hover := d.HoverThrust()
	target := dynamo.State{x, y, 0, 0, 0, 0}
	cost := &QuadraticCost{
		Q:        Diag(10, 10, 5, 1, 1, 1),
		R:        Identity(2, 0.1),
		XNominal: target,
		UNominal: dynamo.Control{hover, hover},
	}
	return singleMode("drone", d, cost, d.ThrustLimits(4*hover),
		&QuadraticFinalCost{Qf: Diag(100, 100, 50, 10, 10, 10), XFinal: target},
		ocp.ConstantOperatingPoint{State: make(dynamo.State, 6), Input: dynamo.Control{hover, hover}})
}
