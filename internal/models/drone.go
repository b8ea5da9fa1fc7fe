package models

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

const (
	DefaultMass    = 1.0
	DefaultGravity = 9.81
)

// Drone is a planar quadrotor. State is [x, y, theta, vx, vy, omega]; the
// inputs are the left and right rotor thrusts.
type Drone struct {
	Mass, Inertia, ArmLength float64
	Gravity, DragCoeff       float64
	AngDrag                  float64
}

func NewDrone() *Drone {
	return &Drone{
		Mass:      DefaultMass,
		Inertia:   0.1,
		ArmLength: 0.25,
		Gravity:   DefaultGravity,
		DragCoeff: 0.1,
		AngDrag:   0.05,
	}
}

func (d *Drone) StateDim() int { return 6 }
func (d *Drone) InputDim() int { return 2 }

func (d *Drone) Flow(t float64, x dynamo.State, u dynamo.Control) (dynamo.State, error) {
	if err := dynamo.CheckDims(x, u, 6, 2); err != nil {
		return nil, err
	}
	theta, vx, vy, omega := x[2], x[3], x[4], x[5]
	thrustL, thrustR := u[0], u[1]

	totalThrust := thrustL + thrustR
	torque := (thrustR - thrustL) * d.ArmLength

	sin, cos := math.Sin(theta), math.Cos(theta)
	fx := -totalThrust*sin - d.DragCoeff*vx
	fy := totalThrust*cos - d.Mass*d.Gravity - d.DragCoeff*vy

	ax := fx / d.Mass
	ay := fy / d.Mass
	alpha := (torque - d.AngDrag*omega) / d.Inertia

	return dynamo.State{vx, vy, omega, ax, ay, alpha}, nil
}

func (d *Drone) LinearApproximation(t float64, x dynamo.State, u dynamo.Control) (dynamo.LinearApproximation, error) {
	f, err := d.Flow(t, x, u)
	if err != nil {
		return dynamo.LinearApproximation{}, err
	}
	theta := x[2]
	sin, cos := math.Sin(theta), math.Cos(theta)
	total := u[0] + u[1]

	a := mat.NewDense(6, 6, nil)
	a.Set(0, 3, 1)
	a.Set(1, 4, 1)
	a.Set(2, 5, 1)
	a.Set(3, 2, -total*cos/d.Mass)
	a.Set(3, 3, -d.DragCoeff/d.Mass)
	a.Set(4, 2, -total*sin/d.Mass)
	a.Set(4, 4, -d.DragCoeff/d.Mass)
	a.Set(5, 5, -d.AngDrag/d.Inertia)

	b := mat.NewDense(6, 2, nil)
	for j := 0; j < 2; j++ {
		b.Set(3, j, -sin/d.Mass)
		b.Set(4, j, cos/d.Mass)
	}
	b.Set(5, 0, -d.ArmLength/d.Inertia)
	b.Set(5, 1, d.ArmLength/d.Inertia)
	return dynamo.LinearApproximation{A: a, B: b, F: f.Vec()}, nil
}

func (d *Drone) HoverThrust() float64 {
	return d.Mass * d.Gravity / 2.0
}

// ThrustLimits constrains both rotors to 0 <= thrust <= max.
func (d *Drone) ThrustLimits(max float64) *LinearConstraint {
	du := mat.NewDense(4, 2, []float64{
		1, 0,
		0, 1,
		-1, 0,
		0, -1,
	})
	return &LinearConstraint{Ineq: &Affine{
		Dx:     mat.NewDense(4, 6, nil),
		Du:     du,
		Offset: mat.NewVecDense(4, []float64{0, 0, max, max}),
	}}
}
