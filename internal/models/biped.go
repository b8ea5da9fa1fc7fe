package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/ocp"
)

// Stance modes of the biped, as a bitmask of feet in contact.
const (
	Flight       = 0
	LeftStance   = 1
	RightStance  = 2
	DoubleStance = LeftStance | RightStance
)

// PlanarBiped is a centroidal model of a two-legged robot in the sagittal
// plane. State is [px, pz, theta, vx, vz, omega] of the body; inputs are the
// contact forces [fx_left, fz_left, fx_right, fz_right] applied at fixed
// foothold positions.
type PlanarBiped struct {
	Mass     float64
	Inertia  float64
	Gravity  float64
	Friction float64
	Feet     [2][2]float64
}

func NewPlanarBiped() *PlanarBiped {
	return &PlanarBiped{
		Mass:     20,
		Inertia:  1.2,
		Gravity:  9.81,
		Friction: 0.7,
		Feet:     [2][2]float64{{-0.15, 0}, {0.15, 0}},
	}
}

func (b *PlanarBiped) StateDim() int { return 6 }
func (b *PlanarBiped) InputDim() int { return 4 }

func (b *PlanarBiped) Flow(t float64, x dynamo.State, u dynamo.Control) (dynamo.State, error) {
	if err := dynamo.CheckDims(x, u, 6, 4); err != nil {
		return nil, err
	}
	px, pz := x[0], x[1]
	fx := u[0] + u[2]
	fz := u[1] + u[3]
	torque := 0.0
	for i := 0; i < 2; i++ {
		rx := b.Feet[i][0] - px
		rz := b.Feet[i][1] - pz
		torque += rx*u[2*i+1] - rz*u[2*i]
	}
	return dynamo.State{
		x[3], x[4], x[5],
		fx / b.Mass,
		fz/b.Mass - b.Gravity,
		torque / b.Inertia,
	}, nil
}

func (b *PlanarBiped) LinearApproximation(t float64, x dynamo.State, u dynamo.Control) (dynamo.LinearApproximation, error) {
	f, err := b.Flow(t, x, u)
	if err != nil {
		return dynamo.LinearApproximation{}, err
	}
	a := mat.NewDense(6, 6, nil)
	a.Set(0, 3, 1)
	a.Set(1, 4, 1)
	a.Set(2, 5, 1)
	a.Set(5, 0, -(u[1]+u[3])/b.Inertia)
	a.Set(5, 1, (u[0]+u[2])/b.Inertia)

	bm := mat.NewDense(6, 4, nil)
	for i := 0; i < 2; i++ {
		bm.Set(3, 2*i, 1/b.Mass)
		bm.Set(4, 2*i+1, 1/b.Mass)
		bm.Set(5, 2*i, (x[1]-b.Feet[i][1])/b.Inertia)
		bm.Set(5, 2*i+1, (b.Feet[i][0]-x[0])/b.Inertia)
	}
	return dynamo.LinearApproximation{A: a, B: bm, F: f.Vec()}, nil
}

func inContact(mode, leg int) bool {
	return mode&(1<<leg) != 0
}

// ContactConstraint zeroes the forces of swing legs and keeps stance forces
// inside the linearized friction cone.
func (b *PlanarBiped) ContactConstraint(mode int) *LinearConstraint {
	var swing, stance []int
	for leg := 0; leg < 2; leg++ {
		if inContact(mode, leg) {
			stance = append(stance, leg)
		} else {
			swing = append(swing, leg)
		}
	}
	c := &LinearConstraint{}
	if len(swing) > 0 {
		du := mat.NewDense(2*len(swing), 4, nil)
		for k, leg := range swing {
			du.Set(2*k, 2*leg, 1)
			du.Set(2*k+1, 2*leg+1, 1)
		}
		c.InputEq = &Affine{Dx: mat.NewDense(2*len(swing), 6, nil), Du: du}
	}
	if len(stance) > 0 {
		// fz >= 0, mu fz - fx >= 0, mu fz + fx >= 0
		du := mat.NewDense(3*len(stance), 4, nil)
		for k, leg := range stance {
			du.Set(3*k, 2*leg+1, 1)
			du.Set(3*k+1, 2*leg+1, b.Friction)
			du.Set(3*k+1, 2*leg, -1)
			du.Set(3*k+2, 2*leg+1, b.Friction)
			du.Set(3*k+2, 2*leg, 1)
		}
		c.Ineq = &Affine{Dx: mat.NewDense(3*len(stance), 6, nil), Du: du}
	}
	return c
}

// OperatingPoint splits the body weight evenly over the stance legs.
func (b *PlanarBiped) OperatingPoint(mode int, height float64) ocp.ConstantOperatingPoint {
	u := make(dynamo.Control, 4)
	n := 0
	for leg := 0; leg < 2; leg++ {
		if inContact(mode, leg) {
			n++
		}
	}
	for leg := 0; leg < 2; leg++ {
		if n > 0 && inContact(mode, leg) {
			u[2*leg+1] = b.Mass * b.Gravity / float64(n)
		}
	}
	return ocp.ConstantOperatingPoint{State: dynamo.State{0, height, 0, 0, 0, 0}, Input: u}
}

// Problem builds the four-mode switched problem that tracks a standing
// posture at the given height.
func (b *PlanarBiped) Problem(height float64) *ocp.Problem {
	target := dynamo.State{0, height, 0, 0, 0, 0}
	q := Diag(200, 400, 100, 10, 10, 10)
	r := Identity(4, 1e-3)

	var variants []ocp.Variant
	var points ocp.ModeOperatingPoints
	for mode := Flight; mode <= DoubleStance; mode++ {
		op := b.OperatingPoint(mode, height)
		cost := &QuadraticCost{Q: q, R: r, XNominal: target, UNominal: op.Input}
		variants = append(variants, ocp.Variant{
			Name:       stanceName(mode),
			Dynamics:   b,
			Cost:       cost,
			Constraint: b.ContactConstraint(mode),
		})
		points = append(points, op)
	}
	return &ocp.Problem{
		Variants:        variants,
		Final:           &QuadraticFinalCost{Qf: Diag(400, 800, 200, 20, 20, 20), XFinal: target},
		OperatingPoints: points,
	}
}

// Gait returns a walking schedule alternating single and double stance,
// starting in double stance at t0.
func (b *PlanarBiped) Gait(t0, tf, stance, double float64) ocp.ModeSchedule {
	modes := []int{DoubleStance}
	var events []float64
	next := []int{LeftStance, DoubleStance, RightStance, DoubleStance}
	t := t0 + double
	for k := 0; t < tf; k++ {
		events = append(events, t)
		m := next[k%len(next)]
		modes = append(modes, m)
		if m == DoubleStance {
			t += double
		} else {
			t += stance
		}
	}
	return ocp.ModeSchedule{EventTimes: events, Modes: modes}
}

func stanceName(mode int) string {
	switch mode {
	case Flight:
		return "flight"
	case LeftStance:
		return "left-stance"
	case RightStance:
		return "right-stance"
	case DoubleStance:
		return "double-stance"
	}
	return fmt.Sprintf("mode-%d", mode)
}
