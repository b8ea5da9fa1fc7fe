package ocp

import (
	"fmt"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Variant bundles the functional forms active in one mode.
type Variant struct {
	Name       string
	Dynamics   dynamo.Dynamics
	Cost       dynamo.Cost
	Constraint dynamo.Constraint
}

// Problem is a switched optimal control problem. Variants form a closed set
// indexed by mode id; the mode schedule picks one per sample.
type Problem struct {
	Variants        []Variant
	Final           dynamo.FinalCost
	OperatingPoints OperatingPoints
}

func (p *Problem) StateDim() int { return p.Variants[0].Dynamics.StateDim() }
func (p *Problem) InputDim() int { return p.Variants[0].Dynamics.InputDim() }

func (p *Problem) Validate() error {
	if len(p.Variants) == 0 {
		return fmt.Errorf("%w: problem has no variants", dynamo.ErrInvalidSchedule)
	}
	nx, nu := p.StateDim(), p.InputDim()
	for i, v := range p.Variants {
		if v.Dynamics == nil || v.Cost == nil {
			return fmt.Errorf("variant %d (%s): dynamics and cost are required", i, v.Name)
		}
		if v.Dynamics.StateDim() != nx || v.Dynamics.InputDim() != nu {
			return fmt.Errorf("%w: variant %d (%s) has dims %d/%d, want %d/%d", dynamo.ErrDimensionMismatch,
				i, v.Name, v.Dynamics.StateDim(), v.Dynamics.InputDim(), nx, nu)
		}
	}
	if p.Final == nil {
		return fmt.Errorf("problem has no final cost")
	}
	return nil
}

// ValidateSchedule checks that every mode of s names a variant.
func (p *Problem) ValidateSchedule(s ModeSchedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	for _, m := range s.Modes {
		if m >= len(p.Variants) {
			return fmt.Errorf("%w: mode %d has no variant (have %d)", dynamo.ErrInvalidSchedule, m, len(p.Variants))
		}
	}
	return nil
}

func (p *Problem) Variant(mode int) *Variant {
	return &p.Variants[mode]
}

// Penalties weigh constraint violations in the merit function and in the
// cost absorption of state-only and inequality constraints.
type Penalties struct {
	StateInputEq float64 `yaml:"state_input_eq"`
	StateEq      float64 `yaml:"state_eq"`
	Inequality   float64 `yaml:"inequality"`
}

// OperatingPoints supplies the nominal state/input used to seed the first
// iteration when no controller exists.
type OperatingPoints interface {
	At(t float64, mode int) (dynamo.State, dynamo.Control)
}

type ConstantOperatingPoint struct {
	State dynamo.State
	Input dynamo.Control
}

func (c ConstantOperatingPoint) At(t float64, mode int) (dynamo.State, dynamo.Control) {
	return c.State.Clone(), c.Input.Clone()
}

// ModeOperatingPoints selects a constant operating point per mode; used by
// switched models whose stance forces depend on the contact configuration.
type ModeOperatingPoints []ConstantOperatingPoint

func (m ModeOperatingPoints) At(t float64, mode int) (dynamo.State, dynamo.Control) {
	if mode < 0 || mode >= len(m) {
		mode = 0
	}
	return m[mode].At(t, mode)
}

// TrajectoryOperatingPoints interpolates a stored trajectory.
type TrajectoryOperatingPoints struct {
	Trajectory Trajectory
}

func (o TrajectoryOperatingPoints) At(t float64, mode int) (dynamo.State, dynamo.Control) {
	return o.Trajectory.StateAt(t), o.Trajectory.InputAt(t)
}
