package ddp

import (
	"fmt"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/integrators"
	"github.com/san-kum/dynopt/internal/linesearch"
	"github.com/san-kum/dynopt/internal/ocp"
	"github.com/san-kum/dynopt/internal/riccati"
	"github.com/san-kum/dynopt/internal/rollout"
)

// Settings configures a Solver. The zero value is not usable; start from
// DefaultSettings.
type Settings struct {
	Algorithm riccati.Algorithm   `yaml:"algorithm"`
	Strategy  linesearch.Strategy `yaml:"strategy"`
	Threads   int                 `yaml:"threads"`

	MaxIterations       int     `yaml:"max_iterations"`
	MinRelCost          float64 `yaml:"min_rel_cost"`
	ConstraintTolerance float64 `yaml:"constraint_tolerance"`

	TimeStep          float64 `yaml:"time_step"`
	AbsTol            float64 `yaml:"abs_tol"`
	RelTol            float64 `yaml:"rel_tol"`
	MaxStepsPerSecond float64 `yaml:"max_steps_per_second"`
	Integrator        string  `yaml:"integrator"`

	MinStep           float64 `yaml:"min_step"`
	ContractionRate   float64 `yaml:"contraction_rate"`
	ArmijoCoefficient float64 `yaml:"armijo_coefficient"`

	RegularizationInit   float64 `yaml:"regularization_init"`
	RegularizationMax    float64 `yaml:"regularization_max"`
	RegularizationFactor float64 `yaml:"regularization_factor"`

	StateInputEqPenalty    float64 `yaml:"state_input_eq_penalty"`
	StateConstraintPenalty float64 `yaml:"state_constraint_penalty"`
	InequalityPenalty      float64 `yaml:"inequality_penalty"`

	// Display logs iteration summaries at info level instead of debug.
	Display bool `yaml:"display"`
}

func DefaultSettings() Settings {
	return Settings{
		Algorithm:              riccati.SLQ,
		Strategy:               linesearch.LineSearch,
		Threads:                2,
		MaxIterations:          15,
		MinRelCost:             1e-3,
		ConstraintTolerance:    1e-3,
		TimeStep:               1e-2,
		AbsTol:                 1e-10,
		RelTol:                 1e-7,
		MaxStepsPerSecond:      10000,
		Integrator:             integrators.NameODE45,
		MinStep:                1e-4,
		ContractionRate:        0.5,
		ArmijoCoefficient:      1e-4,
		RegularizationInit:     0,
		RegularizationMax:      1e3,
		RegularizationFactor:   10,
		StateInputEqPenalty:    100,
		StateConstraintPenalty: 100,
		InequalityPenalty:      100,
	}
}

func (s Settings) Validate() error {
	if _, err := riccati.ParseAlgorithm(string(s.Algorithm)); err != nil {
		return err
	}
	if _, err := linesearch.ParseStrategy(string(s.Strategy)); err != nil {
		return err
	}
	if _, err := integrators.New(s.Integrator); err != nil {
		return err
	}
	switch {
	case s.MaxIterations < 1:
		return fmt.Errorf("max_iterations must be at least 1, got %d", s.MaxIterations)
	case s.TimeStep <= 0:
		return fmt.Errorf("time_step must be positive, got %g", s.TimeStep)
	case s.AbsTol <= 0 || s.RelTol <= 0:
		return fmt.Errorf("integration tolerances must be positive, got abs %g rel %g", s.AbsTol, s.RelTol)
	case s.MinStep <= 0 || s.MinStep > 1:
		return fmt.Errorf("min_step must be in (0, 1], got %g", s.MinStep)
	case s.ContractionRate <= 0 || s.ContractionRate >= 1:
		return fmt.Errorf("contraction_rate must be in (0, 1), got %g", s.ContractionRate)
	case s.RegularizationInit < 0 || s.RegularizationMax < s.RegularizationInit:
		return fmt.Errorf("regularization range [%g, %g] is invalid", s.RegularizationInit, s.RegularizationMax)
	case s.RegularizationFactor <= 1:
		return fmt.Errorf("regularization_factor must exceed 1, got %g", s.RegularizationFactor)
	}
	return nil
}

// Penalties returns the weights that absorb constraints into the merit.
func (s Settings) Penalties() ocp.Penalties {
	return ocp.Penalties{
		StateInputEq: s.StateInputEqPenalty,
		StateEq:      s.StateConstraintPenalty,
		Inequality:   s.InequalityPenalty,
	}
}

func (s Settings) tolerance() dynamo.Tolerance {
	return dynamo.Tolerance{Abs: s.AbsTol, Rel: s.RelTol}
}

func (s Settings) riccati() riccati.Settings {
	return riccati.Settings{
		Algorithm:         s.Algorithm,
		Tolerance:         s.tolerance(),
		TimeStep:          s.TimeStep,
		MaxStepsPerSecond: s.MaxStepsPerSecond,
	}
}

// RolloutSettings configures rollouts the way the solver runs them.
func (s Settings) RolloutSettings() rollout.Settings {
	return rollout.Settings{
		Integrator:        s.Integrator,
		TimeStep:          s.TimeStep,
		Tolerance:         s.tolerance(),
		MaxStepsPerSecond: s.MaxStepsPerSecond,
	}
}

func (s Settings) stepSize() linesearch.Settings {
	return linesearch.Settings{
		Strategy:          s.Strategy,
		MinStep:           s.MinStep,
		ContractionRate:   s.ContractionRate,
		ArmijoCoefficient: s.ArmijoCoefficient,
	}
}

// minRegularization is the first nonzero level tried when
// RegularizationInit is zero.
const minRegularization = 1e-6

func (s Settings) floor() float64 {
	return max(s.RegularizationInit, minRegularization)
}

// Escalate returns the next regularization level after a failure.
func (s Settings) Escalate(mu float64) float64 {
	return max(mu*s.RegularizationFactor, s.floor())
}

// Relax returns the regularization level after a successful trust-region
// step. Levels below the floor fall back to RegularizationInit.
func (s Settings) Relax(mu float64) float64 {
	next := mu / s.RegularizationFactor
	if next < s.floor() {
		return s.RegularizationInit
	}
	return next
}
