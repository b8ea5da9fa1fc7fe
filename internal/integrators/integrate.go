package integrators

import (
	"fmt"
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

const (
	NameODE45 = "ode45"
	NameRK4   = "rk4"
	NameEuler = "euler"
)

// New returns a fresh integrator. Integrators may hold scratch state, so
// every goroutine needs its own.
func New(name string) (dynamo.Integrator, error) {
	switch name {
	case NameODE45, "rk45", "":
		return NewRK45(), nil
	case NameRK4:
		return NewRK4(), nil
	case NameEuler:
		return NewEuler(), nil
	}
	return nil, fmt.Errorf("unknown integrator %q", name)
}

func Names() []string { return []string{NameODE45, NameRK4, NameEuler} }

type Options struct {
	Tolerance dynamo.Tolerance
	// InitialStep seeds adaptive integration and bounds fixed steps.
	InitialStep float64
	// MaxSteps caps the step attempts counted in Stats; zero means no cap.
	MaxSteps int
}

// Stats accumulates over consecutive Integrate calls.
type Stats struct {
	Steps    int
	Rejected int
	// NextStep is the step size suggested by the last adaptive step.
	NextStep float64
}

// Integrate advances x from t0 to exactly t1. Adaptive integrators choose
// their own steps; fixed-step integrators divide the span into steps no
// longer than InitialStep.
func Integrate(integ dynamo.Integrator, sys dynamo.System, x dynamo.State, t0, t1 float64, opts Options, stats *Stats) (dynamo.State, error) {
	span := t1 - t0
	if span <= 0 {
		return x, nil
	}
	if adaptive, ok := integ.(dynamo.AdaptiveIntegrator); ok {
		return integrateAdaptive(adaptive, sys, x, t0, t1, opts, stats)
	}

	n := 1
	if opts.InitialStep > 0 {
		n = int(math.Ceil(span/opts.InitialStep - 1e-9))
		if n < 1 {
			n = 1
		}
	}
	dt := span / float64(n)
	t := t0
	for i := 0; i < n; i++ {
		if err := stats.charge(opts); err != nil {
			return nil, err
		}
		h := dt
		if i == n-1 {
			h = t1 - t
		}
		next, err := integ.Step(sys, x, t, h)
		if err != nil {
			return nil, err
		}
		if !next.IsValid() {
			return nil, dynamo.ErrInvalidState
		}
		x = next
		t += h
	}
	return x, nil
}

func integrateAdaptive(integ dynamo.AdaptiveIntegrator, sys dynamo.System, x dynamo.State, t0, t1 float64, opts Options, stats *Stats) (dynamo.State, error) {
	dt := stats.NextStep
	if dt <= 0 {
		dt = opts.InitialStep
	}
	if dt <= 0 {
		dt = (t1 - t0) / 10
	}
	t := t0
	for t < t1 {
		last := false
		if t+dt >= t1-1e-12*math.Max(1, math.Abs(t1)) {
			dt = t1 - t
			last = true
		}
		if err := stats.charge(opts); err != nil {
			return nil, err
		}
		next, dtNext, accepted, err := integ.StepAdaptive(sys, x, t, dt, opts.Tolerance)
		if err != nil {
			return nil, err
		}
		if !accepted {
			stats.Rejected++
			dt = dtNext
			if dt <= 1e-14*math.Max(1, math.Abs(t)) {
				return nil, fmt.Errorf("%w: step size underflow at t=%g", dynamo.ErrRunaway, t)
			}
			continue
		}
		x = next
		if last {
			t = t1
		} else {
			t += dt
		}
		// A clamped final step says nothing about the next interval's step.
		if !last || dtNext > stats.NextStep {
			stats.NextStep = dtNext
		}
		dt = dtNext
	}
	return x, nil
}

func (s *Stats) charge(opts Options) error {
	s.Steps++
	if opts.MaxSteps > 0 && s.Steps > opts.MaxSteps {
		return fmt.Errorf("%w: %d steps", dynamo.ErrRunaway, s.Steps)
	}
	return nil
}

// StepBudget bounds the integrator steps spent on a span of the given
// duration; zero disables the check.
func StepBudget(maxStepsPerSecond, duration float64) int {
	if maxStepsPerSecond <= 0 {
		return 0
	}
	return int(math.Ceil(maxStepsPerSecond * math.Max(duration, 1/maxStepsPerSecond)))
}
