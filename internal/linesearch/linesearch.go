// Package linesearch selects the step length of a DDP update.
//
// Two strategies exist and are chosen by configuration only:
//
//   - [LineSearch] tries α = 1, ρ, ρ², … down to a floor and keeps the largest
//     α that passes an Armijo test on the merit.
//   - [TrustRegion] always takes the full step; the caller adapts the
//     backward-pass regularization instead.
package linesearch

import (
	"fmt"
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/ocp"
	"github.com/san-kum/dynopt/internal/sched"
)

type Strategy string

const (
	LineSearch  Strategy = "line-search"
	TrustRegion Strategy = "trust-region"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case LineSearch, TrustRegion:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q (want line-search or trust-region)", s)
}

type Settings struct {
	Strategy          Strategy
	MinStep           float64
	ContractionRate   float64
	ArmijoCoefficient float64
}

func DefaultSettings() Settings {
	return Settings{
		Strategy:          LineSearch,
		MinStep:           1e-4,
		ContractionRate:   0.5,
		ArmijoCoefficient: 1e-4,
	}
}

// Trial is the outcome of rolling out one step length. Err is set when the
// rollout or its evaluation failed; such trials are rejected.
type Trial struct {
	Alpha       float64
	Trajectory  ocp.Trajectory
	Partitions  []ocp.Trajectory
	Performance ocp.PerformanceIndex
	Steps       int
	Err         error
}

// Evaluator rolls out the whole horizon for step alpha on the given worker.
type Evaluator func(worker int, alpha float64) Trial

// Steps returns the trial step lengths in decreasing order.
func (s Settings) Steps() []float64 {
	if s.Strategy == TrustRegion {
		return []float64{1}
	}
	rho := s.ContractionRate
	if rho <= 0 || rho >= 1 {
		rho = 0.5
	}
	floor := s.MinStep
	if floor <= 0 || floor > 1 {
		floor = 1
	}
	var out []float64
	for a := 1.0; a >= floor*(1-1e-12); a *= rho {
		out = append(out, a)
	}
	return out
}

// Sufficient reports whether merit at step alpha decreases enough from
// merit0 given the predicted decrease of a full step. A small slack absorbs
// roundoff once the solver has converged.
func (s Settings) Sufficient(merit0, decrease, alpha, merit float64) bool {
	if math.IsNaN(merit) || math.IsInf(merit, 0) {
		return false
	}
	slack := 1e-12 * math.Max(1, math.Abs(merit0))
	return merit <= merit0-s.ArmijoCoefficient*alpha*math.Max(decrease, 0)+slack
}

// Search evaluates the trial steps in batches of the pool size and returns
// the largest accepted one. Failed rollouts count as rejected trials. The
// returned slice holds every evaluated trial in step order; when nothing is
// accepted the error wraps dynamo.ErrLineSearchFailed.
func (s Settings) Search(pool *sched.Pool, merit0, decrease float64, eval Evaluator) (Trial, []Trial, error) {
	steps := s.Steps()
	batch := pool.Size()
	var tried []Trial
	for start := 0; start < len(steps); start += batch {
		end := min(start+batch, len(steps))
		trials := make([]Trial, end-start)
		err := pool.Run(len(trials), func(worker, i int) error {
			trials[i] = eval(worker, steps[start+i])
			return nil
		})
		if err != nil {
			return Trial{}, tried, err
		}
		tried = append(tried, trials...)
		for _, tr := range trials {
			if tr.Err == nil && s.Sufficient(merit0, decrease, tr.Alpha, tr.Performance.Merit) {
				return tr, tried, nil
			}
		}
	}
	return Trial{}, tried, fmt.Errorf("%w: %d steps down to %g (merit %g, predicted decrease %g)",
		dynamo.ErrLineSearchFailed, len(steps), steps[len(steps)-1], merit0, decrease)
}
