package ddp

import (
	"time"

	"github.com/san-kum/dynopt/internal/ocp"
)

// IterationState is everything the outer loop carries from one iteration
// to the next besides the nominal iterate.
type IterationState struct {
	Iteration      int
	Regularization float64
	// Failures counts consecutive rejected iterations.
	Failures int
}

// IterationLog records one outer iteration. Rejected iterations keep the
// previous performance.
type IterationLog struct {
	Iteration        int                  `json:"iteration"`
	Performance      ocp.PerformanceIndex `json:"performance"`
	Step             float64              `json:"step"`
	Regularization   float64              `json:"regularization"`
	ExpectedDecrease float64              `json:"expected_decrease"`
	Accepted         bool                 `json:"accepted"`
	Trials           int                  `json:"trials"`
	RolloutSteps     int                  `json:"rollout_steps"`
	Duration         time.Duration        `json:"duration"`
}

// Recorder receives solver events. telemetry.SolverMetrics implements it
// with prometheus collectors.
type Recorder interface {
	ObserveIteration(algorithm string, accepted bool)
	ObserveLineSearchFailure()
	ObserveRegularization(mu float64)
	ObserveSolve(status ocp.Status, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveIteration(string, bool)          {}
func (nopRecorder) ObserveLineSearchFailure()              {}
func (nopRecorder) ObserveRegularization(float64)          {}
func (nopRecorder) ObserveSolve(ocp.Status, time.Duration) {}
