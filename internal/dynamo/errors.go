package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for solver operations.
var (
	// ErrInvalidState indicates a NaN or Inf in a rolled-out state.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrRunaway indicates the integration step guard was exceeded.
	ErrRunaway = errors.New("dynamo: rollout exceeded maximum integration steps")

	// ErrModelEvaluation wraps failures raised by model evaluators.
	ErrModelEvaluation = errors.New("dynamo: model evaluation failed")

	// ErrIndefiniteHessian indicates the input Hessian stayed indefinite up to
	// the regularization ceiling.
	ErrIndefiniteHessian = errors.New("dynamo: input hessian not positive definite")

	// ErrLineSearchFailed indicates no trial step met the sufficient decrease condition.
	ErrLineSearchFailed = errors.New("dynamo: no step length satisfied sufficient decrease")

	// ErrDimensionMismatch indicates mismatched state/input dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and model")

	// ErrInvalidSchedule indicates a mode schedule with unordered events or unknown modes.
	ErrInvalidSchedule = errors.New("dynamo: invalid mode schedule")

	// ErrInvalidPartitioning indicates partition boundaries that do not tile the horizon.
	ErrInvalidPartitioning = errors.New("dynamo: invalid partitioning times")

	// ErrNoSolution indicates that no consistent solution has been produced yet.
	ErrNoSolution = errors.New("dynamo: no solution available")
)

type Phase string

const (
	PhaseInitialization Phase = "initialization"
	PhaseApproximation  Phase = "approximation"
	PhaseBackward       Phase = "backward"
	PhaseRollout        Phase = "rollout"
	PhaseStepSize       Phase = "step-size"
)

// SolveError wraps an error with the solver context in which it happened.
type SolveError struct {
	Phase          Phase
	Partition      int
	Iteration      int
	Regularization float64
	Wrapped        error
}

// Error omits the partition for phases that span the whole horizon, which
// carry Partition -1.
func (e *SolveError) Error() string {
	if e.Partition < 0 {
		return fmt.Sprintf("%s phase failed (iteration %d, regularization %.3g): %v",
			e.Phase, e.Iteration, e.Regularization, e.Wrapped)
	}
	return fmt.Sprintf("%s phase failed (iteration %d, partition %d, regularization %.3g): %v",
		e.Phase, e.Iteration, e.Partition, e.Regularization, e.Wrapped)
}

func (e *SolveError) Unwrap() error {
	return e.Wrapped
}

// EvaluationError records the sample at which a model evaluator failed.
type EvaluationError struct {
	Time    float64
	Mode    int
	Wrapped error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation at t=%.4f (mode %d): %v", e.Time, e.Mode, e.Wrapped)
}

func (e *EvaluationError) Unwrap() []error {
	return []error{ErrModelEvaluation, e.Wrapped}
}
