// Package dynamo provides the core primitives shared by the optimal control
// solver and the model layer.
//
// The package defines the vector types and the evaluator contracts that the
// robot-specific model layer implements:
//
//   - [State], [Control]: plain float vectors
//   - [Dynamics]: dX/dt = f(t, X, u) with its linearization
//   - [Cost], [FinalCost]: running and terminal costs with quadratic models
//   - [Constraint]: linearized equality and inequality constraints
//   - [System], [Integrator]: closed-loop vector fields and their integrators
//   - [Controller]: time-indexed feedback policies
//
// Evaluators are pure functions of (t, x, u). The solver never inspects how
// derivatives are obtained (analytic, automatic or finite differences).
//
// # Errors
//
// Failures carry a sentinel (for example [ErrRunaway]) and, when raised by
// the solver, a [SolveError] with the phase, partition and regularization
// level at which they happened.
package dynamo
