// Package control provides the feedback policies produced and consumed by the
// solver.
//
// Policies implement the [dynamo.Controller] interface:
//
//   - [LinearController]: time-indexed affine feedback u = b + α·δ + K·x,
//     linearly interpolated between samples
//   - [Feedforward]: open-loop input schedule, used to seed the first rollout
//     from operating points
//   - [LQR]: constant state feedback around a target, used as a closed-loop
//     baseline
//
// # Usage
//
//	ctrl := sol.Controller.WithStep(0.5)
//	u := ctrl.Compute(x, t)
package control
