// Package models provides dynamics, costs and constraints for optimal
// control problems, together with ready-made problems built from them.
//
// Building blocks:
//
//   - [LinearSystem], [QuadraticCost], [QuadraticFinalCost], [LinearConstraint]
//   - [NumericDynamics]: derives Jacobians by central differences
//
// Systems:
//
//   - [Pendulum]: damped torque-driven pendulum
//   - [CartPole]: pole balanced on a force-driven cart
//   - [Drone]: planar quadrotor with non-negative rotor thrust
//   - [PlanarBiped]: centroidal biped with stance-dependent modes
//
// [RandomLinearProblem] generates well-posed constrained LQ problems for
// correctness tests.
package models
