// Package dynamo provides the core primitives shared by the reaction-diffusion
// solver.
//
// The package defines the data model every other package builds on:
//
//   - [State]: flat vector the time integrator advances
//   - [Grid]: immutable square periodic domain (side L, n points per axis)
//   - [Field] and [FieldPair]: n×n concentration arrays for u and v
//   - [System]: right-hand side of dX/dt = f(X, t)
//   - [StepStats]: accepted/rejected step bookkeeping
//
// # Errors
//
// Failures are reported through sentinel errors ([ErrConfiguration],
// [ErrStepSize], [ErrTransform], ...) so callers can branch with errors.Is.
//
// # Thread Safety
//
// Grid values are immutable and may be shared freely. States and fields are
// plain slices and are not safe for concurrent mutation.
package dynamo
