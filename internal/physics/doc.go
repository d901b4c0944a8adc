// Package physics provides the reaction-diffusion model: the λ-ω kinetics
// ([React], [Kinetics]), the semi-discrete right-hand side
// ([ReactionDiffusion]) and the spiral initial condition ([SpiralField]).
//
// [ReactionDiffusion] implements [dynamo.System] on the packed state
// [u..., v...], so any integrator in this module can drive it:
//
//	op, _ := spectral.New(grid, backend)
//	rd, _ := physics.NewReactionDiffusion(params, op)
//	dx, err := rd.Derive(x, t)
package physics
