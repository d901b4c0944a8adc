package physics

import (
	"github.com/san-kum/rdspiral/internal/dynamo"
)

// React evaluates the λ-ω kinetics at one grid point:
//
//	f = u − u³ − u·v² + β·(u²·v + v³)
//	g = v − u²·v − v³ − β·(u³ + u·v²)
//
// With r² = u²+v² this is f = (1−r²)u + βr²v, g = (1−r²)v − βr²u.
func React(u, v, beta float64) (f, g float64) {
	r2 := u*u + v*v
	growth := 1 - r2
	return growth*u + beta*r2*v, growth*v - beta*r2*u
}

// minReactChunk keeps small grids on the calling goroutine.
const minReactChunk = 4096

// Kinetics applies React pointwise over a pair of fields.
type Kinetics struct {
	Beta    float64
	Workers int
}

// Apply writes the reaction terms of (u, v) into (f, g). All four fields
// must have the same length.
func (k Kinetics) Apply(f, g dynamo.Field, p dynamo.FieldPair) error {
	n := len(p.U)
	if len(p.V) != n {
		return dynamo.TransformError("kinetics v", len(p.V), n)
	}
	if len(f) != n || len(g) != n {
		return dynamo.TransformError("kinetics output", min(len(f), len(g)), n)
	}
	return dynamo.ParallelFor(n, minReactChunk, k.Workers, func(start, end int) error {
		for i := start; i < end; i++ {
			f[i], g[i] = React(p.U[i], p.V[i], k.Beta)
		}
		return nil
	})
}
