package physics

import (
	"math"

	"github.com/ojrac/opensimplex-go"

	"github.com/san-kum/rdspiral/internal/dynamo"
)

// SpiralField builds the k-armed spiral initial condition
//
//	u0 + i·v0 = (1 − s)·tanh(r)·e^{i(kθ − r)} + s
//
// where s is a seam blend that rises from 0 to 1 with zero slope in a strip
// of width L/8 along the wrap lines. The field is the uniform state u=1, v=0
// on the seam, so value and first derivative are continuous across the
// periodic wrap, and the compensating phase defect sits in the strip
// instead of along a whole line. Optional noise is sampled on a 4D torus
// and is periodic too.
func SpiralField(g dynamo.Grid, arms int, perturb dynamo.PerturbParams) (dynamo.FieldPair, error) {
	if arms < 1 {
		return dynamo.FieldPair{}, &dynamo.ConfigError{Field: "num_spiral_arms", Value: arms, Reason: "must be a positive integer"}
	}
	n := g.N
	axis := g.Axis()
	edge := make([]float64, n)
	for i, x := range axis {
		edge[i] = seamWeight(g.L/2-math.Abs(x), g.L*seamFraction)
	}

	pair := dynamo.FieldPair{U: dynamo.NewField(g), V: dynamo.NewField(g)}
	k := float64(arms)
	for i, y := range axis {
		for j, x := range axis {
			blend := 1 - (1-edge[i])*(1-edge[j])
			r := math.Hypot(x, y)
			amp := (1 - blend) * math.Tanh(r)
			phase := k*math.Atan2(y, x) - r
			pair.U[i*n+j] = amp*math.Cos(phase) + blend
			pair.V[i*n+j] = amp * math.Sin(phase)
		}
	}

	if perturb.Amplitude > 0 {
		addTorusNoise(pair.U, g, opensimplex.New(perturb.Seed), perturb)
		addTorusNoise(pair.V, g, opensimplex.New(perturb.Seed+1), perturb)
	}
	return pair, nil
}

// seamFraction is the blend strip width as a fraction of L.
const seamFraction = 0.125

// seamWeight is cos²(πd/2w) for a point at distance d < w from the seam
// and 0 beyond it.
func seamWeight(d, w float64) float64 {
	if d >= w {
		return 0
	}
	c := math.Cos(math.Pi * d / (2 * w))
	return c * c
}

// addTorusNoise maps each axis onto a circle so the 4D sample is periodic
// in both directions.
func addTorusNoise(f dynamo.Field, g dynamo.Grid, noise opensimplex.Noise, perturb dynamo.PerturbParams) {
	scale := perturb.Scale
	if scale <= 0 {
		scale = 4
	}
	radius := scale / (2 * math.Pi)
	n := g.N
	cos := make([]float64, n)
	sin := make([]float64, n)
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		cos[i], sin[i] = radius*math.Cos(a), radius*math.Sin(a)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			f[i*n+j] += perturb.Amplitude * noise.Eval4(cos[j], sin[j], cos[i], sin[i])
		}
	}
}
