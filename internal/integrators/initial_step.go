package integrators

import (
	"math"

	"github.com/san-kum/rdspiral/internal/dynamo"
)

// rmsNorm is ‖v/scale‖₂ / √n.
func rmsNorm(v, scale dynamo.State) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for i, x := range v {
		e := x / scale[i]
		sum += e * e
	}
	return math.Sqrt(sum / float64(len(v)))
}

// initialStep estimates a first step from the local derivative scale and a
// single explicit Euler probe (Hairer, Nørsett & Wanner, II.4).
func (r *RK45) initialStep(t0 float64, x0, f0 dynamo.State) (float64, error) {
	interval := r.tEnd - t0
	if len(x0) == 0 {
		return interval, nil
	}

	scale := make(dynamo.State, len(x0))
	for i, v := range x0 {
		scale[i] = r.atol + math.Abs(v)*r.rtol
	}
	d0 := rmsNorm(x0, scale)
	d1 := rmsNorm(f0, scale)

	h0 := 0.01 * d0 / d1
	if d0 < 1e-5 || d1 < 1e-5 {
		h0 = 1e-6
	}
	h0 = math.Min(h0, interval)

	x1 := make(dynamo.State, len(x0))
	for i := range x0 {
		x1[i] = x0[i] + h0*f0[i]
	}
	f1, err := r.sys.Derive(x1, t0+h0)
	r.state.Stats.Evaluations++
	if err != nil {
		return 0, err
	}

	diff := make(dynamo.State, len(f0))
	for i := range f0 {
		diff[i] = f1[i] - f0[i]
	}
	d2 := rmsNorm(diff, scale) / h0

	var h1 float64
	if d1 <= 1e-15 && d2 <= 1e-15 {
		h1 = math.Max(1e-6, h0*1e-3)
	} else {
		h1 = math.Pow(0.01/math.Max(d1, d2), 1.0/5.0)
	}
	return math.Min(math.Min(100*h0, h1), interval), nil
}
