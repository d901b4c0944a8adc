package analysis

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/rdspiral/internal/dynamo"
	"github.com/san-kum/rdspiral/internal/integrators"
)

// LyapunovExponent estimates the largest Lyapunov exponent of sys from x0
// over [p.TStart, p.TEnd] by the twin-trajectory method. The perturbed
// copy starts eps away and is pulled back to distance eps every interval
// time units; the exponent is the mean log growth per unit time.
//
// Both trajectories use the adaptive integrator with the tolerances in p,
// so eps should sit well above p.ATol.
func LyapunovExponent(ctx context.Context, sys dynamo.System, p dynamo.Params, x0 dynamo.State, eps, interval float64) (float64, error) {
	if eps <= 0 || interval <= 0 {
		return 0, &dynamo.ConfigError{Field: "lyapunov", Value: []float64{eps, interval}, Reason: "eps and interval must be positive"}
	}
	if len(x0) != sys.StateDim() {
		return 0, fmt.Errorf("lyapunov: state has %d values, system %d: %w", len(x0), sys.StateDim(), dynamo.ErrDimensionMismatch)
	}
	steps := int(math.Floor((p.TEnd-p.TStart)/interval + 1e-9))
	if steps < 1 {
		return 0, &dynamo.ConfigError{Field: "lyapunov.interval", Value: interval, Reason: "longer than the run"}
	}

	ref := integrators.NewRK45(sys, p)
	if err := ref.Init(p.TStart, x0); err != nil {
		return 0, err
	}

	// alternating direction of norm eps
	dir := make([]float64, len(x0))
	scale := eps / math.Sqrt(float64(len(x0)))
	for i := range dir {
		dir[i] = scale
		if i%2 == 1 {
			dir[i] = -scale
		}
	}
	xp := make(dynamo.State, len(x0))
	floats.AddTo(xp, x0, dir)

	sumLog := 0.0
	count := 0
	for k := 1; k <= steps; k++ {
		t0 := p.TStart + float64(k-1)*interval
		t1 := math.Min(p.TStart+float64(k)*interval, p.TEnd)

		x, err := ref.Advance(ctx, t1)
		if err != nil {
			return 0, err
		}
		twin := integrators.NewRK45(sys, p)
		if err := twin.Init(t0, xp); err != nil {
			return 0, err
		}
		y, err := twin.Advance(ctx, t1)
		if err != nil {
			return 0, err
		}

		sep := floats.Distance(y, x, 2)
		if sep == 0 {
			xp = x.Clone()
			floats.Add(xp, dir)
			continue
		}
		sumLog += math.Log(sep / eps)
		count++

		// renormalize
		floats.SubTo(xp, y, x)
		floats.Scale(eps/sep, xp)
		floats.Add(xp, x)
	}

	if count == 0 {
		return 0, nil
	}
	return sumLog / (float64(count) * interval), nil
}
