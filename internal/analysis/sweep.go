package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/san-kum/rdspiral/internal/dynamo"
	"github.com/san-kum/rdspiral/internal/metrics"
	"github.com/san-kum/rdspiral/internal/sim"
)

// SweepPoint is the outcome of one parameter value.
type SweepPoint struct {
	Param   float64         `json:"param"`
	Verdict metrics.Verdict `json:"verdict"`
	// Values holds the distinct pattern intensities over the tail of the
	// run, quantized to 1e-3. One value means a steady pattern; many
	// values mean an oscillating or turbulent one.
	Values []float64 `json:"values"`
	Err    string    `json:"error,omitempty"`
}

// SetParam assigns a sweepable parameter by its config key.
func SetParam(p *dynamo.Params, name string, v float64) error {
	switch name {
	case "d1":
		p.D1 = v
	case "d2":
		p.D2 = v
	case "beta":
		p.Beta = v
	case "L":
		p.L = v
	default:
		return &dynamo.ConfigError{Field: "sweep.param", Value: name, Reason: "expected one of d1, d2, beta, L"}
	}
	return nil
}

// Sweep runs base once per value of the named parameter, limit runs at a
// time, and summarizes each run's tail. Failed runs keep their error in
// the point instead of aborting the sweep.
func Sweep(ctx context.Context, base dynamo.Params, name string, values []float64, limit int, logger *slog.Logger) ([]SweepPoint, error) {
	jobs := make([]sim.Job, len(values))
	for i, v := range values {
		p := base
		if err := SetParam(&p, name, v); err != nil {
			return nil, err
		}
		jobs[i] = sim.Job{Name: fmt.Sprintf("%s=%g", name, v), Params: p}
	}

	outcomes := sim.NewEnsemble(limit, logger).Run(ctx, jobs)
	points := make([]SweepPoint, len(values))
	for i, out := range outcomes {
		points[i].Param = values[i]
		if out.Result != nil {
			points[i].Verdict = out.Result.Verdict
			points[i].Values = tailValues(out.Result.Samples)
		}
		if out.Err != nil {
			points[i].Err = out.Err.Error()
		}
	}
	return points, ctx.Err()
}

func tailValues(samples []metrics.Sample) []float64 {
	tail := samples[len(samples)-metrics.TailSize(len(samples)):]
	seen := make(map[int]bool)
	var out []float64
	for _, s := range tail {
		v := s.Intensity()
		if !s.IsFinite() {
			continue
		}
		key := int(v * 1000)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

// SweepToASCII plots each point's tail values against the sweep order.
func SweepToASCII(data []SweepPoint, width, height int) string {
	if len(data) == 0 || width <= 0 || height <= 1 {
		return ""
	}

	var minVal, maxVal float64
	found := false
	for _, p := range data {
		for _, v := range p.Values {
			if !found {
				minVal, maxVal, found = v, v, true
				continue
			}
			minVal = min(minVal, v)
			maxVal = max(maxVal, v)
		}
	}
	if !found {
		return ""
	}
	if maxVal == minVal {
		maxVal = minVal + 1
	}

	canvas := make([][]rune, height)
	for i := range canvas {
		canvas[i] = []rune(strings.Repeat(" ", width))
	}
	for i, p := range data {
		col := min(i*width/len(data), width-1)
		for _, v := range p.Values {
			row := height - 1 - int((v-minVal)/(maxVal-minVal)*float64(height-1))
			if row >= 0 && row < height {
				canvas[row][col] = '•'
			}
		}
	}

	var sb strings.Builder
	for _, row := range canvas {
		sb.WriteString(string(row))
		sb.WriteRune('\n')
	}
	return sb.String()
}
