package metrics

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/rdspiral/internal/dynamo"
)

// complexityBins is the histogram resolution of the complexity measure.
const complexityBins = 32

// Sample holds the spatial statistics of one output time.
type Sample struct {
	Time       float64 `json:"time"`
	UMean      float64 `json:"u_mean"`
	VMean      float64 `json:"v_mean"`
	UStd       float64 `json:"u_std"`
	VStd       float64 `json:"v_std"`
	UMin       float64 `json:"u_min"`
	UMax       float64 `json:"u_max"`
	VMin       float64 `json:"v_min"`
	VMax       float64 `json:"v_max"`
	Complexity float64 `json:"complexity"`
}

// NewSample computes population statistics of both fields.
func NewSample(t float64, p dynamo.FieldPair) Sample {
	s := Sample{Time: t}
	s.UMean, s.UStd = stat.PopMeanStdDev(p.U, nil)
	s.VMean, s.VStd = stat.PopMeanStdDev(p.V, nil)
	s.UMin, s.UMax = floats.Min(p.U), floats.Max(p.U)
	s.VMin, s.VMax = floats.Min(p.V), floats.Max(p.V)
	s.Complexity = Complexity(p.U)
	if floats.HasNaN(p.U) || floats.HasNaN(p.V) {
		s.UMax, s.VMax = math.NaN(), math.NaN()
	}
	return s
}

func (s Sample) values() []float64 {
	return []float64{s.UMean, s.VMean, s.UStd, s.VStd, s.UMin, s.UMax, s.VMin, s.VMax}
}

func (s Sample) IsFinite() bool {
	return dynamo.State(s.values()).IsValid()
}

// MaxAbs is the largest field magnitude, NaN if any statistic is NaN.
func (s Sample) MaxAbs() float64 {
	return dynamo.State{s.UMin, s.UMax, s.VMin, s.VMax}.MaxAbs()
}

// Intensity is the spatial standard deviation of w = u + iv. It is
// invariant under the global phase rotation of the kinetics.
func (s Sample) Intensity() float64 {
	return math.Hypot(s.UStd, s.VStd)
}

// MeanModulus is |mean(u) + i·mean(v)|.
func (s Sample) MeanModulus() float64 {
	return math.Hypot(s.UMean, s.VMean)
}

// Complexity is the Shannon entropy of the value histogram of f, normalized
// to [0, 1]. A uniform field scores 0.
func Complexity(f dynamo.Field) float64 {
	if len(f) == 0 || !dynamo.State(f).IsValid() {
		return math.NaN()
	}
	sorted := slices.Clone([]float64(f))
	slices.Sort(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if hi == lo {
		return 0
	}

	dividers := make([]float64, complexityBins+1)
	floats.Span(dividers, lo, hi)
	dividers[complexityBins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)
	floats.Scale(1/float64(len(sorted)), counts)
	return stat.Entropy(counts) / math.Log(complexityBins)
}
