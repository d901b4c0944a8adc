package metrics

import (
	"fmt"
	"math"
)

// Metric summarizes a run from its output samples.
type Metric interface {
	Name() string
	Observe(s Sample)
	Value() float64
	Reset()
}

// Stability watches for divergence: a non-finite statistic, a field
// magnitude above maxAbs, or growth of max|field| by more than
// growthBound within one output interval. Value is the fraction of
// samples that passed.
type Stability struct {
	name        string
	maxAbs      float64
	growthBound float64
	floor       float64

	violations int
	samples    int
	prevMax    float64
}

func NewStability(maxAbs, growthBound, floor float64) *Stability {
	return &Stability{
		name:        "stability",
		maxAbs:      maxAbs,
		growthBound: growthBound,
		floor:       floor,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(sample Sample) {
	s.Check(sample)
}

// Check records the sample and returns a non-empty reason if it diverged.
func (s *Stability) Check(sample Sample) string {
	s.samples++
	reason := ""
	m := sample.MaxAbs()
	switch {
	case !sample.IsFinite() || math.IsNaN(m):
		reason = "non-finite field value"
	case m > s.maxAbs:
		reason = fmt.Sprintf("max|field| %.3g exceeds %.3g", m, s.maxAbs)
	case s.prevMax > s.floor && m/s.prevMax > s.growthBound:
		reason = fmt.Sprintf("max|field| grew %.3g× in one interval", m/s.prevMax)
	}
	if reason != "" {
		s.violations++
	}
	s.prevMax = m
	return reason
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
	s.prevMax = 0
}

// Intensity is the time-averaged pattern intensity.
type Intensity struct {
	sum     float64
	samples int
}

func (i *Intensity) Name() string { return "mean_intensity" }

func (i *Intensity) Observe(s Sample) {
	if v := s.Intensity(); !math.IsNaN(v) {
		i.sum += v
		i.samples++
	}
}

func (i *Intensity) Value() float64 {
	if i.samples == 0 {
		return 0
	}
	return i.sum / float64(i.samples)
}

func (i *Intensity) Reset() {
	i.sum = 0
	i.samples = 0
}
