package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/rdspiral/internal/dynamo"
)

type VerdictKind int

const (
	// Undecided means no regime has been established yet.
	Undecided VerdictKind = iota
	Equilibrium
	Decayed
	NonEquilibrium
	Diverged
)

func (k VerdictKind) String() string {
	switch k {
	case Equilibrium:
		return "equilibrium"
	case Decayed:
		return "decayed"
	case NonEquilibrium:
		return "non_equilibrium"
	case Diverged:
		return "diverged"
	default:
		return "undecided"
	}
}

func ParseVerdictKind(s string) (VerdictKind, error) {
	for k := Undecided; k <= Diverged; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return Undecided, fmt.Errorf("unknown verdict %q", s)
}

func (k VerdictKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *VerdictKind) UnmarshalText(b []byte) error {
	v, err := ParseVerdictKind(string(b))
	*k = v
	return err
}

// Verdict is the regime classification. Time is when the regime was first
// reached (Equilibrium, Decayed) or detected (Diverged).
type Verdict struct {
	Kind   VerdictKind `json:"kind"`
	Time   float64     `json:"time"`
	Reason string      `json:"reason,omitempty"`
}

// Settled reports whether the run has nothing more to show: the fields
// diverged or stopped changing.
func (v Verdict) Settled() bool {
	return v.Kind == Equilibrium || v.Kind == Decayed || v.Kind == Diverged
}

func (v Verdict) String() string {
	if v.Kind == Undecided || v.Kind == NonEquilibrium {
		return v.Kind.String()
	}
	return fmt.Sprintf("%s at t=%.4g", v.Kind, v.Time)
}

// Monitor classifies the regime from the append-only sequence of samples.
type Monitor struct {
	cfg   dynamo.MonitorParams
	check bool

	samples   []Sample
	stability *Stability
	verdict   Verdict
}

func NewMonitor(p dynamo.Params) *Monitor {
	m := p.Monitor
	return &Monitor{
		cfg:       m,
		check:     p.EquilibriumCheck,
		stability: NewStability(m.MaxAbs, m.GrowthBound, m.MagnitudeFloor),
	}
}

// Restore seeds the monitor with samples from an earlier segment of the run.
func (m *Monitor) Restore(history []Sample) error {
	for _, s := range history {
		if _, err := m.Observe(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) Samples() []Sample { return m.samples }

func (m *Monitor) Verdict() Verdict { return m.verdict }

func (m *Monitor) Stability() *Stability { return m.stability }

// Observe appends s and re-classifies the trailing window. A Diverged
// verdict is final; the other kinds follow the latest window.
func (m *Monitor) Observe(s Sample) (Verdict, error) {
	if n := len(m.samples); n > 0 && !(s.Time > m.samples[n-1].Time) {
		return m.verdict, fmt.Errorf("sample at t=%g does not follow t=%g: %w", s.Time, m.samples[n-1].Time, dynamo.ErrConfiguration)
	}
	m.samples = append(m.samples, s)
	if m.verdict.Kind == Diverged {
		return m.verdict, nil
	}

	if reason := m.stability.Check(s); reason != "" {
		m.verdict = Verdict{Kind: Diverged, Time: s.Time, Reason: reason}
		return m.verdict, nil
	}
	if !m.check {
		return m.verdict, nil
	}

	kind := Undecided
	if m.quiescent() {
		kind = Equilibrium
		if s.Intensity() < m.cfg.DecayThreshold {
			kind = Decayed
		}
	}
	m.setKind(kind, "window variability below tolerance")
	return m.verdict, nil
}

func (m *Monitor) setKind(kind VerdictKind, reason string) {
	if kind == m.verdict.Kind {
		return
	}
	v := Verdict{Kind: kind}
	if kind == Equilibrium || kind == Decayed {
		v.Time = m.regimeStart()
		v.Reason = reason
	}
	m.verdict = v
}

// regimeStart is the first time of the current quiet window.
func (m *Monitor) regimeStart() float64 {
	w := m.cfg.Window
	if w > len(m.samples) {
		w = len(m.samples)
	}
	return m.samples[len(m.samples)-w].Time
}

// quiescent reports whether every consecutive pair in the last Window
// samples changed by less than VariabilityTol, relative to
// max(|value|, MagnitudeFloor), in intensity and mean modulus.
func (m *Monitor) quiescent() bool {
	w := m.cfg.Window
	if len(m.samples) < w {
		return false
	}
	win := m.samples[len(m.samples)-w:]
	for i := 1; i < len(win); i++ {
		if m.relChange(win[i-1].Intensity(), win[i].Intensity()) > m.cfg.VariabilityTol ||
			m.relChange(win[i-1].MeanModulus(), win[i].MeanModulus()) > m.cfg.VariabilityTol {
			return false
		}
	}
	return true
}

func (m *Monitor) relChange(prev, cur float64) float64 {
	return math.Abs(cur-prev) / math.Max(math.Abs(prev), m.cfg.MagnitudeFloor)
}

// TailSize is the number of trailing samples inspected at t_end.
func TailSize(n int) int {
	return min(n, max(n/10, 10))
}

// Finalize fixes the verdict at the end of the run. When no window
// verdict holds, the last max(10%, 10) samples decide: a pattern
// intensity whose standard deviation is below VariabilityTol counts as
// settled.
func (m *Monitor) Finalize() Verdict {
	if m.verdict.Kind == Diverged {
		return m.verdict
	}
	if !m.check || len(m.samples) == 0 {
		m.verdict = Verdict{Kind: NonEquilibrium}
		return m.verdict
	}
	if m.verdict.Kind == Equilibrium || m.verdict.Kind == Decayed {
		return m.verdict
	}

	tail := m.samples[len(m.samples)-TailSize(len(m.samples)):]
	if len(tail) >= 2 {
		intensity := make([]float64, len(tail))
		for i, s := range tail {
			intensity[i] = s.Intensity()
		}
		if spread := stat.StdDev(intensity, nil); spread < m.cfg.VariabilityTol {
			kind := Equilibrium
			if intensity[len(intensity)-1] < m.cfg.DecayThreshold {
				kind = Decayed
			}
			m.verdict = Verdict{
				Kind:   kind,
				Time:   tail[0].Time,
				Reason: fmt.Sprintf("tail intensity spread %.2g over %d samples", spread, len(tail)),
			}
			return m.verdict
		}
	}
	m.verdict = Verdict{Kind: NonEquilibrium}
	return m.verdict
}

// Diverge records a divergence detected outside the sample statistics,
// such as a non-finite derivative inside the integrator.
func (m *Monitor) Diverge(t float64, reason string) Verdict {
	if m.verdict.Kind != Diverged {
		m.verdict = Verdict{Kind: Diverged, Time: t, Reason: reason}
	}
	return m.verdict
}
