package dynamo

import (
	"math"
)

// StepParams tunes the adaptive step-size controller.
type StepParams struct {
	Safety    float64 `json:"safety"`
	MinFactor float64 `json:"min_factor"`
	MaxFactor float64 `json:"max_factor"`
	// FirstStep > 0 fixes the initial step; otherwise it is estimated.
	FirstStep float64 `json:"first_step"`
	// MaxStep > 0 caps every step.
	MaxStep float64 `json:"max_step"`
}

// MonitorParams are the regime classification thresholds.
type MonitorParams struct {
	// Window is the number of trailing samples inspected.
	Window int `json:"window"`
	// VariabilityTol bounds the normalized sample-to-sample change.
	VariabilityTol float64 `json:"variability_tol"`
	// DecayThreshold separates a decayed pattern from a sustained one.
	DecayThreshold float64 `json:"decay_threshold"`
	// MagnitudeFloor is the smallest normalizer for relative changes.
	MagnitudeFloor float64 `json:"magnitude_floor"`
	// GrowthBound is the largest allowed max|field| ratio between samples.
	GrowthBound float64 `json:"growth_bound"`
	// MaxAbs is the largest allowed max|field|.
	MaxAbs float64 `json:"max_abs"`
}

type CheckpointParams struct {
	Enabled  bool    `json:"enabled"`
	Interval float64 `json:"interval"`
}

// PerturbParams adds periodic noise to the initial spiral. Zero amplitude
// disables it.
type PerturbParams struct {
	Amplitude float64 `json:"amplitude"`
	Seed      int64   `json:"seed"`
	// Scale is the noise frequency in features per domain side.
	Scale float64 `json:"scale"`
}

// Params is the immutable parameter set of one run. It is passed by value
// into every constructor.
type Params struct {
	D1   float64 `json:"d1"`
	D2   float64 `json:"d2"`
	Beta float64 `json:"beta"`

	L float64 `json:"L"`
	N int     `json:"n"`

	TStart float64 `json:"t_start"`
	TEnd   float64 `json:"t_end"`
	Dt     float64 `json:"dt"`

	RTol float64 `json:"rtol"`
	ATol float64 `json:"atol"`

	SpiralArms       int              `json:"num_spiral_arms"`
	EquilibriumCheck bool             `json:"equilibrium_check"`
	Checkpoint       CheckpointParams `json:"checkpoint"`

	Step         StepParams    `json:"step"`
	Monitor      MonitorParams `json:"monitor"`
	Perturbation PerturbParams `json:"perturbation"`

	Backend string `json:"fft_backend"`
	Workers int    `json:"workers"`
}

func DefaultStepParams() StepParams {
	return StepParams{Safety: 0.9, MinFactor: 0.2, MaxFactor: 10}
}

func DefaultMonitorParams() MonitorParams {
	return MonitorParams{
		Window:         20,
		VariabilityTol: 1e-3,
		DecayThreshold: 1e-2,
		MagnitudeFloor: 1e-2,
		GrowthBound:    1e3,
		MaxAbs:         1e6,
	}
}

func DefaultParams() Params {
	return Params{
		D1: 0.1, D2: 0.1, Beta: 1.0,
		L: 20, N: 128,
		TStart: 0, TEnd: 200, Dt: 0.1,
		RTol: 1e-6, ATol: 1e-9,
		SpiralArms:       1,
		EquilibriumCheck: true,
		Step:             DefaultStepParams(),
		Monitor:          DefaultMonitorParams(),
	}
}

func finitePositive(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return &ConfigError{Field: field, Value: v, Reason: "must be a finite positive number"}
	}
	return nil
}

// Validate reports the first invalid parameter as a *ConfigError.
func (p Params) Validate() error {
	checks := []struct {
		name string
		v    float64
	}{
		{"d1", p.D1}, {"d2", p.D2}, {"L", p.L}, {"dt", p.Dt},
		{"rtol", p.RTol}, {"atol", p.ATol},
	}
	for _, c := range checks {
		if err := finitePositive(c.name, c.v); err != nil {
			return err
		}
	}
	if math.IsNaN(p.Beta) || math.IsInf(p.Beta, 0) {
		return &ConfigError{Field: "beta", Value: p.Beta, Reason: "must be finite"}
	}
	if p.N < 1 {
		return &ConfigError{Field: "n", Value: p.N, Reason: "resolution must be at least 1"}
	}
	if math.IsNaN(p.TStart) || math.IsInf(p.TStart, 0) {
		return &ConfigError{Field: "t_start", Value: p.TStart, Reason: "must be finite"}
	}
	if !(p.TEnd > p.TStart) || math.IsInf(p.TEnd, 0) {
		return &ConfigError{Field: "t_end", Value: p.TEnd, Reason: "must be greater than t_start"}
	}
	if p.SpiralArms < 1 {
		return &ConfigError{Field: "num_spiral_arms", Value: p.SpiralArms, Reason: "must be a positive integer"}
	}
	if p.Checkpoint.Enabled {
		if err := finitePositive("checkpoint.interval", p.Checkpoint.Interval); err != nil {
			return err
		}
	}
	s := p.Step
	if !(s.Safety > 0 && s.Safety <= 1) {
		return &ConfigError{Field: "integrator.safety", Value: s.Safety, Reason: "must be in (0, 1]"}
	}
	if !(s.MinFactor > 0 && s.MinFactor < 1) {
		return &ConfigError{Field: "integrator.min_factor", Value: s.MinFactor, Reason: "must be in (0, 1)"}
	}
	if !(s.MaxFactor > 1) {
		return &ConfigError{Field: "integrator.max_factor", Value: s.MaxFactor, Reason: "must exceed 1"}
	}
	if s.FirstStep < 0 || s.MaxStep < 0 {
		return &ConfigError{Field: "integrator.first_step", Value: s.FirstStep, Reason: "step bounds must be non-negative"}
	}
	m := p.Monitor
	if m.Window < 2 {
		return &ConfigError{Field: "monitor.window", Value: m.Window, Reason: "must be at least 2"}
	}
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"monitor.variability_tol", m.VariabilityTol},
		{"monitor.decay_threshold", m.DecayThreshold},
		{"monitor.magnitude_floor", m.MagnitudeFloor},
		{"monitor.growth_bound", m.GrowthBound},
		{"monitor.max_abs", m.MaxAbs},
	} {
		if err := finitePositive(c.name, c.v); err != nil {
			return err
		}
	}
	if p.Perturbation.Amplitude < 0 {
		return &ConfigError{Field: "perturbation.amplitude", Value: p.Perturbation.Amplitude, Reason: "must be non-negative"}
	}
	return nil
}

func (p Params) Grid() (Grid, error) {
	return NewGrid(p.L, p.N)
}

// OutputTimes returns t_start, t_start+dt, ... up to and including t_end
// (the last time is clamped to t_end when dt does not divide the window).
func (p Params) OutputTimes() []float64 {
	count := int(math.Floor((p.TEnd-p.TStart)/p.Dt + 1e-9))
	times := make([]float64, 0, count+2)
	for k := 0; k <= count; k++ {
		times = append(times, p.TStart+float64(k)*p.Dt)
	}
	last := times[len(times)-1]
	if p.TEnd-last > 1e-9*p.Dt {
		times = append(times, p.TEnd)
	} else {
		times[len(times)-1] = math.Min(last, p.TEnd)
	}
	return times
}
