package integrators

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/rdspiral/internal/dynamo"
)

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

// errorExponent is -1/(q+1) for the embedded 4th-order estimate.
const errorExponent = -1.0 / 5.0

// Attempt describes one trial step.
type Attempt struct {
	Accepted bool
	T        float64 // time before the attempt
	H        float64 // step actually tried
	ErrNorm  float64 // scaled RMS error; ≤ 1 on acceptance
	NextH    float64
}

// RK45 is an adaptive Dormand-Prince 5(4) stepper with FSAL reuse and a
// quartic dense output. It owns the IntegratorState and is not safe for
// concurrent use.
type RK45 struct {
	sys        dynamo.System
	rtol, atol float64
	ctl        dynamo.StepParams
	tEnd       float64

	state dynamo.IntegratorState
	f     dynamo.State // derivative at state.X
	ready bool

	rejected bool // a rejection happened since the last acceptance
	dense    *DenseOutput
	k        [7]dynamo.State
}

func NewRK45(sys dynamo.System, p dynamo.Params) *RK45 {
	return &RK45{
		sys:  sys,
		rtol: p.RTol,
		atol: p.ATol,
		ctl:  p.Step,
		tEnd: p.TEnd,
	}
}

// Init starts integration at (t0, x0). The initial step is ctl.FirstStep
// when set and estimated otherwise.
func (r *RK45) Init(t0 float64, x0 dynamo.State) error {
	return r.start(t0, x0, r.ctl.FirstStep, dynamo.StepStats{})
}

// Restore resumes from a saved IntegratorState. A zero H re-estimates the
// initial step, which makes the continued trajectory differ slightly from
// an uninterrupted one.
func (r *RK45) Restore(s dynamo.IntegratorState) error {
	return r.start(s.T, s.X, s.H, s.Stats)
}

func (r *RK45) start(t0 float64, x0 dynamo.State, h float64, stats dynamo.StepStats) error {
	if len(x0) != r.sys.StateDim() {
		return fmt.Errorf("initial state has %d values, system wants %d: %w", len(x0), r.sys.StateDim(), dynamo.ErrDimensionMismatch)
	}
	if !x0.IsValid() {
		return fmt.Errorf("initial state: %w", dynamo.ErrDiverged)
	}
	f0, err := r.sys.Derive(x0, t0)
	if err != nil {
		return err
	}
	stats.Evaluations++
	r.state = dynamo.IntegratorState{T: t0, X: x0.Clone(), Stats: stats}
	r.f = f0
	r.dense = nil
	r.rejected = false

	if h <= 0 {
		h, err = r.initialStep(t0, x0, f0)
		if err != nil {
			return err
		}
	}
	r.state.H = r.capStep(h)
	r.ready = true
	return nil
}

func (r *RK45) capStep(h float64) float64 {
	if r.ctl.MaxStep > 0 && h > r.ctl.MaxStep {
		return r.ctl.MaxStep
	}
	return h
}

// State returns a copy of the current integrator state.
func (r *RK45) State() dynamo.IntegratorState { return r.state.Clone() }

func (r *RK45) Time() float64 { return r.state.T }

// minStep is the numerical floor below which h is indistinguishable from
// zero relative to t.
func (r *RK45) minStep() float64 {
	t := r.state.T
	return 10 * math.Abs(math.Nextafter(t, math.Inf(1))-t)
}

// Attempt tries one step of size h clipped to t_end. On rejection the
// time and state are left unchanged and h shrinks.
func (r *RK45) Attempt() (Attempt, error) {
	if !r.ready {
		return Attempt{}, fmt.Errorf("integrator not initialised: %w", dynamo.ErrConfiguration)
	}
	s := &r.state
	if s.T >= r.tEnd {
		return Attempt{T: s.T}, fmt.Errorf("already at t_end %g: %w", r.tEnd, dynamo.ErrConfiguration)
	}
	if s.H < r.minStep() {
		return Attempt{T: s.T, H: s.H}, &dynamo.SimulationError{Step: s.Stats.Accepted, Time: s.T, Wrapped: dynamo.ErrStepSize}
	}

	h := s.H
	tNew := s.T + h
	if tNew > r.tEnd {
		tNew = r.tEnd
	}
	h = tNew - s.T

	xNew, errNorm, err := r.stages(s.T, s.X, h)
	if err != nil {
		return Attempt{T: s.T, H: h}, err
	}

	att := Attempt{T: s.T, H: h, ErrNorm: errNorm}
	if errNorm <= 1 {
		factor := r.ctl.MaxFactor
		if errNorm > 0 {
			factor = math.Min(r.ctl.MaxFactor, r.ctl.Safety*math.Pow(errNorm, errorExponent))
		}
		if r.rejected {
			factor = math.Min(1, factor)
		}

		r.dense = newDenseOutput(s.T, tNew, s.X, r.k)
		s.T = tNew
		s.X = xNew
		s.H = r.capStep(h * factor)
		s.Stats.Accepted++
		r.f = r.k[6]
		r.rejected = false
		att.Accepted = true
		att.NextH = s.H

		if !r.f.IsValid() {
			return att, &dynamo.SimulationError{Step: s.Stats.Accepted, Time: s.T, Wrapped: dynamo.ErrDiverged}
		}
		return att, nil
	}

	factor := r.ctl.MinFactor
	if !math.IsNaN(errNorm) && !math.IsInf(errNorm, 0) {
		factor = math.Max(r.ctl.MinFactor, r.ctl.Safety*math.Pow(errNorm, errorExponent))
	}
	s.H = h * factor
	s.Stats.Rejected++
	r.rejected = true
	att.NextH = s.H
	return att, nil
}

// stages evaluates the seven Dormand-Prince stages from (t, x) with step h
// and returns the 5th-order solution and the scaled error norm. Stage 1 is
// the cached derivative at x.
func (r *RK45) stages(t float64, x dynamo.State, h float64) (dynamo.State, float64, error) {
	n := len(x)
	k := &r.k
	k[0] = r.f
	tmp := make(dynamo.State, n)

	eval := func(idx int, tc float64) error {
		d, err := r.sys.Derive(tmp, tc)
		r.state.Stats.Evaluations++
		if err != nil {
			return err
		}
		k[idx] = d
		return nil
	}

	for i := 0; i < n; i++ {
		tmp[i] = x[i] + h*b21*k[0][i]
	}
	if err := eval(1, t+a2*h); err != nil {
		return nil, 0, err
	}
	for i := 0; i < n; i++ {
		tmp[i] = x[i] + h*(b31*k[0][i]+b32*k[1][i])
	}
	if err := eval(2, t+a3*h); err != nil {
		return nil, 0, err
	}
	for i := 0; i < n; i++ {
		tmp[i] = x[i] + h*(b41*k[0][i]+b42*k[1][i]+b43*k[2][i])
	}
	if err := eval(3, t+a4*h); err != nil {
		return nil, 0, err
	}
	for i := 0; i < n; i++ {
		tmp[i] = x[i] + h*(b51*k[0][i]+b52*k[1][i]+b53*k[2][i]+b54*k[3][i])
	}
	if err := eval(4, t+a5*h); err != nil {
		return nil, 0, err
	}
	for i := 0; i < n; i++ {
		tmp[i] = x[i] + h*(b61*k[0][i]+b62*k[1][i]+b63*k[2][i]+b64*k[3][i]+b65*k[4][i])
	}
	if err := eval(5, t+h); err != nil {
		return nil, 0, err
	}

	xNew := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		xNew[i] = x[i] + h*(c1*k[0][i]+c3*k[2][i]+c4*k[3][i]+c5*k[4][i]+c6*k[5][i])
	}
	copy(tmp, xNew)
	if err := eval(6, t+h); err != nil {
		return nil, 0, err
	}

	sum := 0.0
	for i := 0; i < n; i++ {
		errEst := h * (dc1*k[0][i] + dc3*k[2][i] + dc4*k[3][i] + dc5*k[4][i] + dc6*k[5][i] + dc7*k[6][i])
		scale := r.atol + r.rtol*math.Max(math.Abs(x[i]), math.Abs(xNew[i]))
		e := errEst / scale
		sum += e * e
	}
	return xNew, math.Sqrt(sum / float64(n)), nil
}

// Step attempts until one step is accepted.
func (r *RK45) Step() (Attempt, error) {
	for {
		att, err := r.Attempt()
		if err != nil || att.Accepted {
			return att, err
		}
	}
}

// Advance integrates until tOut is covered by an accepted step and returns
// the solution at tOut, interpolated with the dense output when the step
// overshoots it. ctx is checked before every attempt.
func (r *RK45) Advance(ctx context.Context, tOut float64) (dynamo.State, error) {
	if tOut > r.tEnd {
		return nil, fmt.Errorf("output time %g beyond t_end %g: %w", tOut, r.tEnd, dynamo.ErrConfiguration)
	}
	for r.state.T < tOut {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", dynamo.ErrCanceled, err)
		}
		if _, err := r.Step(); err != nil {
			return nil, err
		}
	}
	return r.Interpolate(tOut)
}

// Interpolate evaluates the solution at t within the last accepted step.
func (r *RK45) Interpolate(t float64) (dynamo.State, error) {
	if t == r.state.T {
		return r.state.X.Clone(), nil
	}
	if r.dense == nil || !r.dense.Covers(t) {
		return nil, fmt.Errorf("time %g outside the last accepted step: %w", t, dynamo.ErrConfiguration)
	}
	y := r.dense.At(t)
	if !y.IsValid() {
		return nil, &dynamo.SimulationError{Step: r.state.Stats.Accepted, Time: t, Wrapped: dynamo.ErrDiverged}
	}
	return y, nil
}
