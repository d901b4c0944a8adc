// Package checkpoint decides when a run's state is worth keeping and turns
// a kept record back into a resumable integrator state.
//
// Marks sit at multiples of the interval in (t_start, t_end]. A record is
// taken at the first output time at or after each crossing, never
// interpolated backward. Grid and wavenumbers are not stored; Restore
// recomputes them from the run parameters.
//
// Resuming reproduces the fields and time exactly, but the adaptive step
// controller is history-dependent: the continued trajectory matches an
// uninterrupted run only to within step-size-history sensitivity.
package checkpoint

import (
	"fmt"
	"math"

	"github.com/san-kum/rdspiral/internal/dynamo"
	"github.com/san-kum/rdspiral/internal/spectral"
)

// Record is the state needed to resume at Time. Mark is the interval
// multiple whose crossing triggered it.
type Record struct {
	Index  int              `json:"index"`
	Mark   float64          `json:"mark"`
	Time   float64          `json:"time"`
	H      float64          `json:"h"`
	Stats  dynamo.StepStats `json:"stats"`
	Fields dynamo.FieldPair `json:"-"`
}

type Manager struct {
	enabled  bool
	interval float64
	tEnd     float64
	next     int // index k of the next mark k·interval
	records  []Record
}

func NewManager(p dynamo.Params) *Manager {
	m := &Manager{
		enabled:  p.Checkpoint.Enabled,
		interval: p.Checkpoint.Interval,
		tEnd:     p.TEnd,
	}
	if m.enabled {
		m.Skip(p.TStart)
	}
	return m
}

func (m *Manager) Enabled() bool { return m.enabled }

// Skip moves the next mark strictly past t.
func (m *Manager) Skip(t float64) {
	if !m.enabled {
		return
	}
	m.next = int(math.Floor(t/m.interval)) + 1
	for m.mark(m.next) <= t {
		m.next++
	}
}

func (m *Manager) mark(k int) float64 { return float64(k) * m.interval }

// NextMark returns the next pending mark, or +Inf when none remain.
func (m *Manager) NextMark() float64 {
	if !m.enabled {
		return math.Inf(1)
	}
	if mk := m.mark(m.next); mk <= m.tEnd {
		return mk
	}
	return math.Inf(1)
}

// Marks lists every mark in (from, t_end].
func (m *Manager) Marks(from float64) []float64 {
	if !m.enabled {
		return nil
	}
	var out []float64
	for k := int(math.Floor(from/m.interval)) + 1; m.mark(k) <= m.tEnd; k++ {
		if mk := m.mark(k); mk > from {
			out = append(out, mk)
		}
	}
	return out
}

// Observe is called at every output time with the fields there and the
// integrator state. It returns a record when a mark was crossed; if
// several were, the record carries the latest one.
func (m *Manager) Observe(t float64, fields dynamo.FieldPair, st dynamo.IntegratorState) (Record, bool) {
	mk := m.NextMark()
	if math.IsInf(mk, 1) || t < mk {
		return Record{}, false
	}
	for m.mark(m.next+1) <= t && m.mark(m.next+1) <= m.tEnd {
		m.next++
	}
	rec := Record{
		Index:  len(m.records),
		Mark:   m.mark(m.next),
		Time:   t,
		H:      st.H,
		Stats:  st.Stats,
		Fields: fields.Clone(),
	}
	m.next++
	m.records = append(m.records, rec)
	return rec, true
}

func (m *Manager) Records() []Record { return m.records }

func (m *Manager) Latest() (Record, bool) {
	if len(m.records) == 0 {
		return Record{}, false
	}
	return m.records[len(m.records)-1], true
}

// Restored is a record expanded against the run parameters.
type Restored struct {
	Grid  dynamo.Grid
	Waves spectral.Wavenumbers
	State dynamo.IntegratorState
}

// Restore rebuilds the integrator state of rec under p.
func Restore(p dynamo.Params, rec Record) (Restored, error) {
	if err := p.Validate(); err != nil {
		return Restored{}, err
	}
	g, err := p.Grid()
	if err != nil {
		return Restored{}, err
	}
	if len(rec.Fields.U) != g.Points() || len(rec.Fields.V) != g.Points() {
		return Restored{}, dynamo.TransformError("checkpoint fields", len(rec.Fields.U)+len(rec.Fields.V), 2*g.Points())
	}
	if rec.Time < p.TStart || rec.Time > p.TEnd {
		return Restored{}, &dynamo.ConfigError{Field: "checkpoint.time", Value: rec.Time, Reason: fmt.Sprintf("outside [%g, %g]", p.TStart, p.TEnd)}
	}
	if !rec.Fields.IsValid() {
		return Restored{}, fmt.Errorf("checkpoint %d at t=%g: %w", rec.Index, rec.Time, dynamo.ErrDiverged)
	}
	return Restored{
		Grid:  g,
		Waves: spectral.NewWavenumbers(g),
		State: dynamo.IntegratorState{
			T:     rec.Time,
			X:     dynamo.Pack(rec.Fields),
			H:     rec.H,
			Stats: rec.Stats,
		},
	}, nil
}
