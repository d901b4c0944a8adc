package checkpoint

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/rdspiral/internal/dynamo"
)

func params(interval, dt, tEnd float64) dynamo.Params {
	p := dynamo.DefaultParams()
	p.N, p.L = 4, 10
	p.TStart, p.TEnd, p.Dt = 0, tEnd, dt
	p.Checkpoint = dynamo.CheckpointParams{Enabled: true, Interval: interval}
	return p
}

func fieldsOf(g dynamo.Grid, v float64) dynamo.FieldPair {
	pair := dynamo.FieldPair{U: dynamo.NewField(g), V: dynamo.NewField(g)}
	for i := range pair.U {
		pair.U[i], pair.V[i] = v, -v
	}
	return pair
}

func drive(m *Manager, p dynamo.Params) []Record {
	g, err := p.Grid()
	Expect(err).NotTo(HaveOccurred())
	var out []Record
	for i, t := range p.OutputTimes() {
		st := dynamo.IntegratorState{T: t, H: 0.01, Stats: dynamo.StepStats{Accepted: i}}
		if rec, ok := m.Observe(t, fieldsOf(g, t), st); ok {
			out = append(out, rec)
		}
	}
	return out
}

var _ = Describe("Manager", func() {
	It("emits one record per interval multiple up to t_end", func() {
		p := params(2.5, 0.5, 10)
		m := NewManager(p)
		Expect(m.Marks(0)).To(Equal([]float64{2.5, 5, 7.5, 10}))

		recs := drive(m, p)
		Expect(recs).To(HaveLen(4))
		for i, r := range recs {
			Expect(r.Index).To(Equal(i))
			Expect(r.Mark).To(BeNumerically("~", 2.5*float64(i+1), 1e-12))
			Expect(r.Time).To(BeNumerically(">=", r.Mark))
			Expect(r.Time - r.Mark).To(BeNumerically("<", p.Dt))
		}
		Expect(m.Records()).To(HaveLen(4))
		Expect(m.NextMark()).To(BeNumerically(">", p.TEnd))
	})

	It("takes the record at the first output time after an unaligned mark", func() {
		p := params(0.75, 0.5, 3)
		recs := drive(NewManager(p), p)
		times := make([]float64, len(recs))
		for i, r := range recs {
			times[i] = r.Time
		}
		Expect(times).To(Equal([]float64{1, 1.5, 2.5, 3}))
	})

	It("emits at most one record per output time", func() {
		p := params(0.25, 1, 3)
		recs := drive(NewManager(p), p)
		Expect(recs).To(HaveLen(3))
		Expect(recs[0].Mark).To(Equal(1.0))
		Expect(recs[2].Mark).To(Equal(3.0))
	})

	It("never places a mark beyond t_end", func() {
		p := params(4, 1, 10)
		m := NewManager(p)
		Expect(m.Marks(0)).To(Equal([]float64{4, 8}))
		Expect(drive(m, p)).To(HaveLen(2))
	})

	It("does nothing when disabled", func() {
		p := params(1, 0.5, 5)
		p.Checkpoint.Enabled = false
		m := NewManager(p)
		Expect(m.Enabled()).To(BeFalse())
		Expect(drive(m, p)).To(BeEmpty())
		_, ok := m.Latest()
		Expect(ok).To(BeFalse())
	})

	It("skips marks already passed on resume", func() {
		p := params(2, 1, 10)
		m := NewManager(p)
		m.Skip(4)
		Expect(m.NextMark()).To(Equal(6.0))
	})

	It("snapshots fields instead of aliasing them", func() {
		p := params(1, 1, 2)
		g, _ := p.Grid()
		m := NewManager(p)
		f := fieldsOf(g, 1)
		rec, ok := m.Observe(1, f, dynamo.IntegratorState{T: 1})
		Expect(ok).To(BeTrue())
		f.U[0] = 99
		Expect(rec.Fields.U[0]).To(Equal(1.0))
	})
})

var _ = Describe("Restore", func() {
	var p dynamo.Params

	BeforeEach(func() {
		p = params(1, 0.5, 5)
	})

	It("rebuilds the integrator state and the grid", func() {
		g, _ := p.Grid()
		rec := Record{Time: 2, H: 0.03, Stats: dynamo.StepStats{Accepted: 7, Rejected: 1}, Fields: fieldsOf(g, 0.4)}
		r, err := Restore(p, rec)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Grid).To(Equal(g))
		Expect(r.Waves.Multiplier).To(HaveLen(g.Points()))
		Expect(r.State.T).To(Equal(2.0))
		Expect(r.State.H).To(Equal(0.03))
		Expect(r.State.Stats.Accepted).To(Equal(7))

		back, err := dynamo.Unpack(r.State.X, g)
		Expect(err).NotTo(HaveOccurred())
		Expect(back.U).To(Equal(rec.Fields.U))
		Expect(back.V).To(Equal(rec.Fields.V))
	})

	It("rejects fields that do not match the grid", func() {
		rec := Record{Time: 1, Fields: dynamo.FieldPair{U: make(dynamo.Field, 3), V: make(dynamo.Field, 3)}}
		_, err := Restore(p, rec)
		Expect(err).To(MatchError(dynamo.ErrTransform))
	})

	It("rejects a time outside the run window", func() {
		g, _ := p.Grid()
		_, err := Restore(p, Record{Time: 6, Fields: fieldsOf(g, 0)})
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
	})
})
