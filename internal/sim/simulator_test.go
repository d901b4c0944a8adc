package sim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/rdspiral/internal/checkpoint"
	"github.com/san-kum/rdspiral/internal/dynamo"
	"github.com/san-kum/rdspiral/internal/metrics"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func smallParams() dynamo.Params {
	p := dynamo.DefaultParams()
	p.N, p.L = 16, 20
	p.TStart, p.TEnd, p.Dt = 0, 2, 0.25
	p.RTol, p.ATol = 1e-5, 1e-8
	p.Checkpoint = dynamo.CheckpointParams{Enabled: true, Interval: 1}
	return p
}

type recordingSink struct {
	mu          sync.Mutex
	samples     []metrics.Sample
	snapshots   []float64
	checkpoints []checkpoint.Record
	verdicts    []metrics.Verdict

	// failures counts down; while positive every write fails.
	failures int
}

var errSinkDown = errors.New("sink down")

func (s *recordingSink) fail() error {
	if s.failures > 0 {
		s.failures--
		return errSinkDown
	}
	return nil
}

func (s *recordingSink) WriteSample(smp metrics.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.samples = append(s.samples, smp)
	return nil
}

func (s *recordingSink) WriteSnapshot(t float64, _ dynamo.FieldPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.snapshots = append(s.snapshots, t)
	return nil
}

func (s *recordingSink) WriteCheckpoint(rec checkpoint.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.checkpoints = append(s.checkpoints, rec)
	return nil
}

func (s *recordingSink) WriteVerdict(v metrics.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.verdicts = append(s.verdicts, v)
	return nil
}

func sampleTimes(ss []metrics.Sample) []float64 {
	out := make([]float64, len(ss))
	for i, s := range ss {
		out[i] = s.Time
	}
	return out
}

var _ = Describe("Simulator", func() {
	It("rejects invalid parameters before any step", func() {
		p := smallParams()
		p.D1 = -1
		_, err := New(p)
		Expect(err).To(MatchError(dynamo.ErrConfiguration))

		var cfgErr *dynamo.ConfigError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
		Expect(cfgErr.Field).To(Equal("d1"))
	})

	It("rejects an unknown transform backend", func() {
		p := smallParams()
		p.Backend = "cufft"
		_, err := New(p)
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
	})

	It("produces one sample per output time and persists everything", func() {
		p := smallParams()
		sink := &recordingSink{}
		s, err := New(p, WithLogger(quiet), WithSink(sink), WithKeepFields(true))
		Expect(err).NotTo(HaveOccurred())

		res, err := s.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		want := p.OutputTimes()
		Expect(res.Times).To(Equal(want))
		Expect(sampleTimes(res.Samples)).To(Equal(want))
		Expect(res.Snapshots).To(HaveLen(len(want)))
		Expect(res.FinalTime).To(Equal(p.TEnd))
		Expect(res.Final.U).To(HaveLen(p.N * p.N))
		Expect(res.Stopped).To(BeFalse())
		Expect(res.PersistenceErr).NotTo(HaveOccurred())

		Expect(sampleTimes(sink.samples)).To(Equal(want))
		Expect(sink.snapshots).To(Equal(want))
		Expect(sink.checkpoints).To(HaveLen(2))
		Expect(sink.checkpoints[0].Mark).To(BeNumerically("~", 1, 1e-12))
		Expect(sink.checkpoints[1].Time).To(BeNumerically("~", 2, 1e-12))
		Expect(sink.verdicts).To(HaveLen(1))
		Expect(sink.verdicts[0]).To(Equal(res.Verdict))

		Expect(res.Steps.Accepted).To(BeNumerically(">", 0))
		Expect(res.Metrics).To(HaveKeyWithValue("stability", 1.0))
		Expect(res.Metrics).To(HaveKey("mean_intensity"))
		Expect(res.Metrics["rhs_evaluations"]).To(BeNumerically("==", res.Steps.Evaluations))
	})

	It("publishes a final status", func() {
		s, err := New(smallParams(), WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
		_, err = s.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		st := s.Status()
		Expect(st.Done).To(BeTrue())
		Expect(st.Fraction).To(BeNumerically("~", 1, 1e-12))

		var last Status
		Eventually(s.Updates()).Should(Receive(&last))
		Expect(last.Done).To(BeTrue())
	})

	It("stops on cancellation with a partial result", func() {
		s, err := New(smallParams(), WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := s.Run(ctx)
		Expect(err).To(MatchError(dynamo.ErrCanceled))
		Expect(res).NotTo(BeNil())
		Expect(res.Verdict.Kind).To(Equal(metrics.Undecided))
	})

	Context("when the sink fails", func() {
		It("retries failed writes in order at the next output", func() {
			p := smallParams()
			sink := &recordingSink{failures: 2}
			s, err := New(p, WithLogger(quiet), WithSink(sink))
			Expect(err).NotTo(HaveOccurred())

			res, err := s.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.PersistenceErr).NotTo(HaveOccurred())
			Expect(sampleTimes(sink.samples)).To(Equal(p.OutputTimes()))
			Expect(sink.snapshots).To(Equal(p.OutputTimes()))
		})

		It("reports writes still pending at the end", func() {
			sink := &recordingSink{failures: 1 << 20}
			s, err := New(smallParams(), WithLogger(quiet), WithSink(sink))
			Expect(err).NotTo(HaveOccurred())

			res, err := s.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.PersistenceErr).To(MatchError(dynamo.ErrPersistence))
			Expect(res.Times).To(HaveLen(len(smallParams().OutputTimes())))
		})

		It("aborts when persistence errors are fatal", func() {
			sink := &recordingSink{failures: 1}
			s, err := New(smallParams(), WithLogger(quiet), WithSink(sink), WithStopOnPersistenceError(true))
			Expect(err).NotTo(HaveOccurred())

			res, err := s.Run(context.Background())
			Expect(err).To(MatchError(dynamo.ErrPersistence))
			Expect(errors.Is(err, errSinkDown)).To(BeTrue())
			Expect(res.Times).To(HaveLen(1))
		})
	})

	It("resumes from a checkpoint and matches the uninterrupted run", func() {
		p := smallParams()
		p.RTol, p.ATol = 1e-8, 1e-11

		full, err := New(p, WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
		ref, err := full.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(ref.Checkpoints).NotTo(BeEmpty())

		rec := ref.Checkpoints[0]
		var history []metrics.Sample
		for _, smp := range ref.Samples {
			if smp.Time <= rec.Time {
				history = append(history, smp)
			}
		}

		sink := &recordingSink{}
		again, err := New(p, WithLogger(quiet), WithSink(sink))
		Expect(err).NotTo(HaveOccurred())
		res, err := again.Resume(context.Background(), rec, ref.Samples)
		Expect(err).NotTo(HaveOccurred())

		Expect(res.Times[0]).To(BeNumerically(">", rec.Time))
		Expect(len(history) + len(res.Times)).To(Equal(len(ref.Times)))
		Expect(sink.checkpoints).To(HaveLen(len(ref.Checkpoints) - 1))
		Expect(res.FinalTime).To(Equal(ref.FinalTime))
		for i := range res.Final.U {
			Expect(res.Final.U[i]).To(BeNumerically("~", ref.Final.U[i], 1e-6))
			Expect(res.Final.V[i]).To(BeNumerically("~", ref.Final.V[i], 1e-6))
		}
		Expect(res.Verdict.Kind).To(Equal(ref.Verdict.Kind))
	})

	It("rejects a checkpoint from another grid", func() {
		p := smallParams()
		s, err := New(p, WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
		ref, err := s.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		q := p
		q.N = 8
		other, err := New(q, WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
		_, err = other.Resume(context.Background(), ref.Checkpoints[0], nil)
		Expect(err).To(HaveOccurred())
	})

	It("flags divergence instead of failing", func() {
		p := smallParams()
		p.Monitor.MaxAbs = 0.5
		s, err := New(p, WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())

		res, err := s.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Verdict.Kind).To(Equal(metrics.Diverged))
		Expect(res.Verdict.Time).To(Equal(p.TStart))
		Expect(res.Metrics["stability"]).To(BeNumerically("<", 1))
	})

	It("keeps the last valid checkpoint when the output on a mark diverges", func() {
		p := smallParams()
		s, err := New(p, WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
		ref, err := s.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		rec := ref.Checkpoints[0]

		// Every output after rec is a mark and exceeds the bound.
		q := p
		q.Checkpoint.Interval = q.Dt
		q.Monitor.MaxAbs = 0.5
		sink := &recordingSink{}
		again, err := New(q, WithLogger(quiet), WithSink(sink))
		Expect(err).NotTo(HaveOccurred())
		res, err := again.Resume(context.Background(), rec, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(res.Verdict.Kind).To(Equal(metrics.Diverged))
		Expect(res.Verdict.Time).To(BeNumerically("~", rec.Time+q.Dt, 1e-12))
		Expect(res.Checkpoints).To(BeEmpty())
		Expect(sink.checkpoints).To(BeEmpty())
		Expect(sink.snapshots).To(BeEmpty())
		Expect(sink.samples).To(HaveLen(1))
		Expect(res.FinalTime).To(Equal(rec.Time))
	})
})

var _ = Describe("Ensemble", func() {
	It("runs members independently and keeps job order", func() {
		good := smallParams()
		good.TEnd = 1
		bad := good
		bad.N = 0

		e := NewEnsemble(2, quiet)
		out := e.Run(context.Background(), []Job{
			{Name: "a", Params: good},
			{Name: "broken", Params: bad},
			{Name: "c", Params: good, Options: []Option{WithStopOnVerdict(true)}},
		})
		Expect(out).To(HaveLen(3))
		Expect(out[0].Name).To(Equal("a"))
		Expect(out[0].Err).NotTo(HaveOccurred())
		Expect(out[1].Err).To(MatchError(dynamo.ErrConfiguration))
		Expect(out[1].Result).To(BeNil())
		Expect(out[2].Err).NotTo(HaveOccurred())
		Expect(out[2].Result.Final.U).To(Equal(out[0].Result.Final.U))
	})
})

var _ = Describe("Regime classification", func() {
	It("reports a washed-out pattern as decayed", func() {
		p := dynamo.DefaultParams()
		p.D1, p.D2, p.Beta = 0.5, 0.5, 1
		p.L, p.N = 10, 32
		p.TEnd = 60

		s, err := New(p, WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
		res, err := s.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(res.Verdict.Kind).To(Equal(metrics.Decayed))
		Expect(res.Verdict.Time).To(BeNumerically("<", p.TEnd))
		last := res.Samples[len(res.Samples)-1]
		Expect(last.Intensity()).To(BeNumerically("<", p.Monitor.DecayThreshold))
		Expect(last.MeanModulus()).To(BeNumerically("~", 1, 1e-2))
	})

	It("reports a rotating spiral as equilibrium", func() {
		p := dynamo.DefaultParams()
		p.L, p.N = 20, 64
		p.TEnd = 30

		s, err := New(p, WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
		res, err := s.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(res.Verdict.Kind).To(Equal(metrics.Equilibrium))
		last := res.Samples[len(res.Samples)-1]
		Expect(last.Intensity()).To(BeNumerically(">", 0.5))
	})
})

var _ = Describe("Regime scenarios", Label("scenario"), func() {
	BeforeEach(func() {
		if testing.Short() {
			Skip("long integration")
		}
	})

	It("decays to a homogeneous state under strong diffusion", func() {
		p := dynamo.DefaultParams()
		p.D1, p.D2, p.Beta = 0.5, 0.5, 1
		p.L, p.N = 10, 64
		p.TEnd = 100

		s, err := New(p, WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
		res, err := s.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(res.Verdict.Kind).To(Equal(metrics.Decayed))
		last := res.Samples[len(res.Samples)-1]
		Expect(last.Intensity()).To(BeNumerically("<", p.Monitor.DecayThreshold))
	})

	It("reaches the same regime after resuming mid-run", func() {
		p := dynamo.DefaultParams()
		p.D1, p.D2, p.Beta = 0.5, 0.5, 1
		p.L, p.N = 10, 64
		p.TEnd = 100
		p.Checkpoint = dynamo.CheckpointParams{Enabled: true, Interval: 25}

		s, err := New(p, WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
		ref, err := s.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(len(ref.Checkpoints)).To(BeNumerically(">=", 2))

		again, err := New(p, WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
		res, err := again.Resume(context.Background(), ref.Checkpoints[1], ref.Samples)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Verdict.Kind).To(Equal(ref.Verdict.Kind))
	})

	It("settles into a rotating spiral", func() {
		p := dynamo.DefaultParams()
		p.D1, p.D2, p.Beta = 0.1, 0.1, 1
		p.L, p.N = 20, 128
		p.TEnd = 200

		s, err := New(p, WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
		res, err := s.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Verdict.Kind).To(Equal(metrics.Equilibrium))
	})

	It("keeps evolving in the turbulent regime", func() {
		p := dynamo.DefaultParams()
		p.D1, p.D2, p.Beta = 0.03, 0.2, 0.65
		p.L, p.N = 50, 128
		p.TEnd, p.Dt = 40, 0.5
		p.SpiralArms = 4
		p.EquilibriumCheck = false
		p.Checkpoint = dynamo.CheckpointParams{Enabled: true, Interval: 10}

		s, err := New(p, WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
		res, err := s.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(res.Verdict.Kind).To(Equal(metrics.NonEquilibrium))
		Expect(res.Checkpoints).To(HaveLen(4))
		for i, rec := range res.Checkpoints {
			Expect(rec.Mark).To(BeNumerically("~", 10*float64(i+1), 1e-9))
		}
		for _, smp := range res.Samples {
			Expect(smp.IsFinite()).To(BeTrue())
			Expect(math.Abs(smp.MaxAbs())).To(BeNumerically("<", 10))
		}
	})
})
