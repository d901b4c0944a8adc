package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/san-kum/rdspiral/internal/checkpoint"
	"github.com/san-kum/rdspiral/internal/compute"
	"github.com/san-kum/rdspiral/internal/dynamo"
	"github.com/san-kum/rdspiral/internal/integrators"
	"github.com/san-kum/rdspiral/internal/metrics"
	"github.com/san-kum/rdspiral/internal/physics"
	"github.com/san-kum/rdspiral/internal/spectral"
)

// Simulator drives one run: initial field, adaptive integration to each
// output time, regime monitoring, checkpoints and persistence. A
// Simulator runs once; build a new one per run.
type Simulator struct {
	params dynamo.Params
	opts   options
	grid   dynamo.Grid
	model  *physics.ReactionDiffusion

	mu      sync.Mutex
	status  Status
	updates chan Status
}

func New(p dynamo.Params, opts ...Option) (*Simulator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	g, err := p.Grid()
	if err != nil {
		return nil, err
	}
	backend, err := compute.New(p.Backend, p.N, p.Workers)
	if err != nil {
		return nil, err
	}
	op, err := spectral.New(g, backend)
	if err != nil {
		return nil, err
	}
	model, err := physics.NewReactionDiffusion(p, op)
	if err != nil {
		return nil, err
	}

	return &Simulator{
		params:  p,
		opts:    o,
		grid:    g,
		model:   model,
		status:  Status{T: p.TStart},
		updates: make(chan Status, 1),
	}, nil
}

func (s *Simulator) Params() dynamo.Params { return s.params }

func (s *Simulator) Model() *physics.ReactionDiffusion { return s.model }

// Status returns the latest progress snapshot.
func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Updates streams progress. Only the newest value is buffered; the run
// never waits for a reader.
func (s *Simulator) Updates() <-chan Status { return s.updates }

func (s *Simulator) publish(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()

	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- st:
	default:
	}
}

// Run integrates from t_start with the spiral initial condition.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	pair, err := physics.SpiralField(s.grid, s.params.SpiralArms, s.params.Perturbation)
	if err != nil {
		return nil, err
	}
	integ := integrators.NewRK45(s.model, s.params)
	if err := integ.Init(s.params.TStart, s.model.Pack(pair)); err != nil {
		return nil, err
	}
	s.opts.logger.Info("run started",
		"n", s.params.N, "L", s.params.L, "d1", s.params.D1, "d2", s.params.D2, "beta", s.params.Beta,
		"t_end", s.params.TEnd, "arms", s.params.SpiralArms, "backend", s.params.Backend)
	return s.loop(ctx, integ, metrics.NewMonitor(s.params), checkpoint.NewManager(s.params), s.params.OutputTimes())
}

// Resume continues from rec. history holds the samples recorded up to
// rec.Time and seeds the regime monitor; later entries are ignored.
func (s *Simulator) Resume(ctx context.Context, rec checkpoint.Record, history []metrics.Sample) (*Result, error) {
	restored, err := checkpoint.Restore(s.params, rec)
	if err != nil {
		return nil, err
	}
	integ := integrators.NewRK45(s.model, s.params)
	if err := integ.Restore(restored.State); err != nil {
		return nil, err
	}

	mon := metrics.NewMonitor(s.params)
	kept := history
	for i, smp := range history {
		if smp.Time > rec.Time {
			kept = history[:i]
			break
		}
	}
	if err := mon.Restore(kept); err != nil {
		return nil, err
	}
	mgr := checkpoint.NewManager(s.params)
	mgr.Skip(rec.Time)

	var outputs []float64
	for _, t := range s.params.OutputTimes() {
		if t > rec.Time {
			outputs = append(outputs, t)
		}
	}
	s.opts.logger.Info("run resumed", "t", rec.Time, "checkpoint", rec.Index, "h", rec.H, "history", len(mon.Samples()))
	return s.loop(ctx, integ, mon, mgr, outputs)
}

func (s *Simulator) loop(ctx context.Context, integ *integrators.RK45, mon *metrics.Monitor, mgr *checkpoint.Manager, outputs []float64) (*Result, error) {
	log := s.opts.logger
	start := time.Now()
	t0 := integ.Time()
	span := s.params.TEnd - s.params.TStart

	result := &Result{
		Times:     make([]float64, 0, len(outputs)),
		Samples:   make([]metrics.Sample, 0, len(outputs)),
		Metrics:   make(map[string]float64),
		FinalTime: t0,
	}
	summaries := append([]metrics.Metric{mon.Stability(), &metrics.Intensity{}}, s.opts.metrics...)
	for _, m := range summaries[1:] {
		m.Reset()
	}

	queue := &writeQueue{logger: log}
	sink := s.opts.sink
	persist := func(what string, fn func(Sink) error) error {
		if sink == nil {
			return nil
		}
		queue.push(what, func() error { return fn(sink) })
		err := queue.flush()
		if err != nil && s.opts.stopOnPersistenceError {
			return err
		}
		return nil
	}

	finish := func(runErr error) (*Result, error) {
		st := integ.State()
		result.Steps = st.Stats
		result.Checkpoints = mgr.Records()
		result.WallTime = time.Since(start)
		for _, m := range summaries {
			result.Metrics[m.Name()] = m.Value()
		}
		result.Metrics["rhs_evaluations"] = float64(st.Stats.Evaluations)
		if runErr == nil || errors.Is(runErr, dynamo.ErrCanceled) || errors.Is(runErr, dynamo.ErrStepSize) {
			if err := persist("verdict", func(k Sink) error { return k.WriteVerdict(result.Verdict) }); err != nil && runErr == nil {
				runErr = err
			}
		}
		result.PersistenceErr = queue.unresolved()

		final := Status{
			T:        result.FinalTime,
			Fraction: (result.FinalTime - s.params.TStart) / span,
			Accepted: st.Stats.Accepted,
			Rejected: st.Stats.Rejected,
			Verdict:  result.Verdict,
			Done:     true,
		}
		if n := len(result.Samples); n > 0 {
			final.Sample = result.Samples[n-1]
		}
		s.publish(final)
		attrs := []any{
			"t", result.FinalTime, "verdict", result.Verdict.String(),
			"accepted", st.Stats.Accepted, "rejected", st.Stats.Rejected,
			"evaluations", st.Stats.Evaluations, "wall", result.WallTime.Round(time.Millisecond),
		}
		if runErr != nil {
			log.Error("run ended with error", append(attrs, "error", runErr)...)
		} else {
			log.Info("run finished", attrs...)
		}
		return result, runErr
	}

	for _, tOut := range outputs {
		if err := ctx.Err(); err != nil {
			result.Verdict = mon.Verdict()
			return finish(fmt.Errorf("%w: %w", dynamo.ErrCanceled, err))
		}

		x, err := integ.Advance(ctx, tOut)
		if err != nil {
			result.Verdict = mon.Verdict()
			if errors.Is(err, dynamo.ErrDiverged) {
				result.Verdict = mon.Diverge(integ.Time(), "non-finite derivative")
				log.Warn("divergence detected", "t", integ.Time())
				return finish(nil)
			}
			return finish(err)
		}

		pair, err := s.model.Unpack(x)
		if err != nil {
			return finish(err)
		}
		sample := metrics.NewSample(tOut, pair)
		prev := mon.Verdict()
		verdict, err := mon.Observe(sample)
		if err != nil {
			return finish(err)
		}
		for _, m := range summaries[1:] {
			m.Observe(sample)
		}
		if verdict.Kind != prev.Kind {
			log.Debug("regime changed", "t", tOut, "verdict", verdict.String())
		}

		result.Times = append(result.Times, tOut)
		result.Samples = append(result.Samples, sample)
		if verdict.Kind != metrics.Diverged {
			result.Final, result.FinalTime = pair, tOut
		}
		if s.opts.keepFields {
			result.Snapshots = append(result.Snapshots, pair)
		}

		if err := persist("sample", func(k Sink) error { return k.WriteSample(sample) }); err != nil {
			return finish(err)
		}
		// A diverged sample never becomes a snapshot or a restart point.
		if verdict.Kind != metrics.Diverged {
			if err := persist("snapshot", func(k Sink) error { return k.WriteSnapshot(tOut, pair) }); err != nil {
				return finish(err)
			}
			if rec, ok := mgr.Observe(tOut, pair, integ.State()); ok {
				log.Info("checkpoint", "index", rec.Index, "mark", rec.Mark, "t", rec.Time)
				if err := persist("checkpoint", func(k Sink) error { return k.WriteCheckpoint(rec) }); err != nil {
					return finish(err)
				}
			}
		}

		st := integ.State()
		rate := 0.0
		if wall := time.Since(start).Seconds(); wall > 0 {
			rate = (tOut - t0) / wall
		}
		s.publish(Status{
			T:        tOut,
			Fraction: (tOut - s.params.TStart) / span,
			Accepted: st.Stats.Accepted,
			Rejected: st.Stats.Rejected,
			Rate:     rate,
			Sample:   sample,
			Verdict:  verdict,
		})

		if verdict.Kind == metrics.Diverged {
			result.Verdict = verdict
			log.Warn("divergence detected", "t", tOut, "reason", verdict.Reason)
			return finish(nil)
		}
		if s.opts.stopOnVerdict && verdict.Settled() && tOut < s.params.TEnd {
			result.Stopped = true
			log.Info("stopping early", "t", tOut, "verdict", verdict.String())
			break
		}
	}

	result.Verdict = mon.Finalize()
	return finish(nil)
}
