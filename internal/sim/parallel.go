package sim

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/rdspiral/internal/dynamo"
)

// Job is one member of an ensemble.
type Job struct {
	Name    string
	Params  dynamo.Params
	Options []Option
}

type Outcome struct {
	Name   string
	Result *Result
	Err    error
}

// Ensemble runs independent simulations concurrently, at most Limit at
// a time. A failed member does not stop the others.
type Ensemble struct {
	Limit  int
	Logger *slog.Logger
}

func NewEnsemble(limit int, logger *slog.Logger) *Ensemble {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ensemble{Limit: limit, Logger: logger}
}

// Run returns one Outcome per job, in job order.
func (e *Ensemble) Run(ctx context.Context, jobs []Job) []Outcome {
	out := make([]Outcome, len(jobs))

	var g errgroup.Group
	if e.Limit > 0 {
		g.SetLimit(e.Limit)
	}
	for i, job := range jobs {
		g.Go(func() error {
			out[i].Name = job.Name
			log := e.Logger.With("run", job.Name)
			opts := append([]Option{WithLogger(log)}, job.Options...)

			s, err := New(job.Params, opts...)
			if err != nil {
				out[i].Err = err
				log.Error("ensemble member rejected", "error", err)
				return nil
			}
			out[i].Result, out[i].Err = s.Run(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
