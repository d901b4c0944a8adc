package sim

import (
	"log/slog"
	"time"

	"github.com/san-kum/rdspiral/internal/checkpoint"
	"github.com/san-kum/rdspiral/internal/dynamo"
	"github.com/san-kum/rdspiral/internal/metrics"
)

// Sink is the external persistence collaborator. Calls are made from the
// run goroutine in output order; a failed call is retried at the next
// output time.
type Sink interface {
	WriteSample(s metrics.Sample) error
	WriteSnapshot(t float64, p dynamo.FieldPair) error
	WriteCheckpoint(rec checkpoint.Record) error
	WriteVerdict(v metrics.Verdict) error
}

// Status is a point-in-time view of a running simulation.
type Status struct {
	T        float64
	Fraction float64
	Accepted int
	Rejected int
	// Rate is simulated time per wall-clock second.
	Rate    float64
	Sample  metrics.Sample
	Verdict metrics.Verdict
	Done    bool
}

type Result struct {
	Times     []float64
	Samples   []metrics.Sample
	Snapshots []dynamo.FieldPair // only with WithKeepFields

	// Final is the last valid output; FinalTime is its time.
	Final     dynamo.FieldPair
	FinalTime float64

	Verdict     metrics.Verdict
	Steps       dynamo.StepStats
	Checkpoints []checkpoint.Record
	Metrics     map[string]float64

	// Stopped is set when a settled verdict ended the run before t_end.
	Stopped bool
	// PersistenceErr holds the last sink failure still unresolved at the
	// end of the run.
	PersistenceErr error
	WallTime       time.Duration
}

type options struct {
	logger                 *slog.Logger
	sink                   Sink
	stopOnVerdict          bool
	stopOnPersistenceError bool
	keepFields             bool
	metrics                []metrics.Metric
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func WithSink(s Sink) Option { return func(o *options) { o.sink = s } }

// WithStopOnVerdict ends the run as soon as the regime is settled.
func WithStopOnVerdict(stop bool) Option { return func(o *options) { o.stopOnVerdict = stop } }

// WithStopOnPersistenceError makes a sink failure fatal instead of retried.
func WithStopOnPersistenceError(stop bool) Option {
	return func(o *options) { o.stopOnPersistenceError = stop }
}

// WithKeepFields keeps every output snapshot in the Result.
func WithKeepFields(keep bool) Option { return func(o *options) { o.keepFields = keep } }

func WithMetric(m metrics.Metric) Option {
	return func(o *options) { o.metrics = append(o.metrics, m) }
}
