package integrators

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/rdspiral/internal/dynamo"
)

type harmonicOscillator struct{}

func (h *harmonicOscillator) StateDim() int { return 2 }

func (h *harmonicOscillator) Derive(x dynamo.State, t float64) (dynamo.State, error) {
	return dynamo.State{x[1], -x[0]}, nil
}

type exponentialDecay struct{ rate float64 }

func (e *exponentialDecay) StateDim() int { return 1 }

func (e *exponentialDecay) Derive(x dynamo.State, t float64) (dynamo.State, error) {
	return dynamo.State{-e.rate * x[0]}, nil
}

// poisoned returns NaN derivatives past a time barrier, which no step can
// cross.
type poisoned struct{ barrier float64 }

func (p *poisoned) StateDim() int { return 1 }

func (p *poisoned) Derive(x dynamo.State, t float64) (dynamo.State, error) {
	if t > p.barrier {
		return dynamo.State{math.NaN()}, nil
	}
	return dynamo.State{1}, nil
}

func testParams(tEnd, rtol, atol float64) dynamo.Params {
	p := dynamo.DefaultParams()
	p.TStart, p.TEnd = 0, tEnd
	p.RTol, p.ATol = rtol, atol
	return p
}

func TestRK45_RejectedStepKeepsTimeAndShrinksH(t *testing.T) {
	p := testParams(20, 1e-8, 1e-10)
	p.Step.FirstStep = 5
	r := NewRK45(&harmonicOscillator{}, p)
	if err := r.Init(0, dynamo.State{1, 0}); err != nil {
		t.Fatal(err)
	}

	sawReject := false
	for i := 0; i < 200; i++ {
		before := r.State()
		att, err := r.Attempt()
		if err != nil {
			t.Fatal(err)
		}
		after := r.State()
		if att.Accepted {
			if att.ErrNorm > 1 {
				t.Fatalf("accepted with error norm %v", att.ErrNorm)
			}
			if !(after.T > before.T) {
				t.Fatalf("accepted step did not advance t: %v -> %v", before.T, after.T)
			}
			if after.Stats.Accepted != before.Stats.Accepted+1 {
				t.Fatal("accepted count not incremented")
			}
			if sawReject {
				return
			}
			continue
		}
		sawReject = true
		if after.T != before.T {
			t.Fatalf("rejected step moved t: %v -> %v", before.T, after.T)
		}
		if !(after.H < before.H) {
			t.Fatalf("rejected step did not shrink h: %v -> %v", before.H, after.H)
		}
		for j := range after.X {
			if after.X[j] != before.X[j] {
				t.Fatal("rejected step modified the state")
			}
		}
		if after.Stats.Rejected != before.Stats.Rejected+1 {
			t.Fatal("rejected count not incremented")
		}
	}
	t.Fatal("expected a rejection followed by an acceptance")
}

func TestRK45_HarmonicOscillatorDenseOutput(t *testing.T) {
	p := testParams(10, 1e-9, 1e-12)
	r := NewRK45(&harmonicOscillator{}, p)
	if err := r.Init(0, dynamo.State{1, 0}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for k := 0; k <= 100; k++ {
		tOut := float64(k) * 0.1
		if tOut > p.TEnd {
			tOut = p.TEnd
		}
		x, err := r.Advance(ctx, tOut)
		if err != nil {
			t.Fatalf("t=%v: %v", tOut, err)
		}
		if math.Abs(x[0]-math.Cos(tOut)) > 1e-6 || math.Abs(x[1]+math.Sin(tOut)) > 1e-6 {
			t.Fatalf("t=%v: got %v, want [%v %v]", tOut, x, math.Cos(tOut), -math.Sin(tOut))
		}
	}
	if r.Time() != p.TEnd {
		t.Errorf("final time %v, want %v", r.Time(), p.TEnd)
	}
}

func TestRK45_ExponentialDecay(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		rtol float64
	}{
		{"slow", 0.5, 1e-6},
		{"fast", 20, 1e-6},
		{"tight", 2, 1e-10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams(2, tt.rtol, 1e-12)
			r := NewRK45(&exponentialDecay{rate: tt.rate}, p)
			if err := r.Init(0, dynamo.State{1}); err != nil {
				t.Fatal(err)
			}
			x, err := r.Advance(context.Background(), 2)
			if err != nil {
				t.Fatal(err)
			}
			want := math.Exp(-2 * tt.rate)
			if rel := math.Abs(x[0]-want) / math.Max(want, 1e-12); rel > 1e3*tt.rtol && math.Abs(x[0]-want) > 1e-10 {
				t.Errorf("x(2) = %v, want %v", x[0], want)
			}
		})
	}
}

func TestRK45_EvaluationCount(t *testing.T) {
	r := NewRK45(&harmonicOscillator{}, testParams(1, 1e-6, 1e-9))
	if err := r.Init(0, dynamo.State{1, 0}); err != nil {
		t.Fatal(err)
	}
	start := r.State().Stats.Evaluations
	if start != 2 {
		t.Errorf("init evaluations = %d, want 2", start)
	}
	if _, err := r.Attempt(); err != nil {
		t.Fatal(err)
	}
	if got := r.State().Stats.Evaluations - start; got != 6 {
		t.Errorf("evaluations per attempt = %d, want 6", got)
	}
}

func TestRK45_StepSizeCollapse(t *testing.T) {
	r := NewRK45(&poisoned{barrier: 0.5}, testParams(1, 1e-6, 1e-9))
	if err := r.Init(0, dynamo.State{0}); err != nil {
		t.Fatal(err)
	}
	_, err := r.Advance(context.Background(), 1)
	if !errors.Is(err, dynamo.ErrStepSize) {
		t.Fatalf("expected ErrStepSize, got %v", err)
	}
	st := r.State()
	if st.T > 0.5 || !st.X.IsValid() {
		t.Errorf("last valid state not preserved: t=%v x=%v", st.T, st.X)
	}
}

func TestRK45_ClipsToTEndAndMaxStep(t *testing.T) {
	p := testParams(1, 1e-3, 1e-6)
	p.Step.MaxStep = 0.05
	r := NewRK45(&exponentialDecay{rate: 0.1}, p)
	if err := r.Init(0, dynamo.State{1}); err != nil {
		t.Fatal(err)
	}
	for r.Time() < 1 {
		att, err := r.Step()
		if err != nil {
			t.Fatal(err)
		}
		if att.H > 0.05+1e-15 {
			t.Fatalf("step %v exceeds max step", att.H)
		}
	}
	if r.Time() != 1 {
		t.Errorf("overshot t_end: %v", r.Time())
	}
	if _, err := r.Attempt(); !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("attempt past t_end: %v", err)
	}
}

func TestRK45_InitErrors(t *testing.T) {
	r := NewRK45(&harmonicOscillator{}, testParams(1, 1e-6, 1e-9))
	if err := r.Init(0, dynamo.State{1}); !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("short state: %v", err)
	}
	if err := r.Init(0, dynamo.State{math.NaN(), 0}); !errors.Is(err, dynamo.ErrDiverged) {
		t.Errorf("NaN state: %v", err)
	}
	if _, err := NewRK45(&harmonicOscillator{}, testParams(1, 1e-6, 1e-9)).Attempt(); !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("attempt before init: %v", err)
	}
}

func TestRK45_Canceled(t *testing.T) {
	r := NewRK45(&harmonicOscillator{}, testParams(10, 1e-6, 1e-9))
	if err := r.Init(0, dynamo.State{1, 0}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Advance(ctx, 5); !errors.Is(err, dynamo.ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if r.Time() != 0 {
		t.Errorf("canceled run advanced to %v", r.Time())
	}
}

func TestRK45_RestoreContinues(t *testing.T) {
	p := testParams(4, 1e-9, 1e-12)
	r := NewRK45(&harmonicOscillator{}, p)
	if err := r.Init(0, dynamo.State{1, 0}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Advance(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	saved := r.State()

	resumed := NewRK45(&harmonicOscillator{}, p)
	if err := resumed.Restore(saved); err != nil {
		t.Fatal(err)
	}
	if resumed.State().Stats.Accepted != saved.Stats.Accepted {
		t.Error("restore lost step statistics")
	}
	x, err := resumed.Advance(context.Background(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(x[0]-math.Cos(4)) > 1e-6 {
		t.Errorf("resumed x(4) = %v, want %v", x[0], math.Cos(4))
	}
}
