package integrators

import (
	"context"
	"math"
	"testing"

	"github.com/san-kum/rdspiral/internal/compute"
	"github.com/san-kum/rdspiral/internal/dynamo"
	"github.com/san-kum/rdspiral/internal/physics"
	"github.com/san-kum/rdspiral/internal/spectral"
)

func TestRK4Accuracy(t *testing.T) {
	x, err := NewRK4().Integrate(&harmonicOscillator{}, dynamo.State{1, 0}, 0, 1, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(x[0]-math.Cos(1)) > 1e-8 {
		t.Errorf("position error too large: got %.10f, expected %.10f", x[0], math.Cos(1))
	}
	if math.Abs(x[1]+math.Sin(1)) > 1e-8 {
		t.Errorf("velocity error too large: got %.10f, expected %.10f", x[1], -math.Sin(1))
	}
}

func newSpiralModel(t testing.TB, n int) (*physics.ReactionDiffusion, dynamo.Params, dynamo.State) {
	t.Helper()
	p := dynamo.DefaultParams()
	p.N, p.L, p.TEnd = n, 10, 1
	p.RTol, p.ATol = 1e-9, 1e-12
	g, _ := p.Grid()
	b, err := compute.New(compute.BackendGonum, n, 1)
	if err != nil {
		t.Fatal(err)
	}
	op, err := spectral.New(g, b)
	if err != nil {
		t.Fatal(err)
	}
	rd, err := physics.NewReactionDiffusion(p, op)
	if err != nil {
		t.Fatal(err)
	}
	pair, err := physics.SpiralField(g, 1, dynamo.PerturbParams{})
	if err != nil {
		t.Fatal(err)
	}
	return rd, p, rd.Pack(pair)
}

func TestRK45_MatchesRK4OnReactionDiffusion(t *testing.T) {
	rd, p, x0 := newSpiralModel(t, 16)

	ref, err := NewRK4().Integrate(rd, x0, 0, 1, 1e-3)
	if err != nil {
		t.Fatal(err)
	}

	r := NewRK45(rd, p)
	if err := r.Init(0, x0); err != nil {
		t.Fatal(err)
	}
	got, err := r.Advance(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := range got {
		if math.Abs(got[i]-ref[i]) > 1e-6 {
			t.Fatalf("component %d: rk45 %v, rk4 %v", i, got[i], ref[i])
		}
	}
}

func BenchmarkRK4(b *testing.B) {
	integrator := NewRK4()
	dyn := &harmonicOscillator{}
	x := dynamo.State{1.0, 0.0}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x, _ = integrator.Step(dyn, x, 0, 0.01)
	}
}

func BenchmarkRK45Step(b *testing.B) {
	p := testParams(math.MaxFloat64, 1e-6, 1e-9)
	r := NewRK45(&harmonicOscillator{}, p)
	if err := r.Init(0, dynamo.State{1, 0}); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Step(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRK45ReactionDiffusion64(b *testing.B) {
	rd, p, x0 := newSpiralModel(b, 64)
	for i := 0; i < b.N; i++ {
		r := NewRK45(rd, p)
		if err := r.Init(0, x0); err != nil {
			b.Fatal(err)
		}
		if _, err := r.Advance(context.Background(), 0.1); err != nil {
			b.Fatal(err)
		}
	}
}
