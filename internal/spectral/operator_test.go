package spectral

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/rdspiral/internal/compute"
	"github.com/san-kum/rdspiral/internal/dynamo"
)

func newOperator(t *testing.T, l float64, n int, backend string) *Operator {
	t.Helper()
	g, err := dynamo.NewGrid(l, n)
	if err != nil {
		t.Fatal(err)
	}
	b, err := compute.New(backend, n, 2)
	if err != nil {
		t.Fatal(err)
	}
	op, err := New(g, b)
	if err != nil {
		t.Fatal(err)
	}
	return op
}

func TestWavenumbers_Layout(t *testing.T) {
	g, _ := dynamo.NewGrid(2*math.Pi, 8)
	w := NewWavenumbers(g)
	want := []float64{0, 1, 2, 3, -4, -3, -2, -1}
	for i, k := range w.K {
		if math.Abs(k-want[i]) > 1e-12 {
			t.Errorf("k[%d] = %v, want %v", i, k, want[i])
		}
	}
	if len(w.Multiplier) != g.Points() {
		t.Fatalf("multiplier size %d, want %d", len(w.Multiplier), g.Points())
	}
	if w.Multiplier[0] != 0 {
		t.Errorf("DC multiplier = %v, want 0", w.Multiplier[0])
	}
	if got := w.Multiplier[1*8+2]; math.Abs(got+5) > 1e-12 {
		t.Errorf("multiplier(1,2) = %v, want -5", got)
	}
}

func TestOperator_RoundTrip(t *testing.T) {
	for _, backend := range compute.Names() {
		op := newOperator(t, 20, 32, backend)
		f := dynamo.NewField(op.Grid())
		for i := range f {
			f[i] = math.Sin(float64(i)*0.37) + 0.1*float64(i%5)
		}
		s, err := op.ToSpectral(f)
		if err != nil {
			t.Fatal(err)
		}
		back, err := op.ToPhysical(s)
		if err != nil {
			t.Fatal(err)
		}
		for i := range f {
			if math.Abs(back[i]-f[i]) > 1e-10 {
				t.Fatalf("%s: round trip error at %d: %g", backend, i, back[i]-f[i])
			}
		}
	}
}

func TestOperator_LaplacianSpectralAccuracy(t *testing.T) {
	const l = 10.0
	for _, backend := range compute.Names() {
		op := newOperator(t, l, 32, backend)
		n := op.Grid().N
		axis := op.Grid().Axis()
		kx, ky := 2*math.Pi*3/l, 2*math.Pi*2/l

		f := dynamo.NewField(op.Grid())
		want := dynamo.NewField(op.Grid())
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				v := math.Sin(kx*axis[j]) * math.Cos(ky*axis[i])
				f[i*n+j] = v
				want[i*n+j] = -(kx*kx + ky*ky) * v
			}
		}

		got, err := op.LaplacianOf(nil, f)
		if err != nil {
			t.Fatal(err)
		}
		for i := range got {
			if math.Abs(got[i]-want[i]) > 1e-9 {
				t.Fatalf("%s: laplacian error at %d: got %v want %v", backend, i, got[i], want[i])
			}
		}
	}
}

func TestOperator_LaplacianOfConstantIsZero(t *testing.T) {
	op := newOperator(t, 5, 16, compute.BackendGonum)
	f := dynamo.NewField(op.Grid())
	for i := range f {
		f[i] = 3.5
	}
	got, err := op.LaplacianOf(nil, f)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		if math.Abs(v) > 1e-12 {
			t.Fatalf("laplacian of constant at %d = %v", i, v)
		}
	}
}

func TestOperator_ShapeErrors(t *testing.T) {
	op := newOperator(t, 5, 8, compute.BackendGonum)
	if _, err := op.Laplacian(make(Spectrum, 3)); !errors.Is(err, dynamo.ErrTransform) {
		t.Errorf("expected ErrTransform, got %v", err)
	}
	if _, err := op.ToSpectral(make(dynamo.Field, 65)); !errors.Is(err, dynamo.ErrTransform) {
		t.Errorf("expected ErrTransform, got %v", err)
	}

	g, _ := dynamo.NewGrid(5, 8)
	b, _ := compute.New(compute.BackendGonum, 16, 1)
	if _, err := New(g, b); !errors.Is(err, dynamo.ErrTransform) {
		t.Errorf("expected ErrTransform for mismatched backend, got %v", err)
	}
}
