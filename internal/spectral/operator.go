// Package spectral implements the pseudo-spectral differential operator on a
// doubly-periodic square grid.
//
// Derivatives are taken in Fourier space, where the Laplacian is a pointwise
// multiplication by -(kx²+ky²). Conversion between representations is done
// by two pure functions, [Operator.ToSpectral] and [Operator.ToPhysical];
// nothing in the operator remembers which space a field was last in.
package spectral

import (
	"math"

	"github.com/san-kum/rdspiral/internal/compute"
	"github.com/san-kum/rdspiral/internal/dynamo"
)

// Spectrum is the Fourier-space representation of an n×n field.
type Spectrum []complex128

// Wavenumbers holds the per-axis angular wavenumbers in FFT order
// [0, 1, ..., n/2-1, -n/2, ..., -1]·2π/L and the Laplacian multiplier.
type Wavenumbers struct {
	K          []float64
	Multiplier []float64
}

func NewWavenumbers(g dynamo.Grid) Wavenumbers {
	n := g.N
	scale := 2 * math.Pi / g.L
	k := make([]float64, n)
	for i := 0; i < n; i++ {
		freq := i
		if i >= (n+1)/2 {
			freq = i - n
		}
		k[i] = float64(freq) * scale
	}

	m := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m[i*n+j] = -(k[i]*k[i] + k[j]*k[j])
		}
	}
	return Wavenumbers{K: k, Multiplier: m}
}

// Operator is immutable after construction and safe to share between
// goroutines.
type Operator struct {
	grid    dynamo.Grid
	waves   Wavenumbers
	backend compute.Backend
}

func New(g dynamo.Grid, backend compute.Backend) (*Operator, error) {
	if backend.N() != g.N {
		return nil, dynamo.TransformError("spectral operator", backend.N()*backend.N(), g.Points())
	}
	return &Operator{grid: g, waves: NewWavenumbers(g), backend: backend}, nil
}

func (o *Operator) Grid() dynamo.Grid        { return o.grid }
func (o *Operator) Wavenumbers() Wavenumbers { return o.waves }
func (o *Operator) Backend() string          { return o.backend.Name() }

func (o *Operator) ToSpectral(f dynamo.Field) (Spectrum, error) {
	s, err := o.backend.Forward(nil, f)
	return Spectrum(s), err
}

func (o *Operator) ToPhysical(s Spectrum) (dynamo.Field, error) {
	f, err := o.backend.Inverse(nil, s)
	return dynamo.Field(f), err
}

// Laplacian returns ∇² of the field whose spectrum is s, in physical space.
func (o *Operator) Laplacian(s Spectrum) (dynamo.Field, error) {
	return o.LaplacianInto(nil, s)
}

// LaplacianInto is Laplacian writing into dst when it has room.
func (o *Operator) LaplacianInto(dst dynamo.Field, s Spectrum) (dynamo.Field, error) {
	if len(s) != o.grid.Points() {
		return nil, dynamo.TransformError("laplacian", len(s), o.grid.Points())
	}
	scaled := make([]complex128, len(s))
	for i, c := range s {
		scaled[i] = c * complex(o.waves.Multiplier[i], 0)
	}
	f, err := o.backend.Inverse(dst, scaled)
	return dynamo.Field(f), err
}

// LaplacianOf is the physical-to-physical composition used by the derivative.
func (o *Operator) LaplacianOf(dst, f dynamo.Field) (dynamo.Field, error) {
	s, err := o.ToSpectral(f)
	if err != nil {
		return nil, err
	}
	return o.LaplacianInto(dst, s)
}
