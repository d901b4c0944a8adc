package compute

import (
	"fmt"

	"github.com/san-kum/rdspiral/internal/dynamo"
)

// Backend transforms n×n real fields to and from Fourier space. A Backend is
// bound to one resolution and is safe for concurrent use.
type Backend interface {
	Name() string
	N() int
	// Forward returns the 2D DFT of src. dst is reused when it has n² capacity.
	Forward(dst []complex128, src []float64) ([]complex128, error)
	// Inverse returns the real part of the normalized inverse 2D DFT of src.
	// src is not modified.
	Inverse(dst []float64, src []complex128) ([]float64, error)
}

const (
	BackendGonum = "gonum"
	BackendDSP   = "dsp"
)

// Names lists the selectable backends.
func Names() []string { return []string{BackendGonum, BackendDSP} }

// New builds the named backend for an n×n grid. An empty name selects gonum.
// workers <= 0 uses every CPU.
func New(name string, n, workers int) (Backend, error) {
	if n < 1 {
		return nil, &dynamo.ConfigError{Field: "n", Value: n, Reason: "resolution must be at least 1"}
	}
	switch name {
	case "", BackendGonum:
		return NewCPUBackend(n, workers), nil
	case BackendDSP:
		return NewDSPBackend(n, workers), nil
	default:
		return nil, &dynamo.ConfigError{Field: "fft_backend", Value: name, Reason: fmt.Sprintf("unknown backend (available: %v)", Names())}
	}
}

func checkLen(op string, got, n int) error {
	if got != n*n {
		return dynamo.TransformError(op, got, n*n)
	}
	return nil
}

func complexBuf(dst []complex128, size int) []complex128 {
	if cap(dst) >= size {
		return dst[:size]
	}
	return make([]complex128, size)
}

func realBuf(dst []float64, size int) []float64 {
	if cap(dst) >= size {
		return dst[:size]
	}
	return make([]float64, size)
}
