// Package compute provides the two-dimensional Fourier transform backends
// used by the spectral operator.
//
//   - gonum: planned complex FFTs over rows then columns, fanned out across
//     workers (one plan per worker, plans are not goroutine-safe)
//   - dsp: go-dsp's FFT2Real/IFFT2, kept as a reference implementation
//
// Both backends work on row-major n×n fields and use the unnormalized forward
// / normalized inverse convention, so Inverse(Forward(f)) == f up to rounding.
//
//	backend, err := compute.New("gonum", 128, 0)
//	spec, err := backend.Forward(nil, field)
//	back, err := backend.Inverse(nil, spec)
package compute
