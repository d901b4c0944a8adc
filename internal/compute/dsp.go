package compute

import (
	"github.com/mjibson/go-dsp/fft"
)

// DSPBackend delegates to go-dsp, which parallelises internally.
type DSPBackend struct {
	n int
}

func NewDSPBackend(n, workers int) *DSPBackend {
	if workers > 0 {
		fft.SetWorkerPoolSize(workers)
	}
	return &DSPBackend{n: n}
}

func (d *DSPBackend) Name() string { return BackendDSP }
func (d *DSPBackend) N() int       { return d.n }

func (d *DSPBackend) Forward(dst []complex128, src []float64) ([]complex128, error) {
	if err := checkLen("forward", len(src), d.n); err != nil {
		return nil, err
	}
	out := fft.FFT2Real(rowsOf(src, d.n))

	dst = complexBuf(dst, len(src))
	for i, row := range out {
		copy(dst[i*d.n:(i+1)*d.n], row)
	}
	return dst, nil
}

func (d *DSPBackend) Inverse(dst []float64, src []complex128) ([]float64, error) {
	if err := checkLen("inverse", len(src), d.n); err != nil {
		return nil, err
	}
	in := make([][]complex128, d.n)
	for i := range in {
		in[i] = make([]complex128, d.n)
		copy(in[i], src[i*d.n:(i+1)*d.n])
	}
	out := fft.IFFT2(in)

	dst = realBuf(dst, len(src))
	for i, row := range out {
		for j, v := range row {
			dst[i*d.n+j] = real(v)
		}
	}
	return dst, nil
}

func rowsOf(f []float64, n int) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = f[i*n : (i+1)*n]
	}
	return rows
}
