package compute

import (
	"runtime"
	"sync"

	"github.com/san-kum/rdspiral/internal/dynamo"
	"gonum.org/v1/gonum/dsp/fourier"
)

// minRows is the smallest row/column batch worth a goroutine.
const minRows = 8

type CPUBackend struct {
	n       int
	workers int
	plans   sync.Pool
}

func NewCPUBackend(n, workers int) *CPUBackend {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	c := &CPUBackend{n: n, workers: workers}
	c.plans.New = func() interface{} {
		return &plan{
			fft: fourier.NewCmplxFFT(n),
			in:  make([]complex128, n),
			out: make([]complex128, n),
		}
	}
	return c
}

type plan struct {
	fft     *fourier.CmplxFFT
	in, out []complex128
}

func (c *CPUBackend) Name() string { return BackendGonum }
func (c *CPUBackend) N() int       { return c.n }

func (c *CPUBackend) Forward(dst []complex128, src []float64) ([]complex128, error) {
	if err := checkLen("forward", len(src), c.n); err != nil {
		return nil, err
	}
	dst = complexBuf(dst, len(src))
	for i, v := range src {
		dst[i] = complex(v, 0)
	}
	if err := c.transform(dst, false); err != nil {
		return nil, err
	}
	return dst, nil
}

func (c *CPUBackend) Inverse(dst []float64, src []complex128) ([]float64, error) {
	if err := checkLen("inverse", len(src), c.n); err != nil {
		return nil, err
	}
	work := make([]complex128, len(src))
	copy(work, src)
	if err := c.transform(work, true); err != nil {
		return nil, err
	}

	dst = realBuf(dst, len(src))
	scale := 1.0 / float64(len(src))
	for i, v := range work {
		dst[i] = real(v) * scale
	}
	return dst, nil
}

// transform runs the 1D pass over every row, then every column, in place.
func (c *CPUBackend) transform(buf []complex128, inverse bool) error {
	n := c.n
	rows := func(start, end int) error {
		p := c.plans.Get().(*plan)
		defer c.plans.Put(p)
		for i := start; i < end; i++ {
			row := buf[i*n : (i+1)*n]
			copy(p.in, row)
			p.apply(inverse)
			copy(row, p.out)
		}
		return nil
	}
	if err := dynamo.ParallelFor(n, minRows, c.workers, rows); err != nil {
		return err
	}

	cols := func(start, end int) error {
		p := c.plans.Get().(*plan)
		defer c.plans.Put(p)
		for j := start; j < end; j++ {
			for i := 0; i < n; i++ {
				p.in[i] = buf[i*n+j]
			}
			p.apply(inverse)
			for i := 0; i < n; i++ {
				buf[i*n+j] = p.out[i]
			}
		}
		return nil
	}
	return dynamo.ParallelFor(n, minRows, c.workers, cols)
}

func (p *plan) apply(inverse bool) {
	if inverse {
		p.fft.Sequence(p.out, p.in)
		return
	}
	p.fft.Coefficients(p.out, p.in)
}
