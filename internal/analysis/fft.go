package analysis

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/rdspiral/internal/dynamo"
)

// PowerSpectrum returns |X_k| for k in [0, n/2) of a real series of any length.
func PowerSpectrum(data []float64) []float64 {
	spec := fft.FFTReal(data)
	ps := make([]float64, len(spec)/2)
	for i := range ps {
		ps[i] = cmplx.Abs(spec[i])
	}
	return ps
}

// DominantPeriod returns the period of the strongest non-zero frequency of
// a series sampled every dt, or 0 when the series carries no oscillation.
func DominantPeriod(series []float64, dt float64) float64 {
	if len(series) < 4 || dt <= 0 {
		return 0
	}
	mean := stat.Mean(series, nil)
	centred := make([]float64, len(series))
	for i, v := range series {
		centred[i] = v - mean
	}

	ps := PowerSpectrum(centred)
	best, peak := 0, 0.0
	for k := 1; k < len(ps); k++ {
		if ps[k] > peak {
			best, peak = k, ps[k]
		}
	}
	if best == 0 || peak < 1e-12 {
		return 0
	}
	return float64(len(series)) * dt / float64(best)
}

// RadialBin is the spatial power in one wavenumber shell.
type RadialBin struct {
	K     float64 `json:"k"`
	Power float64 `json:"power"`
}

// RadialSpectrum sums |F(k)|² over integer shells of |k| up to the
// Nyquist shell. Power follows Parseval: a single mode cos(k·x) of
// amplitude a puts a²/2 into its shell.
func RadialSpectrum(f dynamo.Field, g dynamo.Grid) ([]RadialBin, error) {
	n := g.N
	if len(f) != g.Points() {
		return nil, dynamo.TransformError("radial spectrum", len(f), g.Points())
	}
	spec := fft.FFT2Real(f.Rows(n))

	mode := func(i int) float64 {
		if i > n/2 {
			return float64(i - n)
		}
		return float64(i)
	}
	shells := n/2 + 1
	bins := make([]RadialBin, shells)
	dk := 2 * math.Pi / g.L
	for s := range bins {
		bins[s].K = float64(s) * dk
	}
	norm := float64(n) * float64(n)
	for i, row := range spec {
		for j, c := range row {
			s := int(math.Round(math.Hypot(mode(i), mode(j))))
			if s >= shells {
				continue
			}
			a := cmplx.Abs(c) / norm
			bins[s].Power += a * a
		}
	}
	return bins, nil
}

// PeakWavelength returns the wavelength of the strongest non-mean shell.
func PeakWavelength(bins []RadialBin) float64 {
	best := -1
	for s := 1; s < len(bins); s++ {
		if best < 0 || bins[s].Power > bins[best].Power {
			best = s
		}
	}
	if best < 0 || bins[best].Power == 0 {
		return 0
	}
	return 2 * math.Pi / bins[best].K
}
