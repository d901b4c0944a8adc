// Package analysis post-processes reaction-diffusion runs.
//
//   - [PowerSpectrum] and [DominantPeriod]: temporal spectrum of a sampled statistic
//   - [RadialSpectrum]: shell-averaged spatial power of a field
//   - [RotationPeriod]: period of the mean-field rotation from zero crossings
//   - [LyapunovExponent]: largest exponent by twin-trajectory separation
//   - [Sweep]: regime and intensity over a parameter range
//
// # Chaos Detection
//
// A positive largest exponent separates the turbulent regime from a
// rigidly rotating spiral:
//
//	lambda, err := analysis.LyapunovExponent(ctx, model, p, x0, 1e-6, 1)
//	if err == nil && lambda > 0 {
//	    // spiral breakup
//	}
package analysis
