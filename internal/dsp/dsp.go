// Package dsp holds the small signal toolkit the synthesizer and the loop
// scheduler are built from: pulse and noise generators, Butterworth filters,
// peak normalization and fade envelopes. Apart from Place, functions return
// new slices and never modify their inputs.
package dsp

import (
	"math"
	"math/rand/v2"

	"github.com/mjibson/go-dsp/window"
)

// SilenceFloor is the peak below which a signal is treated as silence and
// left unnormalized.
const SilenceFloor = 1e-12

// Peak returns the largest absolute sample value.
func Peak(x []float64) float64 {
	peak := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return peak
}

// Normalize scales x so its peak absolute value is 1. Signals whose peak is
// below SilenceFloor are returned unchanged.
func Normalize(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)

	peak := Peak(x)
	if peak < SilenceFloor {
		return out
	}
	for i := range out {
		out[i] /= peak
	}
	return out
}

// GaussianPulse returns a Hann-windowed Gaussian bump of the given length
// with standard deviation sigma (in samples), scaled so its peak equals
// amplitude.
func GaussianPulse(length int, sigma, amplitude float64) []float64 {
	if length <= 0 {
		return nil
	}
	if sigma <= 0 {
		sigma = 1
	}

	pulse := make([]float64, length)
	half := float64(length / 2)
	step := 0.0
	if length > 1 {
		step = 2 * half / float64(length-1)
	}
	for i := range pulse {
		x := -half + float64(i)*step
		pulse[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
	}

	// Hann needs at least three points to be non-degenerate
	if length >= 3 {
		window.Apply(pulse, window.Hann)
	}

	pulse = Normalize(pulse)
	for i := range pulse {
		pulse[i] *= amplitude
	}
	return pulse
}

// Place superposes pulse onto dst, centered at the given sample index, by
// taking the per-sample maximum. Indices wrap around so a pulse near the
// edge continues at the other end of a looping buffer.
func Place(dst, pulse []float64, center int) {
	n := len(dst)
	if n == 0 {
		return
	}
	start := center - len(pulse)/2
	for i, v := range pulse {
		pos := ((start+i)%n + n) % n
		if v > dst[pos] {
			dst[pos] = v
		}
	}
}

// WhiteNoise draws length samples from N(0, 1).
func WhiteNoise(rng *rand.Rand, length int) []float64 {
	noise := make([]float64, length)
	for i := range noise {
		noise[i] = rng.NormFloat64()
	}
	return noise
}

// BrownNoise integrates white noise with a leaky accumulator. A leak close to
// 1 pushes more of the energy into low frequencies.
func BrownNoise(rng *rand.Rand, length int, leak float64) []float64 {
	white := WhiteNoise(rng, length)
	if length == 0 {
		return white
	}

	brown := make([]float64, length)
	brown[0] = white[0]
	for i := 1; i < length; i++ {
		brown[i] = leak*brown[i-1] + white[i]*0.1
	}
	return brown
}

// Fade applies linear fade-in and fade-out ramps of n samples each.
func Fade(x []float64, n int) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	if n <= 0 {
		return out
	}
	if n > len(out)/2 {
		n = len(out) / 2
	}
	for i := 0; i < n; i++ {
		gain := float64(i) / float64(n)
		out[i] *= gain
		out[len(out)-1-i] *= gain
	}
	return out
}

// FadeCurve returns the squared-sine gain used for loop seams at position
// i of an n-sample ramp. It rises from 0 at i = 0 to 1 at i = n.
func FadeCurve(i, n int) float64 {
	if n <= 0 || i >= n {
		return 1
	}
	s := math.Sin(math.Pi / 2 * float64(i) / float64(n))
	return s * s
}

// Multiply returns the element-wise product of a and b, truncated to the
// shorter of the two.
func Multiply(a, b []float64) []float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = a[i] * b[i]
	}
	return out
}
