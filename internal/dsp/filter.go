package dsp

import (
	"fmt"
	"math"
)

// biquad is one second-order (or first-order, with b2 = a2 = 0) IIR section
// in transposed direct form II.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// dcGain is the section's response to a constant input.
func (s biquad) dcGain() float64 {
	den := 1 + s.a1 + s.a2
	if math.Abs(den) < 1e-15 {
		return 0
	}
	return (s.b0 + s.b1 + s.b2) / den
}

// process filters x in place. With steady set, the section starts as if x[0]
// had been applied forever, which suppresses the start-up step response.
func (s biquad) process(x []float64, steady bool) {
	var z1, z2 float64
	if steady && len(x) > 0 {
		u := x[0]
		y := s.dcGain() * u
		z1 = y - s.b0*u
		z2 = s.b2*u - s.a2*y
	}
	for i, in := range x {
		out := s.b0*in + z1
		z1 = s.b1*in - s.a1*out + z2
		z2 = s.b2*in - s.a2*out
		x[i] = out
	}
}

// Filter is a Butterworth IIR filter realized as a cascade of sections.
// A Filter holds only coefficients, so it can be shared between goroutines.
type Filter struct {
	order    int
	sections []biquad
}

// FilterType selects the response of a Butterworth design.
type FilterType int

const (
	LowPass FilterType = iota
	HighPass
)

func (t FilterType) String() string {
	switch t {
	case LowPass:
		return "LowPass"
	case HighPass:
		return "HighPass"
	default:
		return fmt.Sprintf("FilterType(%d)", int(t))
	}
}

// NewLowPass designs an order-N Butterworth low-pass filter.
func NewLowPass(sampleRate, cutoff float64, order int) (*Filter, error) {
	return newButterworth(LowPass, sampleRate, cutoff, order)
}

// NewHighPass designs an order-N Butterworth high-pass filter.
func NewHighPass(sampleRate, cutoff float64, order int) (*Filter, error) {
	return newButterworth(HighPass, sampleRate, cutoff, order)
}

func newButterworth(kind FilterType, sampleRate, cutoff float64, order int) (*Filter, error) {
	if order < 1 {
		return nil, fmt.Errorf("invalid %s filter order: %d", kind, order)
	}
	if sampleRate <= 0 || cutoff <= 0 || cutoff >= sampleRate/2 {
		return nil, fmt.Errorf("invalid %s cutoff %.2f Hz for sample rate %.0f Hz", kind, cutoff, sampleRate)
	}

	// Bilinear transform with the cutoff prewarped
	k := math.Tan(math.Pi * cutoff / sampleRate)
	f := &Filter{order: order}

	// Conjugate pole pairs, angle measured from the negative real axis
	for i := 0; i < order/2; i++ {
		psi := math.Pi * float64(order-1-2*i) / float64(2*order)
		q := 1 / (2 * math.Cos(psi))
		norm := 1 / (1 + k/q + k*k)

		s := biquad{
			a1: 2 * (k*k - 1) * norm,
			a2: (1 - k/q + k*k) * norm,
		}
		if kind == LowPass {
			s.b0 = k * k * norm
			s.b1 = 2 * s.b0
			s.b2 = s.b0
		} else {
			s.b0 = norm
			s.b1 = -2 * norm
			s.b2 = norm
		}
		f.sections = append(f.sections, s)
	}

	// Odd orders carry one real pole
	if order%2 == 1 {
		norm := 1 / (1 + k)
		s := biquad{a1: (k - 1) * norm}
		if kind == LowPass {
			s.b0 = k * norm
			s.b1 = s.b0
		} else {
			s.b0 = norm
			s.b1 = -norm
		}
		f.sections = append(f.sections, s)
	}

	return f, nil
}

// Order returns the filter order.
func (f *Filter) Order() int {
	return f.order
}

// Apply runs the filter causally over x and returns the filtered copy.
func (f *Filter) Apply(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	f.applyInPlace(out, false)
	return out
}

func (f *Filter) applyInPlace(x []float64, steady bool) {
	for _, s := range f.sections {
		s.process(x, steady)
	}
}

// FiltFilt runs the filter forward and backward for zero phase distortion.
// The signal is extended at both ends by odd reflection and every pass starts
// from the steady state of its first sample, which keeps edge transients out
// of the result.
func (f *Filter) FiltFilt(x []float64) []float64 {
	n := len(x)
	if n < 2 {
		out := make([]float64, n)
		copy(out, x)
		return out
	}

	pad := 3 * (f.order + 1)
	if pad > n-1 {
		pad = n - 1
	}

	ext := make([]float64, 0, n+2*pad)
	for i := 0; i < pad; i++ {
		ext = append(ext, 2*x[0]-x[pad-i])
	}
	ext = append(ext, x...)
	for i := 0; i < pad; i++ {
		ext = append(ext, 2*x[n-1]-x[n-2-i])
	}

	f.applyInPlace(ext, true)
	reverse(ext)
	f.applyInPlace(ext, true)
	reverse(ext)

	out := make([]float64, n)
	copy(out, ext[pad:pad+n])
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
