package dsp

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	got := Normalize([]float64{0.5, -2, 1})
	assert.InDeltaSlice(t, []float64{0.25, -1, 0.5}, got, 1e-12)

	// Normalizing twice is a no-op
	again := Normalize(got)
	assert.InDeltaSlice(t, got, again, 1e-12)
}

func TestNormalizeSilence(t *testing.T) {
	silence := make([]float64, 16)
	got := Normalize(silence)
	for _, v := range got {
		assert.False(t, math.IsNaN(v))
		assert.Zero(t, v)
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	in := []float64{2, 4}
	Normalize(in)
	assert.Equal(t, []float64{2, 4}, in)
}

func TestGaussianPulse(t *testing.T) {
	pulse := GaussianPulse(200, 100.0/3, 0.95)
	require.Len(t, pulse, 200)

	assert.InDelta(t, 0.95, Peak(pulse), 1e-12)
	// Hann window pins both edges to zero
	assert.InDelta(t, 0, pulse[0], 1e-12)
	assert.InDelta(t, 0, pulse[len(pulse)-1], 1e-12)
	// Symmetric around the middle
	for i := 0; i < len(pulse)/2; i++ {
		assert.InDelta(t, pulse[i], pulse[len(pulse)-1-i], 1e-9)
	}
}

func TestGaussianPulseDegenerate(t *testing.T) {
	assert.Nil(t, GaussianPulse(0, 1, 1))
	assert.Equal(t, []float64{1}, GaussianPulse(1, 0, 1))
}

func TestPlaceWrapsAndTakesMax(t *testing.T) {
	dst := []float64{0, 0.5, 0, 0, 0}
	Place(dst, []float64{0.2, 0.4, 0.9, 0.1}, 0)

	// start = 0 - 2 = -2 → indices 3, 4, 0, 1
	assert.Equal(t, []float64{0.9, 0.5, 0, 0.2, 0.4}, dst)
}

func TestBrownNoiseIsLowFrequencyHeavy(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	brown := BrownNoise(rng, 4096, 0.98)
	white := WhiteNoise(rand.New(rand.NewPCG(1, 2)), 4096)

	// Leaky integration keeps neighbouring samples strongly correlated
	assert.Greater(t, lagOneCorrelation(brown), 0.9)
	assert.Less(t, math.Abs(lagOneCorrelation(white)), 0.1)
}

func lagOneCorrelation(x []float64) float64 {
	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))

	var num, den float64
	for i := range x {
		d := x[i] - mean
		den += d * d
		if i > 0 {
			num += d * (x[i-1] - mean)
		}
	}
	return num / den
}

func TestFade(t *testing.T) {
	x := []float64{1, 1, 1, 1, 1, 1, 1, 1}
	got := Fade(x, 4)

	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 0.75, 0.5, 0.25, 0}, got)
	assert.Equal(t, 1.0, x[0])

	// Ramps longer than half the signal are clamped
	assert.Equal(t, []float64{0, 0}, Fade([]float64{1, 1}, 10))
}

func TestFadeCurve(t *testing.T) {
	assert.InDelta(t, 0, FadeCurve(0, 100), 1e-12)
	assert.InDelta(t, 0.5, FadeCurve(50, 100), 1e-12)
	assert.Equal(t, 1.0, FadeCurve(100, 100))
	assert.Equal(t, 1.0, FadeCurve(3, 0))

	prev := -1.0
	for i := 0; i <= 100; i++ {
		g := FadeCurve(i, 100)
		assert.GreaterOrEqual(t, g, prev)
		prev = g
	}
}

func TestMultiply(t *testing.T) {
	assert.Equal(t, []float64{2, -6}, Multiply([]float64{1, 2, 3}, []float64{2, -3}))
}
