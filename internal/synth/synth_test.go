package synth

import (
	"math"
	"math/cmplx"
	"sync"
	"testing"

	"github.com/mjibson/go-dsp/fft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petems/heartloop/internal/dsp"
	"github.com/petems/heartloop/internal/waveform"
)

func newTestSynth(t *testing.T, opts ...Option) *Synthesizer {
	t.Helper()
	s, err := New(waveform.DefaultFormat, append([]Option{WithSeed(42)}, opts...)...)
	require.NoError(t, err)
	return s
}

func TestSynthesizeLength(t *testing.T) {
	s := newTestSynth(t)

	for _, bpm := range []int{30, 45, 60, 72, 77, 100, 180} {
		buf, err := s.Synthesize(bpm)
		require.NoError(t, err)

		want := int(math.Round(60.0 / float64(bpm) * 44100))
		assert.InDelta(t, want, buf.Frames(), 1, "bpm %d", bpm)
		assert.Len(t, buf.PCM(), buf.Frames()*2)
		assert.InDelta(t, 60.0/float64(bpm), buf.Duration().Seconds(), 1e-4)
	}
}

func TestSynthesizeHalvesWithDoubleTempo(t *testing.T) {
	s := newTestSynth(t)

	slow, err := s.Synthesize(60)
	require.NoError(t, err)
	fast, err := s.Synthesize(120)
	require.NoError(t, err)

	assert.Equal(t, 44100, slow.Frames())
	assert.Equal(t, 22050, fast.Frames())
	assert.Equal(t, slow.Frames(), 2*fast.Frames())
}

func TestSynthesizeReachesFullScale(t *testing.T) {
	for _, depth := range []int{8, 16, 32} {
		format := waveform.Format{SampleRate: 22050, BitDepth: depth, Channels: 1}
		s, err := New(format, WithSeed(1))
		require.NoError(t, err)

		buf, err := s.Synthesize(75)
		require.NoError(t, err)
		assert.Equal(t, format.FullScale(), buf.Peak(), "bit depth %d", depth)

		// Normalizing an already normalized waveform changes nothing
		samples := buf.Samples()
		assert.InDeltaSlice(t, samples, dsp.Normalize(samples), 1e-12)
	}
}

func TestSynthesizeStartsAndEndsSilent(t *testing.T) {
	s := newTestSynth(t)
	buf, err := s.Synthesize(80)
	require.NoError(t, err)

	samples := buf.Samples()
	assert.Zero(t, samples[0])
	assert.Zero(t, samples[len(samples)-1])

	// Within the fade the level stays low
	assert.Less(t, dsp.Peak(samples[:100]), 0.05)
	assert.Less(t, dsp.Peak(samples[len(samples)-100:]), 0.05)
}

func TestSynthesizeEnergyIsInLubAndDub(t *testing.T) {
	s := newTestSynth(t)
	buf, err := s.Synthesize(60)
	require.NoError(t, err)

	samples := buf.Samples()
	n := float64(len(samples))

	var total, lub, dub float64
	for i, v := range samples {
		e := v * v
		total += e
		pos := float64(i) / n
		switch {
		case pos >= 0.12 && pos <= 0.28:
			lub += e
		case pos >= 0.49 && pos <= 0.61:
			dub += e
		}
	}

	assert.Greater(t, (lub+dub)/total, 0.85)
	assert.Greater(t, lub, 0.0)
	assert.Greater(t, dub, 0.0)
}

func TestSynthesizeReplicatesChannels(t *testing.T) {
	s := newTestSynth(t)
	buf, err := s.Synthesize(90)
	require.NoError(t, err)

	pcm := buf.PCM()
	for i := 0; i < len(pcm); i += 2 {
		require.Equal(t, pcm[i], pcm[i+1], "frame %d", i/2)
	}
}

func TestSynthesizeRejectsInvalidBPM(t *testing.T) {
	s := newTestSynth(t)

	for _, bpm := range []int{0, -1, -120, MaxBPM + 1} {
		buf, err := s.Synthesize(bpm)
		assert.ErrorIs(t, err, ErrInvalidBPM, "bpm %d", bpm)
		assert.Nil(t, buf)
	}
}

func TestSynthesizeIsDeterministicWithSeed(t *testing.T) {
	a, err := newTestSynth(t).Synthesize(70)
	require.NoError(t, err)
	b, err := newTestSynth(t).Synthesize(70)
	require.NoError(t, err)
	assert.Equal(t, a.PCM(), b.PCM())

	other, err := New(waveform.DefaultFormat, WithSeed(7))
	require.NoError(t, err)
	c, err := other.Synthesize(70)
	require.NoError(t, err)
	assert.NotEqual(t, a.PCM(), c.PCM())
}

func TestSynthesizeWithoutHighPass(t *testing.T) {
	s := newTestSynth(t, WithHighPass(0))
	assert.Nil(t, s.rumble)

	buf, err := s.Synthesize(60)
	require.NoError(t, err)
	assert.Equal(t, waveform.DefaultFormat.FullScale(), buf.Peak())
}

func TestTextureIsBassHeavy(t *testing.T) {
	s := newTestSynth(t)
	noise := s.texture(44100)
	require.Len(t, noise, 44100)
	assert.InDelta(t, 1, dsp.Peak(noise), 1e-12)

	// One-second window, so bin k is k Hz
	spectrum := fft.FFTReal(noise)
	var low, total float64
	for k := 1; k < len(spectrum)/2; k++ {
		p := math.Pow(cmplx.Abs(spectrum[k]), 2)
		total += p
		if k <= 300 {
			low += p
		}
	}
	assert.Greater(t, low/total, 0.95)
}

func TestNewRejectsBadFormat(t *testing.T) {
	_, err := New(waveform.Format{SampleRate: 44100, BitDepth: 24, Channels: 2})
	assert.ErrorIs(t, err, waveform.ErrUnsupportedBitDepth)

	// The noise filter cannot sit above Nyquist
	_, err = New(waveform.Format{SampleRate: 200, BitDepth: 16, Channels: 1})
	assert.Error(t, err)
}

func TestSynthesizeConcurrently(t *testing.T) {
	s, err := New(waveform.Format{SampleRate: 8000, BitDepth: 16, Channels: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for bpm := 60; bpm < 68; bpm++ {
		wg.Add(1)
		go func(bpm int) {
			defer wg.Done()
			buf, err := s.Synthesize(bpm)
			assert.NoError(t, err)
			assert.Equal(t, s.Format().FullScale(), buf.Peak())
		}(bpm)
	}
	wg.Wait()
}

func TestEnvelopeSquaresSummedSounds(t *testing.T) {
	n := 44100
	lub := sound(n, lubWidth, lubPosition, lubAmplitude)
	dub := sound(n, dubWidth, dubPosition, dubAmplitude)

	// Each sound is a raw pulse at its own amplitude
	assert.InDelta(t, lubAmplitude, dsp.Peak(lub), 1e-9)
	assert.InDelta(t, dubAmplitude, dsp.Peak(dub), 1e-9)

	env := envelope(n)
	require.Len(t, env, n)
	for i := range env {
		s := lub[i] + dub[i]
		require.InDelta(t, s*s, env[i], 1e-12, "frame %d", i)
	}
	assert.InDelta(t, dubAmplitude*dubAmplitude, env[int(dubPosition*float64(n))], 1e-3)
}
