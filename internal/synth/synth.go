// Package synth renders one beat period of a "lub-dub" heartbeat for a given
// tempo. The waveform starts and ends at silence so it can be looped.
package synth

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/petems/heartloop/internal/dsp"
	"github.com/petems/heartloop/internal/waveform"
)

// ErrInvalidBPM is returned for tempos outside [MinBPM, MaxBPM].
var ErrInvalidBPM = errors.New("invalid bpm")

const (
	MinBPM = 1
	// MaxBPM keeps the dub pulse at least a few samples wide at low sample rates.
	MaxBPM = 600
)

const (
	lubWidth     = 0.07
	lubPosition  = 0.20
	lubAmplitude = 1.00

	dubWidth     = 0.05
	dubPosition  = 0.55
	dubAmplitude = 0.95

	noiseLeak     = 0.98
	noiseCutoffHz = 150.0
	noiseOrder    = 3

	fadeFraction = 0.05
)

// Synthesizer renders heartbeat waveforms for a fixed output format.
// It holds no per-call state and is safe for concurrent use.
type Synthesizer struct {
	format   waveform.Format
	highPass float64
	seed     *uint64

	noiseFilter *dsp.Filter
	rumble      *dsp.Filter
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithSeed makes the noise texture deterministic.
func WithSeed(seed uint64) Option {
	return func(s *Synthesizer) {
		s.seed = &seed
	}
}

// WithHighPass sets the cutoff of the rumble filter applied after
// modulation. Zero disables it.
func WithHighPass(hz float64) Option {
	return func(s *Synthesizer) {
		s.highPass = hz
	}
}

// New creates a Synthesizer for format.
func New(format waveform.Format, opts ...Option) (*Synthesizer, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}

	s := &Synthesizer{format: format, highPass: 50}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	s.noiseFilter, err = dsp.NewLowPass(float64(format.SampleRate), noiseCutoffHz, noiseOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to design noise filter: %w", err)
	}
	if s.highPass > 0 {
		s.rumble, err = dsp.NewHighPass(float64(format.SampleRate), s.highPass, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to design rumble filter: %w", err)
		}
	}

	return s, nil
}

// Format returns the output format of rendered buffers.
func (s *Synthesizer) Format() waveform.Format {
	return s.format
}

// Synthesize renders exactly one beat period, 60/bpm seconds, at the
// configured format.
func (s *Synthesizer) Synthesize(bpm int) (*waveform.Buffer, error) {
	if bpm < MinBPM || bpm > MaxBPM {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBPM, bpm)
	}

	n := s.format.Frames(60.0 / float64(bpm))
	if n < 1 {
		return nil, fmt.Errorf("%w: %d bpm is shorter than one sample", ErrInvalidBPM, bpm)
	}

	wave := dsp.Normalize(dsp.Multiply(envelope(n), s.texture(n)))
	if s.rumble != nil {
		wave = dsp.Normalize(s.rumble.FiltFilt(wave))
	}
	wave = dsp.Normalize(dsp.Fade(wave, int(fadeFraction*float64(n))))

	return waveform.NewBuffer(s.format, wave)
}

// envelope sums the lub and dub sounds over n frames and squares the sum to
// sharpen the attack.
func envelope(n int) []float64 {
	lub := sound(n, lubWidth, lubPosition, lubAmplitude)
	dub := sound(n, dubWidth, dubPosition, dubAmplitude)

	out := make([]float64, n)
	for i := range out {
		v := lub[i] + dub[i]
		out[i] = v * v
	}
	return out
}

// sound builds one heart sound: a Gaussian pulse of the given width (as a
// fraction of the period) centered at position.
func sound(n int, width, position, amplitude float64) []float64 {
	out := make([]float64, n)

	w := int(width * float64(n))
	if w > 0 {
		pulse := dsp.GaussianPulse(2*w, float64(w)/3, amplitude)
		dsp.Place(out, pulse, int(position*float64(n)))
	}
	return out
}

// texture is deep brown noise: leaky integrated white noise, low-passed
// to reinforce the bass, normalized to unit peak.
func (s *Synthesizer) texture(n int) []float64 {
	brown := dsp.BrownNoise(s.rng(), n, noiseLeak)
	return dsp.Normalize(s.noiseFilter.FiltFilt(brown))
}

func (s *Synthesizer) rng() *rand.Rand {
	if s.seed != nil {
		return rand.New(rand.NewPCG(*s.seed, *s.seed^0x9e3779b97f4a7c15))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}
