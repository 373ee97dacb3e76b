package waveform

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrUnsupportedBitDepth is returned for bit depths other than 8, 16 or 32.
var ErrUnsupportedBitDepth = errors.New("unsupported bit depth")

// Format describes the output a buffer was built for. Samples are signed PCM.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// DefaultFormat matches the mixer defaults of the sensor rig: 44.1kHz, 16-bit, stereo.
var DefaultFormat = Format{SampleRate: 44100, BitDepth: 16, Channels: 2}

// Validate checks the format can be quantized and played.
func (f Format) Validate() error {
	switch f.BitDepth {
	case 8, 16, 32:
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, f.BitDepth)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	return nil
}

// FullScale is the largest representable sample magnitude for the bit depth.
func (f Format) FullScale() int {
	return (1 << (f.BitDepth - 1)) - 1
}

// Frames converts a duration into a frame count at the format's sample rate.
func (f Format) Frames(seconds float64) int {
	return int(math.Round(seconds * float64(f.SampleRate)))
}

// Buffer is an immutable mono waveform normalized to [-1, 1] together with
// its quantized, channel-interleaved PCM rendition.
type Buffer struct {
	format  Format
	samples []float64
	pcm     []int
}

// NewBuffer copies samples, clamps them to [-1, 1] and quantizes them for f.
func NewBuffer(f Format, samples []float64) (*Buffer, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	b := &Buffer{
		format:  f,
		samples: make([]float64, len(samples)),
		pcm:     make([]int, len(samples)*f.Channels),
	}

	full := float64(f.FullScale())
	for i, s := range samples {
		if math.IsNaN(s) {
			s = 0
		}
		s = math.Max(-1, math.Min(1, s))
		b.samples[i] = s

		q := int(math.Round(s * full))
		for c := 0; c < f.Channels; c++ {
			b.pcm[i*f.Channels+c] = q
		}
	}

	return b, nil
}

// Format returns the output format the buffer was built for.
func (b *Buffer) Format() Format {
	return b.format
}

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	return len(b.samples)
}

// Duration is the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	seconds := float64(len(b.samples)) / float64(b.format.SampleRate)
	return time.Duration(seconds * float64(time.Second))
}

// Samples returns a copy of the normalized mono samples.
func (b *Buffer) Samples() []float64 {
	out := make([]float64, len(b.samples))
	copy(out, b.samples)
	return out
}

// PCM returns a copy of the quantized interleaved samples.
func (b *Buffer) PCM() []int {
	out := make([]int, len(b.pcm))
	copy(out, b.pcm)
	return out
}

// Peak returns the largest absolute quantized sample.
func (b *Buffer) Peak() int {
	peak := 0
	for _, v := range b.pcm {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// Map builds a new buffer in the same format from fn applied to every sample.
func (b *Buffer) Map(fn func(i int, s float64) float64) *Buffer {
	mapped := make([]float64, len(b.samples))
	for i, s := range b.samples {
		mapped[i] = fn(i, s)
	}
	// format was validated when b was built
	out, _ := NewBuffer(b.format, mapped)
	return out
}
