package source

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/petems/heartloop/internal/detector"
)

// Simulator produces a finger-clip style pulse waveform: a resting level,
// a sharp systolic peak above the detector threshold and a smaller
// dicrotic bump below it. It is not safe for concurrent use.
type Simulator struct {
	interval float64
	bpm      float64
	noise    float64
	paced    bool
	rng      *rand.Rand

	phase float64
	last  time.Time
}

// SimOption configures a Simulator.
type SimOption func(*Simulator)

// WithNoise adds uniform noise of the given amplitude.
func WithNoise(amplitude float64) SimOption {
	return func(s *Simulator) { s.noise = amplitude }
}

// WithPacing makes Next wait for the sample interval, like a real sensor.
func WithPacing(paced bool) SimOption {
	return func(s *Simulator) { s.paced = paced }
}

// WithSimSeed makes the noise deterministic.
func WithSimSeed(seed uint64) SimOption {
	return func(s *Simulator) { s.rng = rand.New(rand.NewPCG(seed, seed)) }
}

// NewSimulator creates a sensor beating at bpm, sampled every interval
// seconds.
func NewSimulator(bpm, interval float64, opts ...SimOption) *Simulator {
	s := &Simulator{
		interval: interval,
		bpm:      bpm,
		noise:    0.02,
		paced:    true,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next sample. When paced it sleeps for whatever is left
// of the sample interval since the previous call.
func (s *Simulator) Next(ctx context.Context) (detector.Sample, error) {
	if err := ctx.Err(); err != nil {
		return detector.Sample{}, err
	}

	if s.paced && !s.last.IsZero() {
		wait := time.Duration(s.interval*float64(time.Second)) - time.Since(s.last)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return detector.Sample{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	s.last = time.Now()

	s.phase += s.bpm / 60 * s.interval
	s.phase -= math.Floor(s.phase)

	return detector.Sample{Value: s.level(s.phase), Interval: s.interval, Time: s.last}, nil
}

func (s *Simulator) level(t float64) float64 {
	v := 0.3 +
		0.6*gauss(t, 0.32, 0.02) +
		0.12*gauss(t, 0.50, 0.04)
	if s.noise > 0 {
		v += s.noise * (2*s.rng.Float64() - 1)
	}
	return math.Max(0, math.Min(1, v))
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}
