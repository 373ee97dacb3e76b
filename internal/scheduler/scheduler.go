// Package scheduler loops the current heartbeat waveform on an output device
// and lets the waveform be replaced while it plays.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/heartloop/internal/audio"
	"github.com/petems/heartloop/internal/dsp"
	"github.com/petems/heartloop/internal/waveform"
)

var (
	// ErrAlreadyStarted is returned by Start when the loop is running.
	ErrAlreadyStarted = errors.New("scheduler already started")
	// ErrFormatMismatch is returned by SetSound for buffers in a different
	// format than the output was opened with.
	ErrFormatMismatch = errors.New("waveform format does not match output")
)

// State is the playback state.
type State int32

const (
	Stopped State = iota
	Playing
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Recorder receives the samples of every played loop.
type Recorder interface {
	Append(pcm []int) error
}

// entry is one published waveform. A new entry is allocated on every
// SetSound, so pointer identity tells the loop whether the sound changed.
type entry struct {
	buf *waveform.Buffer
}

// Scheduler plays the current waveform repeatedly, one loop per beat.
type Scheduler struct {
	out      audio.Output
	format   waveform.Format
	log      zerolog.Logger
	recorder Recorder

	idleSleep time.Duration
	fadeMin   int
	fadeMax   int
	fadeRatio float64

	slot  atomic.Pointer[entry]
	state atomic.Int32

	mu   sync.Mutex
	done chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithRecorder appends every played loop to r.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithFormat sets the format the output is opened with.
func WithFormat(f waveform.Format) Option {
	return func(s *Scheduler) { s.format = f }
}

// WithIdleSleep sets how long the loop waits when no sound is set.
func WithIdleSleep(d time.Duration) Option {
	return func(s *Scheduler) { s.idleSleep = d }
}

// WithCrossfade bounds the seam fade length in frames.
func WithCrossfade(min, max int) Option {
	return func(s *Scheduler) {
		s.fadeMin = min
		s.fadeMax = max
	}
}

// WithCrossfadeRatio sets the seam fade length as a fraction of the loop.
func WithCrossfadeRatio(r float64) Option {
	return func(s *Scheduler) { s.fadeRatio = r }
}

// New creates a stopped scheduler playing on out.
func New(out audio.Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:       out,
		format:    waveform.DefaultFormat,
		log:       zerolog.Nop(),
		idleSleep: 100 * time.Millisecond,
		fadeMin:   500,
		fadeMax:   4000,
		fadeRatio: 0.1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fadeMax < s.fadeMin {
		s.fadeMax = s.fadeMin
	}
	return s
}

// Format returns the format buffers must be in.
func (s *Scheduler) Format() waveform.Format {
	return s.format
}

// State returns the current playback state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Current returns the waveform that is looping, or nil.
func (s *Scheduler) Current() *waveform.Buffer {
	if e := s.slot.Load(); e != nil {
		return e.buf
	}
	return nil
}

// SetSound replaces the looping waveform. It takes effect at the next loop
// boundary. A nil buffer silences playback.
func (s *Scheduler) SetSound(buf *waveform.Buffer) error {
	if buf == nil {
		s.slot.Store(nil)
		return nil
	}
	if buf.Format() != s.format {
		return fmt.Errorf("%w: got %+v, want %+v", ErrFormatMismatch, buf.Format(), s.format)
	}
	s.slot.Store(&entry{buf: buf})
	return nil
}

// Start opens the output and starts the playback loop. A device error is
// returned and the scheduler stays stopped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != Stopped {
		return ErrAlreadyStarted
	}

	if err := s.out.Open(s.format); err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}

	s.done = make(chan struct{})
	s.state.Store(int32(Playing))
	go s.run(s.done)

	s.log.Info().Msg("Scheduler started")
	return nil
}

// Stop asks the loop to finish and waits for it. The current beat is
// allowed to play out.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return
	}

	s.state.CompareAndSwap(int32(Playing), int32(Stopping))
	<-s.done
	s.done = nil

	s.log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) run(done chan struct{}) {
	defer close(done)
	defer s.state.Store(int32(Stopped))
	defer func() {
		if err := s.out.Close(); err != nil {
			s.log.Error().Err(err).Msg("Failed to close output")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("Playback loop crashed")
		}
	}()

	recorder := s.recorder
	var last *entry
	var looped *waveform.Buffer

	for s.State() == Playing {
		e := s.slot.Load()
		if e == nil {
			last, looped = nil, nil
			time.Sleep(s.idleSleep)
			continue
		}

		start := time.Now()
		if e != last {
			looped = s.crossfade(e.buf)
			last = e
		}

		if err := s.out.Play(looped); err != nil {
			s.log.Warn().Err(err).Msg("Failed to play waveform")
		}

		if recorder != nil {
			if err := recorder.Append(looped.PCM()); err != nil {
				s.log.Error().Err(err).Msg("Recorder failed, recording stopped")
				recorder = nil
			}
		}

		if d := looped.Duration() - time.Since(start); d > 0 {
			time.Sleep(d)
		}
	}
}

// fadeLength is the seam fade for a loop of frames, or 0 when the loop is
// too short to fade.
func (s *Scheduler) fadeLength(frames int) int {
	n := int(s.fadeRatio * float64(frames))
	n = max(s.fadeMin, min(n, s.fadeMax))
	if frames < 2*n {
		return 0
	}
	return n
}

// crossfade fades both ends of buf with sin² ramps so the loop seam does
// not click.
func (s *Scheduler) crossfade(buf *waveform.Buffer) *waveform.Buffer {
	frames := buf.Frames()
	n := s.fadeLength(frames)
	if n == 0 {
		return buf
	}

	return buf.Map(func(i int, v float64) float64 {
		return v * dsp.FadeCurve(i, n) * dsp.FadeCurve(frames-1-i, n)
	})
}
