package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/petems/heartloop/internal/config"
	"github.com/petems/heartloop/internal/synth"
	"github.com/petems/heartloop/internal/waveform"
)

// Synthesizer renders one beat period for a tempo.
type Synthesizer interface {
	Synthesize(bpm int) (*waveform.Buffer, error)
}

// Player loops the current waveform.
type Player interface {
	Start() error
	Stop()
	SetSound(buf *waveform.Buffer) error
}

// BPMSource yields heart rates in beats per minute.
type BPMSource interface {
	Next(ctx context.Context) (float64, error)
}

// IntervalSource yields smoothed interbeat intervals in seconds.
type IntervalSource interface {
	Next(ctx context.Context) (float64, error)
}

type Config struct {
	Synth  Synthesizer
	Player Player
	Config *config.Config
	Logger zerolog.Logger
}

type App struct {
	synth  Synthesizer
	player Player
	cfg    *config.Config
	log    zerolog.Logger

	mu      sync.Mutex
	bpm     int
	started bool
}

func New(cfg Config) *App {
	return &App{
		synth:  cfg.Synth,
		player: cfg.Player,
		cfg:    cfg.Config,
		log:    cfg.Logger,
	}
}

// Start begins playback and resumes the last known tempo, if any.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}
	if err := a.player.Start(); err != nil {
		return err
	}
	a.started = true

	bpm := a.initialBPM()
	if bpm > 0 {
		a.log.Info().Int("bpm", bpm).Msg("Initial BPM")
		if err := a.setBPMLocked(float64(bpm)); err != nil {
			a.log.Warn().Err(err).Msg("Failed to restore BPM")
		}
	}
	return nil
}

// initialBPM reads the BPM file, falling back to the configured default.
func (a *App) initialBPM() int {
	if a.cfg.BPM.File != "" {
		bpm, err := config.ReadLastBPM(a.cfg.BPM.File)
		if err != nil {
			a.log.Warn().Err(err).Str("file", a.cfg.BPM.File).Msg("Ignoring BPM file")
		} else if bpm > 0 {
			return bpm
		}
	}
	return a.cfg.BPM.Default
}

// SetBPM rounds bpm, synthesizes a new heartbeat and swaps it in. On error
// the previous heartbeat keeps playing.
func (a *App) SetBPM(bpm float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setBPMLocked(bpm)
}

func (a *App) setBPMLocked(bpm float64) error {
	if math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return fmt.Errorf("%w: %v", synth.ErrInvalidBPM, bpm)
	}
	rounded := int(math.Round(bpm))

	buf, err := a.synth.Synthesize(rounded)
	if err != nil {
		return err
	}
	if err := a.player.SetSound(buf); err != nil {
		return fmt.Errorf("failed to set sound: %w", err)
	}
	a.bpm = rounded

	if a.cfg.BPM.File != "" {
		if err := config.WriteLastBPM(a.cfg.BPM.File, rounded); err != nil {
			a.log.Warn().Err(err).Msg("Failed to save BPM")
		}
	}
	return nil
}

// BPM returns the tempo currently playing, or 0.
func (a *App) BPM() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bpm
}

// RunBPM applies every value from src until it ends or ctx is done.
// Invalid values are logged and skipped.
func (a *App) RunBPM(ctx context.Context, src BPMSource) error {
	for {
		bpm, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			a.log.Info().Msg("Input closed")
			return nil
		}
		if err != nil {
			return err
		}

		a.apply(bpm)
	}
}

// RunVoltage converts detected interbeat intervals to BPM and applies them.
func (a *App) RunVoltage(ctx context.Context, src IntervalSource) error {
	for {
		ibi, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			a.log.Info().Msg("Voltage stream ended")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read interval: %w", err)
		}
		if ibi <= 0 {
			continue
		}

		a.apply(60 / ibi)
	}
}

func (a *App) apply(bpm float64) {
	if err := a.SetBPM(bpm); err != nil {
		if errors.Is(err, synth.ErrInvalidBPM) {
			a.log.Warn().Err(err).Msg("Rejected BPM")
			return
		}
		a.log.Error().Err(err).Msg("Failed to apply BPM")
		return
	}
	a.log.Info().Int("bpm", a.BPM()).Msg("Received BPM")
}

// Shutdown stops playback after the current beat.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		a.player.Stop()
		close(done)
	}()

	select {
	case <-done:
		a.started = false
		return nil
	case <-ctx.Done():
		return fmt.Errorf("playback did not stop: %w", ctx.Err())
	}
}
