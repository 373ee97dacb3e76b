package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/petems/heartloop/internal/app"
	"github.com/petems/heartloop/internal/audio"
	"github.com/petems/heartloop/internal/config"
	"github.com/petems/heartloop/internal/detector"
	"github.com/petems/heartloop/internal/logging"
	"github.com/petems/heartloop/internal/recorder"
	"github.com/petems/heartloop/internal/scheduler"
	"github.com/petems/heartloop/internal/source"
	"github.com/petems/heartloop/internal/synth"
	"github.com/petems/heartloop/internal/waveform"
)

var (
	flagInput       string
	flagUDSPath     string
	flagUDSTimeout  time.Duration
	flagNATSURL     string
	flagNATSSubject string
	flagSimBPM      float64

	flagOutput     string
	flagDevice     string
	flagLogLevel   string
	flagBPMFile    string
	flagBPMDefault int
	flagRecord     bool
	flagRecordDir  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Play a heartbeat that follows the configured input",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyInputFlags(cmd, cfg)
		applyRunFlags(cmd, cfg)

		if err := cfg.Validate(); err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagInput, "input", "", "Input type (stdin, uds, sim or nats)")
	cmd.Flags().StringVar(&flagUDSPath, "uds-path", "", "Socket path for UDS input")
	cmd.Flags().DurationVar(&flagUDSTimeout, "uds-timeout", 0, "Read timeout for UDS input")
	cmd.Flags().StringVar(&flagNATSURL, "nats-url", "", "NATS server URL")
	cmd.Flags().StringVar(&flagNATSSubject, "nats-subject", "", "Subject carrying voltage batches")
	cmd.Flags().Float64Var(&flagSimBPM, "sim-bpm", 0, "Heart rate of the simulated sensor")
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagOutput, "output", "portaudio", "Audio output (portaudio or null)")
	cmd.Flags().StringVar(&flagDevice, "device", "", "Output device name")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "", "Log level")
	cmd.Flags().StringVar(&flagBPMFile, "bpm-file", "", "Path to the file where the last BPM is stored")
	cmd.Flags().IntVar(&flagBPMDefault, "bpm-default", 0, "BPM to play when no last BPM is stored")
	cmd.Flags().BoolVar(&flagRecord, "record", false, "Record played audio to a WAV file")
	cmd.Flags().StringVar(&flagRecordDir, "record-dir", "", "Directory for recordings")
}

func applyInputFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.Input.Type = flagInput
	}
	if flags.Changed("uds-path") {
		cfg.Input.UDSPath = flagUDSPath
	}
	if flags.Changed("uds-timeout") {
		cfg.Input.UDSTimeout = config.Duration(flagUDSTimeout)
	}
	if flags.Changed("nats-url") {
		cfg.Input.NATSURL = flagNATSURL
	}
	if flags.Changed("nats-subject") {
		cfg.Input.NATSSubject = flagNATSSubject
	}
	if flags.Changed("sim-bpm") {
		cfg.Input.SimBPM = flagSimBPM
	}
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Audio.DeviceID = flagDevice
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if flags.Changed("bpm-file") {
		cfg.BPM.File = flagBPMFile
	}
	if flags.Changed("bpm-default") {
		cfg.BPM.Default = flagBPMDefault
	}
	if flags.Changed("record") {
		cfg.Recorder.Enabled = flagRecord
	}
	if flags.Changed("record-dir") {
		cfg.Recorder.Dir = flagRecordDir
	}
}

func run(parent context.Context, cfg *config.Config) error {
	log := logging.NewWithLevel(cfg.LogLevel)

	format := waveform.Format{
		SampleRate: cfg.Audio.SampleRate,
		BitDepth:   cfg.Audio.BitDepth,
		Channels:   cfg.Audio.Channels,
	}

	synthesizer, err := synth.New(format, synth.WithHighPass(cfg.Synth.HighPassHz))
	if err != nil {
		return err
	}

	var out audio.Output
	switch flagOutput {
	case "portaudio":
		out = audio.New(cfg.Audio, log)
	case "null":
		out = audio.NewNull(log)
	default:
		return fmt.Errorf("invalid output type: %s", flagOutput)
	}

	opts := []scheduler.Option{
		scheduler.WithLogger(log),
		scheduler.WithFormat(format),
		scheduler.WithIdleSleep(cfg.Scheduler.IdleSleep.Std()),
		scheduler.WithCrossfade(cfg.Scheduler.CrossfadeMin, cfg.Scheduler.CrossfadeMax),
	}
	if cfg.Recorder.Enabled {
		rec, err := recorder.New(cfg.Recorder.Dir, format)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close recording")
			}
		}()
		log.Info().Str("path", rec.Path()).Msg("Recording")
		opts = append(opts, scheduler.WithRecorder(rec))
	}

	application := app.New(app.Config{
		Synth:  synthesizer,
		Player: scheduler.New(out, opts...),
		Config: cfg,
		Logger: log,
	})

	log.Info().Str("version", Version).Str("input", cfg.Input.Type).Msg("Heartloop starting...")

	if err := application.Start(); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = runInput(ctx, cfg, application, log)
	if ctx.Err() != nil {
		log.Info().Msg("Shutting down...")
		err = nil
	}

	if serr := application.Shutdown(context.Background()); serr != nil {
		log.Error().Err(serr).Msg("Shutdown error")
	}
	return err
}

// runInput feeds the configured input into the app until it ends or ctx
// is cancelled.
func runInput(ctx context.Context, cfg *config.Config, application *app.App, log zerolog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)

	// closer releases the input once the pipeline is done
	closeOnDone := func(c io.Closer) {
		g.Go(func() error {
			<-gctx.Done()
			return c.Close()
		})
	}

	switch cfg.Input.Type {
	case config.InputStdin:
		src := source.NewStdin(os.Stdin, os.Stdout, log)
		g.Go(func() error {
			defer cancel()
			return application.RunBPM(gctx, src)
		})

	case config.InputUDS:
		src, err := source.ListenUDS(cfg.Input.UDSPath, cfg.Input.UDSTimeout.Std(), log)
		if err != nil {
			cancel()
			return err
		}
		closeOnDone(src)
		g.Go(func() error {
			defer cancel()
			return application.RunBPM(gctx, src)
		})

	case config.InputSim:
		sim := source.NewSimulator(cfg.Input.SimBPM, cfg.Detector.SampleInterval)
		reader := detector.NewReader(sim, detectorParams(cfg.Detector), log)
		g.Go(func() error {
			defer cancel()
			return application.RunVoltage(gctx, reader)
		})

	case config.InputNATS:
		nc, err := source.Connect(cfg.Input.NATSURL)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		src, err := source.SubscribeNATS(nc, cfg.Input.NATSSubject, cfg.Detector.SampleInterval, log)
		if err != nil {
			nc.Close()
			cancel()
			return err
		}
		closeOnDone(src)
		reader := detector.NewReader(src, detectorParams(cfg.Detector), log)
		g.Go(func() error {
			defer cancel()
			return application.RunVoltage(gctx, reader)
		})

	default:
		cancel()
		return fmt.Errorf("invalid input type: %s", cfg.Input.Type)
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func detectorParams(c config.DetectorConfig) detector.Params {
	p := detector.DefaultParams()
	p.Threshold = c.Threshold
	p.DicroticRatio = c.DicroticRatio
	p.MinPulseInterval = c.MinPulseInterval
	p.StaleTimeout = c.StaleTimeout
	return p
}
