package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petems/heartloop/internal/audio"
	"github.com/petems/heartloop/internal/config"
	"github.com/petems/heartloop/internal/logging"
	"github.com/petems/heartloop/internal/source"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "heartloop",
	Short:        "Heartloop plays a looping heartbeat that follows a live heart rate",
	Version:      fmt.Sprintf("%s (%s)", Version, Commit),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio output devices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		devices, err := audio.New(cfg.Audio, logging.NewWithLevel(cfg.LogLevel)).ListDevices()
		if err != nil {
			return err
		}

		for _, d := range devices {
			marker := " "
			if d.Default {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d channels)\n", marker, d.Name, d.Channels)
		}
		return nil
	},
}

var (
	simBPM   float64
	simBatch int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Publish a simulated pulse sensor to NATS",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyInputFlags(cmd, cfg)
		if !cmd.Flags().Changed("bpm") {
			simBPM = cfg.Input.SimBPM
		}

		log := logging.NewWithLevel(cfg.LogLevel)

		nc, err := source.Connect(cfg.Input.NATSURL)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Drain()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info().
			Float64("bpm", simBPM).
			Str("subject", cfg.Input.NATSSubject).
			Msg("Publishing simulated pulse")

		sim := source.NewSimulator(simBPM, cfg.Detector.SampleInterval)
		err = source.Publish(ctx, nc, cfg.Input.NATSSubject, sim, simBatch)
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "Config file (default is the platform config directory)")

	addInputFlags(runCmd)
	addRunFlags(runCmd)

	simulateCmd.Flags().StringVar(&flagNATSURL, "nats-url", "", "NATS server URL")
	simulateCmd.Flags().StringVar(&flagNATSSubject, "nats-subject", "", "Subject to publish voltage batches on")
	simulateCmd.Flags().Float64Var(&simBPM, "bpm", 72, "Simulated heart rate")
	simulateCmd.Flags().IntVar(&simBatch, "batch", 10, "Samples per message")

	rootCmd.AddCommand(runCmd, devicesCmd, simulateCmd)
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "heartloop: %v\n", err)
		os.Exit(1)
	}
}
