package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Input types
const (
	InputStdin = "stdin"
	InputUDS   = "uds"
	InputSim   = "sim"
	InputNATS  = "nats"
)

type Config struct {
	LogLevel  string          `json:"log_level"`
	Audio     AudioConfig     `json:"audio"`
	Detector  DetectorConfig  `json:"detector"`
	Synth     SynthConfig     `json:"synth"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Recorder  RecorderConfig  `json:"recorder"`
	Input     InputConfig     `json:"input"`
	BPM       BPMConfig       `json:"bpm"`
}

type AudioConfig struct {
	DeviceID   string `json:"device_id"`
	SampleRate int    `json:"sample_rate"`
	BitDepth   int    `json:"bit_depth"`
	Channels   int    `json:"channels"`
}

type DetectorConfig struct {
	Threshold        float64 `json:"threshold"`
	DicroticRatio    float64 `json:"dicrotic_ratio"`
	MinPulseInterval float64 `json:"min_pulse_interval"` // seconds
	StaleTimeout     float64 `json:"stale_timeout"`      // seconds
	SampleInterval   float64 `json:"sample_interval"`    // seconds
}

type SynthConfig struct {
	HighPassHz float64 `json:"high_pass_hz"` // 0 disables
}

type SchedulerConfig struct {
	IdleSleep    Duration `json:"idle_sleep"`
	CrossfadeMin int      `json:"crossfade_min"`
	CrossfadeMax int      `json:"crossfade_max"`
}

type RecorderConfig struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir"`
}

type InputConfig struct {
	Type        string   `json:"type"` // "stdin", "uds", "sim" or "nats"
	UDSPath     string   `json:"uds_path"`
	UDSTimeout  Duration `json:"uds_timeout"`
	NATSURL     string   `json:"nats_url"`
	NATSSubject string   `json:"nats_subject"`
	SimBPM      float64  `json:"sim_bpm"`
}

type BPMConfig struct {
	File    string `json:"file"`
	Default int    `json:"default"` // 0 means none
}

// Duration is a time.Duration that reads and writes as "100ms" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"100ms\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			DeviceID:   "",
			SampleRate: 44100,
			BitDepth:   16,
			Channels:   2,
		},
		Detector: DetectorConfig{
			Threshold:        0.60,
			DicroticRatio:    0.6,
			MinPulseInterval: 0.25,
			StaleTimeout:     2.5,
			SampleInterval:   0.002,
		},
		Synth: SynthConfig{
			HighPassHz: 50,
		},
		Scheduler: SchedulerConfig{
			IdleSleep:    Duration(100 * time.Millisecond),
			CrossfadeMin: 500,
			CrossfadeMax: 4000,
		},
		Recorder: RecorderConfig{
			Enabled: false,
			Dir:     RecordingsPath(),
		},
		Input: InputConfig{
			Type:        InputStdin,
			UDSPath:     "/tmp/artbit.sock",
			UDSTimeout:  Duration(100 * time.Millisecond),
			NATSURL:     "nats://127.0.0.1:4222",
			NATSSubject: "ecg.wave",
			SimBPM:      72,
		},
		BPM: BPMConfig{
			File:    filepath.Join(StatePath(), "last_bpm.txt"),
			Default: 0,
		},
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFile(configPath())
}

// LoadFile reads the config at path over the defaults. A missing file is
// not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	return c.SaveFile(configPath())
}

// SaveFile writes the config to path, creating its directory.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch c.Audio.BitDepth {
	case 8, 16, 32:
	default:
		return fmt.Errorf("%w: audio.bit_depth %d, want 8, 16 or 32", ErrInvalid, c.Audio.BitDepth)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("%w: audio.sample_rate must be positive", ErrInvalid)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("%w: audio.channels must be positive", ErrInvalid)
	}

	d := c.Detector
	if d.SampleInterval <= 0 {
		return fmt.Errorf("%w: detector.sample_interval must be positive", ErrInvalid)
	}
	if d.DicroticRatio <= 0 || d.DicroticRatio >= 1 {
		return fmt.Errorf("%w: detector.dicrotic_ratio must be in (0, 1)", ErrInvalid)
	}
	if d.MinPulseInterval < 0 || d.StaleTimeout <= d.MinPulseInterval {
		return fmt.Errorf("%w: detector.stale_timeout must exceed min_pulse_interval", ErrInvalid)
	}

	if c.Synth.HighPassHz < 0 || c.Synth.HighPassHz >= float64(c.Audio.SampleRate)/2 {
		return fmt.Errorf("%w: synth.high_pass_hz must be in [0, %d)", ErrInvalid, c.Audio.SampleRate/2)
	}

	s := c.Scheduler
	if s.IdleSleep <= 0 {
		return fmt.Errorf("%w: scheduler.idle_sleep must be positive", ErrInvalid)
	}
	if s.CrossfadeMin < 0 || s.CrossfadeMax < s.CrossfadeMin {
		return fmt.Errorf("%w: scheduler crossfade bounds %d..%d", ErrInvalid, s.CrossfadeMin, s.CrossfadeMax)
	}

	switch c.Input.Type {
	case InputStdin, InputSim:
	case InputUDS:
		if c.Input.UDSPath == "" {
			return fmt.Errorf("%w: input.uds_path is required", ErrInvalid)
		}
	case InputNATS:
		if c.Input.NATSURL == "" || c.Input.NATSSubject == "" {
			return fmt.Errorf("%w: input.nats_url and input.nats_subject are required", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown input.type %q", ErrInvalid, c.Input.Type)
	}
	if c.Input.Type == InputSim && c.Input.SimBPM <= 0 {
		return fmt.Errorf("%w: input.sim_bpm must be positive", ErrInvalid)
	}

	if c.BPM.Default < 0 {
		return fmt.Errorf("%w: bpm.default must not be negative", ErrInvalid)
	}
	if c.Recorder.Enabled && c.Recorder.Dir == "" {
		return fmt.Errorf("%w: recorder.dir is required when recording", ErrInvalid)
	}

	return nil
}

// ReadLastBPM returns the BPM stored in path, or 0 if there is none.
func ReadLastBPM(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read bpm file: %w", err)
	}

	bpm, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse bpm file: %w", err)
	}
	return bpm, nil
}

// WriteLastBPM stores bpm in path.
func WriteLastBPM(path string, bpm int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(bpm)+"\n"), 0644)
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "heartloop", "config.json")
}

// StatePath returns the platform-specific directory for logs and the last BPM
func StatePath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Logs"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/state"
		}
	}

	return filepath.Join(base, "heartloop")
}

// RecordingsPath returns the platform-specific recordings directory path
func RecordingsPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, "heartloop", "recordings")
}
