package audio

import "github.com/petems/heartloop/internal/waveform"

// Output defines the interface for audio playback
type Output interface {
	// Open acquires the device for the given format
	Open(format waveform.Format) error
	// Play queues the buffer and returns without waiting for it to finish
	Play(buf *waveform.Buffer) error
	// Close releases the device
	Close() error
}

// Lister enumerates playback devices
type Lister interface {
	ListDevices() ([]AudioDevice, error)
}

// AudioDevice represents an audio output device
type AudioDevice struct {
	ID       string
	Name     string
	Channels int
	Default  bool
}
