package audio

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/petems/heartloop/internal/waveform"
)

// Null discards audio. It is used when no playback device is wanted, for
// example when only recording.
type Null struct {
	log zerolog.Logger

	mu     sync.Mutex
	open   bool
	format waveform.Format
	played int
}

// NewNull creates a discarding output.
func NewNull(log zerolog.Logger) *Null {
	return &Null{log: log}
}

func (n *Null) Open(format waveform.Format) error {
	if err := format.Validate(); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.open = true
	n.format = format
	return nil
}

func (n *Null) Play(buf *waveform.Buffer) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.open {
		return ErrNotOpen
	}
	n.played++
	n.log.Debug().Dur("duration", buf.Duration()).Int("count", n.played).Msg("Discarded buffer")
	return nil
}

func (n *Null) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.open = false
	return nil
}

// Played returns how many buffers were accepted.
func (n *Null) Played() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.played
}
