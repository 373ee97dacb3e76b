// Package recorder writes every played heartbeat loop to a WAV file.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/petems/heartloop/internal/waveform"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("recorder closed")

// WAV appends interleaved PCM to a single WAV file. The header is finalized
// on Close.
type WAV struct {
	path     string
	bitDepth int

	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	format *audio.Format
	frames int
}

// New creates a recording in dir named after the start time and a session ID.
func New(dir string, format waveform.Format) (*WAV, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	name := fmt.Sprintf("heartloop-%s-%s.wav", time.Now().Format("20060102-150405"), uuid.NewString()[:8])
	path := filepath.Join(dir, name)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}

	return &WAV{
		path:     path,
		bitDepth: format.BitDepth,
		file:     file,
		enc:      wav.NewEncoder(file, format.SampleRate, format.BitDepth, format.Channels, 1),
		format:   &audio.Format{SampleRate: format.SampleRate, NumChannels: format.Channels},
	}, nil
}

// Path returns the file being written.
func (w *WAV) Path() string {
	return w.path
}

// Frames returns the number of frames written so far.
func (w *WAV) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Append writes interleaved signed PCM samples.
func (w *WAV) Append(pcm []int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.enc == nil {
		return ErrClosed
	}

	data := pcm
	if w.bitDepth == 8 {
		// 8-bit WAV samples are unsigned
		data = make([]int, len(pcm))
		for i, v := range pcm {
			data[i] = v + 128
		}
	}

	if err := w.enc.Write(&audio.IntBuffer{Data: data, Format: w.format, SourceBitDepth: w.bitDepth}); err != nil {
		return fmt.Errorf("failed to write to WAV encoder: %w", err)
	}
	w.frames += len(pcm) / w.format.NumChannels
	return nil
}

// Close finalizes the WAV header and closes the file.
func (w *WAV) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.enc == nil {
		return nil
	}

	err := w.enc.Close()
	w.enc = nil
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to finalize recording: %w", err)
	}
	return nil
}
