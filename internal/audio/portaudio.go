package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/petems/heartloop/internal/config"
	"github.com/petems/heartloop/internal/waveform"
)

// ErrBacklog is returned by Play when the device has not caught up with the
// previously queued buffers.
var ErrBacklog = errors.New("playback queue full")

// ErrNotOpen is returned by Play before Open or after Close.
var ErrNotOpen = errors.New("output not open")

const framesPerBuffer = 1024

// PortAudio plays buffers on a PortAudio output stream. Playback happens on
// a writer goroutine so Play never blocks on the device.
type PortAudio struct {
	deviceID string
	log      zerolog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	queue  chan *waveform.Buffer
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a PortAudio output for the configured device. The device is
// not touched until Open.
func New(cfg config.AudioConfig, log zerolog.Logger) *PortAudio {
	return &PortAudio{
		deviceID: cfg.DeviceID,
		log:      log,
	}
}

// Open initializes PortAudio and starts an output stream in format.
func (p *PortAudio) Open(format waveform.Format) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return fmt.Errorf("output already open")
	}
	if err := format.Validate(); err != nil {
		return err
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	device, err := p.findDevice()
	if err != nil {
		portaudio.Terminate()
		return err
	}
	if device.MaxOutputChannels < format.Channels {
		portaudio.Terminate()
		return fmt.Errorf("device %s supports %d output channels, need %d", device.Name, device.MaxOutputChannels, format.Channels)
	}

	frames := newFrameBuffer(format, framesPerBuffer)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: format.Channels,
			Latency:  device.DefaultHighOutputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}, frames.data)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	p.stream = stream
	p.queue = make(chan *waveform.Buffer, 2)
	p.done = make(chan struct{})

	p.wg.Add(1)
	go p.writeLoop(stream, frames, p.queue, p.done)

	p.log.Info().
		Str("device", device.Name).
		Int("sample_rate", format.SampleRate).
		Int("bit_depth", format.BitDepth).
		Int("channels", format.Channels).
		Msg("Audio output opened")

	return nil
}

func (p *PortAudio) findDevice() (*portaudio.DeviceInfo, error) {
	if p.deviceID == "" {
		device, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default output device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == p.deviceID && d.MaxOutputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", p.deviceID)
}

// Play queues buf for the writer goroutine.
func (p *PortAudio) Play(buf *waveform.Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return ErrNotOpen
	}

	select {
	case p.queue <- buf:
		return nil
	default:
		return ErrBacklog
	}
}

// flushAfter is how long a partly filled block waits for the next buffer
// before it is padded with silence and written.
const flushAfter = 250 * time.Millisecond

func (p *PortAudio) writeLoop(stream *portaudio.Stream, frames *frameBuffer, queue <-chan *waveform.Buffer, done <-chan struct{}) {
	defer p.wg.Done()

	frames.write = func() {
		if err := stream.Write(); err != nil {
			// Underflows are reported here; the stream keeps running
			p.log.Debug().Err(err).Msg("Audio write error")
		}
	}

	for {
		var buf *waveform.Buffer

		if frames.pending() > 0 {
			timer := time.NewTimer(flushAfter)
			select {
			case <-done:
				timer.Stop()
				return
			case buf = <-queue:
				timer.Stop()
			case <-timer.C:
				frames.flush()
				continue
			}
		} else {
			select {
			case <-done:
				return
			case buf = <-queue:
			}
		}

		if !frames.push(buf.PCM(), done) {
			return
		}
	}
}

// Close stops the writer and releases the stream and PortAudio.
func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}

	close(p.done)
	p.wg.Wait()

	var errs []error
	if err := p.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop audio stream: %w", err))
	}
	if err := p.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audio stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("failed to terminate PortAudio: %w", err))
	}
	p.stream = nil

	p.log.Info().Msg("Audio output closed")
	return errors.Join(errs...)
}

// ListDevices returns the devices that can play audio.
func (p *PortAudio) ListDevices() ([]AudioDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]AudioDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultOutputDevice()

	for _, d := range devices {
		if d.MaxOutputChannels > 0 {
			result = append(result, AudioDevice{
				ID:       d.Name,
				Name:     d.Name,
				Channels: d.MaxOutputChannels,
				Default:  d == defaultDevice,
			})
		}
	}

	return result, nil
}

// frameBuffer is the interleaved sample block bound to the stream. Its
// element type follows the bit depth. Consecutive buffers are packed into
// blocks back to back, so the device plays exactly the frames it is given.
type frameBuffer struct {
	data  any
	size  int
	put   func(i, v int)
	write func()

	n int // samples filled in the current block
}

func newFrameBuffer(format waveform.Format, frames int) *frameBuffer {
	size := frames * format.Channels
	fb := &frameBuffer{size: size, write: func() {}}

	switch format.BitDepth {
	case 8:
		data := make([]int8, size)
		fb.data, fb.put = data, func(i, v int) { data[i] = int8(v) }
	case 32:
		data := make([]int32, size)
		fb.data, fb.put = data, func(i, v int) { data[i] = int32(v) }
	default:
		data := make([]int16, size)
		fb.data, fb.put = data, func(i, v int) { data[i] = int16(v) }
	}

	return fb
}

// pending returns the samples waiting in a partly filled block.
func (fb *frameBuffer) pending() int {
	return fb.n
}

// push appends pcm to the stream, writing every block it completes. The
// unfilled tail stays in the block for the next push. It returns false if
// done closed before pcm was used up.
func (fb *frameBuffer) push(pcm []int, done <-chan struct{}) bool {
	for _, v := range pcm {
		fb.put(fb.n, v)
		fb.n++
		if fb.n < fb.size {
			continue
		}

		fb.write()
		fb.n = 0

		select {
		case <-done:
			return false
		default:
		}
	}
	return true
}

// flush pads a partly filled block with silence and writes it.
func (fb *frameBuffer) flush() {
	if fb.n == 0 {
		return
	}
	for i := fb.n; i < fb.size; i++ {
		fb.put(i, 0)
	}
	fb.write()
	fb.n = 0
}
