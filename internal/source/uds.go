package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UDS serves a unix domain socket and reads newline-delimited BPM values
// from one client at a time. When a client disconnects the next one is
// accepted.
type UDS struct {
	path    string
	timeout time.Duration
	log     zerolog.Logger

	ln     net.Listener
	values chan float64
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// ListenUDS removes any stale socket file at path and starts listening.
// timeout bounds each read so the server notices Close promptly.
func ListenUDS(path string, timeout time.Duration, log zerolog.Logger) (*UDS, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}

	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}

	u := &UDS{
		path:    path,
		timeout: timeout,
		log:     log,
		ln:      ln,
		values:  make(chan float64),
		done:    make(chan struct{}),
	}

	u.wg.Add(1)
	go u.serve()

	log.Info().Str("path", path).Msg("Listening for BPM")
	return u, nil
}

// Path returns the socket path.
func (u *UDS) Path() string {
	return u.path
}

// Next blocks until a client sends a BPM value. io.EOF is returned after
// Close.
func (u *UDS) Next(ctx context.Context) (float64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-u.done:
		return 0, io.EOF
	case v := <-u.values:
		return v, nil
	}
}

// Close stops the server and removes the socket file.
func (u *UDS) Close() error {
	var err error
	u.once.Do(func() {
		close(u.done)
		err = u.ln.Close()
		u.wg.Wait()
		if rerr := os.Remove(u.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
			err = rerr
		}
	})
	return err
}

func (u *UDS) closed() bool {
	select {
	case <-u.done:
		return true
	default:
		return false
	}
}

func (u *UDS) serve() {
	defer u.wg.Done()

	for {
		conn, err := u.ln.Accept()
		if err != nil {
			if u.closed() {
				return
			}
			u.log.Warn().Err(err).Msg("Accept failed")
			continue
		}

		u.log.Info().Str("path", u.path).Msg("Client connected")
		u.handle(conn)
		conn.Close()

		if u.closed() {
			return
		}
		u.log.Info().Msg("Client disconnected, waiting for new client")
	}
}

// maxPending bounds a line that has not seen its newline yet.
const maxPending = 4096

// lineBuffer splits a byte stream into lines. An unterminated line longer
// than maxPending is dropped up to its newline.
type lineBuffer struct {
	pending    string
	discarding bool
}

// feed appends data and returns the complete lines. dropped reports that an
// oversized line started being discarded.
func (lb *lineBuffer) feed(data string) (lines []string, dropped bool) {
	lb.pending += data

	for {
		i := strings.IndexByte(lb.pending, '\n')
		if i < 0 {
			break
		}
		line := lb.pending[:i]
		lb.pending = lb.pending[i+1:]

		if lb.discarding {
			lb.discarding = false
			continue
		}
		lines = append(lines, line)
	}

	if len(lb.pending) > maxPending {
		dropped = !lb.discarding
		lb.pending = ""
		lb.discarding = true
	}
	return lines, dropped
}

func (u *UDS) handle(conn net.Conn) {
	buf := make([]byte, 1024)
	var lines lineBuffer

	for !u.closed() {
		if err := conn.SetReadDeadline(time.Now().Add(u.timeout)); err != nil {
			u.log.Warn().Err(err).Msg("Failed to set read deadline")
			return
		}

		n, err := conn.Read(buf)
		complete, dropped := lines.feed(string(buf[:n]))
		if dropped {
			u.log.Warn().Int("limit", maxPending).Msg("Discarding line without newline")
		}

		for _, line := range complete {
			bpm, ok, perr := parseBPM(line)
			if perr != nil {
				u.log.Warn().Err(perr).Msg("Ignoring input")
				continue
			}
			if !ok {
				continue
			}

			select {
			case u.values <- bpm:
			case <-u.done:
				return
			}
		}

		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !errors.Is(err, io.EOF) {
				u.log.Warn().Err(err).Msg("Error reading from socket")
			}
			return
		}
	}
}
