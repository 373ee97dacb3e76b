package source

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Prompt is printed before every stdin read.
const Prompt = "Enter BPM: "

// Stdin reads one BPM per line from a reader, prompting before each.
type Stdin struct {
	prompt io.Writer
	log    zerolog.Logger

	lines chan string
	err   error
}

// NewStdin starts reading r. Prompts go to prompt, which may be nil.
func NewStdin(r io.Reader, prompt io.Writer, log zerolog.Logger) *Stdin {
	s := &Stdin{
		prompt: prompt,
		log:    log,
		lines:  make(chan string),
	}

	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			s.lines <- scanner.Text()
		}
		s.err = scanner.Err()
		close(s.lines)
	}()

	return s
}

// Next blocks for the next valid BPM line. Unparseable lines are logged and
// skipped. io.EOF is returned when the reader is exhausted.
func (s *Stdin) Next(ctx context.Context) (float64, error) {
	for {
		if s.prompt != nil {
			fmt.Fprint(s.prompt, Prompt)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case line, open := <-s.lines:
			if !open {
				if s.err != nil {
					return 0, fmt.Errorf("failed to read stdin: %w", s.err)
				}
				return 0, io.EOF
			}

			bpm, ok, err := parseBPM(line)
			if err != nil {
				s.log.Warn().Err(err).Msg("Ignoring input")
				continue
			}
			if ok {
				return bpm, nil
			}
		}
	}
}
