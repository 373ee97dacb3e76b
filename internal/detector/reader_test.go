package detector

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	values []float64
	pos    int
	err    error
}

func (s *sliceSource) Next(ctx context.Context) (Sample, error) {
	if s.pos >= len(s.values) {
		if s.err != nil {
			return Sample{}, s.err
		}
		return Sample{}, io.EOF
	}
	v := s.values[s.pos]
	s.pos++
	return Sample{Value: v, Interval: tick}, nil
}

func TestReaderYieldsIntervalsThenEOF(t *testing.T) {
	src := &sliceSource{values: square(400*6, 0, 400, 40, 0.9, 0.3)}
	r := NewReader(src, DefaultParams(), zerolog.Nop())

	var got []float64
	for {
		ibi, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ibi)
	}

	// Pulses at 0.8s intervals; the first only seeds the bootstrap
	assert.Len(t, got, 5)
	for _, ibi := range got {
		assert.InDelta(t, 0.8, ibi, 1e-6)
	}
	assert.False(t, r.State().FirstPulse)
}

func TestReaderPropagatesSourceErrors(t *testing.T) {
	boom := errors.New("spi read failed")
	r := NewReader(&sliceSource{values: []float64{0.1, 0.2}, err: boom}, DefaultParams(), zerolog.Nop())

	_, err := r.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestReaderHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReader(&sliceSource{values: []float64{0.9}}, DefaultParams(), zerolog.Nop())
	_, err := r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
