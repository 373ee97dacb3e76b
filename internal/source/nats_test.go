package source

import (
	"context"
	"io"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchRoundTrip(t *testing.T) {
	samples := []float64{0, 0.25, -1.5, 0.875}
	data := EncodeBatch(samples)
	require.Len(t, data, 16)

	got, err := DecodeBatch(data)
	require.NoError(t, err)
	assert.Equal(t, samples, got)
}

func TestDecodeBatchRejectsPartialSample(t *testing.T) {
	_, err := DecodeBatch([]byte{1, 2, 3, 4, 5})
	assert.Error(t, err)
}

func TestNATSNextSplitsBatches(t *testing.T) {
	msgs := make(chan *nats.Msg, 3)
	n := newNATS(nil, nil, msgs, 0.004, zerolog.Nop())

	msgs <- &nats.Msg{Data: EncodeBatch([]float64{0.5, 0.75})}
	msgs <- &nats.Msg{Data: []byte{0xff}}
	msgs <- &nats.Msg{Data: EncodeBatch([]float64{0.25})}
	close(msgs)

	ctx := context.Background()
	var values []float64
	for {
		s, err := n.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, 0.004, s.Interval)
		assert.False(t, s.Time.IsZero())
		values = append(values, s.Value)
	}

	assert.Equal(t, []float64{0.5, 0.75, 0.25}, values)
	assert.NoError(t, n.Close())
}

func TestNATSNextHonoursContext(t *testing.T) {
	n := newNATS(nil, nil, make(chan *nats.Msg), 0.002, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := n.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
