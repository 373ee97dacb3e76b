package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/petems/heartloop/internal/detector"
)

// Connect dials NATS with reconnects enabled forever.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name("heartloop"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
}

// NATS reads voltage samples published as batches of little-endian float32.
type NATS struct {
	interval float64
	log      zerolog.Logger

	nc      *nats.Conn
	sub     *nats.Subscription
	msgs    chan *nats.Msg
	pending []float64
}

// SubscribeNATS subscribes to subject on nc. interval is the sampling
// period of the publisher in seconds.
func SubscribeNATS(nc *nats.Conn, subject string, interval float64, log zerolog.Logger) (*NATS, error) {
	msgs := make(chan *nats.Msg, 256)
	sub, err := nc.ChanSubscribe(subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	log.Info().Str("subject", subject).Msg("Subscribed to voltage stream")
	return newNATS(nc, sub, msgs, interval, log), nil
}

func newNATS(nc *nats.Conn, sub *nats.Subscription, msgs chan *nats.Msg, interval float64, log zerolog.Logger) *NATS {
	return &NATS{
		interval: interval,
		log:      log,
		nc:       nc,
		sub:      sub,
		msgs:     msgs,
	}
}

// Next returns the next sample, waiting for a new batch when the current
// one is used up.
func (n *NATS) Next(ctx context.Context) (detector.Sample, error) {
	for len(n.pending) == 0 {
		select {
		case <-ctx.Done():
			return detector.Sample{}, ctx.Err()
		case msg, ok := <-n.msgs:
			if !ok {
				return detector.Sample{}, io.EOF
			}
			batch, err := DecodeBatch(msg.Data)
			if err != nil {
				n.log.Warn().Err(err).Msg("Dropping malformed batch")
				continue
			}
			n.pending = batch
		}
	}

	v := n.pending[0]
	n.pending = n.pending[1:]
	return detector.Sample{Value: v, Interval: n.interval, Time: time.Now()}, nil
}

// Close unsubscribes and drains the connection.
func (n *NATS) Close() error {
	if n.sub != nil {
		if err := n.sub.Unsubscribe(); err != nil {
			n.log.Debug().Err(err).Msg("Unsubscribe failed")
		}
	}
	if n.nc != nil {
		return n.nc.Drain()
	}
	return nil
}

// EncodeBatch packs samples as little-endian float32.
func EncodeBatch(samples []float64) []byte {
	out := make([]byte, 4*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
	}
	return out
}

// DecodeBatch unpacks a little-endian float32 batch.
func DecodeBatch(data []byte) ([]float64, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("batch length %d is not a multiple of 4", len(data))
	}

	out := make([]float64, len(data)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
	}
	return out, nil
}

// Publish streams samples from src to subject in batches until ctx ends or
// src fails.
func Publish(ctx context.Context, nc *nats.Conn, subject string, src detector.Source, batch int) error {
	if batch < 1 {
		batch = 1
	}

	buffer := make([]float64, 0, batch)
	for {
		sample, err := src.Next(ctx)
		if err != nil {
			return err
		}

		buffer = append(buffer, sample.Value)
		if len(buffer) >= batch {
			if err := nc.Publish(subject, EncodeBatch(buffer)); err != nil {
				return fmt.Errorf("failed to publish: %w", err)
			}
			buffer = buffer[:0]
		}
	}
}
