package detector

import (
	"context"

	"github.com/rs/zerolog"
)

// Source is a blocking, non-restartable stream of voltage samples.
type Source interface {
	Next(ctx context.Context) (Sample, error)
}

// Reader turns a voltage Source into a lazy stream of interbeat intervals.
// A Reader is owned by one goroutine.
type Reader struct {
	src    Source
	params Params
	state  State
	log    zerolog.Logger
}

// NewReader creates a Reader over src starting from the initial state.
func NewReader(src Source, params Params, log zerolog.Logger) *Reader {
	return &Reader{
		src:    src,
		params: params,
		state:  Initial(params),
		log:    log,
	}
}

// Next pulls samples until an interval is emitted and returns it in seconds.
// Errors from the source, including io.EOF, are returned unchanged.
func (r *Reader) Next(ctx context.Context) (float64, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		sample, err := r.src.Next(ctx)
		if err != nil {
			return 0, err
		}

		var res Result
		r.state, res = Step(r.params, r.state, sample)

		if res.Reset {
			r.log.Warn().Float64("interval", res.Elapsed).Msg("Voltage reader interval is too high, resetting state")
		}
		if res.Emitted {
			return res.Interval, nil
		}
	}
}

// State returns a snapshot of the detector state.
func (r *Reader) State() State {
	return r.state
}
