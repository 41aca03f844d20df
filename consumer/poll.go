package consumer

import (
	"context"
	"errors"
	"time"

	"strzcam.com/framecast/frame"
)

// DefaultInterval is the poll cadence when none is given.
const DefaultInterval = 10 * time.Millisecond

// ErrStop is returned by a Sink to end Poll without error.
var ErrStop = errors.New("stop polling")

// Sink receives polled frames.
type Sink interface {
	Show(f frame.Frame) error
}

type SinkFunc func(f frame.Frame) error

func (fn SinkFunc) Show(f frame.Frame) error {
	return fn(f)
}

// LogSink logs the shape of every frame it is shown.
type LogSink struct{}

func (LogSink) Show(f frame.Frame) error {
	log.Debugw("frame", "dims", f.Shape.String(), "bytes", len(f.Data))
	return nil
}

// Poll reads a frame every interval and hands it to sink until ctx is done or
// sink returns ErrStop. A shape that does not fit the frame segment is retried
// on the next tick.
func (c *Client) Poll(ctx context.Context, interval time.Duration, sink Sink) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	mismatches := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		f, err := c.Frame()
		switch {
		case errors.Is(err, ErrSizeMismatch):
			mismatches++
			if mismatches == 1 || mismatches%100 == 0 {
				log.Debugw("frame skipped", "err", err, "count", mismatches)
			}
		case err != nil:
			return err
		case f.Empty():
		default:
			mismatches = 0
			if err := sink.Show(f); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
