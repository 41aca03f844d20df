package producer

import (
	"context"
	"errors"
	"io"
	"time"

	"strzcam.com/framecast/capture"
	"strzcam.com/framecast/frame"
)

type RunOptions struct {
	// ConvertRGB swaps the first and third channel of every capture before
	// it is published.
	ConvertRGB bool
	// StatsInterval is how often publish statistics are logged. Zero means
	// once per second.
	StatsInterval time.Duration
}

// Run publishes captures from dev until ctx is cancelled or dev is exhausted.
// The stream is shut down on every exit path. Exhaustion and cancellation are
// not errors.
func (p *Producer) Run(ctx context.Context, dev capture.Device, opts RunOptions) (err error) {
	defer func() {
		if serr := p.Shutdown(); serr != nil {
			log.Warnw("shutdown", "err", serr)
			if err == nil {
				err = serr
			}
		}
	}()

	interval := opts.StatsInterval
	if interval <= 0 {
		interval = time.Second
	}
	startTime := time.Now()
	frameCount := 0
	missed := 0

	for {
		if ctx.Err() != nil {
			log.Infow("capture loop stopped", "reason", ctx.Err())
			return nil
		}

		c, rerr := dev.Read(ctx)
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				log.Infow("capture source exhausted")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return rerr
		}
		if !c.OK || c.Image == nil {
			missed++
			continue
		}

		img := c.Image
		if opts.ConvertRGB {
			img = frame.SwapRB(img.ToUint8())
		}
		if perr := p.Publish(img); perr != nil {
			if errors.Is(perr, ErrShapeChanged) {
				log.Warnw("frame skipped", "err", perr)
				continue
			}
			return perr
		}

		frameCount++
		if elapsed := time.Since(startTime); elapsed > interval {
			shape, _ := p.Shape()
			log.Debugw("publishing",
				"fps", float64(frameCount)/elapsed.Seconds(),
				"dims", shape.String(),
				"missed", missed,
				"published", p.Published(),
			)
			frameCount = 0
			missed = 0
			startTime = time.Now()
		}
	}
}
