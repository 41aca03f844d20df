// Package consumer attaches to a stream published by a producer and reads its
// latest frame.
//
// A consumer never creates or unlinks segments. Reads are not synchronized
// with the producer, so a frame may be torn: the shape of one publish paired
// with bytes of the next.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	golog "github.com/ipfs/go-log/v2"

	"strzcam.com/framecast/frame"
	"strzcam.com/framecast/segment"
)

var log = golog.Logger("framecast/consumer")

var (
	// ErrSizeMismatch means the shape segment describes more bytes than the
	// frame segment holds. It is transient while a producer restarts.
	ErrSizeMismatch = errors.New("shape does not fit frame segment")
	ErrClosed       = errors.New("consumer is closed")
)

type Option func(*Client)

// WithCopy sets whether Frame returns an owned copy (the default) or a view
// aliasing the frame segment.
func WithCopy(copy bool) Option {
	return func(c *Client) {
		c.copy = copy
	}
}

type Client struct {
	shapeName string
	frameName string
	copy      bool

	mu       sync.RWMutex
	shapeSeg *segment.Segment
	frameSeg *segment.Segment
}

// Attach opens the named segments read-only. It fails with
// segment.ErrNotFound when either does not exist and does not retry.
func Attach(shapeName, frameName string, opts ...Option) (*Client, error) {
	c := &Client{shapeName: shapeName, frameName: frameName, copy: true}
	for _, opt := range opts {
		opt(c)
	}

	shapeSeg, err := segment.Open(shapeName)
	if err != nil {
		return nil, err
	}
	if shapeSeg.Size() < frame.ShapeSize {
		_ = shapeSeg.Close()
		return nil, fmt.Errorf("%w: %q is %d bytes", frame.ErrBadShapeSegment, shapeName, shapeSeg.Size())
	}
	frameSeg, err := segment.Open(frameName)
	if err != nil {
		_ = shapeSeg.Close()
		return nil, err
	}

	c.shapeSeg = shapeSeg
	c.frameSeg = frameSeg
	log.Infow("attached", "shape", shapeName, "frame", frameName, "capacity", frameSeg.Size())
	return c, nil
}

// GetFrame reads the current shape and returns the frame it describes. With
// copy false the frame data aliases the read-only mapping: it changes as the
// producer publishes, must not be written and must not be used after Close.
func (c *Client) GetFrame(copy bool) (frame.Frame, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.shapeSeg == nil {
		return frame.Frame{}, ErrClosed
	}

	shape, err := frame.ReadShape(c.shapeSeg.Bytes())
	if err != nil {
		return frame.Frame{}, err
	}
	buf := c.frameSeg.Bytes()
	n := shape.Len()
	if n < 0 || n > len(buf) {
		return frame.Frame{}, fmt.Errorf("%w: %s needs %d bytes, segment has %d", ErrSizeMismatch, shape, n, len(buf))
	}

	f := frame.Frame{Shape: shape, Data: buf[:n:n]}
	if copy {
		return f.Clone(), nil
	}
	return f, nil
}

// Frame is GetFrame with the copy mode chosen at Attach.
func (c *Client) Frame() (frame.Frame, error) {
	return c.GetFrame(c.copy)
}

// Capacity is the size of the frame segment in bytes.
func (c *Client) Capacity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.frameSeg == nil {
		return 0
	}
	return c.frameSeg.Size()
}

// Close unmaps both segments. It never unlinks them. Closing twice is a
// no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shapeSeg == nil {
		return nil
	}
	err := errors.Join(c.shapeSeg.Close(), c.frameSeg.Close())
	c.shapeSeg = nil
	c.frameSeg = nil
	log.Debugw("detached", "shape", c.shapeName, "frame", c.frameName)
	return err
}

// With attaches, runs fn and closes the client however fn exits.
func With(ctx context.Context, shapeName, frameName string, fn func(context.Context, *Client) error, opts ...Option) (err error) {
	c, err := Attach(shapeName, frameName, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, c)
}
