// Package producer owns a stream: it creates the shape and frame segments on
// the first publish, overwrites them on every publish and unlinks them on
// shutdown.
package producer

import (
	"errors"
	"fmt"
	"sync"

	golog "github.com/ipfs/go-log/v2"

	"strzcam.com/framecast/frame"
	"strzcam.com/framecast/segment"
)

var log = golog.Logger("framecast/producer")

var (
	// ErrShapeChanged is returned by Publish for a frame whose shape differs
	// from the shape the stream was initialized with.
	ErrShapeChanged = errors.New("frame shape differs from stream shape")
	ErrClosed       = errors.New("producer is shut down")
)

type Producer struct {
	shapeName string
	frameName string

	mu        sync.Mutex
	shapeSeg  *segment.Segment
	frameSeg  *segment.Segment
	shape     frame.Shape
	published uint64
	closed    bool
}

// New returns an uninitialized producer. No segment exists until the first
// Publish or an explicit Initialize.
func New(shapeName, frameName string) *Producer {
	return &Producer{shapeName: shapeName, frameName: frameName}
}

// Initialize creates both segments sized for first. It fails with
// segment.ErrNameConflict when either name is already live.
func (p *Producer) Initialize(first frame.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialize(first)
}

func (p *Producer) initialize(first frame.Frame) error {
	if p.closed {
		return ErrClosed
	}
	if p.shapeSeg != nil {
		return fmt.Errorf("stream %s/%s already initialized", p.shapeName, p.frameName)
	}
	if err := first.Shape.Validate(); err != nil {
		return err
	}
	if err := first.Check(); err != nil {
		return err
	}

	shapeSeg, err := segment.Create(p.shapeName, frame.ShapeSize)
	if err != nil {
		return err
	}
	frameSeg, err := segment.Create(p.frameName, first.Shape.Len())
	if err != nil {
		// leave nothing half-built behind
		_ = shapeSeg.Close()
		if uerr := segment.Unlink(p.shapeName); uerr != nil {
			log.Warnw("unlink shape segment", "name", p.shapeName, "err", uerr)
		}
		return err
	}

	p.shapeSeg = shapeSeg
	p.frameSeg = frameSeg
	p.shape = first.Shape
	log.Infow("stream created",
		"shape", p.shapeName,
		"frame", p.frameName,
		"dims", first.Shape.String(),
		"bytes", frameSeg.Size(),
	)
	return nil
}

// Publish narrows img to 8-bit samples and overwrites the shape segment, then
// the frame segment. The first call initializes the stream. A nil or empty
// image is ignored. Readers may observe a torn frame while the copy is in
// progress.
func (p *Producer) Publish(img frame.Image) error {
	if img == nil {
		return nil
	}
	f := img.ToUint8()
	if f.Empty() {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.shapeSeg == nil {
		if err := p.initialize(f); err != nil {
			return err
		}
	}
	if f.Shape != p.shape {
		return fmt.Errorf("%w: stream is %s, frame is %s", ErrShapeChanged, p.shape, f.Shape)
	}
	if err := f.Check(); err != nil {
		return err
	}

	frame.PutShape(p.shapeSeg.Bytes(), f.Shape)
	copy(p.frameSeg.Bytes(), f.Data)
	p.published++
	return nil
}

// Shape returns the stream shape once initialized.
func (p *Producer) Shape() (frame.Shape, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shape, p.shapeSeg != nil
}

func (p *Producer) Published() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

// Shutdown unmaps and unlinks both segments. Names already removed by someone
// else count as success. Calling Shutdown again is a no-op.
func (p *Producer) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.shapeSeg == nil {
		return nil
	}

	var errs []error
	for _, s := range []*segment.Segment{p.shapeSeg, p.frameSeg} {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := segment.Unlink(s.Name()); err != nil {
			errs = append(errs, err)
		}
	}
	log.Infow("stream removed", "shape", p.shapeName, "frame", p.frameName, "published", p.published)
	return errors.Join(errs...)
}
