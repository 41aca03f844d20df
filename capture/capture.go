// Package capture provides frame sources for the provider.
package capture

import (
	"context"
	"errors"
	"io"
	"time"

	"strzcam.com/framecast/frame"
)

var ErrDeviceUnavailable = errors.New("capture device unavailable")

// Capture is the result of one read. OK is false for a missed capture, which
// the caller skips.
type Capture struct {
	OK    bool
	Image frame.Image
}

// Device is a source of captured frames.
type Device interface {
	// Read blocks until the next capture. It returns io.EOF once the source
	// is exhausted.
	Read(ctx context.Context) (Capture, error)
	Close() error
}

// Sequence is an in-memory device yielding a fixed list of captures.
type Sequence struct {
	// Delay paces reads when positive.
	Delay time.Duration
	// Loop starts over after the last capture instead of returning io.EOF.
	Loop bool

	captures []Capture
	next     int
	closed   bool
}

func NewSequence(captures ...Capture) *Sequence {
	return &Sequence{captures: captures}
}

func (s *Sequence) Read(ctx context.Context) (Capture, error) {
	if s.closed {
		return Capture{}, io.EOF
	}
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Capture{}, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Capture{}, err
	}

	if s.next >= len(s.captures) {
		if !s.Loop || len(s.captures) == 0 {
			return Capture{}, io.EOF
		}
		s.next = 0
	}
	c := s.captures[s.next]
	s.next++
	return c, nil
}

func (s *Sequence) Close() error {
	s.closed = true
	return nil
}

// Gradient returns n BGR frames of a diagonal gradient that shifts one step
// per frame.
func Gradient(shape frame.Shape, n int) []Capture {
	h, w, c := int(shape.Height), int(shape.Width), int(shape.Channels)
	out := make([]Capture, 0, n)
	for i := 0; i < n; i++ {
		data := make([]byte, shape.Len())
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p := (y*w + x) * c
				v := byte((x + y + i*4) % 256)
				for ch := 0; ch < c; ch++ {
					switch ch {
					case 0:
						data[p] = v
					case 1:
						data[p+1] = byte(y * 255 / max(h-1, 1))
					case 2:
						data[p+2] = 255 - v
					default:
						data[p+ch] = 255
					}
				}
			}
		}
		out = append(out, Capture{OK: true, Image: frame.Frame{Shape: shape, Data: data}})
	}
	return out
}
