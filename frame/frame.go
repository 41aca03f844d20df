// Package frame defines the on-segment layout shared by the provider and
// every viewer of a stream.
//
// A stream is two named shared memory segments. The shape segment holds three
// native-endian int32 values (height, width, channels) and is always exactly
// ShapeSize bytes. The frame segment holds height*width*channels bytes,
// row-major, one byte per channel sample. There is no header, version,
// checksum or sequence number: both sides agree on the layout out-of-band.
//
// Writes to the two segments are not atomic with respect to each other, so a
// reader may pair the shape of one publish with the bytes of another (a torn
// read). This cannot be detected from the segments alone.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	DefaultShapeName = "shape"
	DefaultFrameName = "frame"

	// ShapeSize is the byte length of the shape segment.
	ShapeSize = 12
)

var (
	ErrEmptyFrame      = errors.New("frame has no samples")
	ErrInvalidShape    = errors.New("invalid frame shape")
	ErrBadShapeSegment = errors.New("shape segment is smaller than 12 bytes")
)

// Shape is the (height, width, channels) triple stored in the shape segment.
type Shape struct {
	Height   int32
	Width    int32
	Channels int32
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Height, s.Width, s.Channels)
}

// Len returns the number of frame bytes the shape describes, or -1 when a
// dimension is negative or the product does not fit in an int.
func (s Shape) Len() int {
	if s.Height < 0 || s.Width < 0 || s.Channels < 0 {
		return -1
	}
	n := int64(s.Height) * int64(s.Width)
	if n != 0 && int64(s.Channels) > math.MaxInt64/n {
		return -1
	}
	n *= int64(s.Channels)
	if n > math.MaxInt {
		return -1
	}
	return int(n)
}

// Validate reports whether the shape can back a frame segment.
func (s Shape) Validate() error {
	switch n := s.Len(); {
	case n < 0:
		return fmt.Errorf("%w: %s", ErrInvalidShape, s)
	case n == 0:
		return fmt.Errorf("%w: %s", ErrEmptyFrame, s)
	}
	return nil
}

// PutShape writes s into the first ShapeSize bytes of dst.
func PutShape(dst []byte, s Shape) {
	_ = dst[ShapeSize-1]
	binary.NativeEndian.PutUint32(dst[0:4], uint32(s.Height))
	binary.NativeEndian.PutUint32(dst[4:8], uint32(s.Width))
	binary.NativeEndian.PutUint32(dst[8:12], uint32(s.Channels))
}

// ReadShape decodes the shape triple from the first ShapeSize bytes of src.
func ReadShape(src []byte) (Shape, error) {
	if len(src) < ShapeSize {
		return Shape{}, fmt.Errorf("%w: got %d bytes", ErrBadShapeSegment, len(src))
	}
	return Shape{
		Height:   int32(binary.NativeEndian.Uint32(src[0:4])),
		Width:    int32(binary.NativeEndian.Uint32(src[4:8])),
		Channels: int32(binary.NativeEndian.Uint32(src[8:12])),
	}, nil
}

// Frame is a published frame: a shape and its 8-bit samples.
type Frame struct {
	Shape Shape
	Data  []byte
}

// New builds a frame and checks that data matches the shape.
func New(height, width, channels int, data []byte) (Frame, error) {
	if height > math.MaxInt32 || width > math.MaxInt32 || channels > math.MaxInt32 {
		return Frame{}, fmt.Errorf("%w: %dx%dx%d", ErrInvalidShape, height, width, channels)
	}
	f := Frame{
		Shape: Shape{Height: int32(height), Width: int32(width), Channels: int32(channels)},
		Data:  data,
	}
	if err := f.Check(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Check reports whether Data has exactly the length Shape describes.
func (f Frame) Check() error {
	n := f.Shape.Len()
	if n < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidShape, f.Shape)
	}
	if len(f.Data) != n {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidShape, f.Shape, n, len(f.Data))
	}
	return nil
}

// Clone returns a frame that owns a copy of the sample bytes.
func (f Frame) Clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return Frame{Shape: f.Shape, Data: data}
}

// Empty reports whether the frame carries no samples.
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

// Dims implements Image.
func (f Frame) Dims() Shape {
	return f.Shape
}

// ToUint8 implements Image. The samples are already 8-bit, so f is returned
// as is.
func (f Frame) ToUint8() Frame {
	return f
}
