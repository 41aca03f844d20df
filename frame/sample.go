package frame

import "math"

// Sample is any sample width a capture device may produce.
type Sample interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~float32 | ~float64
}

// Image is a captured H×W×C sample grid before it is narrowed to 8 bits.
type Image interface {
	Dims() Shape
	ToUint8() Frame
}

// Grid is a row-major sample grid of sample type S.
type Grid[S Sample] struct {
	Shape   Shape
	Samples []S
}

func (g Grid[S]) Dims() Shape {
	return g.Shape
}

func (g Grid[S]) ToUint8() Frame {
	return Coerce(g.Shape, g.Samples)
}

// Coerce narrows samples to 8-bit unsigned. Integer samples keep their low
// 8 bits; float samples are clamped to [0, 255] and truncated.
func Coerce[S Sample](shape Shape, samples []S) Frame {
	out := make([]byte, len(samples))
	half := 0.5
	if S(half) != 0 {
		for i, v := range samples {
			f := float64(v)
			switch {
			case math.IsNaN(f) || f <= 0:
				out[i] = 0
			case f >= 255:
				out[i] = 255
			default:
				out[i] = uint8(f)
			}
		}
		return Frame{Shape: shape, Data: out}
	}
	for i, v := range samples {
		out[i] = uint8(v)
	}
	return Frame{Shape: shape, Data: out}
}
