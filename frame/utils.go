package frame

import (
	"fmt"
	"image"
	"image/color"
)

// ChannelOrder tells how the three colour channels of a frame are ordered.
type ChannelOrder int8

const (
	BGR ChannelOrder = iota // OpenCV and ffmpeg bgr24 default
	RGB
)

func (o ChannelOrder) String() string {
	if o == RGB {
		return "rgb"
	}
	return "bgr"
}

// SwapRB returns a copy of f with the first and third channel exchanged,
// turning BGR into RGB (and BGRA into RGBA). Frames with fewer than three
// channels are copied unchanged.
func SwapRB(f Frame) Frame {
	out := f.Clone()
	c := int(f.Shape.Channels)
	if c < 3 {
		return out
	}
	for i := 0; i+2 < len(out.Data); i += c {
		out.Data[i], out.Data[i+2] = out.Data[i+2], out.Data[i]
	}
	return out
}

// DecodeRawFrame converts a frame to an image for display. One channel is
// grey, three channels are colour in the given order and four channels carry
// alpha last.
func DecodeRawFrame(f Frame, order ChannelOrder) (image.Image, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	width := int(f.Shape.Width)
	height := int(f.Shape.Height)
	channels := int(f.Shape.Channels)

	switch channels {
	case 1:
		img := image.NewGray(image.Rect(0, 0, width, height))
		copy(img.Pix, f.Data)
		return img, nil
	case 3, 4:
	default:
		return nil, fmt.Errorf("cannot display %d channel frame", channels)
	}

	r, b := 0, 2
	if order == BGR {
		r, b = 2, 0
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * channels
			a := uint8(255)
			if channels == 4 {
				a = f.Data[i+3]
			}
			img.SetRGBA(x, y, color.RGBA{
				R: f.Data[i+r],
				G: f.Data[i+1],
				B: f.Data[i+b],
				A: a,
			})
		}
	}

	return img, nil
}
