package frame

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeRoundTripIsTwelveBytes(t *testing.T) {
	buf := make([]byte, ShapeSize)
	want := Shape{Height: 480, Width: 640, Channels: 3}
	PutShape(buf, want)

	got, err := ReadShape(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 480*640*3, got.Len())
}

func TestReadShapeTooShort(t *testing.T) {
	_, err := ReadShape(make([]byte, 8))
	assert.ErrorIs(t, err, ErrBadShapeSegment)
}

func TestShapeLen(t *testing.T) {
	tests := []struct {
		name  string
		shape Shape
		want  int
	}{
		{"regular", Shape{2, 2, 3}, 12},
		{"zero", Shape{}, 0},
		{"negative height", Shape{-1, 2, 3}, -1},
		{"negative channels", Shape{2, 2, -3}, -1},
		{"huge", Shape{math.MaxInt32, math.MaxInt32, math.MaxInt32}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.shape.Len())
		})
	}
}

func TestShapeValidate(t *testing.T) {
	assert.NoError(t, Shape{1, 1, 1}.Validate())
	assert.ErrorIs(t, Shape{0, 4, 3}.Validate(), ErrEmptyFrame)
	assert.ErrorIs(t, Shape{-2, 4, 3}.Validate(), ErrInvalidShape)
}

func TestNewChecksLength(t *testing.T) {
	_, err := New(2, 2, 3, make([]byte, 11))
	assert.ErrorIs(t, err, ErrInvalidShape)

	f, err := New(2, 2, 3, make([]byte, 12))
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 2, 3}, f.Shape)
}

func TestCloneOwnsData(t *testing.T) {
	f := Frame{Shape: Shape{1, 1, 3}, Data: []byte{1, 2, 3}}
	c := f.Clone()
	f.Data[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, c.Data)
}

func TestCoerceIntegersWrap(t *testing.T) {
	g := Grid[uint16]{Shape: Shape{1, 1, 3}, Samples: []uint16{0, 255, 300}}
	f := g.ToUint8()
	assert.Equal(t, []byte{0, 255, 44}, f.Data)
	assert.Equal(t, g.Shape, f.Shape)

	n := Coerce(Shape{1, 1, 2}, []int16{-1, 256})
	assert.Equal(t, []byte{255, 0}, n.Data)
}

func TestCoerceFloatsClamp(t *testing.T) {
	f := Coerce(Shape{1, 1, 5}, []float32{-3, 0.9, 127.6, 255, 1e6})
	assert.Equal(t, []byte{0, 0, 127, 255, 255}, f.Data)

	nan := Coerce(Shape{1, 1, 1}, []float64{math.NaN()})
	assert.Equal(t, []byte{0}, nan.Data)
}

func TestCoerceUint8IsIdentity(t *testing.T) {
	f := Coerce(Shape{1, 1, 3}, []uint8{7, 8, 9})
	assert.Equal(t, []byte{7, 8, 9}, f.Data)
}

func TestSwapRB(t *testing.T) {
	f := Frame{Shape: Shape{1, 2, 3}, Data: []byte{1, 2, 3, 4, 5, 6}}
	s := SwapRB(f)
	assert.Equal(t, []byte{3, 2, 1, 6, 5, 4}, s.Data)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, f.Data, "source must not change")

	grey := Frame{Shape: Shape{1, 2, 1}, Data: []byte{1, 2}}
	assert.Equal(t, grey.Data, SwapRB(grey).Data)
}

func TestDecodeRawFrameBGR(t *testing.T) {
	f := Frame{Shape: Shape{1, 1, 3}, Data: []byte{10, 20, 30}}

	img, err := DecodeRawFrame(f, BGR)
	require.NoError(t, err)
	r, g, b, a := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{30, 20, 10, 255}, []uint32{r >> 8, g >> 8, b >> 8, a >> 8})

	img, err = DecodeRawFrame(f, RGB)
	require.NoError(t, err)
	r, _, b, _ = img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{10, 30}, []uint32{r >> 8, b >> 8})
}

func TestDecodeRawFrameGrey(t *testing.T) {
	f := Frame{Shape: Shape{2, 1, 1}, Data: []byte{5, 6}}
	img, err := DecodeRawFrame(f, BGR)
	require.NoError(t, err)
	gray, ok := img.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, []byte{5, 6}, gray.Pix)
}

func TestDecodeRawFrameRejectsTwoChannels(t *testing.T) {
	f := Frame{Shape: Shape{1, 1, 2}, Data: []byte{1, 2}}
	_, err := DecodeRawFrame(f, BGR)
	assert.Error(t, err)
}
