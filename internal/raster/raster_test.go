package raster_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/pagestream/internal/raster"
)

func grayFrame(t *testing.T, width, height int) *raster.RawFrame {
	t.Helper()
	data := make([]byte, width*height)
	for i := range data {
		data[i] = byte(i)
	}
	f, err := raster.NewRawFrame(data, width, height, raster.Gray)
	require.NoError(t, err)
	return f
}

func TestNewRawFrameValidatesLength(t *testing.T) {
	_, err := raster.NewRawFrame(make([]byte, 11), 2, 2, raster.RGB)
	assert.Error(t, err)

	_, err = raster.NewRawFrame(make([]byte, 8), 2, 2, 2)
	assert.Error(t, err)

	f, err := raster.NewRawFrame(make([]byte, 12), 2, 2, raster.RGB)
	require.NoError(t, err)
	assert.Equal(t, raster.Full(2, 2), f.Bounds())
}

// TestPixelClampsToLastColumnAndRow covers corner addressing with x=width
// and y=height, which the diff engine relies on.
func TestPixelClampsToLastColumnAndRow(t *testing.T) {
	f := grayFrame(t, 4, 3)

	assert.Equal(t, []byte{0}, f.Pixel(0, 0))
	assert.Equal(t, []byte{3}, f.Pixel(4, 0))
	assert.Equal(t, []byte{11}, f.Pixel(4, 3))
	assert.Equal(t, []byte{8}, f.Pixel(0, 3))
	assert.Equal(t, []byte{6}, f.Pixel(2, 1))
}

func TestPixelRGB(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6}
	f, err := raster.NewRawFrame(data, 2, 1, raster.RGB)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5, 6}, f.Pixel(1, 0))
}

func TestCrop(t *testing.T) {
	f := grayFrame(t, 4, 3)

	out, err := f.Crop(raster.Rect{
		Position:   raster.Position{X: 1, Y: 1},
		Dimensions: raster.Dimensions{Width: 2, Height: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6, 9, 10}, out.Data)
	assert.Equal(t, 2, out.Width)
	assert.Equal(t, 2, out.Height)
}

func TestCropOutOfRange(t *testing.T) {
	f := grayFrame(t, 4, 3)

	_, err := f.Crop(raster.Rect{
		Position:   raster.Position{X: 3},
		Dimensions: raster.Dimensions{Width: 2, Height: 1},
	})
	require.ErrorIs(t, err, raster.ErrCrop)
}

func TestRectHelpers(t *testing.T) {
	outer := raster.Rect{Dimensions: raster.Dimensions{Width: 10, Height: 10}}
	inner := raster.Rect{
		Position:   raster.Position{X: 2, Y: 4},
		Dimensions: raster.Dimensions{Width: 4, Height: 2},
	}

	assert.True(t, outer.Contains(inner))
	assert.False(t, inner.Contains(outer))
	assert.True(t, inner.Within(10, 10))
	assert.False(t, inner.Within(5, 10))
	assert.Equal(t, 8, inner.Area())
	assert.Equal(t, "4x2@2,4", inner.String())
	assert.True(t, raster.Dimensions{Width: 4, Height: 2}.Even())
	assert.False(t, raster.Dimensions{Width: 101, Height: 2}.Even())
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeRGBDropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	img.Set(1, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	f, err := raster.Decode(encodePNG(t, img), false)
	require.NoError(t, err)
	assert.Equal(t, raster.RGB, f.Channels)
	assert.Equal(t, []byte{10, 20, 30, 200, 100, 50}, f.Data)
}

func TestDecodeGrayscale(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{A: 255})
	img.Set(1, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	f, err := raster.Decode(encodePNG(t, img), true)
	require.NoError(t, err)
	assert.Equal(t, raster.Gray, f.Channels)
	assert.Equal(t, []byte{0, 255}, f.Data)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := raster.Decode([]byte("not a png"), false)
	require.ErrorIs(t, err, raster.ErrDecode)
}

func TestEncodePNGRoundTrip(t *testing.T) {
	f := grayFrame(t, 4, 2)

	var buf bytes.Buffer
	require.NoError(t, f.EncodePNG(&buf))

	back, err := raster.Decode(buf.Bytes(), true)
	require.NoError(t, err)
	assert.True(t, f.Equal(back))
}
