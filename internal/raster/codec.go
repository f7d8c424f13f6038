package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	"golang.org/x/image/draw"
)

// Decode turns a PNG screenshot into a RawFrame. With grayscale set the
// result has one channel per pixel, otherwise three (alpha dropped).
func Decode(encoded []byte, grayscale bool) (*RawFrame, error) {
	img, err := png.Decode(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return FromImage(img, grayscale), nil
}

// FromImage flattens any image.Image into a RawFrame.
func FromImage(img image.Image, grayscale bool) *RawFrame {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	dstRect := image.Rect(0, 0, width, height)

	if grayscale {
		gray := image.NewGray(dstRect)
		draw.Draw(gray, dstRect, img, b.Min, draw.Src)

		data := make([]byte, 0, width*height)
		for y := 0; y < height; y++ {
			row := gray.Pix[y*gray.Stride : y*gray.Stride+width]
			data = append(data, row...)
		}
		return &RawFrame{Data: data, Width: width, Height: height, Channels: Gray}
	}

	rgba := image.NewNRGBA(dstRect)
	draw.Draw(rgba, dstRect, img, b.Min, draw.Src)

	data := make([]byte, 0, width*height*RGB)
	for y := 0; y < height; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+width*4]
		for x := 0; x < width; x++ {
			data = append(data, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	return &RawFrame{Data: data, Width: width, Height: height, Channels: RGB}
}

// Image converts the frame back to an image.Image (Gray or NRGBA).
func (f *RawFrame) Image() image.Image {
	rect := image.Rect(0, 0, f.Width, f.Height)
	if f.Channels == Gray {
		gray := image.NewGray(rect)
		copy(gray.Pix, f.Data)
		return gray
	}

	rgba := image.NewNRGBA(rect)
	for i := 0; i < f.Width*f.Height; i++ {
		rgba.Pix[i*4] = f.Data[i*3]
		rgba.Pix[i*4+1] = f.Data[i*3+1]
		rgba.Pix[i*4+2] = f.Data[i*3+2]
		rgba.Pix[i*4+3] = 0xff
	}
	return rgba
}

// EncodePNG writes the frame as PNG.
func (f *RawFrame) EncodePNG(w io.Writer) error {
	return png.Encode(w, f.Image())
}
