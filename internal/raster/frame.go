package raster

import (
	"bytes"
	"fmt"
)

// NewRawFrame validates the buffer length against the geometry.
func NewRawFrame(data []byte, width, height, channels int) (*RawFrame, error) {
	if channels != Gray && channels != RGB {
		return nil, fmt.Errorf("raster: unsupported channel count %d", channels)
	}
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("raster: negative size %dx%d", width, height)
	}
	if len(data) != width*height*channels {
		return nil, fmt.Errorf("raster: buffer holds %d bytes, %dx%dx%d needs %d",
			len(data), width, height, channels, width*height*channels)
	}
	return &RawFrame{Data: data, Width: width, Height: height, Channels: channels}, nil
}

// Pixel returns the channel bytes at (x, y). Coordinates past the right or
// bottom edge are clamped to the last column/row. The returned slice
// aliases the frame buffer.
func (f *RawFrame) Pixel(x, y int) []byte {
	if x >= f.Width {
		x = f.Width - 1
	}
	if y >= f.Height {
		y = f.Height - 1
	}
	offset := (y*f.Width + x) * f.Channels
	return f.Data[offset : offset+f.Channels]
}

// SamePixel reports whether f and o hold identical bytes at (x, y). Both
// frames must share the same geometry.
func (f *RawFrame) SamePixel(o *RawFrame, x, y int) bool {
	return bytes.Equal(f.Pixel(x, y), o.Pixel(x, y))
}

// Equal reports byte equality of the two buffers.
func (f *RawFrame) Equal(o *RawFrame) bool {
	return bytes.Equal(f.Data, o.Data)
}

// Bounds returns the full-frame rect.
func (f *RawFrame) Bounds() Rect {
	return Full(f.Width, f.Height)
}

// Crop copies the region r into a new frame.
func (f *RawFrame) Crop(r Rect) (*RawFrame, error) {
	if !r.Within(f.Width, f.Height) {
		return nil, fmt.Errorf("%w: %s outside %dx%d", ErrCrop, r, f.Width, f.Height)
	}

	rowBytes := r.Width * f.Channels
	out := make([]byte, 0, rowBytes*r.Height)
	for y := r.Y; y < r.Y+r.Height; y++ {
		start := (y*f.Width + r.X) * f.Channels
		out = append(out, f.Data[start:start+rowBytes]...)
	}

	return &RawFrame{Data: out, Width: r.Width, Height: r.Height, Channels: f.Channels}, nil
}
