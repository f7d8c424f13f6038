package raster

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode is returned when an encoded screenshot cannot be turned
	// into a RawFrame.
	ErrDecode = errors.New("raster: decode failed")

	// ErrCrop is returned when a crop rectangle falls outside the frame.
	ErrCrop = errors.New("raster: crop out of range")
)

// Channel counts supported by RawFrame.
const (
	Gray = 1
	RGB  = 3
)

// Dimensions is a width/height pair in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Even reports whether both sides are even.
func (d Dimensions) Even() bool {
	return d.Width%2 == 0 && d.Height%2 == 0
}

// Position is a pixel coordinate.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Rect describes a capture region or a changed region.
type Rect struct {
	Position
	Dimensions
}

// Full returns the rect covering a whole frame of the given size.
func Full(width, height int) Rect {
	return Rect{Dimensions: Dimensions{Width: width, Height: height}}
}

// Area returns Width*Height.
func (r Rect) Area() int {
	return r.Width * r.Height
}

// Within reports whether r fits inside a frame of width×height.
func (r Rect) Within(width, height int) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width >= 0 && r.Height >= 0 &&
		r.X+r.Width <= width && r.Y+r.Height <= height
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y &&
		o.X+o.Width <= r.X+r.Width &&
		o.Y+o.Height <= r.Y+r.Height
}

// String returns a compact "WxH@X,Y" representation for logs.
func (r Rect) String() string {
	return fmt.Sprintf("%dx%d@%d,%d", r.Width, r.Height, r.X, r.Y)
}

// RawFrame is a decoded capture.
type RawFrame struct {
	// Data holds Width*Height*Channels bytes, row-major.
	Data []byte
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Channels is Gray or RGB
	Channels int
}
