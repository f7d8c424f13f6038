// Package colors reduces captured pixels to the client's color depth and
// packs them for the wire.
package colors

import (
	"errors"
	"fmt"
	"math"

	"github.com/e7canasta/pagestream/internal/raster"
)

// ErrPack is returned when a region cannot be packed.
var ErrPack = errors.New("colors: pack failed")

// MaxPackedLevel is the largest level that fits a nibble.
const MaxPackedLevel = 0x0f

// DefaultDepth means "emit display-equivalent 0-255 values".
const DefaultDepth = 255

// Config is the per-session color configuration. It is immutable once the
// session is built.
type Config struct {
	// Grayscale selects one channel per pixel instead of RGB.
	Grayscale bool
	// Steps is the number of gray levels; 0 disables quantization.
	Steps int
	// Depth is the top of the output range for unpacked output. Packed
	// output always carries level indices.
	Depth int
	// Wide emits RGB565 (two bytes per pixel) in RGB mode.
	Wide bool
}

// Channels returns the raw frame channel count for this configuration.
func (c Config) Channels() int {
	if c.Grayscale {
		return raster.Gray
	}
	return raster.RGB
}

// Packed reports whether updates carry two nibble levels per byte.
func (c Config) Packed() bool {
	return c.Steps > 1
}

// Encode turns a cropped region into the update payload.
func (c Config) Encode(region *raster.RawFrame) ([]byte, error) {
	switch {
	case c.Packed():
		levels := Quantize(region.Data, c.Steps, c.Steps-1)
		return Pack(levels, region.Bounds())
	case c.Wide && !c.Grayscale:
		return PackRGB565(region.Data, region.Bounds())
	default:
		return region.Data, nil
	}
}

// Preview returns the region quantized to display-equivalent values, for
// debug dumps.
func (c Config) Preview(region *raster.RawFrame) *raster.RawFrame {
	steps := 0
	if c.Grayscale {
		steps = c.Steps
	}
	return &raster.RawFrame{
		Data:     Quantize(region.Data, steps, DefaultDepth),
		Width:    region.Width,
		Height:   region.Height,
		Channels: region.Channels,
	}
}

// Quantize maps every byte to one of steps levels.
//
// With steps <= 1 the input is returned unchanged. Otherwise each value v
// becomes level = round(v*(steps-1)/255). If steps-1 == depth the level
// is the output, else the level is scaled back to 0-255.
func Quantize(data []byte, steps, depth int) []byte {
	if steps <= 1 {
		return data
	}

	top := steps - 1
	var table [256]byte
	for v := 0; v < 256; v++ {
		level := roundHalfUp(float64(v*top) / 255)
		if top == depth {
			table[v] = byte(level)
			continue
		}
		table[v] = byte(roundHalfUp(float64(level) * 255 / float64(top)))
	}

	out := make([]byte, len(data))
	for i, v := range data {
		out[i] = table[v]
	}
	return out
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

// Pack combines horizontally adjacent levels into one byte, the left pixel
// in the high nibble. Levels above MaxPackedLevel saturate.
//
// The output holds r.Height rows of r.Width/2 bytes.
func Pack(levels []byte, r raster.Rect) ([]byte, error) {
	if r.Width%2 != 0 {
		return nil, fmt.Errorf("%w: odd width %d", ErrPack, r.Width)
	}
	if len(levels) != r.Width*r.Height {
		return nil, fmt.Errorf("%w: %d levels for %s", ErrPack, len(levels), r)
	}

	half := r.Width / 2
	out := make([]byte, 0, half*r.Height)
	for y := 0; y < r.Height; y++ {
		row := levels[y*r.Width : (y+1)*r.Width]
		for col := 0; col < half; col++ {
			hi := nibble(row[2*col])
			lo := nibble(row[2*col+1])
			out = append(out, hi<<4|lo)
		}
	}
	return out, nil
}

func nibble(v byte) byte {
	if v > MaxPackedLevel {
		return MaxPackedLevel
	}
	return v
}

// PackRGB565 encodes 3-channel pixels as little-endian RGB565.
func PackRGB565(rgb []byte, r raster.Rect) ([]byte, error) {
	if len(rgb) != r.Area()*raster.RGB {
		return nil, fmt.Errorf("%w: %d bytes for RGB %s", ErrPack, len(rgb), r)
	}

	out := make([]byte, 0, r.Area()*2)
	for i := 0; i < len(rgb); i += raster.RGB {
		v := uint16(rgb[i]>>3)<<11 | uint16(rgb[i+1]>>2)<<5 | uint16(rgb[i+2]>>3)
		out = append(out, byte(v), byte(v>>8))
	}
	return out, nil
}
