// Package diff computes the changed region between two captures.
package diff

import (
	"github.com/e7canasta/pagestream/internal/raster"
)

// Diff returns the rectangle that needs to be resent to bring a client
// showing prev up to date with cur. The boolean is false when nothing
// changed.
//
// The full frame is returned when there is no previous frame, when the
// buffer sizes differ (resize) or when all four corners changed, which is
// taken as a cheap signal that the whole page was repainted.
//
// The returned rect always starts on an even column and spans an even
// number of columns, so the packer can pair pixels. On a frame of odd
// width the last column is never included; a change confined to it is
// reported as no change.
func Diff(prev, cur *raster.RawFrame) (raster.Rect, bool) {
	if prev != nil && prev.Channels == cur.Channels && prev.Equal(cur) {
		return raster.Rect{}, false
	}

	var r raster.Rect
	if prev == nil ||
		len(prev.Data) != len(cur.Data) ||
		prev.Channels != cur.Channels ||
		cornersChanged(prev, cur) {
		r = cur.Bounds()
		r.Width &^= 1
	} else {
		r = evenAligned(changedBounds(prev, cur), cur.Width)
	}

	if r.Width == 0 || r.Height == 0 {
		return raster.Rect{}, false
	}
	return r, true
}

// cornersChanged reports whether every corner pixel differs.
func cornersChanged(prev, cur *raster.RawFrame) bool {
	w, h := cur.Width, cur.Height

	return !prev.SamePixel(cur, 0, 0) &&
		!prev.SamePixel(cur, w, 0) &&
		!prev.SamePixel(cur, w, h) &&
		!prev.SamePixel(cur, 0, h)
}

// changedBounds runs the two narrowing passes.
//
// The forward pass walks rows top to bottom and only inspects columns at or
// left of the best left edge so far. The reverse pass walks columns right
// to left and only inspects rows at or below the best bottom edge so far.
// Each pass covers the whole grid in its own direction.
func changedBounds(prev, cur *raster.RawFrame) raster.Rect {
	maxX := cur.Width - 1
	maxY := cur.Height - 1

	top, left := maxY, maxX
	right, bottom := 0, 0

	for y := 0; y <= maxY; y++ {
		for x := 0; x <= maxX; x++ {
			if x > left {
				break
			}
			if !prev.SamePixel(cur, x, y) {
				if x < left {
					left = x
				}
				if y < top {
					top = y
				}
			}
		}
	}

	for x := maxX; x >= 0; x-- {
		for y := maxY; y >= 0; y-- {
			if y < bottom {
				break
			}
			if !prev.SamePixel(cur, x, y) {
				if x > right {
					right = x
				}
				if y > bottom {
					bottom = y
				}
			}
		}
	}

	return raster.Rect{
		Position:   raster.Position{X: left, Y: top},
		Dimensions: raster.Dimensions{Width: right - left + 1, Height: bottom - top + 1},
	}
}

// evenAligned widens r so that it starts on an even column and spans an
// even width, clamped to the largest even width that fits the frame.
func evenAligned(r raster.Rect, frameWidth int) raster.Rect {
	right := r.X + r.Width
	if r.X%2 != 0 {
		r.X--
	}
	r.Width = right - r.X
	if r.Width%2 != 0 {
		r.Width++
	}
	if r.X+r.Width > frameWidth {
		r.Width = (frameWidth - r.X) &^ 1
	}
	return r
}
