// Package render is the boundary to the page-rendering engine.
//
// The frame pipeline only needs a handful of capabilities from the engine:
// open a page with a viewport, override device metrics, navigate, inject a
// style sheet, capture a full-frame PNG, dispatch touch events and click.
// Chrome (via the DevTools protocol) is the production implementation;
// rendertest provides an in-memory fake.
package render

import (
	"context"
	"errors"
)

var (
	// ErrCapture wraps failures of CaptureRaster.
	ErrCapture = errors.New("render: capture failed")

	// ErrClosed is returned by a Page after Close.
	ErrClosed = errors.New("render: page closed")
)

// Viewport describes the emulated screen of a page.
type Viewport struct {
	Width     int
	Height    int
	Scale     float64
	Mobile    bool
	Touch     bool
	Landscape bool
}

// DefaultViewport matches a landscape touch tablet.
func DefaultViewport() Viewport {
	return Viewport{
		Width:     1024,
		Height:    768,
		Scale:     1,
		Mobile:    true,
		Touch:     true,
		Landscape: true,
	}
}

// TouchType is the phase of a touch event.
type TouchType string

const (
	TouchStart TouchType = "touchStart"
	TouchMove  TouchType = "touchMove"
	TouchEnd   TouchType = "touchEnd"
)

// Point is a position in logical viewport pixels.
type Point struct {
	X float64
	Y float64
}

// TouchEvent is a synthetic touch dispatched into the page. TouchEnd events
// carry no points.
type TouchEvent struct {
	Type   TouchType
	Points []Point
}

// Engine opens pages.
type Engine interface {
	NewPage(ctx context.Context, vp Viewport) (Page, error)
}

// Page is one browser tab.
type Page interface {
	// SetDeviceMetrics overrides the device pixel ratio and the logical
	// screen size.
	SetDeviceMetrics(ctx context.Context, dpr float64, width, height int, mobile bool) error
	Navigate(ctx context.Context, url string) error
	InjectStyle(ctx context.Context, css string) error
	// CaptureRaster returns a PNG of the full viewport.
	CaptureRaster(ctx context.Context) ([]byte, error)
	DispatchTouch(ctx context.Context, ev TouchEvent) error
	Click(ctx context.Context, x, y float64) error
	// Close releases the tab. Idempotent.
	Close() error
}
