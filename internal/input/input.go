// Package input translates client input messages into render-engine
// events and scheduler commands.
package input

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/e7canasta/pagestream/internal/render"
	"github.com/e7canasta/pagestream/internal/state"
	"github.com/e7canasta/pagestream/internal/wire"
)

// Dispatcher is the part of render.Page that receives input.
type Dispatcher interface {
	DispatchTouch(ctx context.Context, ev render.TouchEvent) error
	Click(ctx context.Context, x, y float64) error
}

// Controller is the part of the scheduler driven by input.
type Controller interface {
	Pause()
	Resume(ctx context.Context)
	Capture(ctx context.Context)
}

// Config configures a Translator.
type Config struct {
	// DPR divides incoming coordinates when > 0.
	DPR int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Translator handles the input messages of one session. Handle is called
// from the transport reader goroutine only.
type Translator struct {
	state *state.Session
	page  Dispatcher
	ctrl  Controller
	dpr   int
	log   *slog.Logger
}

// New creates a Translator.
func New(st *state.Session, page Dispatcher, ctrl Controller, cfg Config) *Translator {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Translator{state: st, page: page, ctrl: ctrl, dpr: cfg.DPR, log: log}
}

// Handle decodes and applies one message. Malformed and unknown messages
// are ignored. The returned error is a render-engine dispatch failure.
func (t *Translator) Handle(ctx context.Context, msg []byte) error {
	in, ok := wire.DecodeInput(msg)
	if !ok {
		t.log.Debug("input: ignored message", "bytes", len(msg))
		return nil
	}

	if in.Type.HasPosition() {
		t.log.Debug("input: received", "type", in.Type, "x", in.X, "y", in.Y)
	} else {
		t.log.Info("input: received", "type", in.Type)
	}

	switch in.Type {
	case wire.Pause:
		t.ctrl.Pause()
		return nil
	case wire.Resume:
		t.ctrl.Resume(ctx)
		return nil
	case wire.TouchStart:
		return t.touchStart(ctx, int(in.X), int(in.Y))
	case wire.TouchMove:
		return t.touchMove(ctx, int(in.X), int(in.Y))
	case wire.TouchEnd:
		return t.touchEnd(ctx, int(in.X), int(in.Y))
	}
	return nil
}

func (t *Translator) touchStart(ctx context.Context, x, y int) error {
	t.state.BeginInteraction(x, y)
	return t.dispatch(ctx, render.TouchEvent{
		Type:   render.TouchStart,
		Points: []render.Point{t.scale(x, y)},
	})
}

func (t *Translator) touchMove(ctx context.Context, x, y int) error {
	if !t.state.Interacting() {
		return nil
	}
	return t.dispatch(ctx, render.TouchEvent{
		Type:   render.TouchMove,
		Points: []render.Point{t.scale(x, y)},
	})
}

// touchEnd turns a release without movement into a click followed by an
// immediate capture, so taps show feedback without waiting for the timer.
func (t *Translator) touchEnd(ctx context.Context, x, y int) error {
	anchor, ok := t.state.EndInteraction()
	if !ok {
		return nil
	}

	tap := (x == 0 && y == 0) || (x == anchor.AnchorX && y == anchor.AnchorY)
	if !tap {
		return t.dispatch(ctx, render.TouchEvent{Type: render.TouchEnd})
	}

	p := t.scale(x, y)
	if err := t.page.Click(ctx, p.X, p.Y); err != nil {
		return fmt.Errorf("input: click: %w", err)
	}
	t.ctrl.Capture(ctx)
	return nil
}

func (t *Translator) dispatch(ctx context.Context, ev render.TouchEvent) error {
	if err := t.page.DispatchTouch(ctx, ev); err != nil {
		return fmt.Errorf("input: %s: %w", ev.Type, err)
	}
	return nil
}

// scale maps device pixels to logical viewport pixels.
func (t *Translator) scale(x, y int) render.Point {
	if t.dpr <= 0 {
		return render.Point{X: float64(x), Y: float64(y)}
	}
	return render.Point{X: float64(x) / float64(t.dpr), Y: float64(y) / float64(t.dpr)}
}
