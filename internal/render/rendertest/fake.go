// Package rendertest provides an in-memory render.Engine for tests.
package rendertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/e7canasta/pagestream/internal/render"
)

// Call records one method invocation on a Page.
type Call struct {
	Method string
	Args   []any
}

func (c Call) String() string {
	return fmt.Sprintf("%s%v", c.Method, c.Args)
}

// Engine is a fake render.Engine. Pages it opens share its capture source.
type Engine struct {
	mu       sync.Mutex
	pages    []*Page
	opens    int
	newErr   error
	captures [][]byte
	capErr   error
}

// NewEngine returns an engine whose pages capture the given PNGs in order.
// Once exhausted, the last one repeats.
func NewEngine(captures ...[]byte) *Engine {
	return &Engine{captures: captures}
}

// FailNewPage makes NewPage return err.
func (e *Engine) FailNewPage(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.newErr = err
}

// FailCapture makes CaptureRaster return err (wrapped in render.ErrCapture).
// A nil err clears the failure.
func (e *Engine) FailCapture(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.capErr = err
}

// SetCaptures replaces the capture queue.
func (e *Engine) SetCaptures(captures ...[]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.captures = captures
}

// Opens returns the number of NewPage calls.
func (e *Engine) Opens() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens
}

// Pages returns the pages opened so far.
func (e *Engine) Pages() []*Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Page(nil), e.pages...)
}

func (e *Engine) NewPage(_ context.Context, vp render.Viewport) (render.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opens++
	if e.newErr != nil {
		return nil, e.newErr
	}
	p := &Page{engine: e, Viewport: vp}
	e.pages = append(e.pages, p)
	return p, nil
}

func (e *Engine) nextCapture() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.capErr != nil {
		return nil, fmt.Errorf("%w: %w", render.ErrCapture, e.capErr)
	}
	if len(e.captures) == 0 {
		return nil, fmt.Errorf("%w: no frames queued", render.ErrCapture)
	}
	buf := e.captures[0]
	if len(e.captures) > 1 {
		e.captures = e.captures[1:]
	}
	return buf, nil
}

// Page is a fake render.Page that records every call.
type Page struct {
	engine   *Engine
	Viewport render.Viewport

	mu     sync.Mutex
	calls  []Call
	closed bool
}

// Calls returns a copy of the recorded calls.
func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Methods returns the recorded method names in order, optionally filtered.
func (p *Page) Methods(only ...string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keep := func(m string) bool {
		if len(only) == 0 {
			return true
		}
		for _, o := range only {
			if o == m {
				return true
			}
		}
		return false
	}
	var out []string
	for _, c := range p.calls {
		if keep(c.Method) {
			out = append(out, c.Method)
		}
	}
	return out
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) record(method string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return render.ErrClosed
	}
	p.calls = append(p.calls, Call{Method: method, Args: args})
	return nil
}

func (p *Page) SetDeviceMetrics(_ context.Context, dpr float64, width, height int, mobile bool) error {
	return p.record("SetDeviceMetrics", dpr, width, height, mobile)
}

func (p *Page) Navigate(_ context.Context, url string) error {
	return p.record("Navigate", url)
}

func (p *Page) InjectStyle(_ context.Context, css string) error {
	return p.record("InjectStyle", css)
}

func (p *Page) CaptureRaster(_ context.Context) ([]byte, error) {
	if err := p.record("CaptureRaster"); err != nil {
		return nil, err
	}
	return p.engine.nextCapture()
}

func (p *Page) DispatchTouch(_ context.Context, ev render.TouchEvent) error {
	return p.record("DispatchTouch", ev)
}

func (p *Page) Click(_ context.Context, x, y float64) error {
	return p.record("Click", x, y)
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.calls = append(p.calls, Call{Method: "Close"})
	}
	return nil
}
