package render

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromeConfig configures the headless browser.
type ChromeConfig struct {
	// ExecPath overrides chromedp's browser lookup.
	ExecPath string
	// Headless defaults to true in DefaultChromeConfig.
	Headless bool
	// Retry controls launch retries.
	Retry RetryConfig
}

// DefaultChromeConfig returns a headless configuration.
func DefaultChromeConfig() ChromeConfig {
	return ChromeConfig{
		Headless: true,
		Retry:    DefaultRetryConfig(),
	}
}

// Chrome is an Engine backed by one shared browser process. Each page is a
// separate tab.
type Chrome struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closeOnce     sync.Once
}

// LaunchChrome starts the browser, retrying with backoff.
func LaunchChrome(ctx context.Context, cfg ChromeConfig) (*Chrome, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-overscroll-edge-effect", true),
		chromedp.Flag("disable-pull-to-refresh-effect", true),
		chromedp.Flag("headless", cfg.Headless),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	var c *Chrome
	err := Retry(ctx, "launch chrome", cfg.Retry, func(ctx context.Context) error {
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)

		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			return err
		}

		c = &Chrome{
			allocCancel:   allocCancel,
			browserCtx:    browserCtx,
			browserCancel: browserCancel,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("render: chrome started", "headless", cfg.Headless)
	return c, nil
}

// NewPage opens a tab and applies the viewport.
func (c *Chrome) NewPage(ctx context.Context, vp Viewport) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(c.browserCtx)
	p := &chromePage{ctx: tabCtx, cancel: cancel}

	// The target is bound to the context of the first Run, so it must be
	// the tab context and not a per-call child.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("render: open tab: %w", err)
	}

	opts := []chromedp.EmulateViewportOption{chromedp.EmulateScale(vp.Scale)}
	if vp.Mobile {
		opts = append(opts, chromedp.EmulateMobile)
	}
	if vp.Touch {
		opts = append(opts, chromedp.EmulateTouch)
	}
	if vp.Landscape {
		opts = append(opts, chromedp.EmulateLandscape)
	}

	if err := p.run(ctx, chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height), opts...)); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("render: open page: %w", err)
	}
	return p, nil
}

// Close shuts the browser down. Idempotent.
func (c *Chrome) Close() error {
	c.closeOnce.Do(func() {
		c.browserCancel()
		c.allocCancel()
		slog.Info("render: chrome stopped")
	})
	return nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// run executes actions on the tab, bounded by both the tab lifetime and
// the caller's ctx. Cancelling the derived context does not close the tab.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) SetDeviceMetrics(ctx context.Context, dpr float64, width, height int, mobile bool) error {
	return p.run(ctx, emulation.SetDeviceMetricsOverride(int64(width), int64(height), dpr, mobile))
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) InjectStyle(ctx context.Context, css string) error {
	literal, err := json.Marshal(css)
	if err != nil {
		return err
	}
	script := fmt.Sprintf(`(() => {
  const style = document.createElement('style');
  style.textContent = %s;
  document.head.appendChild(style);
})()`, literal)
	return p.run(ctx, chromedp.Evaluate(script, nil))
}

func (p *chromePage) CaptureRaster(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = cdppage.CaptureScreenshot().
			WithFormat(cdppage.CaptureScreenshotFormatPng).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	return buf, nil
}

func (p *chromePage) DispatchTouch(ctx context.Context, ev TouchEvent) error {
	points := make([]*input.TouchPoint, 0, len(ev.Points))
	for _, pt := range ev.Points {
		points = append(points, &input.TouchPoint{X: pt.X, Y: pt.Y})
	}
	return p.run(ctx, input.DispatchTouchEvent(input.TouchType(ev.Type), points))
}

func (p *chromePage) Click(ctx context.Context, x, y float64) error {
	return p.run(ctx, chromedp.MouseClickXY(x, y))
}

func (p *chromePage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := chromedp.Cancel(p.ctx)
	p.cancel()
	return err
}
