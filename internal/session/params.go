package session

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/e7canasta/pagestream/internal/colors"
	"github.com/e7canasta/pagestream/internal/raster"
	"github.com/e7canasta/pagestream/internal/render"
)

// ErrConfig wraps every parameter validation failure.
var ErrConfig = errors.New("session: invalid configuration")

// Color step limits; more than 16 levels do not fit a packed nibble.
const (
	MinColors = 2
	MaxColors = colors.MaxPackedLevel + 1
)

// Defaults fill in parameters a client leaves out.
type Defaults struct {
	Interval time.Duration
	Width    int
	Height   int
	Depth    int
}

// DefaultDefaults returns the built-in defaults.
func DefaultDefaults() Defaults {
	vp := render.DefaultViewport()
	return Defaults{
		Interval: 250 * time.Millisecond,
		Width:    vp.Width,
		Height:   vp.Height,
		Depth:    colors.DefaultDepth,
	}
}

// Config is the validated configuration of one session.
type Config struct {
	URL      string
	Viewport raster.Dimensions
	Colors   colors.Config
	// DPR is the device pixel ratio; 0 means unscaled.
	DPR      int
	Interval time.Duration
}

// Validate checks the invariants New relies on.
func (c Config) Validate() error {
	if err := validateURL(c.URL); err != nil {
		return err
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		return fmt.Errorf("%w: viewport %dx%d must be positive", ErrConfig, c.Viewport.Width, c.Viewport.Height)
	}
	if !c.Viewport.Even() {
		return fmt.Errorf("%w: viewport %dx%d must have even sides", ErrConfig, c.Viewport.Width, c.Viewport.Height)
	}
	if c.DPR < 0 || c.DPR%2 != 0 {
		return fmt.Errorf("%w: dpr %d must be even", ErrConfig, c.DPR)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0", ErrConfig)
	}
	if c.Colors.Depth < 0 {
		return fmt.Errorf("%w: depth %d must be >= 0", ErrConfig, c.Colors.Depth)
	}
	if c.Colors.Steps != 0 {
		if c.Colors.Steps < MinColors || c.Colors.Steps > MaxColors {
			return fmt.Errorf("%w: colors %d not in [%d,%d]", ErrConfig, c.Colors.Steps, MinColors, MaxColors)
		}
		if !c.Colors.Grayscale {
			return fmt.Errorf("%w: colors requires grayscale", ErrConfig)
		}
	}
	return nil
}

// ParseParams builds a Config from connection query parameters.
//
// url is required and must be absolute http(s). width and height apply
// only when both are given. depth, colors, dpr and timeout (base capture
// interval in ms) are non-negative integers where 0 means "use the
// default". colors selects grayscale. An odd dpr is ignored. wide selects
// RGB565 output in RGB mode.
func ParseParams(q url.Values, d Defaults) (Config, error) {
	cfg := Config{
		URL:      q.Get("url"),
		Viewport: raster.Dimensions{Width: d.Width, Height: d.Height},
		Colors:   colors.Config{Depth: d.Depth},
		Interval: d.Interval,
	}
	if err := validateURL(cfg.URL); err != nil {
		return Config{}, err
	}

	width, err := nonNegative(q, "width")
	if err != nil {
		return Config{}, err
	}
	height, err := nonNegative(q, "height")
	if err != nil {
		return Config{}, err
	}
	if width%2 != 0 || height%2 != 0 {
		return Config{}, fmt.Errorf("%w: width %d and height %d must be even", ErrConfig, width, height)
	}
	if width > 0 && height > 0 {
		cfg.Viewport = raster.Dimensions{Width: width, Height: height}
	}

	depth, err := nonNegative(q, "depth")
	if err != nil {
		return Config{}, err
	}
	if depth > 0 {
		cfg.Colors.Depth = depth
	}

	steps, err := nonNegative(q, "colors")
	if err != nil {
		return Config{}, err
	}
	if steps > 0 {
		cfg.Colors.Grayscale = true
		cfg.Colors.Steps = steps
	}

	dpr, err := nonNegative(q, "dpr")
	if err != nil {
		return Config{}, err
	}
	if dpr%2 == 0 {
		cfg.DPR = dpr
	}

	timeout, err := nonNegative(q, "timeout")
	if err != nil {
		return Config{}, err
	}
	if timeout > 0 {
		cfg.Interval = time.Duration(timeout) * time.Millisecond
	}

	if q.Has("wide") {
		v := q.Get("wide")
		wide := true
		if v != "" {
			if wide, err = strconv.ParseBool(v); err != nil {
				return Config{}, fmt.Errorf("%w: wide %q is not a boolean", ErrConfig, v)
			}
		}
		cfg.Colors.Wide = wide
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrConfig)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: url: %w", ErrConfig, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url %q must be absolute http(s)", ErrConfig, raw)
	}
	return nil
}

// nonNegative parses an optional integer parameter; absent means 0.
func nonNegative(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s %q must be a non-negative integer", ErrConfig, key, v)
	}
	return n, nil
}
