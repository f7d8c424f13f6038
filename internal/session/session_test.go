package session_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/pagestream/internal/clock"
	"github.com/e7canasta/pagestream/internal/raster"
	"github.com/e7canasta/pagestream/internal/render/rendertest"
	"github.com/e7canasta/pagestream/internal/session"
	"github.com/e7canasta/pagestream/internal/updatebus"
	"github.com/e7canasta/pagestream/internal/wire"
)

const interval = 250 * time.Millisecond

func whitePNG(t *testing.T, width, height int, black ...image.Point) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	for _, p := range black {
		img.SetGray(p.X, p.Y, color.Gray{})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type sink struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (s *sink) send(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *sink) last(t *testing.T) (raster.Rect, []byte) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.msgs)
	r, payload, err := wire.DecodeUpdate(s.msgs[len(s.msgs)-1])
	require.NoError(t, err)
	return r, payload
}

type recordingBus struct {
	mu     sync.Mutex
	events []*updatebus.Event
}

func (b *recordingBus) Publish(ev *updatebus.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) kinds() []updatebus.Kind {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []updatebus.Kind
	for _, ev := range b.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fixture struct {
	engine *rendertest.Engine
	clock  *clock.Fake
	bus    *recordingBus
	sink   *sink
	sess   *session.Session
}

func newFixture(t *testing.T, cfg session.Config, captures ...[]byte) *fixture {
	t.Helper()
	f := &fixture{
		engine: rendertest.NewEngine(captures...),
		clock:  clock.NewFake(time.Unix(0, 0)),
		bus:    &recordingBus{},
		sink:   &sink{},
	}
	s, err := session.New(cfg, f.engine, session.Options{Clock: f.clock, Bus: f.bus})
	require.NoError(t, err)
	s.SetOutputSink(f.sink.send)
	f.sess = s
	t.Cleanup(func() { _ = s.Close() })
	return f
}

func (f *fixture) page(t *testing.T) *rendertest.Page {
	t.Helper()
	pages := f.engine.Pages()
	require.Len(t, pages, 1)
	return pages[0]
}

func monochrome(width, height int) session.Config {
	cfg := session.Config{
		URL:      "http://example.com",
		Viewport: raster.Dimensions{Width: width, Height: height},
		Interval: interval,
	}
	cfg.Colors.Grayscale = true
	cfg.Colors.Steps = 2
	cfg.Colors.Depth = 1
	return cfg
}

// TestNew_InvalidConfigTouchesNoEngine validates that construction fails
// before any render resource exists.
func TestNew_InvalidConfigTouchesNoEngine(t *testing.T) {
	engine := rendertest.NewEngine()

	_, err := session.New(monochrome(101, 100), engine, session.Options{})

	assert.ErrorIs(t, err, session.ErrConfig)
	assert.Zero(t, engine.Opens())
}

// TestOpen_SetupSequence validates page setup order: device metrics,
// navigation, font smoothing style, then the first capture sent as a
// full-frame update.
func TestOpen_SetupSequence(t *testing.T) {
	cfg := monochrome(8, 4)
	cfg.DPR = 2
	f := newFixture(t, cfg, whitePNG(t, 8, 4))

	require.NoError(t, f.sess.Open(context.Background()))

	page := f.page(t)
	assert.Equal(t, 8, page.Viewport.Width)
	assert.Equal(t, 4, page.Viewport.Height)
	assert.True(t, page.Viewport.Mobile)
	assert.True(t, page.Viewport.Touch)
	assert.True(t, page.Viewport.Landscape)

	assert.Equal(t,
		[]string{"SetDeviceMetrics", "Navigate", "InjectStyle", "CaptureRaster"},
		page.Methods())
	calls := page.Calls()
	assert.Equal(t, []any{2.0, 4, 2, true}, calls[0].Args)
	assert.Equal(t, []any{"http://example.com"}, calls[1].Args)
	assert.Contains(t, calls[2].Args[0], "-webkit-font-smoothing: none")

	require.Equal(t, 1, f.sink.count())
	r, payload := f.sink.last(t)
	assert.Equal(t, raster.Full(8, 4), r)
	assert.Len(t, payload, 8/2*4)

	assert.Equal(t, []updatebus.Kind{updatebus.KindOpen, updatebus.KindUpdate}, f.bus.kinds())
	assert.Equal(t, 1, f.clock.Pending())
}

func TestOpen_NoStyleOrMetricsByDefault(t *testing.T) {
	cfg := monochrome(8, 4)
	cfg.Colors.Steps = 4
	cfg.Colors.Depth = 3
	f := newFixture(t, cfg, whitePNG(t, 8, 4))

	require.NoError(t, f.sess.Open(context.Background()))
	assert.Equal(t, []string{"Navigate", "CaptureRaster"}, f.page(t).Methods())
}

func TestOpen_PageFailure(t *testing.T) {
	f := newFixture(t, monochrome(8, 4), whitePNG(t, 8, 4))
	f.engine.FailNewPage(errors.New("browser gone"))

	err := f.sess.Open(context.Background())

	require.Error(t, err)
	assert.Zero(t, f.sink.count())
	assert.Zero(t, f.clock.Pending())
	assert.Empty(t, f.bus.kinds())
}

func TestOpen_Twice(t *testing.T) {
	f := newFixture(t, monochrome(8, 4), whitePNG(t, 8, 4))
	require.NoError(t, f.sess.Open(context.Background()))
	assert.Error(t, f.sess.Open(context.Background()))
}

// TestTimerDrivenCaptures validates that captures repeat on the base
// interval and that only changed frames reach the sink.
func TestTimerDrivenCaptures(t *testing.T) {
	f := newFixture(t, monochrome(8, 4),
		whitePNG(t, 8, 4),
		whitePNG(t, 8, 4),
		whitePNG(t, 8, 4, image.Pt(5, 2)))

	require.NoError(t, f.sess.Open(context.Background()))
	require.Equal(t, 1, f.sink.count())

	f.clock.Advance(interval)
	assert.Equal(t, 1, f.sink.count(), "unchanged frame not sent")

	f.clock.Advance(interval)
	require.Equal(t, 2, f.sink.count())
	r, payload := f.sink.last(t)
	assert.Equal(t, raster.Rect{
		Position:   raster.Position{X: 4, Y: 2},
		Dimensions: raster.Dimensions{Width: 2, Height: 1},
	}, r)
	assert.Equal(t, []byte{0x10}, payload)

	st := f.sess.Stats()
	assert.Equal(t, uint64(3), st.Frames)
	assert.Equal(t, uint64(2), st.Pipeline.Emitted)
	assert.Equal(t, uint64(1), st.Pipeline.Unchanged)
	assert.Equal(t, uint64(3), st.Cadence.Captures)
	assert.Positive(t, st.BytesSent)
}

// TestTapTriggersImmediateCapture validates that a tap clicks and captures
// without waiting for the timer.
func TestTapTriggersImmediateCapture(t *testing.T) {
	f := newFixture(t, monochrome(8, 4), whitePNG(t, 8, 4))
	require.NoError(t, f.sess.Open(context.Background()))

	ctx := context.Background()
	f.sess.HandleInput(ctx, wire.EncodeInput(wire.Input{Type: wire.TouchStart, X: 3, Y: 3}))
	assert.True(t, f.sess.Stats().Interacting)
	f.sess.HandleInput(ctx, wire.EncodeInput(wire.Input{Type: wire.TouchEnd, X: 3, Y: 3}))

	assert.Equal(t, 2, len(f.page(t).Methods("CaptureRaster")))
	assert.Equal(t, []string{"Click"}, f.page(t).Methods("Click"))
	assert.False(t, f.sess.Stats().Interacting)
	assert.Equal(t, 1, f.clock.Pending())
}

// TestPauseResume validates that pause stops timer captures and resume
// captures immediately and re-arms.
func TestPauseResume(t *testing.T) {
	f := newFixture(t, monochrome(8, 4), whitePNG(t, 8, 4))
	require.NoError(t, f.sess.Open(context.Background()))
	ctx := context.Background()

	f.sess.HandleInput(ctx, wire.EncodeInput(wire.Input{Type: wire.Pause}))
	assert.True(t, f.sess.Stats().Paused)
	assert.Zero(t, f.clock.Pending())

	f.clock.Advance(10 * interval)
	assert.Len(t, f.page(t).Methods("CaptureRaster"), 1)

	f.sess.HandleInput(ctx, wire.EncodeInput(wire.Input{Type: wire.Resume}))
	assert.False(t, f.sess.Stats().Paused)
	assert.Len(t, f.page(t).Methods("CaptureRaster"), 2)
	assert.Equal(t, 1, f.clock.Pending())
}

// TestFrameErrorDoesNotStopSession validates self-healing: a failed
// capture is counted and the next scheduled capture proceeds.
func TestFrameErrorDoesNotStopSession(t *testing.T) {
	f := newFixture(t, monochrome(8, 4), whitePNG(t, 8, 4), whitePNG(t, 8, 4, image.Pt(0, 1)))
	require.NoError(t, f.sess.Open(context.Background()))

	f.engine.FailCapture(errors.New("target crashed"))
	f.clock.Advance(interval)
	assert.Equal(t, uint64(1), f.sess.Stats().Errors["capture"])
	assert.Equal(t, 1, f.clock.Pending())

	f.engine.FailCapture(nil)
	f.clock.Advance(interval)
	assert.Equal(t, 2, f.sink.count())
}

func TestDecodeErrorClassified(t *testing.T) {
	f := newFixture(t, monochrome(8, 4), []byte("garbage"))
	require.NoError(t, f.sess.Open(context.Background()))

	assert.Equal(t, uint64(1), f.sess.Stats().Errors["decode"])
	assert.Zero(t, f.sink.count())
	assert.Equal(t, 1, f.clock.Pending())
}

func TestInputBeforeOpenIgnored(t *testing.T) {
	f := newFixture(t, monochrome(8, 4), whitePNG(t, 8, 4))

	f.sess.HandleInput(context.Background(), wire.EncodeInput(wire.Input{Type: wire.TouchStart, X: 1, Y: 1}))

	assert.Zero(t, f.engine.Opens())
	assert.False(t, f.sess.Stats().Interacting)
}

// TestClose validates that Close stops the timer, closes the page and is
// idempotent.
func TestClose(t *testing.T) {
	f := newFixture(t, monochrome(8, 4), whitePNG(t, 8, 4))
	require.NoError(t, f.sess.Open(context.Background()))

	require.NoError(t, f.sess.Close())
	require.NoError(t, f.sess.Close())

	assert.True(t, f.page(t).Closed())
	assert.Zero(t, f.clock.Pending())

	f.clock.Advance(10 * interval)
	assert.Len(t, f.page(t).Methods("CaptureRaster"), 1)
	assert.Equal(t,
		[]updatebus.Kind{updatebus.KindOpen, updatebus.KindUpdate, updatebus.KindClose},
		f.bus.kinds())

	assert.Error(t, f.sess.Open(context.Background()))
}

func TestSessionIDsAreUnique(t *testing.T) {
	a := newFixture(t, monochrome(8, 4))
	b := newFixture(t, monochrome(8, 4))
	assert.NotEqual(t, a.sess.ID(), b.sess.ID())
	assert.Len(t, a.sess.ID(), 36)
}
