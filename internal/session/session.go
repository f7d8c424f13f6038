// Package session composes the streaming pipeline for one client
// connection: a render page, the frame scheduler, the pipeline and the
// input translator.
//
// Lifecycle: New (validates, allocates nothing external) -> SetOutputSink
// -> Open (page setup, first capture) -> HandleInput... -> Close.
//
// Setup errors end the session. Per-frame errors are logged, counted and
// the next scheduled capture proceeds normally.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/pagestream/internal/cadence"
	"github.com/e7canasta/pagestream/internal/clock"
	"github.com/e7canasta/pagestream/internal/input"
	"github.com/e7canasta/pagestream/internal/metrics"
	"github.com/e7canasta/pagestream/internal/pipeline"
	"github.com/e7canasta/pagestream/internal/render"
	"github.com/e7canasta/pagestream/internal/scheduler"
	"github.com/e7canasta/pagestream/internal/state"
	"github.com/e7canasta/pagestream/internal/updatebus"
	"github.com/e7canasta/pagestream/internal/wire"
)

// fontSmoothingCSS disables anti-aliasing, which would otherwise dither
// into noise at two gray levels.
const fontSmoothingCSS = `:root {
  -webkit-font-smoothing: none;
  font-smooth: none;
}`

// Publisher receives session events for observers.
type Publisher interface {
	Publish(ev *updatebus.Event)
}

// Options carries the optional collaborators of a Session.
type Options struct {
	Logger  *slog.Logger
	Clock   clock.Clock
	Bus     Publisher
	Metrics *metrics.Metrics
}

// Stats is a point-in-time snapshot of a session.
type Stats struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	OpenedAt    time.Time         `json:"opened_at"`
	Frames      uint64            `json:"frames"`
	Pipeline    pipeline.Stats    `json:"pipeline"`
	Errors      map[string]uint64 `json:"errors"`
	BytesSent   uint64            `json:"bytes_sent"`
	Cadence     cadence.Stats     `json:"cadence"`
	Paused      bool              `json:"paused"`
	Interacting bool              `json:"interacting"`
}

// Session is one streaming connection.
type Session struct {
	id      string
	cfg     Config
	engine  render.Engine
	log     *slog.Logger
	clock   clock.Clock
	bus     Publisher
	metrics *metrics.Metrics

	state   *state.Session
	proc    *pipeline.Processor
	sched   *scheduler.Scheduler
	cadence *cadence.Tracker

	mu       sync.Mutex
	page     render.Page
	input    *input.Translator
	sink     func([]byte) error
	openedAt time.Time
	opened   bool
	closed   bool

	bytesSent atomic.Uint64
	errors    [len(pipeline.Categories)]atomic.Uint64
}

// New validates cfg and builds the session. No render resource exists
// until Open.
func New(cfg Config, engine render.Engine, opts Options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, fmt.Errorf("session: render engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	id := uuid.NewString()
	s := &Session{
		id:      id,
		cfg:     cfg,
		engine:  engine,
		log:     opts.Logger.With("session_id", id),
		clock:   opts.Clock,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		state:   state.New(),
		proc:    pipeline.New(cfg.Colors),
		cadence: cadence.NewTracker(cadence.DefaultWindow),
	}

	sched, err := scheduler.New(s.state, s.capture, scheduler.Config{
		Interval: cfg.Interval,
		Clock:    opts.Clock,
		Logger:   s.log,
		OnError:  s.frameError,
	})
	if err != nil {
		return nil, err
	}
	s.sched = sched
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Config returns the validated configuration.
func (s *Session) Config() Config { return s.cfg }

// SetOutputSink sets the function that receives framed updates. It must
// be set before Open; updates produced without a sink are discarded.
func (s *Session) SetOutputSink(sink func([]byte) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Open creates the page, navigates and starts capturing. ctx bounds the
// whole session: timer-driven captures stop once it is cancelled. On error
// the page is closed and the session must be discarded.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session: closed")
	}
	if s.opened {
		s.mu.Unlock()
		return fmt.Errorf("session: already open")
	}
	s.opened = true
	s.mu.Unlock()

	if err := s.setup(ctx); err != nil {
		s.log.Error("session: setup failed", "url", s.cfg.URL, "error", err)
		s.metrics.SessionFailed()
		s.closePage()
		return err
	}

	s.metrics.SessionOpened()
	s.publish(&updatebus.Event{Kind: updatebus.KindOpen})
	s.log.Info("session: streaming",
		"url", s.cfg.URL,
		"viewport", fmt.Sprintf("%dx%d", s.cfg.Viewport.Width, s.cfg.Viewport.Height),
		"dpr", s.cfg.DPR,
		"grayscale", s.cfg.Colors.Grayscale,
		"colors", s.cfg.Colors.Steps,
		"depth", s.cfg.Colors.Depth,
		"interval", s.cfg.Interval,
	)

	if err := s.sched.Start(ctx); err != nil {
		return fmt.Errorf("session: start scheduler: %w", err)
	}
	return nil
}

func (s *Session) setup(ctx context.Context) error {
	vp := render.DefaultViewport()
	vp.Width = s.cfg.Viewport.Width
	vp.Height = s.cfg.Viewport.Height

	page, err := s.engine.NewPage(ctx, vp)
	if err != nil {
		return fmt.Errorf("session: new page: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = page.Close()
		return fmt.Errorf("session: closed during setup")
	}
	s.page = page
	s.mu.Unlock()

	if dpr := s.cfg.DPR; dpr > 0 {
		err := page.SetDeviceMetrics(ctx, float64(dpr), vp.Width/dpr, vp.Height/dpr, vp.Mobile)
		if err != nil {
			return fmt.Errorf("session: device metrics: %w", err)
		}
	}

	if err := page.Navigate(ctx, s.cfg.URL); err != nil {
		return fmt.Errorf("session: navigate: %w", err)
	}

	if s.cfg.Colors.Grayscale && s.cfg.Colors.Steps == 2 {
		if err := page.InjectStyle(ctx, fontSmoothingCSS); err != nil {
			return fmt.Errorf("session: inject style: %w", err)
		}
	}

	tr := input.New(s.state, page, s.sched, input.Config{DPR: s.cfg.DPR, Logger: s.log})

	s.mu.Lock()
	s.input = tr
	s.openedAt = s.clock.Now()
	s.mu.Unlock()
	return nil
}

// HandleInput applies one client message. Messages before Open or after
// Close are ignored, as are malformed ones.
func (s *Session) HandleInput(ctx context.Context, msg []byte) {
	s.mu.Lock()
	tr := s.input
	closed := s.closed
	s.mu.Unlock()
	if tr == nil || closed {
		return
	}

	if in, ok := wire.DecodeInput(msg); ok {
		s.metrics.Input(in.Type.String())
	} else {
		s.metrics.Input("malformed")
	}

	if err := tr.Handle(ctx, msg); err != nil {
		s.log.Warn("session: input dispatch failed", "error", err)
	}
}

// Close stops capturing and releases the page. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	wasOpen := s.input != nil
	s.mu.Unlock()

	s.sched.Close()
	err := s.closePage()

	if wasOpen {
		s.metrics.SessionClosed()
		s.publish(&updatebus.Event{Kind: updatebus.KindClose})
		st := s.Stats()
		s.log.Info("session: closed",
			"frames", st.Frames,
			"emitted", st.Pipeline.Emitted,
			"stale", st.Pipeline.Stale,
			"bytes_sent", st.BytesSent,
		)
	}
	return err
}

func (s *Session) closePage() error {
	s.mu.Lock()
	page := s.page
	s.page = nil
	s.mu.Unlock()
	if page == nil {
		return nil
	}
	if err := page.Close(); err != nil {
		return fmt.Errorf("session: close page: %w", err)
	}
	return nil
}

// capture is the scheduler's CaptureFunc.
func (s *Session) capture(ctx context.Context, seq uint64) error {
	s.mu.Lock()
	page := s.page
	s.mu.Unlock()
	if page == nil {
		return fmt.Errorf("session: no page")
	}

	start := s.clock.Now()
	s.cadence.Record(start)
	defer func() {
		s.metrics.Capture(s.clock.Now().Sub(start).Seconds())
	}()

	encoded, err := page.CaptureRaster(ctx)
	if err != nil {
		return err
	}

	out, err := s.proc.Process(encoded, seq, s.state.IsLatest, s.emit)
	if err != nil {
		return err
	}
	s.metrics.Frame(out.String())
	if out == pipeline.Stale {
		s.log.Debug("session: dropped stale frame", "seq", seq)
	}
	return nil
}

// emit frames an update and hands it to the sink. Called with the
// pipeline lock held.
func (s *Session) emit(u pipeline.Update) error {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()

	msg := wire.EncodeUpdate(u.Rect, u.Payload)
	s.log.Info("session: update",
		"seq", u.Seq,
		"rect", u.Rect.String(),
		"bytes", len(msg),
	)

	s.publish(&updatebus.Event{
		Kind:    updatebus.KindUpdate,
		Seq:     u.Seq,
		Rect:    u.Rect,
		Bytes:   len(msg),
		Preview: u.Preview,
	})

	if sink == nil {
		return nil
	}
	if err := sink(msg); err != nil {
		return err
	}
	s.bytesSent.Add(uint64(len(msg)))
	s.metrics.Update(len(msg), u.Rect.Area())
	return nil
}

// frameError is the scheduler's OnError hook.
func (s *Session) frameError(seq uint64, err error) {
	cat := pipeline.Classify(err)
	s.errors[cat].Add(1)
	s.metrics.FrameError(cat.String())
	s.log.Debug("session: frame error classified", "seq", seq, "category", cat.String())
}

func (s *Session) publish(ev *updatebus.Event) {
	if s.bus == nil {
		return
	}
	ev.SessionID = s.id
	ev.Time = s.clock.Now()
	s.bus.Publish(ev)
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	openedAt := s.openedAt
	s.mu.Unlock()

	errs := make(map[string]uint64, len(pipeline.Categories))
	for _, c := range pipeline.Categories {
		errs[c.String()] = s.errors[c].Load()
	}

	return Stats{
		ID:          s.id,
		URL:         s.cfg.URL,
		OpenedAt:    openedAt,
		Frames:      s.state.Frames(),
		Pipeline:    s.proc.Stats(),
		Errors:      errs,
		BytesSent:   s.bytesSent.Load(),
		Cadence:     s.cadence.Stats(),
		Paused:      s.state.Paused(),
		Interacting: s.state.Interacting(),
	}
}
