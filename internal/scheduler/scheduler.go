// Package scheduler drives periodic captures for one session.
//
// States: idle -> capturing -> scheduled -> capturing -> ..., with an
// orthogonal paused flag held in state.Session.
//
// Every capture cancels the pending timer before it starts and re-arms it
// when it finishes, so at most one timer is armed at any time. Captures
// may overlap (timer and input trigger racing); the stale-result guard in
// the pipeline keeps only the newest one.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/pagestream/internal/clock"
	"github.com/e7canasta/pagestream/internal/state"
)

// InteractionDivisor shortens the interval while a gesture is active.
const InteractionDivisor = 10

const minInterval = time.Millisecond

// CaptureFunc performs one capture and runs the frame pipeline. seq is
// the frame counter value taken for this capture.
type CaptureFunc func(ctx context.Context, seq uint64) error

// Config configures a Scheduler.
type Config struct {
	// Interval is the base capture interval (required).
	Interval time.Duration
	// Clock defaults to clock.Real().
	Clock clock.Clock
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// OnError is called for every failed capture. Optional.
	OnError func(seq uint64, err error)
}

// Scheduler owns the capture timer of one session.
type Scheduler struct {
	state    *state.Session
	capture  CaptureFunc
	interval time.Duration
	clock    clock.Clock
	log      *slog.Logger
	onError  func(uint64, error)

	mu      sync.Mutex
	ctx     context.Context
	timer   clock.Timer
	started bool
	closed  bool
}

// New validates the configuration.
func New(st *state.Session, capture CaptureFunc, cfg Config) (*Scheduler, error) {
	if st == nil || capture == nil {
		return nil, fmt.Errorf("scheduler: state and capture func are required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be > 0, got %v", cfg.Interval)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		state:    st,
		capture:  capture,
		interval: cfg.Interval,
		clock:    cfg.Clock,
		log:      cfg.Logger,
		onError:  cfg.OnError,
	}, nil
}

// Start triggers the first capture. Timer-driven captures use ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: closed")
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already started")
	}
	s.started = true
	s.ctx = ctx
	s.mu.Unlock()

	s.Capture(ctx)
	return nil
}

// Capture runs one capture now and re-arms the timer afterwards. It does
// nothing while paused or after Close.
func (s *Scheduler) Capture(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.state.Paused() || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.stopTimerLocked()
	s.mu.Unlock()

	seq := s.state.NextFrame()
	if err := s.capture(ctx, seq); err != nil {
		s.log.Warn("scheduler: capture failed",
			"seq", seq,
			"error", err,
		)
		if s.onError != nil {
			s.onError(seq, err)
		}
	}

	s.arm()
}

// Pause stops scheduling. An in-flight capture is not aborted.
func (s *Scheduler) Pause() {
	s.state.SetPaused(true)

	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()

	s.log.Debug("scheduler: paused")
}

// Resume clears the paused flag and captures immediately.
func (s *Scheduler) Resume(ctx context.Context) {
	s.state.SetPaused(false)
	s.log.Debug("scheduler: resumed")
	s.Capture(ctx)
}

// Close cancels the timer. Idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopTimerLocked()
}

// Armed reports whether a capture is scheduled.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// NextInterval returns the delay the next timer would use.
func (s *Scheduler) NextInterval() time.Duration {
	if !s.state.Interacting() {
		return s.interval
	}
	d := s.interval / InteractionDivisor
	if d < minInterval {
		d = minInterval
	}
	return d
}

func (s *Scheduler) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state.Paused() || s.ctx == nil || s.ctx.Err() != nil {
		return
	}

	s.stopTimerLocked()
	ctx := s.ctx
	s.timer = s.clock.AfterFunc(s.NextInterval(), func() {
		s.Capture(ctx)
	})
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
