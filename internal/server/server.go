// Package server wires the streaming endpoint, the observers and the
// operational endpoints into one HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/pagestream/internal/config"
	"github.com/e7canasta/pagestream/internal/debugdump"
	"github.com/e7canasta/pagestream/internal/metrics"
	"github.com/e7canasta/pagestream/internal/render"
	"github.com/e7canasta/pagestream/internal/session"
	"github.com/e7canasta/pagestream/internal/telemetry"
	"github.com/e7canasta/pagestream/internal/transport"
	"github.com/e7canasta/pagestream/internal/updatebus"
)

// TelemetryPublisher is a telemetry.Publisher that knows its connection state.
type TelemetryPublisher interface {
	telemetry.Publisher
	Connected() bool
}

// Options carries the collaborators built by main.
type Options struct {
	// Engine opens pages (required).
	Engine render.Engine
	// Registry defaults to a fresh prometheus.Registry.
	Registry *prometheus.Registry
	// Telemetry enables MQTT publication when set.
	Telemetry TelemetryPublisher
	Logger    *slog.Logger
}

// Server is the pagestream service.
type Server struct {
	cfg     *config.Config
	engine  render.Engine
	log     *slog.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	bus     *updatebus.Bus
	dumper  *debugdump.Dumper
	emitter *telemetry.Emitter
	mqtt    TelemetryPublisher
	stream  *transport.Handler
	started time.Time

	mu       sync.RWMutex
	sessions map[string]*session.Session
	running  bool
}

// New builds the server. Nothing listens until Run.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("server: render engine is required")
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m, err := metrics.New(opts.Registry)
	if err != nil {
		return nil, fmt.Errorf("server: register metrics: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		engine:   opts.Engine,
		log:      opts.Logger,
		reg:      opts.Registry,
		metrics:  m,
		bus:      updatebus.New(),
		mqtt:     opts.Telemetry,
		started:  time.Now(),
		sessions: make(map[string]*session.Session),
	}

	if cfg.DebugDir != "" {
		d, err := debugdump.New(cfg.DebugDir, opts.Logger)
		if err != nil {
			return nil, err
		}
		s.dumper = d
	}
	if opts.Telemetry != nil {
		s.emitter = telemetry.NewEmitter(opts.Telemetry, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, opts.Logger)
	}

	s.stream = transport.NewHandler(s.newStream, transport.Config{
		OnConnect:    s.register,
		OnDisconnect: s.unregister,
		Logger:       opts.Logger,
	})
	return s, nil
}

func (s *Server) sessionDefaults() session.Defaults {
	return session.Defaults{
		Interval: s.cfg.Session.Interval(),
		Width:    s.cfg.Session.Width,
		Height:   s.cfg.Session.Height,
		Depth:    s.cfg.Session.Depth,
	}
}

func (s *Server) newStream(r *http.Request) (transport.Stream, error) {
	cfg, err := session.ParseParams(r.URL.Query(), s.sessionDefaults())
	if err != nil {
		s.metrics.SessionRejected()
		return nil, err
	}
	return session.New(cfg, s.engine, session.Options{
		Logger:  s.log,
		Bus:     s.bus,
		Metrics: s.metrics,
	})
}

func (s *Server) register(st transport.Stream) {
	sess, ok := st.(*session.Session)
	if !ok {
		return
	}
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
}

func (s *Server) unregister(st transport.Stream) {
	s.mu.Lock()
	delete(s.sessions, st.ID())
	s.mu.Unlock()
}

// Handler returns the main mux: the stream endpoint, /health, /readiness
// and, unless a separate metrics address is configured, /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /stream", s.stream)
	mux.Handle("GET /{$}", s.stream)
	mux.HandleFunc("GET /health", s.LivenessHandler)
	mux.HandleFunc("GET /readiness", s.ReadinessHandler)
	if s.cfg.MetricsListen == "" {
		mux.Handle("GET /metrics", s.MetricsHandler())
	}
	return mux
}

// MetricsHandler serves the Prometheus registry.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{Registry: s.reg})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := s.bus.Start(gctx); err != nil {
		return err
	}
	if s.dumper != nil {
		read := s.bus.Subscribe("debugdump")
		g.Go(func() error {
			s.dumper.Run(read)
			return nil
		})
	}
	if s.emitter != nil {
		read := s.bus.Subscribe("telemetry")
		g.Go(func() error {
			s.emitter.Run(read)
			return nil
		})
	}

	base := func(net.Listener) context.Context { return gctx }
	servers := []*http.Server{{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		BaseContext:       base,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
	if s.cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", s.MetricsHandler())
		servers = append(servers, &http.Server{
			Addr:              s.cfg.MetricsListen,
			Handler:           mux,
			BaseContext:       base,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	for _, srv := range servers {
		g.Go(func() error {
			s.log.Info("server: listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	s.setRunning(true)

	g.Go(func() error {
		<-gctx.Done()
		s.setRunning(false)
		return s.shutdown(servers)
	})

	return g.Wait()
}

func (s *Server) shutdown(servers []*http.Server) error {
	timeout := s.cfg.ShutdownTimeout()
	s.log.Info("server: shutting down", "timeout", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server: shutdown %s: %w", srv.Addr, err))
		}
	}

	// Upgraded connections are not tracked by http.Server.
	s.mu.RLock()
	open := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.RUnlock()
	for _, sess := range open {
		if err := sess.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.bus.Stop()
	return errors.Join(errs...)
}

func (s *Server) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

// Sessions returns stats of every open session, ordered by ID.
func (s *Server) Sessions() []session.Stats {
	s.mu.RLock()
	out := make([]session.Stats, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Stats())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
