// Package transport serves streaming sessions over WebSocket.
//
// One connection carries one session. Parameters are validated before the
// upgrade, so a bad request gets a plain HTTP 400 and no session exists.
// After the upgrade, server->client messages are framed updates and
// client->server messages are input; both are binary.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/pagestream/internal/session"
)

// Default connection constants.
const (
	DefaultWriteWait        = 10 * time.Second
	DefaultMaxMessageSize   = 4 * 1024
	DefaultPingInterval     = 30 * time.Second
	DefaultPongWait         = 60 * time.Second
	DefaultCloseGracePeriod = time.Second
)

var errPeerClosed = errors.New("transport: peer closed")

// Stream is the session side of a connection.
type Stream interface {
	ID() string
	SetOutputSink(sink func([]byte) error)
	Open(ctx context.Context) error
	HandleInput(ctx context.Context, msg []byte)
	Close() error
}

// NewStreamFunc builds a stream for an incoming request. Errors wrapping
// session.ErrConfig are answered with 400, others with 500.
type NewStreamFunc func(r *http.Request) (Stream, error)

// Config configures the Handler.
type Config struct {
	// WriteWait is the write deadline for each message.
	WriteWait time.Duration
	// MaxMessageSize is the read limit for client messages.
	MaxMessageSize int64
	// PingInterval is the keepalive period; the peer must answer within PongWait.
	PingInterval time.Duration
	PongWait     time.Duration
	// CloseGracePeriod is the deadline for writing the close frame.
	CloseGracePeriod time.Duration

	// OnConnect and OnDisconnect are called around the life of every
	// upgraded connection. Optional.
	OnConnect    func(Stream)
	OnDisconnect func(Stream)

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.WriteWait == 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongWait == 0 {
		c.PongWait = DefaultPongWait
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Handler upgrades requests and runs one stream per connection.
type Handler struct {
	newStream NewStreamFunc
	cfg       Config
	upgrader  websocket.Upgrader
}

// NewHandler creates a Handler.
func NewHandler(newStream NewStreamFunc, cfg Config) *Handler {
	cfg.defaults()
	return &Handler{
		newStream: newStream,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			// Display devices connect without a browser origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.cfg.Logger.With("remote", r.RemoteAddr)

	stream, err := h.newStream(r)
	if err != nil {
		if errors.Is(err, session.ErrConfig) {
			log.Info("transport: rejected connection", "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error("transport: create stream failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Info("transport: upgrade failed", "error", err)
		_ = stream.Close()
		return
	}

	log = log.With("session_id", stream.ID())
	log.Info("transport: connection opened")

	c := newConn(ws, h.cfg)
	stream.SetOutputSink(c.Send)
	if h.cfg.OnConnect != nil {
		h.cfg.OnConnect(stream)
	}

	err = h.run(r.Context(), c, stream)

	if h.cfg.OnDisconnect != nil {
		h.cfg.OnDisconnect(stream)
	}
	if errors.Is(err, errPeerClosed) || errors.Is(err, context.Canceled) {
		log.Info("transport: connection closed")
	} else {
		log.Warn("transport: connection closed", "error", err)
	}
}

// run blocks until the connection ends. The first goroutine to fail,
// or the first failed send, cancels the rest; the watcher then closes the
// stream and the socket, which unblocks the reader.
func (h *Handler) run(ctx context.Context, c *conn, stream Stream) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		_ = stream.Close()
		c.close(websocket.CloseNormalClosure)
		return nil
	})

	g.Go(func() error {
		if err := stream.Open(gctx); err != nil {
			return fmt.Errorf("transport: open stream: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return h.readLoop(gctx, c, stream)
	})

	g.Go(func() error {
		return h.heartbeat(gctx, c)
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-c.failed:
			return c.err()
		}
	})

	return g.Wait()
}

func (h *Handler) readLoop(ctx context.Context, c *conn, stream Stream) error {
	_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return errPeerClosed
			}
			return fmt.Errorf("transport: read: %w", err)
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		if msgType != websocket.BinaryMessage {
			continue
		}
		stream.HandleInput(ctx, data)
	}
}

func (h *Handler) heartbeat(ctx context.Context, c *conn) error {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return fmt.Errorf("transport: ping: %w", err)
			}
		}
	}
}
