package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/pagestream/internal/config"
	"github.com/e7canasta/pagestream/internal/raster"
	"github.com/e7canasta/pagestream/internal/render/rendertest"
	"github.com/e7canasta/pagestream/internal/server"
	"github.com/e7canasta/pagestream/internal/wire"
)

func blackPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

type fakeTelemetry struct {
	mu        sync.Mutex
	connected bool
	topics    []string
}

func (f *fakeTelemetry) Publish(topic string, _ byte, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakeTelemetry) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func newServer(t *testing.T, cfg *config.Config, opts server.Options) (*server.Server, *prometheus.Registry) {
	t.Helper()
	if opts.Engine == nil {
		opts.Engine = rendertest.NewEngine(blackPNG(t, 4, 2))
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	s, err := server.New(cfg, opts)
	require.NoError(t, err)
	return s, opts.Registry
}

func dial(t *testing.T, ts *httptest.Server, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	ws, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if ws != nil {
		t.Cleanup(func() { _ = ws.Close() })
	}
	return ws, resp, err
}

func TestNew_RequiresEngine(t *testing.T) {
	_, err := server.New(config.Default(), server.Options{})
	require.Error(t, err)
}

// TestStream_FirstUpdateIsFullFrame validates the end-to-end path:
//   - parameters come from the query string
//   - the first capture is sent as a full-viewport update
//   - the session is registered while connected and removed afterwards
func TestStream_FirstUpdateIsFullFrame(t *testing.T) {
	s, _ := newServer(t, config.Default(), server.Options{})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	ws, _, err := dial(t, ts, "/stream?url=http://example.com&width=4&height=2")
	require.NoError(t, err)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)

	rect, payload, err := wire.DecodeUpdate(msg)
	require.NoError(t, err)
	assert.Equal(t, raster.Full(4, 2), rect)
	assert.Len(t, payload, 4*2*3)

	sessions := s.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "http://example.com", sessions[0].URL)

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return len(s.Sessions()) == 0 },
		2*time.Second, 10*time.Millisecond)
}

// TestStream_RootPathServesStream validates that the bare root path is an
// alias of /stream.
func TestStream_RootPathServesStream(t *testing.T) {
	s, _ := newServer(t, config.Default(), server.Options{})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	ws, _, err := dial(t, ts, "/?url=http://example.com&width=4&height=2")
	require.NoError(t, err)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	require.NoError(t, err)
}

func TestStream_BadParamsRejected(t *testing.T) {
	s, reg := newServer(t, config.Default(), server.Options{})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	_, resp, err := dial(t, ts, "/stream?url=ftp://example.com")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	n, err := testutil.GatherAndCount(reg, "pagestream_sessions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLivenessHandler(t *testing.T) {
	s, _ := newServer(t, config.Default(), server.Options{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alive", body["status"])
}

func TestReadinessHandler_NotRunning(t *testing.T) {
	s, _ := newServer(t, config.Default(), server.Options{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var health server.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "unhealthy", health.Status)
	assert.False(t, health.MQTTEnabled)
}

func TestMetricsOnMainListener(t *testing.T) {
	s, _ := newServer(t, config.Default(), server.Options{})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "pagestream_sessions_active")
}

func TestMetricsOnSeparateListener(t *testing.T) {
	cfg := config.Default()
	cfg.MetricsListen = "127.0.0.1:0"
	s, _ := newServer(t, cfg, server.Options{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestRun_HealthAndShutdown validates the lifecycle:
//   - health reports degraded while telemetry is configured but disconnected
//   - cancelling the context shuts the server down cleanly
func TestRun_HealthAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.DebugDir = t.TempDir()
	tel := &fakeTelemetry{}
	s, _ := newServer(t, cfg, server.Options{Telemetry: tel})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return s.HealthCheck().Status == "degraded" },
		2*time.Second, 10*time.Millisecond)

	health := s.HealthCheck()
	assert.True(t, health.MQTTEnabled)
	assert.NotNil(t, health.DebugDump)
	assert.NotNil(t, health.Telemetry)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Equal(t, "unhealthy", s.HealthCheck().Status)
}
