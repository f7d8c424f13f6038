package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pagestream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":1337", cfg.Listen)
	assert.Empty(t, cfg.MetricsListen)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
	assert.True(t, cfg.HeadlessBrowser())
	assert.Equal(t, 5, cfg.Browser.LaunchRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.Interval())
	assert.Equal(t, 1024, cfg.Session.Width)
	assert.Equal(t, 768, cfg.Session.Height)
	assert.Equal(t, 255, cfg.Session.Depth)
	assert.Equal(t, "pagestream", cfg.MQTT.TopicPrefix)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:8080"
metrics_listen: ":9090"
debug_dir: /tmp/dumps
browser:
  headless: false
  launch_retries: 2
session:
  interval_ms: 500
  width: 800
  height: 480
  depth: 15
mqtt:
  broker: tcp://localhost:1883
  qos: 1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, ":9090", cfg.MetricsListen)
	assert.Equal(t, "/tmp/dumps", cfg.DebugDir)
	assert.False(t, cfg.HeadlessBrowser())
	assert.Equal(t, 2, cfg.Browser.LaunchRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.Interval())
	assert.Equal(t, 800, cfg.Session.Width)
	assert.Equal(t, 15, cfg.Session.Depth)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "pagestream", cfg.MQTT.ClientID)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"odd width", "session:\n  width: 801\n"},
		{"negative interval", "session:\n  interval_ms: -1\n"},
		{"bad listen", "listen: nope\n"},
		{"same metrics address", "listen: \":1337\"\nmetrics_listen: \":1337\"\n"},
		{"bad qos", "mqtt:\n  qos: 3\n"},
		{"negative shutdown", "shutdown_timeout_s: -1\n"},
		{"malformed yaml", "listen: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
