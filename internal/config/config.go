package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pagestream daemon configuration
type Config struct {
	Listen           string        `yaml:"listen"`             // Stream/health listen address (default: ":1337")
	MetricsListen    string        `yaml:"metrics_listen"`     // Separate metrics address; empty serves /metrics on Listen
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	DebugDir         string        `yaml:"debug_dir"`          // PNG dump directory; empty disables dumps
	Browser          BrowserConfig `yaml:"browser"`
	Session          SessionConfig `yaml:"session"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
}

// BrowserConfig contains headless browser settings
type BrowserConfig struct {
	ExecPath      string `yaml:"exec_path"` // empty uses chromedp's lookup
	Headless      *bool  `yaml:"headless"`  // default: true
	LaunchRetries int    `yaml:"launch_retries"`
}

// SessionConfig contains per-connection defaults, overridable by query parameters
type SessionConfig struct {
	IntervalMS int `yaml:"interval_ms"` // base capture interval (default: 250)
	Width      int `yaml:"width"`       // default viewport width (default: 1024)
	Height     int `yaml:"height"`      // default viewport height (default: 768)
	Depth      int `yaml:"depth"`       // default output depth (default: 255)
}

// MQTTConfig contains telemetry broker settings
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // empty disables telemetry
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// Interval returns the base capture interval.
func (s SessionConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMS) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// HeadlessBrowser reports whether the browser runs headless.
func (c *Config) HeadlessBrowser() bool {
	return c.Browser.Headless == nil || *c.Browser.Headless
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := Validate(cfg); err != nil {
		panic(fmt.Sprintf("config: defaults invalid: %v", err))
	}
	return cfg
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
