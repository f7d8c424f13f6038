package config

import (
	"fmt"
	"net"
)

// Validate checks the configuration and fills in defaults
func Validate(cfg *Config) error {
	if cfg.Listen == "" {
		cfg.Listen = ":1337"
	}
	if err := validateAddr("listen", cfg.Listen); err != nil {
		return err
	}
	if cfg.MetricsListen != "" {
		if err := validateAddr("metrics_listen", cfg.MetricsListen); err != nil {
			return err
		}
		if cfg.MetricsListen == cfg.Listen {
			return fmt.Errorf("metrics_listen must differ from listen (leave it empty to share)")
		}
	}

	if cfg.ShutdownTimeoutS < 0 {
		return fmt.Errorf("shutdown_timeout_s must be >= 0")
	}
	if cfg.ShutdownTimeoutS == 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if cfg.Browser.LaunchRetries < 0 {
		return fmt.Errorf("browser.launch_retries must be >= 0")
	}
	if cfg.Browser.LaunchRetries == 0 {
		cfg.Browser.LaunchRetries = 5
	}

	if err := validateSession(&cfg.Session); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "pagestream"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "pagestream"
	}

	return nil
}

func validateSession(s *SessionConfig) error {
	if s.IntervalMS < 0 || s.Width < 0 || s.Height < 0 || s.Depth < 0 {
		return fmt.Errorf("interval_ms, width, height and depth must be >= 0")
	}
	if s.IntervalMS == 0 {
		s.IntervalMS = 250
	}
	if s.Width == 0 {
		s.Width = 1024
	}
	if s.Height == 0 {
		s.Height = 768
	}
	if s.Depth == 0 {
		s.Depth = 255
	}
	if s.Width%2 != 0 || s.Height%2 != 0 {
		return fmt.Errorf("width %d and height %d must be even", s.Width, s.Height)
	}
	return nil
}

func validateAddr(field, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s %q: %w", field, addr, err)
	}
	return nil
}
