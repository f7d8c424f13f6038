package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/e7canasta/pagestream/internal/config"
	"github.com/e7canasta/pagestream/internal/render"
	"github.com/e7canasta/pagestream/internal/server"
	"github.com/e7canasta/pagestream/internal/telemetry"
)

type options struct {
	configPath string
	listen     string
	debug      bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "pagestreamd",
		Short: "pagestream - remote web page streaming for e-paper clients",
		Long: `pagestreamd renders web pages in a headless browser and streams
changed regions of the page to thin clients over WebSocket.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().StringVar(&opts.listen, "listen", "", "Override the listen address")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "listen:   %s\n", cfg.Listen)
			fmt.Fprintf(cmd.OutOrStdout(), "metrics:  %s\n", orDefault(cfg.MetricsListen, cfg.Listen))
			fmt.Fprintf(cmd.OutOrStdout(), "session:  %dx%d every %s, depth %d\n",
				cfg.Session.Width, cfg.Session.Height, cfg.Session.Interval(), cfg.Session.Depth)
			fmt.Fprintf(cmd.OutOrStdout(), "mqtt:     %s\n", orDefault(cfg.MQTT.Broker, "disabled"))
			fmt.Fprintf(cmd.OutOrStdout(), "debug:    %s\n", orDefault(cfg.DebugDir, "disabled"))
			return nil
		},
	})

	return rootCmd
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func loadConfig(opts *options) (*config.Config, error) {
	if opts.configPath == "" {
		cfg := config.Default()
		if opts.listen == "" {
			return cfg, nil
		}
		cfg.Listen = opts.listen
		return cfg, config.Validate(cfg)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func run(ctx context.Context, opts *options) error {
	logLevel := slog.LevelInfo
	if opts.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(opts)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}

	slog.Info("starting pagestream service",
		"config", opts.configPath,
		"listen", cfg.Listen,
		"debug", opts.debug,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chromeCfg := render.DefaultChromeConfig()
	chromeCfg.ExecPath = cfg.Browser.ExecPath
	chromeCfg.Headless = cfg.HeadlessBrowser()
	chromeCfg.Retry.MaxRetries = cfg.Browser.LaunchRetries

	chrome, err := render.LaunchChrome(ctx, chromeCfg)
	if err != nil {
		slog.Error("failed to launch browser", "error", err)
		return err
	}
	defer chrome.Close()

	srvOpts := server.Options{
		Engine: chrome,
		Logger: logger,
	}

	if cfg.MQTT.Broker != "" {
		mqtt := telemetry.NewMQTTPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		// A broker that is down at startup only degrades readiness.
		if err := mqtt.Connect(ctx); err != nil {
			slog.Warn("mqtt: initial connect failed, retrying in background", "broker", cfg.MQTT.Broker, "error", err)
		}
		defer mqtt.Disconnect()
		srvOpts.Telemetry = mqtt
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srvOpts.Registry = reg

	srv, err := server.New(cfg, srvOpts)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		return err
	}

	if err := srv.Run(ctx); err != nil {
		slog.Error("service error", "error", err)
		return err
	}

	slog.Info("pagestream service stopped successfully")
	return nil
}
