package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/powerdash/internal/api"
	"codeberg.org/mutker/powerdash/internal/chart"
	"codeberg.org/mutker/powerdash/internal/config"
	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/diagnostics"
	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/logger"
	"codeberg.org/mutker/powerdash/internal/observability"
	"codeberg.org/mutker/powerdash/internal/pid"
	"codeberg.org/mutker/powerdash/internal/telemetry"
	"codeberg.org/mutker/powerdash/internal/ui"
	"github.com/spf13/pflag"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logFile, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.Debug().Msg("Config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx, cfg); err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			logger.ErrorWithCode(coded).Msg("Exiting with error")
		} else {
			logger.Error().Err(err).Msg("Exiting with error")
		}
		if !cfg.Headless {
			fmt.Fprintf(os.Stderr, "powerdash: %v\n", err)
		}
		os.Exit(1)
	}
	logger.Info().Msg("Exiting...")
}

// initLogger writes to the configured file, to stdout in headless mode, and
// nowhere otherwise so the terminal UI owns the screen.
func initLogger(cfg *config.Config) (*os.File, error) {
	var (
		out  io.Writer = io.Discard
		file *os.File
	)

	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		out, file = f, f
	case cfg.Headless:
		out = os.Stdout
	}

	logger.Init(logger.Options{
		Level:     cfg.LogLevel,
		IsService: cfg.Headless && logger.IsService(),
		Output:    out,
	})
	return file, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	errFactory := errors.New()
	log := logger.Default()

	journal, err := diagnostics.NewJournal(diagnostics.Config{
		DBPath:       cfg.Diagnostics.DBPath,
		BatchSize:    cfg.Diagnostics.BatchSize,
		BatchTimeout: cfg.Diagnostics.BatchTimeout,
		Enabled:      cfg.Diagnostics.Enabled,
	}, log)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close diagnostics journal")
		}
	}()

	window, err := chart.ParseWindow(cfg.Chart.Window)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}

	observer := diagnostics.NewObserver(journal, log)
	opts := []dashboard.Option{
		dashboard.WithTelemetryObserver(observer),
		dashboard.WithHistoryObserver(observer),
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
		opts = append(opts,
			dashboard.WithTelemetryObserver(metrics),
			dashboard.WithHistoryObserver(metrics),
		)
	}

	dash := dashboard.New(dashboard.Config{
		Telemetry: telemetry.ChannelConfig{
			URL:              cfg.Telemetry.URL,
			ReconnectMin:     cfg.Telemetry.ReconnectMin,
			ReconnectMax:     cfg.Telemetry.ReconnectMax,
			HandshakeTimeout: cfg.Telemetry.HandshakeTimeout,
			ReadLimit:        cfg.Telemetry.ReadLimit,
		},
		Highlight:      cfg.Telemetry.Highlight,
		HistoryURL:     cfg.History.URL,
		HistoryTimeout: cfg.History.Timeout,
		Window:         window,
		ChartSize:      chart.Size{Width: cfg.Chart.Width, Height: cfg.Chart.Height},
	}, opts...)
	defer dash.Close()

	logger.Info().
		Str("telemetry", cfg.Telemetry.URL).
		Str("history", cfg.History.URL).
		Str("window", string(window)).
		Str("session", journal.Session()).
		Bool("headless", cfg.Headless).
		Msg("Starting power dashboard")

	if !cfg.Headless {
		if err := dash.Start(ctx); err != nil {
			return errFactory.Wrap(errors.ErrInitApp, err)
		}
		return ui.Run(ctx, dash)
	}

	pidPath := cfg.PIDFile
	if pidPath == "" {
		pidPath = pid.DefaultPath()
	}
	if err := pid.Write(pidPath); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(pidPath); err != nil {
			logger.Error().Err(err).Msg("Failed to remove PID file")
		}
	}()

	serverOpts := []api.Option{api.WithDiagnostics(journal)}
	if metrics != nil {
		serverOpts = append(serverOpts, api.WithMetrics(metrics.Handler()))
	}
	server := api.NewServer(dash, serverOpts...)

	if err := dash.Start(ctx); err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	return server.ListenAndServe(ctx, cfg.Listen)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
