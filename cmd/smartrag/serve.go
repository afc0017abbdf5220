package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smartrag/smartrag/pkg/config"
	"github.com/smartrag/smartrag/pkg/logger"
	"github.com/smartrag/smartrag/pkg/observability"
	"github.com/smartrag/smartrag/pkg/server"
	"github.com/smartrag/smartrag/pkg/service"
)

const shutdownTimeout = 15 * time.Second

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Host string `help:"Listen host (overrides config)."`
	Port int    `help:"Listen port (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = cli.LogFormat
	}

	if err := initLogging(cli, cfg); err != nil {
		return err
	}
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := observability.InitGlobalTracer(ctx, observability.TracerConfig{
		Enabled:      cfg.Tracing.Enabled,
		EndpointURL:  cfg.Tracing.EndpointURL,
		SamplingRate: cfg.Tracing.Sampling,
		ServiceName:  cfg.Tracing.ServiceName,
	}); err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	metrics, err := observability.InitMetrics(ctx)
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	observability.SetGlobalMetrics(metrics)

	watcher := config.NewWatcher(cli.Config, cfg)
	if err := watcher.Start(ctx); err != nil {
		log.Warn("config watcher disabled", "error", err)
	}

	srv := server.New(cfg, service.New(cfg, service.WithConfigSource(watcher)))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func initLogging(cli *CLI, cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}

	output := os.Stderr
	if cli.LogFile != "" {
		file, _, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
	}

	logger.Init(level, output, cfg.Logging.Format)
	return nil
}
