// Package main provides the entry point for the paper search HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helixir/paper-search-service/internal/app"
	"github.com/helixir/paper-search-service/internal/config"
	"github.com/helixir/paper-search-service/internal/observability"
	httpserver "github.com/helixir/paper-search-service/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A local .env is optional.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger.Info().Msg("paper-search-service starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	opts := make([]httpserver.Option, 0, len(pipeline.ReadinessChecks())+1)
	for _, c := range pipeline.ReadinessChecks() {
		opts = append(opts, httpserver.WithReadinessCheck(c.Name, c.Check))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, httpserver.WithMetricsHandler(cfg.Metrics.Path,
			promhttp.HandlerFor(pipeline.Registry, promhttp.HandlerOpts{})))
	}

	httpCfg := httpserver.Config{
		Address:            cfg.Server.HTTPAddress(),
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		IdleTimeout:        2 * time.Minute,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}
	httpSrv := httpserver.NewServer(httpCfg, pipeline.Service, logger, opts...)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	readyLog := logger.Info().Str("http_address", httpCfg.Address)
	if cfg.Metrics.Enabled {
		readyLog = readyLog.Str("metrics_path", cfg.Metrics.Path)
	}
	readyLog.Msg("paper-search-service is ready")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("server error")
	}

	logger.Info().Msg("shutting down paper-search-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Precache jobs run detached from requests; give them what remains of
	// the shutdown timeout.
	remaining := time.Until(deadlineOf(shutdownCtx))
	if err := pipeline.Close(remaining); err != nil {
		logger.Error().Err(err).Msg("failed to release resources")
	}

	logger.Info().Msg("paper-search-service shutdown complete")
	return serveErr
}

func deadlineOf(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now()
}
