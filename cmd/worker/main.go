package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/pixelvariants/internal/app"
	"github.com/dunamismax/pixelvariants/internal/config"
	"github.com/dunamismax/pixelvariants/internal/logging"
	"github.com/dunamismax/pixelvariants/internal/worker"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, "pixelvariants-worker")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := app.SetupTracing(ctx, cfg.Telemetry, "pixelvariants-worker", logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	metrics := worker.NewMetrics()
	stack, err := app.Build(ctx, cfg, logger, metrics.ObserveDegraded)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Warn().Err(err).Msg("close stack failed")
		}
	}()

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, stack.Service, metrics)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", srv.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := app.NewHTTPServer(cfg.Worker.MetricsAddr, mux)
	go func() {
		logger.Info().Str("addr", cfg.Worker.MetricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_runs", cfg.Worker.MaxActiveRuns).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Str("version", app.Version).
		Msg("starting worker")

	// Run blocks until SIGINT or SIGTERM and drains in-flight tasks.
	return srv.Run()
}
