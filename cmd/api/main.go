package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelvariants/internal/api"
	"github.com/dunamismax/pixelvariants/internal/app"
	"github.com/dunamismax/pixelvariants/internal/config"
	"github.com/dunamismax/pixelvariants/internal/logging"
	"github.com/dunamismax/pixelvariants/internal/queue"
	"github.com/dunamismax/pixelvariants/internal/ratelimit"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, "pixelvariants-api")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api failed")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := app.SetupTracing(ctx, cfg.Telemetry, "pixelvariants-api", logger)
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

	stack, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Warn().Err(err).Msg("close stack failed")
		}
	}()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Worker.MaxRetry)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("queue client close failed")
		}
	}()

	var limiter api.RateLimiter
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer func() { _ = redisClient.Close() }()

		bucket, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, ratelimit.DefaultKeyPrefix)
		if err != nil {
			return fmt.Errorf("build rate limiter: %w", err)
		}
		limiter = bucket
	}

	server, err := api.NewServer(api.Deps{
		Logger:          logger,
		Uploads:         stack.Service,
		UploadStore:     stack.Storage,
		UploadBucket:    cfg.Storage.UploadBucket,
		Queue:           queueClient,
		ProcessedBucket: cfg.Storage.ProcessedBucket,
		Runs:            stack.Runs,
		RateLimiter:     limiter,
		MaxBodyBytes:    cfg.API.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	httpServer := app.NewHTTPServer(cfg.API.Addr, server.Handler())
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.API.Addr).Str("version", app.Version).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}
