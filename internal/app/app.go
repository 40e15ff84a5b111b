// Package app assembles the pieces shared by the API and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelvariants/internal/config"
	"github.com/dunamismax/pixelvariants/internal/ingest"
	"github.com/dunamismax/pixelvariants/internal/pipeline"
	"github.com/dunamismax/pixelvariants/internal/storage"
	"github.com/dunamismax/pixelvariants/internal/store"
	"github.com/dunamismax/pixelvariants/internal/telemetry"
	"github.com/dunamismax/pixelvariants/internal/webhook"
	"github.com/rs/zerolog"
)

// Version is overridden at build time with -ldflags "-X".
var Version = "dev"

// Stack is the object-store backed pipeline with its run history.
type Stack struct {
	Storage *storage.Client
	Runs    store.RunStore
	Service *ingest.Service

	closers []func() error
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger, degraded pipeline.DegradedHook) (*Stack, error) {
	if err := pipeline.Startup(); err != nil {
		return nil, fmt.Errorf("start image runtime: %w", err)
	}
	stack := &Stack{closers: []func() error{func() error { pipeline.Shutdown(); return nil }}}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		_ = stack.Close()
		return nil, err
	}
	for _, bucket := range []string{cfg.Storage.UploadBucket, cfg.Storage.ProcessedBucket} {
		if err := storageClient.EnsureBucket(ctx, bucket); err != nil {
			_ = stack.Close()
			return nil, err
		}
	}
	stack.Storage = storageClient

	runs, closeRuns, err := NewRunStore(ctx, cfg.Database.DSN, logger)
	if err != nil {
		_ = stack.Close()
		return nil, err
	}
	stack.Runs = runs
	stack.closers = append(stack.closers, closeRuns)

	processor, err := NewProcessor(cfg.Pipeline, logger, degraded)
	if err != nil {
		_ = stack.Close()
		return nil, err
	}

	svc, err := ingest.NewService(ingest.Deps{
		Fetcher:   ingest.ObjectStoreFetcher{Storage: storageClient},
		Processor: processor,
		Emitter:   ingest.ObjectStoreEmitter{Storage: storageClient, Bucket: cfg.Storage.ProcessedBucket},
		Notifier: ingest.WebhookNotifier{
			Client: webhook.NewClient(webhook.Config{
				SigningSecret:  cfg.Webhook.SigningSecret,
				Timeout:        cfg.Webhook.Timeout,
				MaxAttempts:    cfg.Webhook.MaxAttempts,
				InitialBackoff: cfg.Webhook.InitialBackoff,
				MaxBackoff:     cfg.Webhook.MaxBackoff,
			}),
			URL: cfg.Webhook.URL,
		},
		Runs:   runs,
		Config: cfg.Pipeline.ToPipeline(),
		Logger: logger,
	})
	if err != nil {
		_ = stack.Close()
		return nil, err
	}
	stack.Service = svc
	return stack, nil
}

// Close releases resources in reverse order of acquisition.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func NewProcessor(cfg config.PipelineConfig, logger zerolog.Logger, degraded pipeline.DegradedHook) (*pipeline.Processor, error) {
	return pipeline.NewProcessor(
		pipeline.WithFontLoader(pipeline.NewTrueTypeFontLoader(cfg.FontPaths...)),
		pipeline.WithLogger(logger),
		pipeline.WithDegradedHook(degraded),
	)
}

// NewRunStore uses Postgres when dsn is set and an in-memory store otherwise.
func NewRunStore(ctx context.Context, dsn string, logger zerolog.Logger) (store.RunStore, func() error, error) {
	if strings.TrimSpace(dsn) == "" {
		logger.Info().Msg("run history kept in memory")
		return store.NewMemoryRunStore(), func() error { return nil }, nil
	}

	runs, err := store.NewPostgresRunStore(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Msg("run history kept in postgres")
	return runs, runs.Close, nil
}

func SetupTracing(ctx context.Context, cfg config.TelemetryConfig, service string, logger zerolog.Logger) (telemetry.ShutdownFunc, error) {
	return telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    service,
		ServiceVersion: Version,
		Exporter:       cfg.Exporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		OTLPInsecure:   cfg.OTLPInsecure,
	}, logger)
}

// NewHTTPServer applies the timeouts every listener in this module uses.
// Uploads are processed inline, so the write timeout covers a full run.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
}
