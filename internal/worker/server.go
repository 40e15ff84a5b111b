package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/pixelvariants/internal/config"
	"github.com/dunamismax/pixelvariants/internal/domain"
	"github.com/dunamismax/pixelvariants/internal/ingest"
	"github.com/dunamismax/pixelvariants/internal/pipeline"
	"github.com/dunamismax/pixelvariants/internal/queue"
	"github.com/dunamismax/pixelvariants/internal/storage"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
)

type runner interface {
	Run(ctx context.Context, src ingest.Source) (ingest.Result, error)
}

type Server struct {
	logger  zerolog.Logger
	server  *asynq.Server
	sem     chan struct{}
	runner  runner
	metrics *Metrics
	tracer  trace.Tracer
}

func NewServer(
	logger zerolog.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	svc *ingest.Service,
	metrics *Metrics,
) (*Server, error) {
	if svc == nil {
		return nil, errors.New("ingest service is required")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				Logger:   asynqLogger{logger: logger},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Warn().
						Err(err).
						Str("type", task.Type()).
						Int("retry", retried).
						Int("max_retry", maxRetry).
						Msg("task failed")
				}),
			},
		),
		sem:     make(chan struct{}, max(1, workerCfg.MaxActiveRuns)),
		runner:  svc,
		metrics: metrics,
		tracer:  otel.Tracer("github.com/dunamismax/pixelvariants/internal/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessImage, s.handleProcessImage)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := outcomeFailed
	defer func() {
		s.metrics.runDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.runsTotal.WithLabelValues(outcome).Inc()
	}()

	payload, err := queue.ParseProcessImagePayload(task)
	if err != nil {
		outcome = outcomeRejected
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("source.bucket", payload.Bucket),
		attribute.String("source.key", payload.ObjectKey),
	)
	defer span.End()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeRuns.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeRuns.Dec()
	}()

	logger := s.logger.With().Str("bucket", payload.Bucket).Str("key", payload.ObjectKey).Logger()
	logger.Info().Time("requested_at", payload.RequestedAt).Msg("processing image")

	result, err := s.runner.Run(ctx, ingest.Source{
		Bucket:  payload.Bucket,
		Key:     payload.ObjectKey,
		Trigger: domain.TriggerEvent,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		if permanent(err) {
			outcome = outcomeRejected
			logger.Warn().Err(err).Msg("image rejected")
			return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	outcome = outcomeSucceeded
	s.recordUsage(result)
	span.SetAttributes(attribute.String("run.id", result.Run.ID), attribute.Int("run.artifacts", len(result.Outputs)))
	span.SetStatus(codes.Ok, "processed")
	logger.Info().Str("run_id", result.Run.ID).Int("artifacts", len(result.Outputs)).Msg("image processed")
	return nil
}

// permanent reports failures that would fail again on retry.
func permanent(err error) bool {
	return errors.Is(err, pipeline.ErrDecode) ||
		errors.Is(err, pipeline.ErrInvalidConfig) ||
		errors.Is(err, ingest.ErrInvalidSource) ||
		errors.Is(err, storage.ErrObjectNotFound)
}

func (s *Server) recordUsage(result ingest.Result) {
	stats := result.Run.Stats
	s.metrics.artifactsTotal.Add(float64(len(result.Outputs)))
	s.metrics.sourceBytesTotal.Add(float64(stats.SourceBytes))
	s.metrics.outputBytesTotal.Add(float64(stats.OutputBytes))
	s.metrics.computeTimeMSTotal.Add(float64(stats.ComputeTimeMS))
}
