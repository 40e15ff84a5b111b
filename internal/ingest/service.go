package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/pixelvariants/internal/domain"
	"github.com/dunamismax/pixelvariants/internal/id"
	"github.com/dunamismax/pixelvariants/internal/pipeline"
	"github.com/dunamismax/pixelvariants/internal/store"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrInvalidSource = errors.New("invalid source")

// Source identifies one input image. Bucket is empty for local files.
type Source struct {
	Bucket  string
	Key     string
	Trigger string
}

func (s Source) Validate() error {
	if strings.TrimSpace(s.Key) == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidSource)
	}
	return nil
}

// Output is one artifact after it has been written somewhere.
type Output struct {
	Key         string
	Location    string
	Label       string
	Format      pipeline.Format
	ContentType string
	Quality     int
	Bytes       int
	Width       int
	Height      int
	Metadata    pipeline.MetadataMap
}

type Notification struct {
	OriginalKey string
	Keys        []string
}

type Fetcher interface {
	Fetch(ctx context.Context, src Source) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, src Source, artifact pipeline.Artifact) (Output, error)
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Processor interface {
	Process(ctx context.Context, raw []byte, identifier string, cfg pipeline.Config) ([]pipeline.Artifact, error)
}

type Result struct {
	Run     domain.Run
	Outputs []Output
}

type Service struct {
	fetcher   Fetcher
	processor Processor
	emitter   Emitter
	notifier  Notifier
	runs      store.RunStore
	config    pipeline.Config
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
}

type Deps struct {
	Fetcher   Fetcher
	Processor Processor
	Emitter   Emitter
	// Notifier and Runs are optional.
	Notifier Notifier
	Runs     store.RunStore
	Config   pipeline.Config
	Logger   zerolog.Logger
}

func NewService(deps Deps) (*Service, error) {
	if deps.Processor == nil {
		return nil, errors.New("processor is required")
	}
	if deps.Emitter == nil {
		return nil, errors.New("emitter is required")
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}

	return &Service{
		fetcher:   deps.Fetcher,
		processor: deps.Processor,
		emitter:   deps.Emitter,
		notifier:  deps.Notifier,
		runs:      deps.Runs,
		config:    deps.Config,
		logger:    deps.Logger,
		tracer:    otel.Tracer("github.com/dunamismax/pixelvariants/internal/ingest"),
		now:       time.Now,
		newID:     id.New,
	}, nil
}

// Run fetches src and hands the bytes to RunBytes.
func (s *Service) Run(ctx context.Context, src Source) (Result, error) {
	if err := src.Validate(); err != nil {
		return Result{}, err
	}
	if s.fetcher == nil {
		return Result{}, errors.New("fetcher is required")
	}

	raw, err := s.fetcher.Fetch(ctx, src)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}
	return s.RunBytes(ctx, src, raw)
}

// RunBytes processes raw, writes every artifact, records the run and sends
// the notification. A failed notification is logged and does not fail the
// run; any other failure does.
func (s *Service) RunBytes(ctx context.Context, src Source, raw []byte) (Result, error) {
	if err := src.Validate(); err != nil {
		return Result{}, err
	}

	ctx, span := s.tracer.Start(ctx, "ingest.run", trace.WithAttributes(
		attribute.String("source.bucket", src.Bucket),
		attribute.String("source.key", src.Key),
		attribute.String("source.trigger", src.Trigger),
	))
	defer span.End()

	startedAt := s.now()
	run := domain.Run{
		ID:          s.newID(),
		OriginalKey: src.Key,
		Bucket:      src.Bucket,
		Trigger:     src.Trigger,
		Status:      domain.RunStatusProcessing,
		CreatedAt:   startedAt.UTC(),
		UpdatedAt:   startedAt.UTC(),
	}
	span.SetAttributes(attribute.String("run.id", run.ID))
	logger := s.logger.With().Str("run_id", run.ID).Str("key", src.Key).Logger()

	if s.runs != nil {
		if err := s.runs.Create(ctx, run); err != nil {
			return Result{}, fmt.Errorf("record run: %w", err)
		}
	}

	outputs, err := s.transform(ctx, src, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		logger.Error().Err(err).Msg("run failed")
		run = s.fail(ctx, logger, run, err)
		return Result{Run: run}, err
	}

	keys := make([]string, len(outputs))
	var outputBytes int64
	for i, o := range outputs {
		keys[i] = o.Key
		outputBytes += int64(o.Bytes)
	}

	var metadata map[string]any
	if len(outputs) > 0 {
		metadata = outputs[0].Metadata
	}
	result := domain.RunResult{
		ArtifactKeys: keys,
		Metadata:     metadata,
		Stats: domain.RunStats{
			SourceBytes:   int64(len(raw)),
			OutputBytes:   outputBytes,
			ComputeTimeMS: max(1, s.now().Sub(startedAt).Milliseconds()),
		},
	}
	run = s.complete(ctx, logger, run, result)
	logger.Info().Int("artifacts", len(outputs)).Int64("compute_time_ms", result.Stats.ComputeTimeMS).Msg("run completed")

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, Notification{OriginalKey: src.Key, Keys: keys}); err != nil {
			span.AddEvent("notification failed")
			logger.Warn().Err(err).Msg("notification failed")
		}
	}

	return Result{Run: run, Outputs: outputs}, nil
}

func (s *Service) transform(ctx context.Context, src Source, raw []byte) ([]Output, error) {
	artifacts, err := s.processor.Process(ctx, raw, src.Key, s.config)
	if err != nil {
		return nil, fmt.Errorf("transform stage: %w", err)
	}

	outputs := make([]Output, 0, len(artifacts))
	for _, artifact := range artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := s.emitter.Emit(ctx, src, artifact)
		if err != nil {
			return nil, fmt.Errorf("emit stage label=%s: %w", artifact.Label, err)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func (s *Service) complete(ctx context.Context, logger zerolog.Logger, run domain.Run, result domain.RunResult) domain.Run {
	run.Status = domain.RunStatusSucceeded
	run.ArtifactKeys = result.ArtifactKeys
	run.Metadata = result.Metadata
	run.Stats = result.Stats
	run.UpdatedAt = s.now().UTC()
	if s.runs == nil {
		return run
	}

	stored, err := s.runs.Complete(ctx, run.ID, result)
	if err != nil {
		logger.Warn().Err(err).Msg("run completion not recorded")
		return run
	}
	return stored
}

func (s *Service) fail(ctx context.Context, logger zerolog.Logger, run domain.Run, cause error) domain.Run {
	run.Status = domain.RunStatusFailed
	run.Error = cause.Error()
	run.UpdatedAt = s.now().UTC()
	if s.runs == nil {
		return run
	}

	// The caller's context may already be cancelled; the failure still has to land.
	stored, err := s.runs.Fail(context.WithoutCancel(ctx), run.ID, cause.Error())
	if err != nil {
		logger.Warn().Err(err).Msg("run failure not recorded")
		return run
	}
	return stored
}
