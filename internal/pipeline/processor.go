package pipeline

import (
	"context"
	"fmt"
	"image"
	"maps"
	"path"
	"strings"

	"github.com/dunamismax/pixelvariants/internal/id"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/dunamismax/pixelvariants/internal/pipeline"

const (
	StageMetadata  = "metadata"
	StageWatermark = "watermark"
)

type SuffixGenerator interface {
	NewSuffix() string
}

// DegradedHook is told about every step that fell back instead of failing.
type DegradedHook func(stage string, reason error)

type Processor struct {
	codec      Codec
	fonts      FontLoader
	suffixes   SuffixGenerator
	variants   []VariantSpec
	logger     zerolog.Logger
	tracer     trace.Tracer
	onDegraded DegradedHook
}

type Option func(*Processor)

func WithCodec(codec Codec) Option {
	return func(p *Processor) { p.codec = codec }
}

func WithFontLoader(fonts FontLoader) Option {
	return func(p *Processor) { p.fonts = fonts }
}

func WithSuffixGenerator(suffixes SuffixGenerator) Option {
	return func(p *Processor) { p.suffixes = suffixes }
}

func WithVariants(specs []VariantSpec) Option {
	return func(p *Processor) { p.variants = append([]VariantSpec(nil), specs...) }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Processor) { p.tracer = tracer }
}

func WithDegradedHook(hook DegradedHook) Option {
	return func(p *Processor) { p.onDegraded = hook }
}

func NewProcessor(opts ...Option) (*Processor, error) {
	p := &Processor{
		fonts:    NewTrueTypeFontLoader(),
		suffixes: id.Suffix{},
		variants: DefaultVariants(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.codec == nil {
		codec, err := NewCodec()
		if err != nil {
			return nil, fmt.Errorf("build codec: %w", err)
		}
		p.codec = codec
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	if p.suffixes == nil {
		return nil, fmt.Errorf("%w: suffix generator is required", ErrInvalidConfig)
	}
	if len(p.variants) == 0 {
		return nil, fmt.Errorf("%w: at least one variant is required", ErrInvalidConfig)
	}
	return p, nil
}

// Process turns one raw image into the configured variants followed by a
// thumbnail. identifier names the source; its extension is dropped when
// building keys of the form <base>_<label>_<suffix>.<ext>.
//
// Decode and encode failures are fatal and no artifacts are returned. EXIF
// and watermark problems are logged and the run continues without them.
func (p *Processor) Process(ctx context.Context, raw []byte, identifier string, cfg Config) ([]Artifact, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(identifier) == "" {
		return nil, fmt.Errorf("%w: identifier is required", ErrInvalidConfig)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("pipeline.identifier", identifier),
		attribute.Int("pipeline.source_bytes", len(raw)),
	))
	defer span.End()

	artifacts, err := p.process(ctx, raw, identifier, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("pipeline.artifacts", len(artifacts)))
	return artifacts, nil
}

func (p *Processor) process(ctx context.Context, raw []byte, identifier string, cfg Config) ([]Artifact, error) {
	logger := p.logger.With().Str("identifier", identifier).Logger()

	src, err := p.decode(ctx, raw)
	if err != nil {
		return nil, err
	}
	logger.Debug().
		Str("format", src.Format).
		Str("mode", string(src.Mode)).
		Int("width", src.Width).
		Int("height", src.Height).
		Msg("source decoded")

	meta := ExtractMetadata(raw)
	if meta.Degraded {
		p.degraded(logger, StageMetadata, meta.Reason)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := p.prepare(ctx, logger, src, cfg)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	artifacts, err := p.encode(ctx, img)
	if err != nil {
		return nil, err
	}

	base := keyBase(identifier)
	suffix := p.suffixes.NewSuffix()
	for i := range artifacts {
		artifacts[i].Key = artifactKey(base, artifacts[i].Label, suffix, artifacts[i].Format)
		artifacts[i].Metadata = maps.Clone(meta.Value)
	}

	logger.Info().Int("artifacts", len(artifacts)).Str("suffix", suffix).Msg("variants generated")
	return artifacts, nil
}

func (p *Processor) decode(ctx context.Context, raw []byte) (SourceImage, error) {
	_, span := p.tracer.Start(ctx, "pipeline.decode")
	defer span.End()

	src, err := Decode(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return SourceImage{}, err
	}
	span.SetAttributes(
		attribute.String("image.format", src.Format),
		attribute.Int("image.width", src.Width),
		attribute.Int("image.height", src.Height),
	)
	return src, nil
}

// prepare runs the sequential stages: normalize, clamp, watermark.
func (p *Processor) prepare(ctx context.Context, logger zerolog.Logger, src SourceImage, cfg Config) (*image.RGBA, error) {
	_, span := p.tracer.Start(ctx, "pipeline.prepare")
	defer span.End()

	normalized := Normalize(src.Image)

	clamped, err := ClampDimensions(p.codec, normalized, cfg.MaxDimension)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("image.clamped_width", clamped.Bounds().Dx()),
		attribute.Int("image.clamped_height", clamped.Bounds().Dy()),
	)

	marked := ApplyWatermark(clamped, watermarkOptions(cfg), p.fonts)
	if marked.Degraded {
		p.degraded(logger, StageWatermark, marked.Reason)
	}
	return marked.Value, nil
}

// encode fans out the variant encodes and the thumbnail. Variants come first
// in the result, thumbnail last.
func (p *Processor) encode(ctx context.Context, img *image.RGBA) ([]Artifact, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.encode", trace.WithAttributes(
		attribute.Int("pipeline.variants", len(p.variants)),
	))
	defer span.End()

	var (
		variants []Artifact
		thumb    Artifact
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		variants, err = EncodeVariants(gctx, p.codec, img, p.variants)
		return err
	})
	g.Go(func() error {
		var err error
		thumb, err = DeriveThumbnail(p.codec, img, ThumbnailBound)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return nil, err
	}

	return append(variants, thumb), nil
}

func (p *Processor) degraded(logger zerolog.Logger, stage string, reason error) {
	logger.Warn().Err(reason).Str("stage", stage).Msg("pipeline step degraded")
	if p.onDegraded != nil {
		p.onDegraded(stage, reason)
	}
}

// keyBase drops the extension of identifier. A leading dot does not start an
// extension, so ".hidden" keeps its name.
func keyBase(identifier string) string {
	name := path.Base(identifier)
	if !strings.Contains(strings.TrimLeft(name, "."), ".") {
		return identifier
	}
	return strings.TrimSuffix(identifier, path.Ext(identifier))
}

func artifactKey(base, label, suffix string, format Format) string {
	return fmt.Sprintf("%s_%s_%s.%s", base, label, suffix, format.Extension())
}
