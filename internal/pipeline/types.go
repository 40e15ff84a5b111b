package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrDecode        = errors.New("decode source image")
	ErrEncode        = errors.New("encode variant")
	ErrInvalidConfig = errors.New("invalid pipeline config")
)

const (
	DefaultMaxDimension     = 4096
	DefaultWatermarkText    = "Image Processor"
	DefaultWatermarkOpacity = 128

	ThumbnailBound   = 300
	ThumbnailQuality = 80
	ThumbnailLabel   = "thumbnail"
)

// Config is read-only for the duration of one Process call.
type Config struct {
	MaxDimension     int
	WatermarkEnabled bool
	WatermarkText    string
	WatermarkOpacity int
}

func DefaultConfig() Config {
	return Config{
		MaxDimension:     DefaultMaxDimension,
		WatermarkEnabled: true,
		WatermarkText:    DefaultWatermarkText,
		WatermarkOpacity: DefaultWatermarkOpacity,
	}
}

func (c Config) Validate() error {
	if c.MaxDimension <= 0 {
		return fmt.Errorf("%w: max dimension must be > 0, got %d", ErrInvalidConfig, c.MaxDimension)
	}
	if c.WatermarkOpacity < 0 || c.WatermarkOpacity > 255 {
		return fmt.Errorf("%w: watermark opacity must be in [0,255], got %d", ErrInvalidConfig, c.WatermarkOpacity)
	}
	return nil
}

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWEBP Format = "webp"
)

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWEBP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatPNG:
		return "png"
	case FormatWEBP:
		return "webp"
	default:
		return "jpg"
	}
}

func (f Format) String() string {
	return string(f)
}

// VariantSpec describes one encoded output. Quality 0 means the codec takes no
// quality parameter (PNG).
type VariantSpec struct {
	Format  Format
	Quality int
	Label   string
}

func DefaultVariants() []VariantSpec {
	return []VariantSpec{
		{Format: FormatJPEG, Quality: 85, Label: "compressed"},
		{Format: FormatJPEG, Quality: 60, Label: "low"},
		{Format: FormatWEBP, Quality: 85, Label: "webp"},
		{Format: FormatPNG, Quality: 0, Label: "png"},
	}
}

// MetadataMap holds EXIF tags by name. Values are string, int64 or float64.
type MetadataMap map[string]any

// Artifact is one finished output. Ownership passes to the caller.
type Artifact struct {
	Key         string
	Label       string
	Data        []byte
	ContentType string
	Format      Format
	Quality     int
	Width       int
	Height      int
	Metadata    MetadataMap
}

// Recovered is the result of a step that never fails the pipeline. When
// Degraded is set, Value holds the fallback and Reason says why.
type Recovered[T any] struct {
	Value    T
	Degraded bool
	Reason   error
}

func clean[T any](v T) Recovered[T] {
	return Recovered[T]{Value: v}
}

func degraded[T any](fallback T, reason error) Recovered[T] {
	return Recovered[T]{Value: fallback, Degraded: true, Reason: reason}
}
