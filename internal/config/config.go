package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelvariants/internal/pipeline"
	"github.com/hibiken/asynq"
)

type Config struct {
	LogLevel  string
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Pipeline  PipelineConfig
	Webhook   WebhookConfig
	Telemetry TelemetryConfig
	RateLimit RateLimitConfig
}

type APIConfig struct {
	Addr         string
	MaxBodyBytes int64
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveRuns int
	MaxRetry      int
	MetricsAddr   string
}

type StorageConfig struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	UploadBucket    string
	ProcessedBucket string
	UseSSL          bool
}

type DatabaseConfig struct {
	DSN string
}

type PipelineConfig struct {
	MaxDimension     int
	WatermarkEnabled bool
	WatermarkText    string
	WatermarkOpacity int
	FontPaths        []string
}

func (p PipelineConfig) ToPipeline() pipeline.Config {
	return pipeline.Config{
		MaxDimension:     p.MaxDimension,
		WatermarkEnabled: p.WatermarkEnabled,
		WatermarkText:    p.WatermarkText,
		WatermarkOpacity: p.WatermarkOpacity,
	}
}

type WebhookConfig struct {
	URL            string
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type RateLimitConfig struct {
	Enabled  bool
	Capacity int
	Window   time.Duration
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		LogLevel: env("LOG_LEVEL", "info"),
		API: APIConfig{
			Addr:         env("PIXELVARIANTS_API_ADDR", ":8080"),
			MaxBodyBytes: int64(envInt("API_MAX_BODY_BYTES", 32<<20)),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveRuns: envInt("WORKER_MAX_ACTIVE_RUNS", defaultWorkerSlots),
			MaxRetry:      envInt("WORKER_MAX_RETRY", 5),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:        env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:       env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:       env("MINIO_SECRET_KEY", "minioadmin"),
			UploadBucket:    env("UPLOAD_BUCKET", "pixelvariants-uploads"),
			ProcessedBucket: env("PROCESSED_BUCKET", "pixelvariants-processed"),
			UseSSL:          envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Pipeline: PipelineConfig{
			MaxDimension:     envInt("MAX_DIMENSION", pipeline.DefaultMaxDimension),
			WatermarkEnabled: envBool("WATERMARK_ENABLED", true),
			WatermarkText:    env("WATERMARK_TEXT", pipeline.DefaultWatermarkText),
			WatermarkOpacity: envInt("WATERMARK_OPACITY", pipeline.DefaultWatermarkOpacity),
			FontPaths:        envList("WATERMARK_FONT_PATH", []string{pipeline.DefaultFontPath}),
		},
		Webhook: WebhookConfig{
			URL:            env("WEBHOOK_URL", ""),
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
		RateLimit: RateLimitConfig{
			Enabled:  envBool("RATE_LIMIT_ENABLED", true),
			Capacity: envInt("RATE_LIMIT_CAPACITY", 60),
			Window:   envDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envList splits a colon-separated list, the same way PATH-style variables are.
func envList(key string, fallback []string) []string {
	value := env(key, "")
	if value == "" {
		return fallback
	}

	var out []string
	for _, part := range strings.Split(value, ":") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
