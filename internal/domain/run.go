package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	RunStatusProcessing = "processing"
	RunStatusSucceeded  = "succeeded"
	RunStatusFailed     = "failed"

	TriggerAPI   = "api"
	TriggerEvent = "storage_event"
	TriggerCLI   = "cli"
)

var ErrRunNotFound = errors.New("run not found")

// Run records one pass of the pipeline over a single source image.
type Run struct {
	ID           string         `json:"id"`
	OriginalKey  string         `json:"original_key"`
	Bucket       string         `json:"bucket,omitempty"`
	Trigger      string         `json:"trigger"`
	Status       string         `json:"status"`
	ArtifactKeys []string       `json:"artifact_keys"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Error        string         `json:"error,omitempty"`
	Stats        RunStats       `json:"stats"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type RunStats struct {
	SourceBytes   int64 `json:"source_bytes"`
	OutputBytes   int64 `json:"output_bytes"`
	ComputeTimeMS int64 `json:"compute_time_ms"`
}

func (r Run) Terminal() bool {
	return r.Status == RunStatusSucceeded || r.Status == RunStatusFailed
}

// RunResult is what a finished run reports back to the store.
type RunResult struct {
	ArtifactKeys []string
	Metadata     map[string]any
	Stats        RunStats
}

func NormalizeKey(key string) string {
	return strings.TrimLeft(strings.TrimSpace(key), "/")
}
