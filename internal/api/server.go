package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelvariants/internal/domain"
	"github.com/dunamismax/pixelvariants/internal/id"
	"github.com/dunamismax/pixelvariants/internal/ingest"
	"github.com/dunamismax/pixelvariants/internal/pipeline"
	"github.com/dunamismax/pixelvariants/internal/queue"
	"github.com/dunamismax/pixelvariants/internal/store"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxBodyBytes    = 32 << 20
	DefaultRateLimitHeader = "X-Api-Key"

	processedMessage = "Image processed successfully"
)

type uploadRunner interface {
	RunBytes(ctx context.Context, src ingest.Source, raw []byte) (ingest.Result, error)
}

type queueEnqueuer interface {
	EnqueueProcessImage(ctx context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error)
}

// Deps wires the server. Only Uploads is required; without Queue the event
// route answers 503, and without Runs the run lookup does.
type Deps struct {
	Logger  zerolog.Logger
	Uploads uploadRunner

	// UploadStore keeps a copy of every raw API upload in UploadBucket.
	UploadStore  ingest.ObjectWriter
	UploadBucket string

	Queue           queueEnqueuer
	ProcessedBucket string

	Runs            store.RunStore
	RateLimiter     RateLimiter
	RateLimitHeader string
	MaxBodyBytes    int64
}

type Server struct {
	logger          zerolog.Logger
	uploads         uploadRunner
	uploadStore     ingest.ObjectWriter
	uploadBucket    string
	queue           queueEnqueuer
	processedBucket string
	runs            store.RunStore
	rateLimiter     RateLimiter
	rateLimitHeader string
	maxBodyBytes    int64
	metrics         *metrics
	tracer          trace.Tracer
	mux             *http.ServeMux
	now             func() time.Time
	newID           func() string
}

func NewServer(deps Deps) (*Server, error) {
	if deps.Uploads == nil {
		return nil, errors.New("upload runner is required")
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if strings.TrimSpace(deps.RateLimitHeader) == "" {
		deps.RateLimitHeader = DefaultRateLimitHeader
	}

	s := &Server{
		logger:          deps.Logger,
		uploads:         deps.Uploads,
		uploadStore:     deps.UploadStore,
		uploadBucket:    strings.TrimSpace(deps.UploadBucket),
		queue:           deps.Queue,
		processedBucket: strings.TrimSpace(deps.ProcessedBucket),
		runs:            deps.Runs,
		rateLimiter:     deps.RateLimiter,
		rateLimitHeader: deps.RateLimitHeader,
		maxBodyBytes:    deps.MaxBodyBytes,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("github.com/dunamismax/pixelvariants/internal/api"),
		mux:             http.NewServeMux(),
		now:             time.Now,
		newID:           id.New,
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return withCORS(s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/images", s.handleUpload)
	s.mux.HandleFunc("POST /v1/events", s.handleEvents)
	s.mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type processedImage struct {
	Key         string               `json:"key"`
	Format      string               `json:"format"`
	Quality     *int                 `json:"quality"`
	ContentType string               `json:"content_type"`
	Exif        pipeline.MetadataMap `json:"exif"`
}

type uploadResponse struct {
	Message          string           `json:"message"`
	OriginalFilename string           `json:"original_filename"`
	RunID            string           `json:"run_id"`
	ProcessedImages  []processedImage `json:"processed_images"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	raw, err := decodeUpload(r.Header.Get("Content-Type"), body)
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues(outcomeRejected).Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	key := domain.UploadKey(s.newID())
	logger := s.logger.With().Str("key", key).Logger()

	if s.uploadStore != nil && s.uploadBucket != "" {
		contentType := mimetype.Detect(raw).String()
		meta := map[string]string{ingest.MetaProcessedBy: ingest.ProcessedBy}
		if err := s.uploadStore.WriteObject(r.Context(), s.uploadBucket, key, raw, contentType, meta); err != nil {
			logger.Error().Err(err).Str("bucket", s.uploadBucket).Msg("store upload failed")
			s.metrics.uploadsTotal.WithLabelValues(outcomeFailed).Inc()
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store upload"})
			return
		}
	}

	src := ingest.Source{Bucket: s.uploadBucket, Key: key, Trigger: domain.TriggerAPI}
	result, err := s.uploads.RunBytes(r.Context(), src, raw)
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues(outcomeFailed).Inc()
		if errors.Is(err, pipeline.ErrDecode) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error":  "image could not be decoded",
				"run_id": result.Run.ID,
			})
			return
		}
		logger.Error().Err(err).Str("run_id", result.Run.ID).Msg("process upload failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":  "Error processing image",
			"run_id": result.Run.ID,
		})
		return
	}

	s.metrics.uploadsTotal.WithLabelValues(outcomeSucceeded).Inc()
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:          processedMessage,
		OriginalFilename: key,
		RunID:            result.Run.ID,
		ProcessedImages:  processedImages(result.Outputs),
	})
}

func processedImages(outputs []ingest.Output) []processedImage {
	images := make([]processedImage, 0, len(outputs))
	for _, o := range outputs {
		img := processedImage{
			Key:         o.Key,
			Format:      o.Format.String(),
			ContentType: o.ContentType,
			Exif:        o.Metadata,
		}
		if o.Quality > 0 {
			quality := o.Quality
			img.Quality = &quality
		}
		images = append(images, img)
	}
	return images
}

// decodeUpload accepts a JSON body {"image": "<base64>"}, a bare base64 body,
// or the raw image bytes.
func decodeUpload(contentType string, body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: body is empty", domain.ErrInvalidUpload)
	}

	if strings.HasPrefix(strings.ToLower(contentType), "application/json") || trimmed[0] == '{' {
		var req domain.UploadRequest
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidUpload, err)
		}
		return req.Decode()
	}

	if strings.HasPrefix(mimetype.Detect(body).String(), "image/") {
		return body, nil
	}
	return domain.UploadRequest{Image: string(trimmed)}.Decode()
}

type enqueuedObject struct {
	Bucket string `json:"bucket"`
	Key    string `json:"object_key"`
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue is unavailable"})
		return
	}

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	event, err := domain.ParseStorageEvent(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	refs, err := event.Objects(s.processedBucket)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	enqueued := make([]enqueuedObject, 0, len(refs))
	for _, ref := range refs {
		info, err := s.queue.EnqueueProcessImage(r.Context(), queue.NewProcessImagePayload(ref, s.now()))
		if err != nil {
			s.logger.Error().Err(err).Str("bucket", ref.Bucket).Str("key", ref.Key).Msg("enqueue failed")
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":    "failed to enqueue object",
				"enqueued": enqueued,
			})
			return
		}
		s.metrics.queueEnqueued.WithLabelValues(info.Queue).Inc()
		enqueued = append(enqueued, enqueuedObject{
			Bucket: ref.Bucket,
			Key:    ref.Key,
			TaskID: info.ID,
			Queue:  info.Queue,
		})
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"enqueued": enqueued,
		"skipped":  len(event.Records) - len(refs),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run history is unavailable"})
		return
	}

	runID := strings.TrimSpace(r.PathValue("id"))
	run, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
			return
		}
		s.logger.Error().Err(err).Str("run_id", runID).Msg("load run failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load run"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
