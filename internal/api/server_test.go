package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dunamismax/pixelvariants/internal/domain"
	"github.com/dunamismax/pixelvariants/internal/ingest"
	"github.com/dunamismax/pixelvariants/internal/pipeline"
	"github.com/dunamismax/pixelvariants/internal/queue"
	"github.com/dunamismax/pixelvariants/internal/ratelimit"
	"github.com/dunamismax/pixelvariants/internal/store"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploads struct {
	calls []ingest.Source
	raw   [][]byte
	err   error
}

func (f *fakeUploads) RunBytes(_ context.Context, src ingest.Source, raw []byte) (ingest.Result, error) {
	f.calls = append(f.calls, src)
	f.raw = append(f.raw, raw)
	run := domain.Run{ID: "run-1", OriginalKey: src.Key, Trigger: src.Trigger}
	if f.err != nil {
		run.Status = domain.RunStatusFailed
		return ingest.Result{Run: run}, f.err
	}
	run.Status = domain.RunStatusSucceeded
	meta := pipeline.MetadataMap{"Make": "Abc"}
	return ingest.Result{
		Run: run,
		Outputs: []ingest.Output{
			{Key: "api-upload-x_compressed_abcd1234.jpg", Label: "compressed", Format: pipeline.FormatJPEG, ContentType: "image/jpeg", Quality: 85, Metadata: meta},
			{Key: "api-upload-x_png_abcd1234.png", Label: "png", Format: pipeline.FormatPNG, ContentType: "image/png", Metadata: meta},
		},
	}, nil
}

type storedObject struct {
	bucket      string
	key         string
	contentType string
	meta        map[string]string
}

type fakeWriter struct {
	objects []storedObject
	err     error
}

func (f *fakeWriter) WriteObject(_ context.Context, bucket, key string, _ []byte, contentType string, meta map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.objects = append(f.objects, storedObject{bucket: bucket, key: key, contentType: contentType, meta: meta})
	return nil
}

type fakeQueue struct {
	payloads []queue.ProcessImagePayload
	err      error
}

func (f *fakeQueue) EnqueueProcessImage(_ context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(f.payloads)), Queue: "default"}, nil
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	deps.Logger = zerolog.Nop()
	s, err := NewServer(deps)
	require.NoError(t, err)
	s.newID = func() string { return "fixed-id" }
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(1, 1, color.RGBA{R: 10, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func do(t *testing.T, h http.Handler, method, target string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUploadJSONBody(t *testing.T) {
	uploads := &fakeUploads{}
	writer := &fakeWriter{}
	s := newTestServer(t, Deps{Uploads: uploads, UploadStore: writer, UploadBucket: "uploads"})

	raw := pngBytes(t)
	body, _ := json.Marshal(map[string]string{"image": base64.StdEncoding.EncodeToString(raw)})
	rec := do(t, s.Handler(), http.MethodPost, "/v1/images", body, map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Message          string `json:"message"`
		OriginalFilename string `json:"original_filename"`
		RunID            string `json:"run_id"`
		ProcessedImages  []struct {
			Key     string         `json:"key"`
			Format  string         `json:"format"`
			Quality *int           `json:"quality"`
			Exif    map[string]any `json:"exif"`
		} `json:"processed_images"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Image processed successfully", resp.Message)
	assert.Equal(t, "api-upload-fixed-id.jpg", resp.OriginalFilename)
	assert.Equal(t, "run-1", resp.RunID)
	require.Len(t, resp.ProcessedImages, 2)
	require.NotNil(t, resp.ProcessedImages[0].Quality)
	assert.Equal(t, 85, *resp.ProcessedImages[0].Quality)
	assert.Equal(t, "jpeg", resp.ProcessedImages[0].Format)
	assert.Nil(t, resp.ProcessedImages[1].Quality)
	assert.Equal(t, "Abc", resp.ProcessedImages[1].Exif["Make"])

	require.Len(t, uploads.calls, 1)
	assert.Equal(t, ingest.Source{Bucket: "uploads", Key: "api-upload-fixed-id.jpg", Trigger: domain.TriggerAPI}, uploads.calls[0])
	assert.Equal(t, raw, uploads.raw[0])

	require.Len(t, writer.objects, 1)
	assert.Equal(t, "uploads", writer.objects[0].bucket)
	assert.Equal(t, "api-upload-fixed-id.jpg", writer.objects[0].key)
	assert.Equal(t, "image/png", writer.objects[0].contentType)
}

func TestUploadRawAndBase64Bodies(t *testing.T) {
	raw := pngBytes(t)
	cases := map[string][]byte{
		"raw":    raw,
		"base64": []byte(base64.StdEncoding.EncodeToString(raw)),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			uploads := &fakeUploads{}
			s := newTestServer(t, Deps{Uploads: uploads})
			rec := do(t, s.Handler(), http.MethodPost, "/v1/images", body, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.Len(t, uploads.raw, 1)
			assert.Equal(t, raw, uploads.raw[0])
			assert.Empty(t, uploads.calls[0].Bucket)
		})
	}
}

func TestUploadRejectsBadBodies(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"bad json":     `{"image":`,
		"missing":      `{}`,
		"not base64":   `{"image":"***"}`,
		"garbage text": "definitely not an image",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			uploads := &fakeUploads{}
			s := newTestServer(t, Deps{Uploads: uploads})
			rec := do(t, s.Handler(), http.MethodPost, "/v1/images", []byte(body), nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, uploads.calls)
		})
	}
}

func TestUploadBodyTooLarge(t *testing.T) {
	s := newTestServer(t, Deps{Uploads: &fakeUploads{}, MaxBodyBytes: 8})
	rec := do(t, s.Handler(), http.MethodPost, "/v1/images", pngBytes(t), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUploadFailures(t *testing.T) {
	body := []byte(`{"image":"` + base64.StdEncoding.EncodeToString([]byte("not really an image")) + `"}`)

	t.Run("decode", func(t *testing.T) {
		uploads := &fakeUploads{err: fmt.Errorf("transform stage: %w", pipeline.ErrDecode)}
		s := newTestServer(t, Deps{Uploads: uploads})
		rec := do(t, s.Handler(), http.MethodPost, "/v1/images", body, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "run-1")
	})

	t.Run("processing", func(t *testing.T) {
		uploads := &fakeUploads{err: errors.New("emit stage: bucket gone")}
		s := newTestServer(t, Deps{Uploads: uploads})
		rec := do(t, s.Handler(), http.MethodPost, "/v1/images", body, nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("store upload", func(t *testing.T) {
		uploads := &fakeUploads{}
		s := newTestServer(t, Deps{Uploads: uploads, UploadStore: &fakeWriter{err: errors.New("down")}, UploadBucket: "uploads"})
		rec := do(t, s.Handler(), http.MethodPost, "/v1/images", body, nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Empty(t, uploads.calls)
	})
}

const storageEventBody = `{"Records": [
  {"eventName": "ObjectCreated:Put", "s3": {"bucket": {"name": "uploads"}, "object": {"key": "photos/my+cat.jpg"}}},
  {"eventName": "ObjectCreated:Put", "s3": {"bucket": {"name": "processed"}, "object": {"key": "cat_png_1234abcd.png"}}},
  {"eventName": "ObjectCreated:Put", "s3": {"bucket": {"name": "uploads"}, "object": {"key": "api-upload-1.jpg"}}}
]}`

func TestEventsEnqueueUploadedObjects(t *testing.T) {
	q := &fakeQueue{}
	s := newTestServer(t, Deps{Uploads: &fakeUploads{}, Queue: q, ProcessedBucket: "processed"})

	rec := do(t, s.Handler(), http.MethodPost, "/v1/events", []byte(storageEventBody), nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Len(t, q.payloads, 1)
	assert.Equal(t, "uploads", q.payloads[0].Bucket)
	assert.Equal(t, "photos/my cat.jpg", q.payloads[0].ObjectKey)

	var resp struct {
		Enqueued []enqueuedObject `json:"enqueued"`
		Skipped  int              `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Skipped)
	require.Len(t, resp.Enqueued, 1)
	assert.Equal(t, "task-1", resp.Enqueued[0].TaskID)
}

func TestEventsErrors(t *testing.T) {
	t.Run("invalid event", func(t *testing.T) {
		s := newTestServer(t, Deps{Uploads: &fakeUploads{}, Queue: &fakeQueue{}})
		rec := do(t, s.Handler(), http.MethodPost, "/v1/events", []byte(`not json`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no queue", func(t *testing.T) {
		s := newTestServer(t, Deps{Uploads: &fakeUploads{}})
		rec := do(t, s.Handler(), http.MethodPost, "/v1/events", []byte(storageEventBody), nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("enqueue failure", func(t *testing.T) {
		s := newTestServer(t, Deps{Uploads: &fakeUploads{}, Queue: &fakeQueue{err: errors.New("redis down")}})
		rec := do(t, s.Handler(), http.MethodPost, "/v1/events", []byte(storageEventBody), nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestGetRun(t *testing.T) {
	runs := store.NewMemoryRunStore()
	now := time.Now().UTC()
	require.NoError(t, runs.Create(context.Background(), domain.Run{
		ID:          "run-42",
		OriginalKey: "cat.jpg",
		Trigger:     domain.TriggerEvent,
		Status:      domain.RunStatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
	s := newTestServer(t, Deps{Uploads: &fakeUploads{}, Runs: runs})

	rec := do(t, s.Handler(), http.MethodGet, "/v1/runs/run-42", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "cat.jpg", run.OriginalKey)

	rec = do(t, s.Handler(), http.MethodGet, "/v1/runs/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflightAndMethods(t *testing.T) {
	s := newTestServer(t, Deps{Uploads: &fakeUploads{}})

	rec := do(t, s.Handler(), http.MethodOptions, "/v1/images", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,POST,OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type,X-Amz-Date,Authorization,X-Api-Key", rec.Header().Get("Access-Control-Allow-Headers"))

	rec = do(t, s.Handler(), http.MethodPut, "/v1/images", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitRejectsAfterCapacity(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewRedisTokenBucket(client, 1, time.Hour, "test")
	require.NoError(t, err)

	s := newTestServer(t, Deps{Uploads: &fakeUploads{}, RateLimiter: limiter})
	body := pngBytes(t)
	header := map[string]string{"X-Api-Key": "client-a"}

	rec := do(t, s.Handler(), http.MethodPost, "/v1/images", body, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = do(t, s.Handler(), http.MethodPost, "/v1/images", body, header)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = do(t, s.Handler(), http.MethodPost, "/v1/images", body, map[string]string{"X-Api-Key": "client-b"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s.Handler(), http.MethodGet, "/healthz", nil, header)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, Deps{Uploads: &fakeUploads{}})
	do(t, s.Handler(), http.MethodGet, "/healthz", nil, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `pixelvariants_api_requests_total{method="GET",route="/healthz",status="200"} 1`))
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/v1/images":     "/v1/images",
		"/v1/events":     "/v1/events",
		"/v1/runs/abc":   "/v1/runs/{id}",
		"/healthz":       "/healthz",
		"/metrics":       "/metrics",
		"/wp-admin.php":  "unmatched",
		"/v1/images/abc": "unmatched",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestNewServerRequiresUploads(t *testing.T) {
	if _, err := NewServer(Deps{}); err == nil {
		t.Fatal("expected error without upload runner")
	}
}
