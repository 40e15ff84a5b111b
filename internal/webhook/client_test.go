package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(attempts int) *Client {
	return NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
}

func TestSendSignsImageProcessed(t *testing.T) {
	var (
		gotSig  string
		gotTS   string
		gotEvt  string
		gotBody []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	payload := NewImageProcessed("uploads/cat.jpg", []string{"uploads/cat_low_a.jpg", "uploads/cat_png_a.png"})
	if err := testClient(1).Send(context.Background(), srv.URL, EventImageProcessed, payload); err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	if gotEvt != EventImageProcessed {
		t.Fatalf("expected event header %s, got %q", EventImageProcessed, gotEvt)
	}
	if err := Verify("test-secret", gotTS, gotBody, gotSig); err != nil {
		t.Fatalf("signature did not verify: %v", err)
	}

	var decoded ImageProcessed
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Event != EventImageProcessed || decoded.OriginalKey != "uploads/cat.jpg" || decoded.ProcessedCount != 2 {
		t.Fatalf("unexpected body %+v", decoded)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := testClient(3).Send(context.Background(), srv.URL, EventImageProcessed, map[string]any{}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := testClient(5).Send(context.Background(), srv.URL, EventImageProcessed, map[string]any{}); err == nil {
		t.Fatal("expected error on 400")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestSendEmptyEndpointIsNoop(t *testing.T) {
	if err := testClient(1).Send(context.Background(), "  ", EventImageProcessed, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	sig := Sign("k", "1", []byte("body"))
	if err := Verify("k", "1", []byte("body!"), sig); err == nil {
		t.Fatal("expected mismatch")
	}
}
