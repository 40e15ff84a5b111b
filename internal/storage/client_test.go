package storage

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "  "}); err == nil {
		t.Fatal("expected error for empty endpoint")
	}

	c, err := NewClient(Config{Endpoint: "localhost:9000", Access: "a", Secret: "b"})
	if err != nil {
		t.Fatalf("expected client, got %v", err)
	}
	if c.minio == nil {
		t.Fatal("expected minio client to be set")
	}
}

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "no such key", err: minio.ErrorResponse{Code: "NoSuchKey"}, want: true},
		{name: "no such object", err: minio.ErrorResponse{Code: "NoSuchObject"}, want: true},
		{name: "access denied", err: minio.ErrorResponse{Code: "AccessDenied"}, want: false},
		{name: "plain error", err: errors.New("connection refused"), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isNotFound(tc.err); got != tc.want {
				t.Fatalf("isNotFound(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
