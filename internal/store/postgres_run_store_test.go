package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/dunamismax/pixelvariants/internal/domain"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *[]byte:
			*p = r.values[i].([]byte)
		case *time.Time:
			*p = r.values[i].(time.Time)
		}
	}
	return nil
}

func TestScanRunDecodesJSONColumns(t *testing.T) {
	keys, meta, stats, err := encodeRunColumns([]string{"a_low_x.jpg"}, map[string]any{"Make": "Abc"}, domain.RunStats{OutputBytes: 42})
	if err != nil {
		t.Fatalf("encode columns: %v", err)
	}

	now := time.Now().UTC()
	run, err := scanRun(fakeRow{values: []any{
		"run-1", "a.jpg", "uploads", domain.TriggerAPI, domain.RunStatusSucceeded,
		keys, meta, stats, "", now, now,
	}})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if run.ArtifactKeys[0] != "a_low_x.jpg" || run.Metadata["Make"] != "Abc" || run.Stats.OutputBytes != 42 {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestScanRunNoRows(t *testing.T) {
	if _, err := scanRun(fakeRow{err: sql.ErrNoRows}); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestEncodeRunColumnsDefaults(t *testing.T) {
	keys, meta, _, err := encodeRunColumns(nil, nil, domain.RunStats{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(keys) != "[]" || string(meta) != "{}" {
		t.Fatalf("expected empty json containers, got %s %s", keys, meta)
	}
}

func TestPostgresRunStore(t *testing.T) {
	dsn := os.Getenv("PIXELVARIANTS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PIXELVARIANTS_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := NewPostgresRunStore(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	run := newRun("pg-" + time.Now().Format("20060102150405.000000000"))
	if err := s.Create(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}
	done, err := s.Complete(ctx, run.ID, domain.RunResult{ArtifactKeys: []string{"k"}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.RunStatusSucceeded || len(done.ArtifactKeys) != 1 {
		t.Fatalf("unexpected run %+v", done)
	}
	if _, err := s.Get(ctx, "missing-run"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}
