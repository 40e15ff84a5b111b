package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelvariants/internal/domain"
	_ "github.com/lib/pq"
)

const runSchemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	original_key TEXT NOT NULL,
	bucket TEXT NOT NULL DEFAULT '',
	trigger TEXT NOT NULL,
	status TEXT NOT NULL,
	artifact_keys JSONB NOT NULL DEFAULT '[]',
	metadata JSONB NOT NULL DEFAULT '{}',
	stats JSONB NOT NULL DEFAULT '{}',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const selectRunSQL = `SELECT id, original_key, bucket, trigger, status, artifact_keys, metadata, stats, error, created_at, updated_at
FROM runs
WHERE id = $1`

type PostgresRunStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresRunStore(ctx context.Context, dsn string) (*PostgresRunStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresRunStore{db: db, now: time.Now}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresRunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, runSchemaSQL); err != nil {
		return fmt.Errorf("ensure runs schema: %w", err)
	}
	return nil
}

func (s *PostgresRunStore) Close() error {
	return s.db.Close()
}

func (s *PostgresRunStore) Create(ctx context.Context, run domain.Run) error {
	keys, metadata, stats, err := encodeRunColumns(run.ArtifactKeys, run.Metadata, run.Stats)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO runs (id, original_key, bucket, trigger, status, artifact_keys, metadata, stats, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID,
		run.OriginalKey,
		run.Bucket,
		run.Trigger,
		run.Status,
		keys,
		metadata,
		stats,
		run.Error,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *PostgresRunStore) Get(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(s.db.QueryRowContext(ctx, selectRunSQL, id))
}

func (s *PostgresRunStore) Complete(ctx context.Context, id string, result domain.RunResult) (domain.Run, error) {
	keys, metadata, stats, err := encodeRunColumns(result.ArtifactKeys, result.Metadata, result.Stats)
	if err != nil {
		return domain.Run{}, err
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE runs
		 SET status = $1, artifact_keys = $2, metadata = $3, stats = $4, error = '', updated_at = $5
		 WHERE id = $6 AND status NOT IN ($7, $8)`,
		domain.RunStatusSucceeded,
		keys,
		metadata,
		stats,
		s.now().UTC(),
		id,
		domain.RunStatusSucceeded,
		domain.RunStatusFailed,
	)
	if err != nil {
		return domain.Run{}, fmt.Errorf("complete run: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *PostgresRunStore) Fail(ctx context.Context, id, reason string) (domain.Run, error) {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE runs
		 SET status = $1, error = $2, updated_at = $3
		 WHERE id = $4 AND status NOT IN ($5, $6)`,
		domain.RunStatusFailed,
		reason,
		s.now().UTC(),
		id,
		domain.RunStatusSucceeded,
		domain.RunStatusFailed,
	)
	if err != nil {
		return domain.Run{}, fmt.Errorf("fail run: %w", err)
	}
	return s.Get(ctx, id)
}

func encodeRunColumns(keys []string, metadata map[string]any, stats domain.RunStats) ([]byte, []byte, []byte, error) {
	if keys == nil {
		keys = []string{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	keysJSON, err := json.Marshal(keys)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal artifact keys: %w", err)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal run metadata: %w", err)
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal run stats: %w", err)
	}
	return keysJSON, metadataJSON, statsJSON, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run                           domain.Run
		keysJSON, metaJSON, statsJSON []byte
	)
	if err := row.Scan(
		&run.ID,
		&run.OriginalKey,
		&run.Bucket,
		&run.Trigger,
		&run.Status,
		&keysJSON,
		&metaJSON,
		&statsJSON,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Run{}, domain.ErrRunNotFound
		}
		return domain.Run{}, fmt.Errorf("query run: %w", err)
	}

	if err := json.Unmarshal(keysJSON, &run.ArtifactKeys); err != nil {
		return domain.Run{}, fmt.Errorf("unmarshal artifact keys: %w", err)
	}
	if err := json.Unmarshal(metaJSON, &run.Metadata); err != nil {
		return domain.Run{}, fmt.Errorf("unmarshal run metadata: %w", err)
	}
	if err := json.Unmarshal(statsJSON, &run.Stats); err != nil {
		return domain.Run{}, fmt.Errorf("unmarshal run stats: %w", err)
	}
	return run, nil
}
