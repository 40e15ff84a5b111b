package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelvariants/internal/pipeline"
)

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, src Source) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(src.Key)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", src.Key, err)
	}
	return data, nil
}

// LocalFileEmitter writes artifacts flat into OutputDir, named after the
// last segment of the artifact key.
type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(ctx context.Context, _ Source, artifact pipeline.Artifact) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	if err := os.MkdirAll(e.OutputDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(e.OutputDir, localFileName(artifact))
	if err := os.WriteFile(fullPath, artifact.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}
	return outputFor(artifact, fullPath), nil
}

func localFileName(artifact pipeline.Artifact) string {
	name := path.Base(filepath.ToSlash(artifact.Key))
	stem := strings.TrimSuffix(name, path.Ext(name))
	return sanitizePathToken(stem) + "." + artifact.Format.Extension()
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" || in == "." || in == ".." {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func outputFor(artifact pipeline.Artifact, location string) Output {
	return Output{
		Key:         artifact.Key,
		Location:    location,
		Label:       artifact.Label,
		Format:      artifact.Format,
		ContentType: artifact.ContentType,
		Quality:     artifact.Quality,
		Bytes:       len(artifact.Data),
		Width:       artifact.Width,
		Height:      artifact.Height,
		Metadata:    artifact.Metadata,
	}
}
