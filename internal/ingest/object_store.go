package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dunamismax/pixelvariants/internal/pipeline"
)

const (
	MetaOriginalKey = "original-key"
	MetaProcessedBy = "processed-by"
	MetaExifData    = "exif-data"

	ProcessedBy = "pixelvariants"

	maxExifMetadataBytes = 1024
)

type ObjectReader interface {
	ReadObject(ctx context.Context, bucket, key string) ([]byte, error)
}

type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, key string, data []byte, contentType string, userMetadata map[string]string) error
}

type ObjectStoreFetcher struct {
	Storage ObjectReader
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, src Source) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(src.Bucket) == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrInvalidSource)
	}
	return f.Storage.ReadObject(ctx, src.Bucket, src.Key)
}

// ObjectStoreEmitter writes artifacts under their own key into Bucket.
type ObjectStoreEmitter struct {
	Storage ObjectWriter
	Bucket  string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, src Source, artifact pipeline.Artifact) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(e.Bucket) == "" {
		return Output{}, errors.New("output bucket is required")
	}
	if strings.TrimSpace(artifact.Key) == "" {
		return Output{}, errors.New("artifact key is required")
	}

	meta := ArtifactUserMetadata(src.Key, artifact.Metadata)
	if err := e.Storage.WriteObject(ctx, e.Bucket, artifact.Key, artifact.Data, artifact.ContentType, meta); err != nil {
		return Output{}, err
	}
	return outputFor(artifact, e.Bucket+"/"+artifact.Key), nil
}

// ArtifactUserMetadata builds the object metadata stored next to each
// artifact. Header values must be ASCII, so the EXIF JSON is escaped and then
// cut to its size cap.
func ArtifactUserMetadata(originalKey string, metadata pipeline.MetadataMap) map[string]string {
	return map[string]string{
		MetaOriginalKey: asciiOnly(originalKey),
		MetaProcessedBy: ProcessedBy,
		MetaExifData:    exifJSON(metadata),
	}
}

func exifJSON(metadata pipeline.MetadataMap) string {
	if metadata == nil {
		metadata = pipeline.MetadataMap{}
	}
	body, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}

	return truncateEscaped(asciiOnly(string(body)), maxExifMetadataBytes)
}

// truncateEscaped cuts s to at most limit bytes without splitting a backslash
// escape such as \" or \u00e9.
func truncateEscaped(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := 0
	for i := 0; i < len(s); {
		n := 1
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'u':
				n = 6
			case 'U':
				n = 10
			default:
				n = 2
			}
		}
		if i+n > limit {
			break
		}
		i += n
		cut = i
	}
	return s[:cut]
}

func asciiOnly(in string) string {
	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r == utf8.RuneError:
			continue
		case r < 0x20 || r == 0x7f:
			continue
		case r < utf8.RuneSelf:
			b.WriteRune(r)
		default:
			quoted := strconv.QuoteRuneToASCII(r)
			b.WriteString(quoted[1 : len(quoted)-1])
		}
	}
	return b.String()
}
