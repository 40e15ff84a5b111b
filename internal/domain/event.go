package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

var ErrInvalidEvent = errors.New("invalid storage event")

// StorageEvent is the S3 bucket notification envelope. Only the fields the
// pipeline needs are decoded.
type StorageEvent struct {
	Records []StorageRecord `json:"Records"`
}

type StorageRecord struct {
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		} `json:"object"`
	} `json:"s3"`
}

// ObjectRef names one stored object.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"object_key"`
}

func ParseStorageEvent(body []byte) (StorageEvent, error) {
	var event StorageEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return StorageEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if len(event.Records) == 0 {
		return StorageEvent{}, fmt.Errorf("%w: no records", ErrInvalidEvent)
	}
	return event, nil
}

// Objects returns the referenced objects in record order. Keys arrive
// form-encoded ("+" for space) and are decoded here. Records that point at
// skipBucket are dropped so artifacts written there never re-trigger the
// pipeline, and so are API uploads, which are processed synchronously.
func (e StorageEvent) Objects(skipBucket string) ([]ObjectRef, error) {
	out := make([]ObjectRef, 0, len(e.Records))
	for i, record := range e.Records {
		bucket := strings.TrimSpace(record.S3.Bucket.Name)
		if bucket == "" {
			return nil, fmt.Errorf("%w: Records[%d].s3.bucket.name is required", ErrInvalidEvent, i)
		}
		if skipBucket != "" && bucket == skipBucket {
			continue
		}

		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: Records[%d].s3.object.key: %v", ErrInvalidEvent, i, err)
		}
		key = NormalizeKey(key)
		if key == "" {
			return nil, fmt.Errorf("%w: Records[%d].s3.object.key is required", ErrInvalidEvent, i)
		}
		if strings.HasPrefix(path.Base(key), UploadKeyPrefix) {
			continue
		}
		out = append(out, ObjectRef{Bucket: bucket, Key: key})
	}
	return out, nil
}
