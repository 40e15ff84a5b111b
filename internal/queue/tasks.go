package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/pixelvariants/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeProcessImage = "image:process"

type ProcessImagePayload struct {
	Bucket      string    `json:"bucket"`
	ObjectKey   string    `json:"object_key"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewProcessImagePayload(ref domain.ObjectRef, now time.Time) ProcessImagePayload {
	return ProcessImagePayload{
		Bucket:      ref.Bucket,
		ObjectKey:   ref.Key,
		RequestedAt: now.UTC(),
	}
}

func (p ProcessImagePayload) Object() domain.ObjectRef {
	return domain.ObjectRef{Bucket: p.Bucket, Key: p.ObjectKey}
}

func (p ProcessImagePayload) Validate() error {
	if strings.TrimSpace(p.Bucket) == "" {
		return fmt.Errorf("bucket is required")
	}
	if strings.TrimSpace(p.ObjectKey) == "" {
		return fmt.Errorf("object_key is required")
	}
	return nil
}

func NewProcessImageTask(payload ProcessImagePayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid process payload: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessImage, body), nil
}

func ParseProcessImagePayload(task *asynq.Task) (ProcessImagePayload, error) {
	var payload ProcessImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessImagePayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return ProcessImagePayload{}, fmt.Errorf("invalid process payload: %w", err)
	}
	return payload, nil
}
