package domain

import (
	"errors"
	"testing"
)

const sampleEvent = `{
  "Records": [
    {"eventName": "ObjectCreated:Put", "s3": {"bucket": {"name": "uploads"}, "object": {"key": "holiday/my+photo%281%29.jpg", "size": 1024}}},
    {"eventName": "ObjectCreated:Put", "s3": {"bucket": {"name": "processed"}, "object": {"key": "holiday/my_photo_low_abc.jpg"}}},
    {"eventName": "ObjectCreated:Put", "s3": {"bucket": {"name": "uploads"}, "object": {"key": "api-upload-1234.jpg"}}},
    {"eventName": "ObjectCreated:Put", "s3": {"bucket": {"name": "uploads"}, "object": {"key": "/b.png"}}}
  ]
}`

func TestStorageEventObjects(t *testing.T) {
	event, err := ParseStorageEvent([]byte(sampleEvent))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	objects, err := event.Objects("processed")
	if err != nil {
		t.Fatalf("objects: %v", err)
	}

	want := []ObjectRef{
		{Bucket: "uploads", Key: "holiday/my photo(1).jpg"},
		{Bucket: "uploads", Key: "b.png"},
	}
	if len(objects) != len(want) {
		t.Fatalf("expected %d objects, got %+v", len(want), objects)
	}
	for i := range want {
		if objects[i] != want[i] {
			t.Fatalf("object %d: expected %+v, got %+v", i, want[i], objects[i])
		}
	}
}

func TestStorageEventInvalid(t *testing.T) {
	cases := map[string]string{
		"not json":     `{`,
		"no records":   `{"Records": []}`,
		"no bucket":    `{"Records": [{"s3": {"object": {"key": "a.jpg"}}}]}`,
		"no key":       `{"Records": [{"s3": {"bucket": {"name": "b"}}}]}`,
		"bad escaping": `{"Records": [{"s3": {"bucket": {"name": "b"}, "object": {"key": "%zz"}}}]}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			event, err := ParseStorageEvent([]byte(body))
			if err == nil {
				_, err = event.Objects("")
			}
			if !errors.Is(err, ErrInvalidEvent) {
				t.Fatalf("expected ErrInvalidEvent, got %v", err)
			}
		})
	}
}
