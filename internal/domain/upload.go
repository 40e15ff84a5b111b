package domain

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidUpload = errors.New("invalid upload")

const UploadKeyPrefix = "api-upload-"

// UploadRequest is the JSON form of an API upload.
type UploadRequest struct {
	Image string `json:"image"`
}

// Decode returns the raw image bytes. A data URL prefix is tolerated.
func (r UploadRequest) Decode() ([]byte, error) {
	payload := strings.TrimSpace(r.Image)
	if payload == "" {
		return nil, fmt.Errorf("%w: image is required", ErrInvalidUpload)
	}
	if strings.HasPrefix(payload, "data:") {
		if _, rest, ok := strings.Cut(payload, ","); ok {
			payload = rest
		}
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: image is not valid base64: %v", ErrInvalidUpload, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: image is empty", ErrInvalidUpload)
	}
	return raw, nil
}

// UploadKey names an API upload. The extension is always .jpg regardless of
// the actual container.
func UploadKey(id string) string {
	return UploadKeyPrefix + id + ".jpg"
}
