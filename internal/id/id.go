package id

import (
	"strings"

	"github.com/google/uuid"
)

const suffixLength = 8

func New() string {
	return uuid.NewString()
}

// Suffix yields short random tokens used to keep artifact keys unique across
// runs of the same source.
type Suffix struct{}

func (Suffix) NewSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLength]
}

// Fixed always returns the same token. Useful for reproducible keys.
type Fixed string

func (f Fixed) NewSuffix() string {
	return string(f)
}
