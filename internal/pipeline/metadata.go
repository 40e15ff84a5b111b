package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// ExtractMetadata reads EXIF tags from the raw container. It never fails: a
// corrupt block yields an empty map on the degraded branch, and an image that
// simply has no EXIF yields an empty map on the clean branch.
func ExtractMetadata(raw []byte) (result Recovered[MetadataMap]) {
	defer func() {
		if r := recover(); r != nil {
			result = degraded(MetadataMap{}, fmt.Errorf("exif decoder panic: %v", r))
		}
	}()

	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		if isMissingExif(err) {
			return clean(MetadataMap{})
		}
		return degraded(MetadataMap{}, fmt.Errorf("decode exif: %w", err))
	}

	collector := metadataCollector{out: MetadataMap{}}
	if err := x.Walk(&collector); err != nil {
		return degraded(MetadataMap{}, fmt.Errorf("walk exif: %w", err))
	}
	return clean(collector.out)
}

// isMissingExif separates "there is no APP1/EXIF block" from a block that is
// present but unreadable. goexif reports the former as EOF from its marker scan.
func isMissingExif(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	return strings.Contains(err.Error(), "failed to find exif intro marker")
}

type metadataCollector struct {
	out MetadataMap
}

func (c *metadataCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	if tag == nil {
		return nil
	}
	if v, ok := scalarTagValue(tag); ok {
		c.out[string(name)] = v
	}
	return nil
}

// scalarTagValue maps a tag onto string, int64 or float64. Multi-valued tags
// and anything without a scalar rendering are dropped, not coerced.
func scalarTagValue(tag *tiff.Tag) (any, bool) {
	switch tag.Format() {
	case tiff.StringVal:
		s, err := tag.StringVal()
		if err != nil {
			return nil, false
		}
		return strings.TrimRight(s, "\x00"), true
	case tiff.UndefVal:
		return lossyUTF8(tag.Val), true
	}

	if tag.Count != 1 {
		return nil, false
	}

	switch tag.Format() {
	case tiff.IntVal:
		v, err := tag.Int64(0)
		if err != nil {
			return nil, false
		}
		return v, true
	case tiff.FloatVal:
		v, err := tag.Float(0)
		if err != nil {
			return nil, false
		}
		return v, true
	case tiff.RatVal:
		num, den, err := tag.Rat2(0)
		if err != nil || den == 0 {
			return nil, false
		}
		return float64(num) / float64(den), true
	default:
		return nil, false
	}
}

func lossyUTF8(b []byte) string {
	b = bytes.TrimRight(b, "\x00")
	if utf8.Valid(b) {
		return string(b)
	}

	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r != utf8.RuneError || size > 1 {
			sb.WriteRune(r)
		}
		b = b[size:]
	}
	return sb.String()
}
