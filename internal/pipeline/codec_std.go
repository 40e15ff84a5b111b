package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// stdCodec encodes with imaging and chai2010/webp and resamples with
// imaging's Lanczos filter. Go's JPEG encoder has no Huffman optimisation
// pass, so the optimise hint only affects PNG (best compression).
type stdCodec struct{}

func (stdCodec) Encode(img image.Image, format Format, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case FormatJPEG:
		if quality <= 0 || quality > 100 {
			quality = 75
		}
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case FormatPNG:
		encoder := png.Encoder{CompressionLevel: png.BestCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case FormatWEBP:
		opts := &webp.Options{Quality: float32(quality)}
		if quality <= 0 {
			opts.Lossless = true
		}
		if err := webp.Encode(&buf, img, opts); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	return buf.Bytes(), nil
}

func (stdCodec) Resize(img image.Image, width, height int) image.Image {
	return imaging.Resize(img, width, height, imaging.Lanczos)
}
