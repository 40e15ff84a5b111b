//go:build govips && cgo

package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsCodec struct{}

func (c govipsCodec) Encode(img image.Image, format Format, quality int) ([]byte, error) {
	ref, err := loadVipsImage(img)
	if err != nil {
		return nil, err
	}
	defer ref.Close()

	switch format {
	case FormatJPEG:
		params := vips.NewJpegExportParams()
		params.OptimizeCoding = true
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := ref.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case FormatPNG:
		params := vips.NewPngExportParams()
		params.Compression = 9
		data, _, err := ref.ExportPng(params)
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case FormatWEBP:
		params := vips.NewWebpExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		} else {
			params.Lossless = true
		}
		data, _, err := ref.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// Resize falls back to the pure-Go resampler when libvips rejects the input,
// since the Codec contract has no error return for resampling.
func (c govipsCodec) Resize(img image.Image, width, height int) image.Image {
	ref, err := loadVipsImage(img)
	if err != nil {
		return stdCodec{}.Resize(img, width, height)
	}
	defer ref.Close()

	hScale := float64(width) / float64(ref.Width())
	vScale := float64(height) / float64(ref.Height())
	if err := ref.ResizeWithVScale(hScale, vScale, vips.KernelLanczos3); err != nil {
		return stdCodec{}.Resize(img, width, height)
	}

	out, err := ref.ToImage(vips.NewDefaultPNGExportParams())
	if err != nil {
		return stdCodec{}.Resize(img, width, height)
	}
	return out
}

func loadVipsImage(img image.Image) (*vips.ImageRef, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.NoCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("stage image for libvips: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load image into libvips: %w", err)
	}
	return ref, nil
}
