package pipeline

import (
	"image"
	"image/draw"
	"math"
)

// Codec is the pixel capability the pipeline calls into. Quality 0 means the
// format takes no quality parameter. Implementations must not retain or
// mutate img.
type Codec interface {
	Encode(img image.Image, format Format, quality int) ([]byte, error)
	Resize(img image.Image, width, height int) image.Image
}

// NewCodec returns the codec selected at build time: libvips with the govips
// tag and cgo, the pure-Go codec otherwise.
func NewCodec() (Codec, error) {
	return newCodec()
}

func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
	return dst
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}

func fitWithin(width, height, bound int) (int, int, bool) {
	if width <= bound && height <= bound {
		return width, height, false
	}
	scale := min(float64(bound)/float64(width), float64(bound)/float64(height))
	w := max(1, roundInt(float64(width)*scale))
	h := max(1, roundInt(float64(height)*scale))
	return min(w, bound), min(h, bound), true
}

func roundInt(v float64) int {
	return int(math.Round(v))
}
