package pipeline

import (
	"image"
	"image/color"
	"image/draw"
)

// Normalize converts any decoded image into an opaque *image.RGBA, the
// representation every encoder accepts. Transparent and palette images are
// composited over white using their own alpha as the mask; other colour
// models are converted directly. An opaque *image.RGBA passes through.
func Normalize(src image.Image) *image.RGBA {
	mode := pixelModeOf(src)

	if rgba, ok := src.(*image.RGBA); ok && mode == ModeRGB && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	if mode.HasTransparency() || mode == ModeOther {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
		return dst
	}

	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
	return dst
}
