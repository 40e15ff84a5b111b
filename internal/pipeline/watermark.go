package pipeline

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
)

const (
	watermarkPadding      = 20
	watermarkShadowOffset = 2
	watermarkMinFontSize  = 20
)

type WatermarkOptions struct {
	Enabled bool
	Text    string
	Opacity int
}

func watermarkOptions(cfg Config) WatermarkOptions {
	return WatermarkOptions{
		Enabled: cfg.WatermarkEnabled,
		Text:    cfg.WatermarkText,
		Opacity: cfg.WatermarkOpacity,
	}
}

// ApplyWatermark draws opts.Text in the bottom-right corner with a one-step
// drop shadow. The colours are blended onto the opaque canvas at
// opts.Opacity; the base has no alpha channel, so this approximates
// transparency rather than compositing a separate layer.
//
// The input is never modified. On any failure the input comes back on the
// degraded branch.
func ApplyWatermark(img *image.RGBA, opts WatermarkOptions, fonts FontLoader) (result Recovered[*image.RGBA]) {
	if !opts.Enabled || strings.TrimSpace(opts.Text) == "" {
		return clean(img)
	}
	if opts.Opacity < 0 || opts.Opacity > 255 {
		return degraded(img, fmt.Errorf("watermark opacity out of range: %d", opts.Opacity))
	}

	defer func() {
		if r := recover(); r != nil {
			result = degraded(img, fmt.Errorf("draw watermark: %v", r))
		}
	}()

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return degraded(img, errors.New("watermark on empty image"))
	}

	size := float64(max(watermarkMinFontSize, min(width, height)/20))
	face := loadFace(fonts, size)

	out := cloneRGBA(img)
	dc := gg.NewContextForRGBA(out)
	dc.SetFontFace(face)

	x, y := watermarkOrigin(face, opts.Text, width, height)

	alpha := opts.Opacity
	dc.SetRGBA255(0, 0, 0, alpha)
	dc.DrawString(opts.Text, x+watermarkShadowOffset, y+watermarkShadowOffset)
	dc.SetRGBA255(255, 255, 255, alpha)
	dc.DrawString(opts.Text, x, y)

	return clean(out)
}

// watermarkOrigin returns the baseline origin that puts the bottom-right corner
// of the inked text box watermarkPadding pixels inside the image corner.
// Descenders are part of the box.
func watermarkOrigin(face font.Face, text string, width, height int) (float64, float64) {
	ink, _ := font.BoundString(face, text)
	x := width - watermarkPadding - ink.Max.X.Ceil()
	y := height - watermarkPadding - ink.Max.Y.Ceil()
	return float64(x), float64(y)
}

func loadFace(fonts FontLoader, size float64) font.Face {
	if fonts == nil {
		return fallbackFace()
	}
	face, err := fonts.Load(size)
	if err != nil || face == nil {
		return fallbackFace()
	}
	return face
}
