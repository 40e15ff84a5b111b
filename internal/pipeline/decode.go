package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type PixelMode string

const (
	ModeRGB       PixelMode = "rgb"
	ModeRGBA      PixelMode = "rgba"
	ModePalette   PixelMode = "palette"
	ModeGray      PixelMode = "gray"
	ModeGrayAlpha PixelMode = "gray_alpha"
	ModeCMYK      PixelMode = "cmyk"
	ModeOther     PixelMode = "other"
)

// HasTransparency reports whether the mode can carry per-pixel alpha.
func (m PixelMode) HasTransparency() bool {
	switch m {
	case ModeRGBA, ModePalette, ModeGrayAlpha:
		return true
	default:
		return false
	}
}

// SourceImage is the decoded input. Raw keeps the container bytes for the
// metadata extractor; Image is never mutated by later steps.
type SourceImage struct {
	Image  image.Image
	Format string
	Width  int
	Height int
	Mode   PixelMode
	Raw    []byte
}

func Decode(raw []byte) (SourceImage, error) {
	if len(raw) == 0 {
		return SourceImage{}, fmt.Errorf("%w: empty input", ErrDecode)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return SourceImage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return SourceImage{}, fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecode, bounds.Dx(), bounds.Dy())
	}

	return SourceImage{
		Image:  img,
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Mode:   pixelModeOf(img),
		Raw:    raw,
	}, nil
}

func pixelModeOf(img image.Image) PixelMode {
	switch img.(type) {
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64:
		if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
			return ModeRGB
		}
		return ModeRGBA
	case *image.Paletted:
		return ModePalette
	case *image.Gray, *image.Gray16:
		return ModeGray
	case *image.CMYK:
		return ModeCMYK
	case *image.YCbCr:
		return ModeRGB
	case *image.NYCbCrA:
		return ModeRGBA
	}

	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		return ModeGray
	case color.RGBAModel, color.NRGBAModel, color.RGBA64Model, color.NRGBA64Model:
		return ModeRGBA
	case color.CMYKModel:
		return ModeCMYK
	case color.YCbCrModel:
		return ModeRGB
	}
	return ModeOther
}
