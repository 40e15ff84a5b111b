package pipeline

import (
	"fmt"
	"image"
)

// DeriveThumbnail fits img inside a bound x bound box and encodes it as JPEG.
// Images already inside the box are encoded at their own size.
func DeriveThumbnail(codec Codec, img *image.RGBA, bound int) (Artifact, error) {
	if bound <= 0 {
		return Artifact{}, fmt.Errorf("%w: thumbnail bound must be > 0", ErrInvalidConfig)
	}
	if codec == nil {
		return Artifact{}, fmt.Errorf("%w: codec is required", ErrInvalidConfig)
	}

	var thumb image.Image = img
	bounds := img.Bounds()
	if width, height, resize := fitWithin(bounds.Dx(), bounds.Dy(), bound); resize {
		thumb = codec.Resize(img, width, height)
	}

	return encodeOne(codec, thumb, VariantSpec{
		Format:  FormatJPEG,
		Quality: ThumbnailQuality,
		Label:   ThumbnailLabel,
	})
}
