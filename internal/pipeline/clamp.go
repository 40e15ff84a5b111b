package pipeline

import (
	"fmt"
	"image"
)

// ClampDimensions downscales img so neither side exceeds maxDimension,
// preserving the aspect ratio to within a pixel. Images already inside the
// bound are returned as is.
func ClampDimensions(codec Codec, img *image.RGBA, maxDimension int) (*image.RGBA, error) {
	if maxDimension <= 0 {
		return nil, fmt.Errorf("%w: max dimension must be > 0", ErrInvalidConfig)
	}

	bounds := img.Bounds()
	width, height, resize := fitWithin(bounds.Dx(), bounds.Dy(), maxDimension)
	if !resize {
		return img, nil
	}

	return toRGBA(codec.Resize(img, width, height)), nil
}
