package pipeline

import (
	"context"
	"fmt"
	"image"

	"golang.org/x/sync/errgroup"
)

// EncodeVariants encodes img once per entry in specs. Encodes run concurrently
// over the same image and the result keeps the input order. The first failure
// cancels the rest and is returned wrapped in ErrEncode. Returned artifacts
// carry no key.
func EncodeVariants(ctx context.Context, codec Codec, img *image.RGBA, specs []VariantSpec) ([]Artifact, error) {
	if codec == nil {
		return nil, fmt.Errorf("%w: codec is required", ErrInvalidConfig)
	}

	out := make([]Artifact, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			artifact, err := encodeOne(codec, img, spec)
			if err != nil {
				return err
			}
			out[i] = artifact
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeOne(codec Codec, img image.Image, spec VariantSpec) (Artifact, error) {
	data, err := codec.Encode(img, spec.Format, spec.Quality)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w %s (%s): %w", ErrEncode, spec.Label, spec.Format, err)
	}

	bounds := img.Bounds()
	return Artifact{
		Label:       spec.Label,
		Data:        data,
		ContentType: spec.Format.ContentType(),
		Format:      spec.Format,
		Quality:     spec.Quality,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, nil
}
