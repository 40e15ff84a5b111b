package pipeline

import (
	"errors"
	"fmt"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

const DefaultFontPath = "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf"

type FontLoader interface {
	Load(size float64) (font.Face, error)
}

// TrueTypeFontLoader tries each path in order and returns the first face that
// parses.
type TrueTypeFontLoader struct {
	Paths []string
}

func NewTrueTypeFontLoader(paths ...string) TrueTypeFontLoader {
	if len(paths) == 0 {
		paths = []string{DefaultFontPath}
	}
	return TrueTypeFontLoader{Paths: paths}
}

func (l TrueTypeFontLoader) Load(size float64) (font.Face, error) {
	if len(l.Paths) == 0 {
		return nil, errors.New("no font paths configured")
	}

	var lastErr error
	for _, path := range l.Paths {
		face, err := gg.LoadFontFace(path, size)
		if err == nil {
			return face, nil
		}
		lastErr = fmt.Errorf("load font %s: %w", path, err)
	}
	return nil, lastErr
}

// fallbackFace is the built-in bitmap font used when no TrueType face loads.
func fallbackFace() font.Face {
	return basicfont.Face7x13
}
