package detections

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Mapping describes how an original image was placed inside the square
// network input: a uniform scale followed by centered padding.
type Mapping struct {
	Size         int
	Scale        float64
	OffsetX      float64
	OffsetY      float64
	ScaledWidth  float64
	ScaledHeight float64
}

// LetterboxResult is the composed Size×Size RGBA canvas together with the
// mapping used to build it. Pixels are row-major, 4 bytes per pixel.
type LetterboxResult struct {
	Pixels []uint8
	Mapping
}

// NewMapping computes the letterbox geometry for a w×h image in a size×size
// square. The dimension that binds the scale fills the square exactly, so its
// offset is always zero.
func NewMapping(w, h, size int) (Mapping, error) {
	if w <= 0 || h <= 0 || size <= 0 {
		return Mapping{}, errors.Wrapf(ErrInvalidImageDimensions, "%dx%d into %d", w, h, size)
	}

	s := float64(size)
	sx := s / float64(w)
	sy := s / float64(h)

	m := Mapping{Size: size}
	if sx <= sy {
		m.Scale = sx
		m.ScaledWidth = s
		m.ScaledHeight = math.Min(s, float64(h)*sx)
	} else {
		m.Scale = sy
		m.ScaledWidth = math.Min(s, float64(w)*sy)
		m.ScaledHeight = s
	}
	m.OffsetX = (s - m.ScaledWidth) / 2
	m.OffsetY = (s - m.ScaledHeight) / 2
	return m, nil
}

// Forward maps an original-image point into letterbox space.
func (m Mapping) Forward(px, py float64) (float64, float64) {
	return px*m.Scale + m.OffsetX, py*m.Scale + m.OffsetY
}

// Inverse maps a letterbox-space point back to original-image coordinates.
func (m Mapping) Inverse(x, y float64) (float64, float64) {
	if m.Scale == 0 {
		return 0, 0
	}
	return (x - m.OffsetX) / m.Scale, (y - m.OffsetY) / m.Scale
}

// Letterbox scales img uniformly into a size×size gray canvas and centers it.
// The source image is not modified. Pixel placement is rounded to whole pixels;
// the returned mapping keeps the exact scale and offsets.
func Letterbox(img image.Image, size int) (*LetterboxResult, error) {
	bounds := img.Bounds()
	m, err := NewMapping(bounds.Dx(), bounds.Dy(), size)
	if err != nil {
		return nil, err
	}

	canvas := imaging.New(size, size, color.NRGBA{R: PadValue, G: PadValue, B: PadValue, A: 255})

	w := clampInt(int(math.Round(m.ScaledWidth)), 1, size)
	h := clampInt(int(math.Round(m.ScaledHeight)), 1, size)
	x := clampInt(int(math.Round(m.OffsetX)), 0, size-w)
	y := clampInt(int(math.Round(m.OffsetY)), 0, size-h)

	var scaled image.Image = img
	if w != bounds.Dx() || h != bounds.Dy() {
		scaled = imaging.Resize(img, w, h, imaging.Linear)
	}
	canvas = imaging.Overlay(canvas, scaled, image.Pt(x, y), 1.0)

	return &LetterboxResult{
		Pixels:  canvas.Pix,
		Mapping: m,
	}, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
