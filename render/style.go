package render

import (
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// Style controls colors and stroke widths of the annotation.
type Style struct {
	Box       color.NRGBA
	Caption   color.NRGBA
	Highlight color.NRGBA
	Panel     color.NRGBA

	BoxWidth       int
	CrosshairWidth int
	PanelBorder    int
	BracketWidth   int
	BracketSize    int

	// Overlay enables the AR marker on the first detection.
	Overlay bool
	// Title is shown in the overlay panel; empty uses the detection's label.
	Title string
	// Phase drives the pulsing marker, in radians. Callers animating a
	// stream advance it per frame.
	Phase float64
}

func DefaultStyle() Style {
	return Style{
		Box:            color.NRGBA{R: 255, A: 255},
		Caption:        color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		Highlight:      color.NRGBA{G: 255, A: 255},
		Panel:          color.NRGBA{A: 204},
		BoxWidth:       3,
		CrosshairWidth: 3,
		PanelBorder:    2,
		BracketWidth:   4,
		BracketSize:    30,
		Overlay:        true,
	}
}

// ParseColor reads a "#rrggbb" hex string and applies alpha.
func ParseColor(hex string, alpha uint8) (color.NRGBA, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.NRGBA{}, errors.Wrapf(err, "parse color %q", hex)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: alpha}, nil
}
