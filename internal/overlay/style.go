package overlay

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/xerrors"
)

type Style struct {
	// Low and High are blended in HCL space by score.
	Low    colorful.Color
	High   colorful.Color
	Border color.Color
	// MaxAlpha is the fill opacity of a cell scoring 1.
	MaxAlpha float64
	// Cells scoring at or below Threshold are left unfilled.
	Threshold float64
}

func DefaultStyle() Style {
	low, _ := colorful.Hex("#FFA500")
	high, _ := colorful.Hex("#FF4500")
	return Style{
		Low:       low,
		High:      high,
		Border:    color.NRGBA{R: 255, A: 160},
		MaxAlpha:  1,
		Threshold: 0,
	}
}

// ParseStyle builds a style from hex colors such as "#ffa500". An empty
// border disables cell borders.
func ParseStyle(low string, high string, border string) (Style, error) {
	style := DefaultStyle()

	var err error
	if style.Low, err = colorful.Hex(low); err != nil {
		return Style{}, xerrors.Errorf("failed to parse low color %q: %w", low, err)
	}
	if style.High, err = colorful.Hex(high); err != nil {
		return Style{}, xerrors.Errorf("failed to parse high color %q: %w", high, err)
	}

	if border == "" {
		style.Border = nil
		return style, nil
	}
	c, err := colorful.Hex(border)
	if err != nil {
		return Style{}, xerrors.Errorf("failed to parse border color %q: %w", border, err)
	}
	r, g, b := c.RGB255()
	style.Border = color.NRGBA{R: r, G: g, B: b, A: 160}
	return style, nil
}

// fill returns the color of a cell with the given score.
func (s Style) fill(score float64) color.NRGBA {
	r, g, b := s.Low.BlendHcl(s.High, score).Clamped().RGB255()
	alpha := min(max(score*s.MaxAlpha, 0), 1)
	return color.NRGBA{
		R: r,
		G: g,
		B: b,
		A: uint8(alpha*255 + 0.5),
	}
}
