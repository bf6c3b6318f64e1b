package overlay

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"motion-grid/internal/diff/grid"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/xerrors"
)

type Renderer struct {
	style  Style
	width  int
	height int
	flipY  bool

	lock   sync.Mutex
	layout *Layout
}

// NewRenderer draws overlays at width×height. A zero size keeps the size of
// the rendered frame.
func NewRenderer(style Style, width int, height int, flipY bool) *Renderer {
	return &Renderer{
		style:  style,
		width:  width,
		height: height,
		flipY:  flipY,
	}
}

func (r *Renderer) layoutFor(gridSize int, width int, height int) (*Layout, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.layout != nil && r.layout.Size() == gridSize && r.layout.Bounds().Dx() == width && r.layout.Bounds().Dy() == height {
		return r.layout, nil
	}
	layout, err := NewLayout(gridSize, width, height, r.flipY)
	if err != nil {
		return nil, err
	}
	r.layout = layout
	return layout, nil
}

// Render scales frame to the view and paints every cell with its score.
func (r *Renderer) Render(frame image.Image, scores *grid.ScoreMatrix) (*image.RGBA, error) {
	if err := grid.Validate(frame); err != nil {
		return nil, xerrors.Errorf("failed to validate frame: %w", err)
	}
	if scores == nil {
		return nil, xerrors.New("scores are nil")
	}

	width, height := r.width, r.height
	if width <= 0 || height <= 0 {
		width, height = frame.Bounds().Dx(), frame.Bounds().Dy()
	}
	layout, err := r.layoutFor(scores.Size(), width, height)
	if err != nil {
		return nil, err
	}

	dst := image.NewRGBA(layout.Bounds())
	if frame.Bounds().Size() == dst.Bounds().Size() {
		draw.Draw(dst, dst.Bounds(), frame, frame.Bounds().Min, draw.Src)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), frame, frame.Bounds(), draw.Src, nil)
	}

	n := scores.Size()
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			region := layout.Region(i, j)
			if region.Empty() {
				continue
			}

			if score := scores.At(i, j); score > r.style.Threshold {
				draw.Draw(dst, region, image.NewUniform(r.style.fill(score)), image.Point{}, draw.Over)
			}
			if r.style.Border != nil {
				border := image.NewUniform(r.style.Border)
				for _, edge := range edges(region) {
					draw.Draw(dst, edge, border, image.Point{}, draw.Over)
				}
			}
		}
	}

	return dst, nil
}

// edges returns the 1px outline of rect without overlapping corners.
func edges(rect image.Rectangle) []image.Rectangle {
	if rect.Dx() <= 2 || rect.Dy() <= 2 {
		return []image.Rectangle{rect}
	}
	return []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+1),
		image.Rect(rect.Min.X, rect.Max.Y-1, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y+1, rect.Min.X+1, rect.Max.Y-1),
		image.Rect(rect.Max.X-1, rect.Min.Y+1, rect.Max.X, rect.Max.Y-1),
	}
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, xerrors.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, xerrors.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
