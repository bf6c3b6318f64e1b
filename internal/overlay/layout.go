package overlay

import (
	"image"
	"motion-grid/internal/diff/grid"

	"golang.org/x/xerrors"
)

// Layout is the on-screen region of every grid cell, computed once per view
// size. Regions are indexed [j][i] like the score matrix, so a score and its
// region are always looked up with the same (i, j).
type Layout struct {
	size    int
	bounds  image.Rectangle
	regions [][]image.Rectangle
}

// NewLayout splits a width×height view the same way the differ splits frames.
// With flipY row 0 is drawn at the bottom of the view.
func NewLayout(gridSize int, width int, height int, flipY bool) (*Layout, error) {
	if width <= 0 || height <= 0 {
		return nil, xerrors.Errorf("invalid view size %dx%d", width, height)
	}

	bounds := image.Rect(0, 0, width, height)
	cells, err := grid.Cells(bounds, gridSize)
	if err != nil {
		return nil, err
	}

	regions := make([][]image.Rectangle, gridSize)
	for j := range regions {
		row := j
		if flipY {
			row = gridSize - 1 - j
		}
		regions[j] = cells[row]
	}

	return &Layout{
		size:    gridSize,
		bounds:  bounds,
		regions: regions,
	}, nil
}

func (l *Layout) Size() int {
	return l.size
}

func (l *Layout) Bounds() image.Rectangle {
	return l.bounds
}

// Region returns where cell (i, j) is drawn.
func (l *Layout) Region(i int, j int) image.Rectangle {
	return l.regions[j][i]
}
