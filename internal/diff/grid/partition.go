package grid

import (
	"image"

	"golang.org/x/xerrors"
)

// Cells partitions bounds into an n×n grid. The result is indexed [j][i] where i
// is the column and j the row. Every cell spans floor(W/n) by floor(H/n) pixels
// except the last column and row, which extend to the edge of bounds.
func Cells(bounds image.Rectangle, n int) ([][]image.Rectangle, error) {
	if n <= 0 {
		return nil, xerrors.Errorf("grid size %d: %w", n, ErrInvalidGridSize)
	}

	xs := edges(bounds.Min.X, bounds.Dx(), n)
	ys := edges(bounds.Min.Y, bounds.Dy(), n)

	cells := make([][]image.Rectangle, n)
	for j := 0; j < n; j++ {
		cells[j] = make([]image.Rectangle, n)
		for i := 0; i < n; i++ {
			cells[j][i] = image.Rectangle{
				Min: image.Point{X: xs[i], Y: ys[j]},
				Max: image.Point{X: xs[i+1], Y: ys[j+1]},
			}
		}
	}
	return cells, nil
}

func edges(origin int, length int, n int) []int {
	step := length / n
	e := make([]int, n+1)
	for k := 0; k < n; k++ {
		e[k] = origin + k*step
	}
	e[n] = origin + length
	return e
}

// indexTable maps every offset along an axis of the given length to its cell index.
func indexTable(length int, n int) []int {
	step := length / n
	table := make([]int, length)
	for offset := range table {
		if step == 0 {
			table[offset] = n - 1
			continue
		}
		table[offset] = min(offset/step, n-1)
	}
	return table
}
