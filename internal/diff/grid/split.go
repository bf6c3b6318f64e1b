package grid

import (
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/xerrors"
)

// Split cuts img into the same n×n cells Calculate scores, indexed [j][i].
// Each tile is an independent copy. Empty cells yield empty images.
func Split(img image.Image, n int) ([][]image.Image, error) {
	if err := Validate(img); err != nil {
		return nil, xerrors.Errorf("failed to validate image: %w", err)
	}

	cells, err := Cells(img.Bounds(), n)
	if err != nil {
		return nil, err
	}

	tiles := make([][]image.Image, n)
	for j, row := range cells {
		tiles[j] = make([]image.Image, n)
		for i, cell := range row {
			tiles[j][i] = imaging.Crop(img, cell)
		}
	}
	return tiles, nil
}
