package grid

import "errors"

var (
	// ErrInvalidImage is returned for nil, zero-area or malformed rasters.
	ErrInvalidImage = errors.New("invalid image")
	// ErrDimensionMismatch is returned when the compared images differ in width or height.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInvalidGridSize is returned when the grid size is not a positive integer.
	ErrInvalidGridSize = errors.New("invalid grid size")
)
