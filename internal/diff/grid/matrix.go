package grid

import (
	"encoding/json"
	"image"

	"golang.org/x/xerrors"
)

// ScoreMatrix holds one normalized score in [0, 1] per grid cell.
// Scores are stored row-major; At takes the column first.
type ScoreMatrix struct {
	size   int
	scores []float64
}

func newScoreMatrix(n int) *ScoreMatrix {
	return &ScoreMatrix{
		size:   n,
		scores: make([]float64, n*n),
	}
}

// FromRows builds a matrix from rows indexed [j][i].
func FromRows(rows [][]float64) (*ScoreMatrix, error) {
	n := len(rows)
	if n == 0 {
		return nil, xerrors.Errorf("empty matrix: %w", ErrInvalidGridSize)
	}

	m := newScoreMatrix(n)
	for j, row := range rows {
		if len(row) != n {
			return nil, xerrors.Errorf("row %d has %d cells, want %d: %w", j, len(row), n, ErrInvalidGridSize)
		}
		for i, v := range row {
			m.scores[j*n+i] = clamp(v)
		}
	}
	return m, nil
}

func (m *ScoreMatrix) Size() int {
	return m.size
}

// At returns the score of the cell in column i and row j.
func (m *ScoreMatrix) At(i int, j int) float64 {
	if i < 0 || i >= m.size || j < 0 || j >= m.size {
		panic(xerrors.Errorf("cell (%d, %d) out of range for %dx%d grid", i, j, m.size, m.size))
	}
	return m.scores[j*m.size+i]
}

func (m *ScoreMatrix) set(i int, j int, v float64) {
	m.scores[j*m.size+i] = v
}

// Rows returns a copy of the scores indexed [j][i].
func (m *ScoreMatrix) Rows() [][]float64 {
	rows := make([][]float64, m.size)
	for j := range rows {
		rows[j] = make([]float64, m.size)
		copy(rows[j], m.scores[j*m.size:(j+1)*m.size])
	}
	return rows
}

func (m *ScoreMatrix) Max() float64 {
	result := 0.0
	for _, v := range m.scores {
		if v > result {
			result = v
		}
	}
	return result
}

func (m *ScoreMatrix) Mean() float64 {
	if len(m.scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range m.scores {
		sum += v
	}
	return sum / float64(len(m.scores))
}

// ChangedBounds returns the smallest rectangle covering every cell whose score
// exceeds threshold. cells must come from Cells with the same grid size.
// The zero rectangle is returned when no cell qualifies.
func (m *ScoreMatrix) ChangedBounds(cells [][]image.Rectangle, threshold float64) image.Rectangle {
	var bounds image.Rectangle
	for j := 0; j < m.size && j < len(cells); j++ {
		for i := 0; i < m.size && i < len(cells[j]); i++ {
			if m.At(i, j) > threshold {
				bounds = bounds.Union(cells[j][i])
			}
		}
	}
	return bounds
}

type scoreMatrixJSON struct {
	GridSize int         `json:"gridSize"`
	Scores   [][]float64 `json:"scores"`
}

func (m *ScoreMatrix) MarshalJSON() ([]byte, error) {
	return json.Marshal(scoreMatrixJSON{
		GridSize: m.size,
		Scores:   m.Rows(),
	})
}

func (m *ScoreMatrix) UnmarshalJSON(data []byte) error {
	var v scoreMatrixJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.GridSize != len(v.Scores) {
		return xerrors.Errorf("gridSize %d does not match %d rows: %w", v.GridSize, len(v.Scores), ErrInvalidGridSize)
	}
	parsed, err := FromRows(v.Scores)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

func clamp(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
