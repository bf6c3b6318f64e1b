package grid_test

import (
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"motion-grid/internal/diff/grid"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCells(t *testing.T) {
	t.Parallel()

	t.Run("Completeness", func(t *testing.T) {
		t.Parallel()

		for _, size := range []image.Rectangle{
			image.Rect(0, 0, 10, 10),
			image.Rect(0, 0, 10, 7),
			image.Rect(3, 5, 104, 66),
			image.Rect(0, 0, 2, 3),
		} {
			for n := 1; n <= 6; n++ {
				cells, err := grid.Cells(size, n)
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}

				covered := make(map[image.Point]int)
				for _, row := range cells {
					for _, cell := range row {
						for y := cell.Min.Y; y < cell.Max.Y; y++ {
							for x := cell.Min.X; x < cell.Max.X; x++ {
								covered[image.Point{X: x, Y: y}]++
							}
						}
					}
				}

				if len(covered) != size.Dx()*size.Dy() {
					t.Errorf("Expected %v with n=%d to cover %d pixels, got %d", size, n, size.Dx()*size.Dy(), len(covered))
				}
				for p, count := range covered {
					if !p.In(size) {
						t.Errorf("Expected %v to lie inside %v", p, size)
					}
					if count != 1 {
						t.Errorf("Expected %v to be covered once, got %d", p, count)
					}
				}
			}
		}
	})

	t.Run("RemainderGoesToLastCell", func(t *testing.T) {
		t.Parallel()

		cells, err := grid.Cells(image.Rect(0, 0, 10, 7), 3)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		want := [][]image.Rectangle{
			{image.Rect(0, 0, 3, 2), image.Rect(3, 0, 6, 2), image.Rect(6, 0, 10, 2)},
			{image.Rect(0, 2, 3, 4), image.Rect(3, 2, 6, 4), image.Rect(6, 2, 10, 4)},
			{image.Rect(0, 4, 3, 7), image.Rect(3, 4, 6, 7), image.Rect(6, 4, 10, 7)},
		}
		if diff := cmp.Diff(want, cells); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("InvalidGridSize", func(t *testing.T) {
		t.Parallel()

		for _, n := range []int{0, -3} {
			if _, err := grid.Cells(image.Rect(0, 0, 10, 10), n); !errors.Is(err, grid.ErrInvalidGridSize) {
				t.Errorf("Expected ErrInvalidGridSize for %d, got %v", n, err)
			}
		}
	})
}

func TestSplit(t *testing.T) {
	t.Parallel()

	img := createTestImage(10, 7, color.White)
	tiles, err := grid.Split(img, 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	cells, err := grid.Cells(img.Bounds(), 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for j := range cells {
		for i := range cells[j] {
			got := tiles[j][i].Bounds().Size()
			if want := cells[j][i].Size(); got != want {
				t.Errorf("Expected tile (%d, %d) to be %v, got %v", i, j, want, got)
			}
		}
	}

	if _, err := grid.Split(nil, 3); !errors.Is(err, grid.ErrInvalidImage) {
		t.Errorf("Expected ErrInvalidImage, got %v", err)
	}
}

func TestScoreMatrix(t *testing.T) {
	t.Parallel()

	m, err := grid.FromRows([][]float64{
		{0, 0.25, 0},
		{0, 0, 0.75},
		{1.5, 0, -1},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	t.Run("Clamped", func(t *testing.T) {
		t.Parallel()

		if m.At(0, 2) != 1 {
			t.Errorf("Expected At(0, 2) to be 1, got %f", m.At(0, 2))
		}
		if m.At(2, 2) != 0 {
			t.Errorf("Expected At(2, 2) to be 0, got %f", m.At(2, 2))
		}
		if m.Max() != 1 {
			t.Errorf("Expected Max to be 1, got %f", m.Max())
		}
		if got, want := m.Mean(), 2.0/9.0; got != want {
			t.Errorf("Expected Mean to be %f, got %f", want, got)
		}
	})

	t.Run("ChangedBounds", func(t *testing.T) {
		t.Parallel()

		cells, err := grid.Cells(image.Rect(0, 0, 30, 30), 3)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got, want := m.ChangedBounds(cells, 0.5), image.Rect(0, 10, 30, 30); got != want {
			t.Errorf("Expected %v, got %v", want, got)
		}
		if got := m.ChangedBounds(cells, 1); !got.Empty() {
			t.Errorf("Expected empty rectangle, got %v", got)
		}
	})

	t.Run("JSON", func(t *testing.T) {
		t.Parallel()

		data, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		want := `{"gridSize":3,"scores":[[0,0.25,0],[0,0,0.75],[1,0,0]]}`
		if string(data) != want {
			t.Errorf("Expected %s, got %s", want, data)
		}

		var decoded grid.ScoreMatrix
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if diff := cmp.Diff(m.Rows(), decoded.Rows()); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}

		if err := json.Unmarshal([]byte(`{"gridSize":2,"scores":[[0]]}`), &decoded); !errors.Is(err, grid.ErrInvalidGridSize) {
			t.Errorf("Expected ErrInvalidGridSize, got %v", err)
		}
	})

	t.Run("RowsIsACopy", func(t *testing.T) {
		t.Parallel()

		rows := m.Rows()
		rows[0][1] = 0.9
		if m.At(1, 0) != 0.25 {
			t.Errorf("Expected At(1, 0) to stay 0.25, got %f", m.At(1, 0))
		}
	})

	t.Run("RaggedRows", func(t *testing.T) {
		t.Parallel()

		if _, err := grid.FromRows([][]float64{{0, 0}, {0}}); !errors.Is(err, grid.ErrInvalidGridSize) {
			t.Errorf("Expected ErrInvalidGridSize, got %v", err)
		}
	})
}

func TestParseMetric(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]grid.Metric{
		"":              grid.MeanAbsolute,
		"mean-absolute": grid.MeanAbsolute,
		"luma":          grid.Luma,
	} {
		got, err := grid.ParseMetric(in)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("Expected %v for %q, got %v", want, in, got)
		}
	}

	if _, err := grid.ParseMetric("ssim"); err == nil {
		t.Errorf("Expected error for unknown metric")
	}
}
