package routes

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"motion-grid/internal/diff/grid"
	"motion-grid/internal/overlay"
	"net/http"
	"strconv"

	"github.com/disintegration/imaging"
	"golang.org/x/xerrors"
)

// DefaultMaxGridSize caps gridSize when DiffOptions.MaxGridSize is 0.
const DefaultMaxGridSize = 256

type DiffOptions struct {
	Metric   grid.Metric
	GridSize int
	// MaxGridSize bounds the gridSize a request may ask for, since the score
	// matrix is allocated before any pixel is read.
	MaxGridSize int
	// Threshold selects the cells reported in changedBounds.
	Threshold      float64
	Renderer       *overlay.Renderer
	MaxUploadBytes int64
}

type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type DiffResponse struct {
	GridSize      int         `json:"gridSize"`
	Scores        [][]float64 `json:"scores"`
	MaxScore      float64     `json:"maxScore"`
	ChangedBounds *Bounds     `json:"changedBounds"`
	OverlayData   string      `json:"overlayData,omitempty"`
}

// Diff compares the multipart files "previous" and "current". The optional
// fields gridSize, metric, threshold and overlay override the defaults.
func Diff(options DiffOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, options.MaxUploadBytes)
		if err := r.ParseMultipartForm(options.MaxUploadBytes); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		defer func() {
			_ = r.MultipartForm.RemoveAll()
		}()

		gridSize := options.GridSize
		if v := r.FormValue("gridSize"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid gridSize: %s", v), http.StatusBadRequest)
				return
			}
			gridSize = n
		}
		maxGridSize := options.MaxGridSize
		if maxGridSize <= 0 {
			maxGridSize = DefaultMaxGridSize
		}
		if gridSize > maxGridSize {
			http.Error(w, xerrors.Errorf("grid size %d exceeds %d: %w", gridSize, maxGridSize, grid.ErrInvalidGridSize).Error(), http.StatusUnprocessableEntity)
			return
		}

		metric := options.Metric
		if v := r.FormValue("metric"); v != "" {
			m, err := grid.ParseMetric(v)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			metric = m
		}

		threshold := options.Threshold
		if v := r.FormValue("threshold"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 || f > 1 {
				http.Error(w, fmt.Sprintf("invalid threshold: %s", v), http.StatusBadRequest)
				return
			}
			threshold = f
		}

		withOverlay := options.Renderer != nil
		if v := r.FormValue("overlay"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid overlay: %s", v), http.StatusBadRequest)
				return
			}
			withOverlay = b && options.Renderer != nil
		}

		previous, err := formImage(r.MultipartForm, "previous")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		current, err := formImage(r.MultipartForm, "current")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		scores, err := grid.NewGridDiff(metric).Calculate(previous, current, gridSize)
		if err != nil {
			if errors.Is(err, grid.ErrInvalidImage) || errors.Is(err, grid.ErrDimensionMismatch) || errors.Is(err, grid.ErrInvalidGridSize) {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			slog.Error(fmt.Sprintf("failed to calculate diff: %s", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		response := DiffResponse{
			GridSize: scores.Size(),
			Scores:   scores.Rows(),
			MaxScore: scores.Max(),
		}

		cells, err := grid.Cells(current.Bounds(), gridSize)
		if err != nil {
			slog.Error(fmt.Sprintf("failed to partition frame: %s", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if changed := scores.ChangedBounds(cells, threshold); !changed.Empty() {
			changed = changed.Sub(current.Bounds().Min)
			response.ChangedBounds = &Bounds{
				X:      changed.Min.X,
				Y:      changed.Min.Y,
				Width:  changed.Dx(),
				Height: changed.Dy(),
			}
		}

		if withOverlay {
			img, err := options.Renderer.Render(current, scores)
			if err != nil {
				slog.Error(fmt.Sprintf("failed to render overlay: %s", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			data, err := overlay.EncodePNG(img)
			if err != nil {
				slog.Error(fmt.Sprintf("failed to encode overlay: %s", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			response.OverlayData = base64.StdEncoding.EncodeToString(data)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			slog.Error("Failed to encode response", "error", err)
		}
	}
}

func formImage(form *multipart.Form, name string) (image.Image, error) {
	files := form.File[name]
	if len(files) == 0 {
		return nil, xerrors.Errorf("%s not specified", name)
	}

	f, err := files[0].Open()
	if err != nil {
		return nil, xerrors.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", name, err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, xerrors.Errorf("failed to decode %s: %w", name, err)
	}
	return img, nil
}
