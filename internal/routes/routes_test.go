package routes_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"mime"
	"mime/multipart"
	"motion-grid/internal/broadcast"
	"motion-grid/internal/diff/grid"
	"motion-grid/internal/overlay"
	"motion-grid/internal/pipeline"
	"motion-grid/internal/routes"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return buffer.Bytes()
}

func newDiffRequest(t *testing.T, files map[string][]byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := mw.CreateFormFile(name, name+".png")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/diff", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func TestDiff(t *testing.T) {
	t.Parallel()

	black := createTestImage(20, 20, color.Black)
	changed := createTestImage(20, 20, color.Black)
	draw.Draw(changed, image.Rect(10, 0, 20, 10), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	handler := routes.Diff(routes.DiffOptions{
		Metric:         grid.MeanAbsolute,
		GridSize:       2,
		MaxGridSize:    8,
		Threshold:      0.5,
		Renderer:       overlay.NewRenderer(overlay.DefaultStyle(), 0, 0, false),
		MaxUploadBytes: 1 << 20,
	})

	t.Run("Scores", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		handler(w, newDiffRequest(t, map[string][]byte{
			"previous": encodePNG(t, black),
			"current":  encodePNG(t, changed),
		}, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
		}

		var got routes.DiffResponse
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got.OverlayData == "" {
			t.Errorf("Expected overlay data")
		}
		data, err := base64.StdEncoding.DecodeString(got.OverlayData)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got, want := img.Bounds().Size(), image.Pt(20, 20); got != want {
			t.Errorf("Expected overlay size %v, got %v", want, got)
		}

		got.OverlayData = ""
		want := routes.DiffResponse{
			GridSize:      2,
			Scores:        [][]float64{{0, 1}, {0, 0}},
			MaxScore:      1,
			ChangedBounds: &routes.Bounds{X: 10, Y: 0, Width: 10, Height: 10},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		handler(w, newDiffRequest(t, map[string][]byte{
			"previous": encodePNG(t, black),
			"current":  encodePNG(t, black),
		}, map[string]string{
			"gridSize": "4",
			"metric":   "luma",
			"overlay":  "false",
		}))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
		}

		var got routes.DiffResponse
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got.GridSize != 4 || len(got.Scores) != 4 {
			t.Errorf("Expected a 4x4 matrix, got %v", got.Scores)
		}
		if got.OverlayData != "" {
			t.Errorf("Expected no overlay data")
		}
		if got.ChangedBounds != nil {
			t.Errorf("Expected no changed bounds, got %v", got.ChangedBounds)
		}
	})

	tests := []struct {
		name   string
		files  map[string][]byte
		fields map[string]string
		want   int
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			map[string][]byte{"previous": encodePNG(t, createTestImage(10, 10, color.Black)), "current": encodePNG(t, createTestImage(20, 20, color.Black))},
			map[string]string{"gridSize": "4"},
			http.StatusUnprocessableEntity,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			map[string][]byte{"previous": encodePNG(t, black), "current": encodePNG(t, black)},
			map[string]string{"gridSize": "0"},
			http.StatusUnprocessableEntity,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			map[string][]byte{"previous": encodePNG(t, black), "current": encodePNG(t, black)},
			map[string]string{"gridSize": "-3"},
			http.StatusUnprocessableEntity,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			map[string][]byte{"previous": encodePNG(t, createTestImage(2, 2, color.Black)), "current": encodePNG(t, createTestImage(2, 2, color.White))},
			map[string]string{"gridSize": "200000"},
			http.StatusUnprocessableEntity,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			map[string][]byte{"previous": encodePNG(t, black), "current": encodePNG(t, black)},
			map[string]string{"gridSize": "9"},
			http.StatusUnprocessableEntity,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			map[string][]byte{"previous": encodePNG(t, black)},
			nil,
			http.StatusBadRequest,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			map[string][]byte{"previous": encodePNG(t, black), "current": []byte("not an image")},
			nil,
			http.StatusBadRequest,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			map[string][]byte{"previous": encodePNG(t, black), "current": encodePNG(t, black)},
			map[string]string{"gridSize": "four"},
			http.StatusBadRequest,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			map[string][]byte{"previous": encodePNG(t, black), "current": encodePNG(t, black)},
			map[string]string{"metric": "ssim"},
			http.StatusBadRequest,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			map[string][]byte{"previous": encodePNG(t, black), "current": encodePNG(t, black)},
			map[string]string{"threshold": "2"},
			http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			handler(w, newDiffRequest(t, tt.files, tt.fields))
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	t.Run("NotMultipart", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest(http.MethodPost, "/diff", strings.NewReader("{}")))
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected %d, got %d", http.StatusBadRequest, w.Code)
		}
	})
}

func newResult(t *testing.T, sequence uint64, rows [][]float64) *pipeline.Result {
	t.Helper()

	scores, err := grid.FromRows(rows)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return &pipeline.Result{
		Sequence:  sequence,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Frame:     createTestImage(4, 4, color.Black),
		Scores:    scores,
		Elapsed:   1500 * time.Microsecond,
	}
}

func TestScores(t *testing.T) {
	t.Parallel()

	results := broadcast.NewHub[*pipeline.Result]()
	handler := routes.Scores(results)

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/scores", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected %d before the first result, got %d", http.StatusNotFound, w.Code)
	}

	results.Publish(newResult(t, 7, [][]float64{{0, 0.5}, {0.25, 0}}))

	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/scores", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected %d, got %d", http.StatusOK, w.Code)
	}

	var got routes.ScoresResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := routes.ScoresResponse{
		Sequence:            7,
		Timestamp:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		GridSize:            2,
		Scores:              [][]float64{{0, 0.5}, {0.25, 0}},
		MaxScore:            0.5,
		ElapsedMicroSeconds: 1500,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

// publishWhenSubscribed waits for a handler to subscribe before publishing,
// since a hub without subscribers only keeps the latest value.
func publishWhenSubscribed[T any](ctx context.Context, hub *broadcast.Hub[T], values ...T) {
	for hub.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}
	for _, v := range values {
		hub.Publish(v)
		time.Sleep(50 * time.Millisecond)
	}
}

func TestStream(t *testing.T) {
	t.Parallel()

	frames := broadcast.NewHub[[]byte]()
	server := httptest.NewServer(routes.Stream(frames))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go publishWhenSubscribed(ctx, frames, []byte("first"), []byte("second"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if mediaType != "multipart/x-mixed-replace" {
		t.Fatalf("Expected multipart/x-mixed-replace, got %s", mediaType)
	}

	reader := multipart.NewReader(resp.Body, params["boundary"])
	var got []string
	for len(got) < 2 {
		part, err := reader.NextPart()
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if part.Header.Get("Content-Type") != "image/jpeg" {
			t.Errorf("Expected image/jpeg, got %s", part.Header.Get("Content-Type"))
		}
		data, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		got = append(got, string(data))
	}

	if diff := cmp.Diff([]string{"first", "second"}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestScoresWebSocket(t *testing.T) {
	t.Parallel()

	results := broadcast.NewHub[*pipeline.Result]()
	server := httptest.NewServer(routes.ScoresWebSocket(results))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go publishWhenSubscribed(ctx, results, newResult(t, 1, [][]float64{{1}}), newResult(t, 2, [][]float64{{0.5}}))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got []uint64
	for len(got) < 2 {
		var response routes.ScoresResponse
		if err := conn.ReadJSON(&response); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		got = append(got, response.Sequence)
	}

	if diff := cmp.Diff([]uint64{1, 2}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
