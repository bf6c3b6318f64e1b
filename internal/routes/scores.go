package routes

import (
	"encoding/json"
	"log/slog"
	"motion-grid/internal/broadcast"
	"motion-grid/internal/pipeline"
	"net/http"
	"time"
)

type ScoresResponse struct {
	Sequence            uint64      `json:"sequence"`
	Timestamp           time.Time   `json:"timestamp"`
	GridSize            int         `json:"gridSize"`
	Scores              [][]float64 `json:"scores"`
	MaxScore            float64     `json:"maxScore"`
	ElapsedMicroSeconds int64       `json:"elapsedMicroSeconds"`
}

func newScoresResponse(result *pipeline.Result) ScoresResponse {
	return ScoresResponse{
		Sequence:            result.Sequence,
		Timestamp:           result.Timestamp,
		GridSize:            result.Scores.Size(),
		Scores:              result.Scores.Rows(),
		MaxScore:            result.Scores.Max(),
		ElapsedMicroSeconds: result.Elapsed.Microseconds(),
	}
}

// Scores serves the most recent live matrix.
func Scores(results *broadcast.Hub[*pipeline.Result]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, ok := results.Latest()
		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(newScoresResponse(result)); err != nil {
			slog.Error("Failed to encode response", "error", err)
		}
	}
}
