package overlay

import (
	"context"
	"motion-grid/internal/broadcast"
	"motion-grid/internal/pipeline"

	"github.com/go-logr/logr"
)

// Streamer turns published results into encoded overlay frames for viewers.
type Streamer struct {
	Results  *broadcast.Hub[*pipeline.Result]
	Frames   *broadcast.Hub[[]byte]
	Renderer *Renderer
	Quality  int
	Log      logr.Logger
}

func (s *Streamer) Run(ctx context.Context) error {
	results := s.Results.Subscribe()
	defer s.Results.Unsubscribe(results)

	for {
		select {
		case <-ctx.Done():
			return nil
		case result, ok := <-results:
			if !ok {
				return nil
			}
			if s.Frames.Subscribers() == 0 {
				// A frame rendered for earlier viewers would be stale by the
				// time the next one connects.
				s.Frames.Reset()
				continue
			}

			img, err := s.Renderer.Render(result.Frame, result.Scores)
			if err != nil {
				s.Log.Error(err, "failed to render overlay", "sequence", result.Sequence)
				continue
			}
			data, err := EncodeJPEG(img, s.Quality)
			if err != nil {
				s.Log.Error(err, "failed to encode overlay", "sequence", result.Sequence)
				continue
			}
			s.Frames.Publish(data)
		}
	}
}
