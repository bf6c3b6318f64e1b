package capture

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-logr/logr"
	"golang.org/x/xerrors"
)

// HTTPSource polls a still-image endpoint such as an IP camera snapshot URL.
type HTTPSource struct {
	url    string
	fps    float64
	client *http.Client
	log    logr.Logger
}

func NewHTTPSource(url string, fps float64, client *http.Client, log logr.Logger) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{
		url:    url,
		fps:    fps,
		client: client,
		log:    log,
	}
}

func (s *HTTPSource) fetch(ctx context.Context) (*Frame, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Accept", "image/jpeg, image/png;q=0.9, */*;q=0.1")

	response, err := s.client.Do(request)
	if err != nil {
		return nil, xerrors.Errorf("failed to fetch %s: %w", s.url, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, xerrors.Errorf("unexpected status from %s: %s", s.url, response.Status)
	}

	img, err := imaging.Decode(response.Body)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode snapshot: %w", err)
	}
	return &Frame{
		Image:     img,
		Timestamp: time.Now(),
	}, nil
}

func (s *HTTPSource) Run(ctx context.Context, out chan<- *Frame) error {
	ticker := time.NewTicker(interval(s.fps))
	defer ticker.Stop()

	var seq sequencer
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		frame, err := s.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error(err, "failed to capture snapshot")
			continue
		}

		seq.stamp(frame)
		if !Offer(ctx, out, frame) {
			s.log.V(1).Info("frame dropped", "sequence", frame.Sequence)
		}
	}
}
