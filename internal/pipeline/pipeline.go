package pipeline

import (
	"context"
	"errors"
	"image"
	"motion-grid/internal/capture"
	"motion-grid/internal/diff/grid"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of comparing one frame against its predecessor.
type Result struct {
	Sequence  uint64
	Timestamp time.Time
	// Frame is the current frame after preprocessing; Scores refer to its geometry.
	Frame   image.Image
	Scores  *grid.ScoreMatrix
	Elapsed time.Duration
}

type Sink interface {
	Publish(*Result)
}

type Preprocessor interface {
	Apply(image.Image) image.Image
}

// Processor is the single consumer of a frame source. It owns the previous
// frame, so a comparison always sees a stable pair.
type Processor struct {
	Source       capture.Source
	Differ       grid.Differ
	Preprocessor Preprocessor
	GridSize     int
	Sink         Sink
	Log          logr.Logger

	instruments *instruments
	previous    image.Image
}

// Run returns when ctx is done or the source is exhausted.
func (p *Processor) Run(ctx context.Context) error {
	if p.instruments == nil {
		p.instruments = newInstruments()
	}

	// Capacity 1: the source drops new frames while one is pending.
	frames := make(chan *capture.Frame, 1)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(frames)
		return p.Source.Run(ctx, frames)
	})
	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case frame, ok := <-frames:
				if !ok {
					return nil
				}
				p.handle(ctx, frame)
			}
		}
	})
	return eg.Wait()
}

func (p *Processor) handle(ctx context.Context, frame *capture.Frame) {
	p.instruments.framesProcessed.Add(ctx, 1)

	current := frame.Image
	if p.Preprocessor != nil && current != nil {
		current = p.Preprocessor.Apply(current)
	}

	if p.previous == nil {
		if err := grid.Validate(current); err != nil {
			p.Log.Error(err, "discarding invalid frame", "sequence", frame.Sequence)
			return
		}
		p.previous = current
		return
	}

	start := time.Now()
	scores, err := p.Differ.Calculate(p.previous, current, p.GridSize)
	elapsed := time.Since(start)
	if err != nil {
		p.instruments.comparisonsFailed.Add(ctx, 1, metric.WithAttributes(attribute.Key("reason").String(reason(err))))

		switch {
		case errors.Is(err, grid.ErrDimensionMismatch):
			// The source changed resolution; compare future frames against this one.
			p.Log.Info("frame size changed", "sequence", frame.Sequence, "error", err.Error())
			p.previous = current
		default:
			p.Log.Error(err, "failed to compare frames", "sequence", frame.Sequence)
		}
		return
	}
	p.instruments.diffDuration.Record(ctx, elapsed.Seconds())
	maxScore.Set(scores.Max())

	p.previous = current
	p.Sink.Publish(&Result{
		Sequence:  frame.Sequence,
		Timestamp: frame.Timestamp,
		Frame:     current,
		Scores:    scores,
		Elapsed:   elapsed,
	})
}

func reason(err error) string {
	switch {
	case errors.Is(err, grid.ErrInvalidImage):
		return "invalid_image"
	case errors.Is(err, grid.ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, grid.ErrInvalidGridSize):
		return "invalid_grid_size"
	default:
		return "unknown"
	}
}
