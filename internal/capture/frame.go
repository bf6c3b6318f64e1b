package capture

import (
	"context"
	"image"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Frame is an immutable snapshot of one captured image. Sources never reuse
// the memory behind Image once a frame was offered.
type Frame struct {
	Image     image.Image
	Sequence  uint64
	Timestamp time.Time
}

type Source interface {
	// Run delivers frames to out until ctx is done or the source is exhausted.
	// It returns nil in both cases and never closes out.
	Run(ctx context.Context, out chan<- *Frame) error
}

var framesDropped metric.Int64Counter

func init() {
	counter, err := otel.Meter("motion-grid/capture").Int64Counter("capture_frames_dropped_total",
		metric.WithDescription("Frames dropped because the consumer was still busy with the previous one"))
	if err != nil {
		otel.Handle(err)
	}
	framesDropped = counter
}

// Offer hands f to out without blocking. When the consumer has not picked up
// the previous frame yet the new one is dropped and false is returned.
func Offer(ctx context.Context, out chan<- *Frame, f *Frame) bool {
	select {
	case out <- f:
		return true
	default:
		if framesDropped != nil {
			framesDropped.Add(ctx, 1)
		}
		return false
	}
}

// sequencer stamps frames in capture order.
type sequencer struct {
	next uint64
}

func (s *sequencer) frame(img image.Image) *Frame {
	f := &Frame{
		Image:     img,
		Timestamp: time.Now(),
	}
	s.stamp(f)
	return f
}

// stamp assigns the next sequence number to a frame built elsewhere.
func (s *sequencer) stamp(f *Frame) {
	s.next++
	f.Sequence = s.next
}

// interval converts a frame rate cap into a ticker period.
func interval(fps float64) time.Duration {
	if fps <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / fps)
}
