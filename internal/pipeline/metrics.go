package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type instruments struct {
	framesProcessed   metric.Int64Counter
	comparisonsFailed metric.Int64Counter
	diffDuration      metric.Float64Histogram
}

func newInstruments() *instruments {
	meter := otel.Meter("motion-grid/pipeline")

	framesProcessed, err := meter.Int64Counter("pipeline_frames_processed_total",
		metric.WithDescription("Frames taken from the source by the processor"))
	if err != nil {
		otel.Handle(err)
	}
	comparisonsFailed, err := meter.Int64Counter("pipeline_comparisons_failed_total",
		metric.WithDescription("Frame comparisons rejected by the differ"))
	if err != nil {
		otel.Handle(err)
	}
	diffDuration, err := meter.Float64Histogram("pipeline_diff_duration_seconds",
		metric.WithDescription("Time spent scoring one frame pair"),
		metric.WithUnit("s"))
	if err != nil {
		otel.Handle(err)
	}

	return &instruments{
		framesProcessed:   framesProcessed,
		comparisonsFailed: comparisonsFailed,
		diffDuration:      diffDuration,
	}
}

// NOTE: Gauge(UpDownCounter) does not support exemplars, so the latest score is
// exported with client_golang directly.
var maxScore = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "pipeline_max_cell_score",
	Help: "Highest cell score of the most recent comparison",
})

func init() {
	prometheus.MustRegister(maxScore)
}
