package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"motion-grid/internal/capture"
	"motion-grid/internal/config"
	"motion-grid/internal/overlay"
	"motion-grid/internal/storage"
	"motion-grid/internal/telemetry"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

type CaptureResult struct {
	FramePath string `json:"framePath"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load environment file: %v", err)
	}

	var source config.SourceConfig
	var storageConfig config.StorageConfig
	var format string
	var quality int
	var timeout time.Duration
	source.BindFlags(flag.CommandLine)
	storageConfig.BindFlags(flag.CommandLine)
	flag.StringVar(&format, "format", config.EnvOrDefaultValue("FORMAT", "jpeg"), "Output format (jpeg or png)")
	flag.IntVar(&quality, "quality", config.EnvOrDefaultValue("QUALITY", 90), "JPEG quality")
	flag.DurationVar(&timeout, "timeout", config.EnvOrDefaultValue("TIMEOUT", 30*time.Second), "Maximum time to wait for a frame")

	flag.Parse()

	if err := source.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := storageConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if format != "jpeg" && format != "png" {
		log.Fatalf("Unknown format: %s", format)
	}

	logger, err := telemetry.NewLogger(false)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s, err := storage.New(ctx, storageConfig.Storage())
	if err != nil {
		log.Fatalf("Failed to create storage backend: %v", err)
	}

	captureConfig, err := source.Capture()
	if err != nil {
		log.Fatalf("Failed to configure source: %v", err)
	}
	frame, err := grab(ctx, captureConfig, logger)
	if err != nil {
		log.Fatalf("Failed to capture frame: %v", err)
	}

	var data []byte
	if format == "png" {
		data, err = overlay.EncodePNG(frame.Image)
	} else {
		data, err = overlay.EncodeJPEG(frame.Image, quality)
	}
	if err != nil {
		log.Fatalf("Failed to encode frame: %v", err)
	}

	timestamp := frame.Timestamp.Format("20060102150405")

	h := sha256.New()
	h.Write([]byte(source.Kind + source.Device + source.URL + source.Directory))
	sourceHash := fmt.Sprintf("%x", h.Sum(nil))[:16]

	key := fmt.Sprintf("MotionGrid/capture/%s/%s.%s", sourceHash, timestamp, format)
	framePath, err := s.Put(ctx, key, data)
	if err != nil {
		log.Fatalf("Failed to save frame: %v", err)
	}

	bounds := frame.Image.Bounds()
	if err := json.NewEncoder(os.Stdout).Encode(CaptureResult{
		FramePath: framePath,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	}); err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
}

// grab takes the first frame a source delivers. Page sources are shot
// directly instead of waiting for their schedule.
func grab(ctx context.Context, c capture.Config, logger *slog.Logger) (*capture.Frame, error) {
	if c.Kind == capture.KindPage {
		page := c.Page
		page.URL = c.URL
		source, err := capture.NewPageSource(page, telemetry.Logr(logger, "capture"))
		if err != nil {
			return nil, err
		}
		return source.Capture(ctx)
	}

	source, err := capture.NewSource(c, telemetry.Logr(logger, "capture"))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan *capture.Frame, 1)
	var frame *capture.Frame

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return source.Run(ctx, frames)
	})
	eg.Go(func() error {
		defer cancel()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame = <-frames:
			return nil
		}
	})
	if err := eg.Wait(); err != nil && frame == nil {
		return nil, err
	}
	if frame == nil {
		return nil, ctx.Err()
	}
	return frame, nil
}
