package main

import (
	"context"
	"flag"
	"log"
	"motion-grid/internal/broadcast"
	"motion-grid/internal/capture"
	"motion-grid/internal/config"
	"motion-grid/internal/diff/grid"
	"motion-grid/internal/overlay"
	"motion-grid/internal/pipeline"
	"motion-grid/internal/preprocess"
	"motion-grid/internal/routes"
	"motion-grid/internal/runnable"
	"motion-grid/internal/telemetry"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load environment file: %v", err)
	}

	var c config.Config
	c.BindFlags(flag.CommandLine)
	flag.Parse()

	if err := c.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(c.Debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	runnable.Debug = c.Debug

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := telemetry.Start(ctx, "motion-grid")
	if err != nil {
		log.Fatalf("Failed to start telemetry: %v", err)
	}

	entrypointLogger := telemetry.Logr(logger, "entrypoint")

	captureConfig, err := c.Source.Capture()
	if err != nil {
		entrypointLogger.Error(err, "unable to configure source")
		os.Exit(1)
	}
	source, err := capture.NewSource(captureConfig, telemetry.Logr(logger, "capture"))
	if err != nil {
		entrypointLogger.Error(err, "unable to create source")
		os.Exit(1)
	}

	differ, err := c.Analysis.Differ()
	if err != nil {
		entrypointLogger.Error(err, "unable to create differ")
		os.Exit(1)
	}
	renderer, err := c.Overlay.Renderer()
	if err != nil {
		entrypointLogger.Error(err, "unable to create renderer")
		os.Exit(1)
	}
	metric, err := grid.ParseMetric(c.Analysis.Metric)
	if err != nil {
		entrypointLogger.Error(err, "unable to parse metric")
		os.Exit(1)
	}

	results := broadcast.NewHub[*pipeline.Result]()
	frames := broadcast.NewHub[[]byte]()

	processor := &pipeline.Processor{
		Source:       source,
		Differ:       differ,
		Preprocessor: preprocess.New(c.Analysis.Preprocess()),
		GridSize:     c.Analysis.GridSize,
		Sink:         results,
		Log:          telemetry.Logr(logger, "pipeline"),
	}
	streamer := &overlay.Streamer{
		Results:  results,
		Frames:   frames,
		Renderer: renderer,
		Quality:  c.Overlay.Quality,
		Log:      telemetry.Logr(logger, "overlay"),
	}
	server := runnable.NewServer(c.Server, logger, t.HTTPRequestsDurationMicroSeconds, runnable.Routes{
		Diff: &routes.DiffOptions{
			Metric:         metric,
			GridSize:       c.Analysis.GridSize,
			MaxGridSize:    c.Analysis.MaxGridSize,
			Threshold:      c.Overlay.Threshold,
			Renderer:       renderer,
			MaxUploadBytes: c.Server.MaxUploadBytes,
		},
		Results: results,
		Frames:  frames,
	})

	entrypointLogger.Info("starting", "source", c.Source.Kind, "gridSize", c.Analysis.GridSize, "address", c.Server.Address)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return processor.Run(ctx)
	})
	eg.Go(func() error {
		return streamer.Run(ctx)
	})
	eg.Go(func() error {
		return server.Start(ctx)
	})
	runErr := eg.Wait()
	if runErr != nil {
		entrypointLogger.Error(runErr, "problem running service")
	}

	if err := t.Shutdown(context.WithoutCancel(ctx)); err != nil {
		entrypointLogger.Error(err, "problem shutting down telemetry")
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
