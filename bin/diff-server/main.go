package main

import (
	"context"
	"flag"
	"log"
	"motion-grid/internal/config"
	"motion-grid/internal/diff/grid"
	"motion-grid/internal/routes"
	"motion-grid/internal/runnable"
	"motion-grid/internal/telemetry"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load environment file: %v", err)
	}

	var analysis config.AnalysisConfig
	var overlayConfig config.OverlayConfig
	var server config.ServerConfig
	var debug bool
	analysis.BindFlags(flag.CommandLine)
	overlayConfig.BindFlags(flag.CommandLine)
	server.BindFlags(flag.CommandLine)
	flag.BoolVar(&debug, "debug", config.EnvOrDefaultValue("DEBUG", false), "Text logs and pprof endpoints")

	flag.Parse()

	for _, v := range []interface{ Validate() error }{&analysis, &overlayConfig, &server} {
		if err := v.Validate(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}
	}

	metric, err := grid.ParseMetric(analysis.Metric)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	renderer, err := overlayConfig.Renderer()
	if err != nil {
		log.Fatalf("Failed to create renderer: %v", err)
	}

	logger, err := telemetry.NewLogger(debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	runnable.Debug = debug

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := telemetry.Start(ctx, "diff-server")
	if err != nil {
		log.Fatalf("Failed to start telemetry: %v", err)
	}

	if err := runnable.NewServer(server, logger, t.HTTPRequestsDurationMicroSeconds, runnable.Routes{
		Diff: &routes.DiffOptions{
			Metric:         metric,
			GridSize:       analysis.GridSize,
			MaxGridSize:    analysis.MaxGridSize,
			Threshold:      overlayConfig.Threshold,
			Renderer:       renderer,
			MaxUploadBytes: server.MaxUploadBytes,
		},
	}).Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	if err := t.Shutdown(context.WithoutCancel(ctx)); err != nil {
		log.Fatalf("Failed to shutdown telemetry: %v", err)
	}
}
