package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log"
	"motion-grid/internal/config"
	"motion-grid/internal/overlay"
	"motion-grid/internal/preprocess"
	"motion-grid/internal/storage"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

type DiffOutput struct {
	OverlayPath string      `json:"overlayPath"`
	GridSize    int         `json:"gridSize"`
	Scores      [][]float64 `json:"scores"`
	MaxScore    float64     `json:"maxScore"`
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load environment file: %v", err)
	}

	var analysis config.AnalysisConfig
	var overlayConfig config.OverlayConfig
	var storageConfig config.StorageConfig
	analysis.BindFlags(flag.CommandLine)
	overlayConfig.BindFlags(flag.CommandLine)
	storageConfig.BindFlags(flag.CommandLine)

	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		log.Fatalf("previous, current not specified")
	}
	if err := analysis.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := overlayConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := storageConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx := context.Background()
	s, err := storage.New(ctx, storageConfig.Storage())
	if err != nil {
		log.Fatalf("Failed to create storage backend: %v", err)
	}

	previousPath := args[0]
	currentPath := args[1]

	var previous, current image.Image
	{
		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			img, err := loadImage(ctx, s, previousPath)
			if err != nil {
				return xerrors.Errorf("failed to load previous image: %w", err)
			}
			previous = img
			return nil
		})
		eg.Go(func() error {
			img, err := loadImage(ctx, s, currentPath)
			if err != nil {
				return xerrors.Errorf("failed to load current image: %w", err)
			}
			current = img
			return nil
		})
		if err := eg.Wait(); err != nil {
			log.Fatalf("Failed to load images: %v", err)
		}
	}

	p := preprocess.New(analysis.Preprocess())
	previous = p.Apply(previous)
	current = p.Apply(current)

	differ, err := analysis.Differ()
	if err != nil {
		log.Fatalf("Failed to create differ: %v", err)
	}
	scores, err := differ.Calculate(previous, current, analysis.GridSize)
	if err != nil {
		log.Fatalf("Failed to calculate diff: %v", err)
	}

	renderer, err := overlayConfig.Renderer()
	if err != nil {
		log.Fatalf("Failed to create renderer: %v", err)
	}
	img, err := renderer.Render(current, scores)
	if err != nil {
		log.Fatalf("Failed to render overlay: %v", err)
	}
	data, err := overlay.EncodePNG(img)
	if err != nil {
		log.Fatalf("Failed to encode overlay: %v", err)
	}

	timestamp := time.Now().Format("20060102150405")

	h := sha256.New()
	h.Write([]byte(previousPath + currentPath))
	hash := fmt.Sprintf("%x", h.Sum(nil))[:16]

	key := fmt.Sprintf("MotionGrid/diff/%s/%s.png", hash, timestamp)
	overlayPath, err := s.Put(ctx, key, data)
	if err != nil {
		log.Fatalf("Failed to save overlay image: %v", err)
	}

	if err := json.NewEncoder(os.Stdout).Encode(DiffOutput{
		OverlayPath: overlayPath,
		GridSize:    scores.Size(),
		Scores:      scores.Rows(),
		MaxScore:    scores.Max(),
	}); err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
}

func loadImage(ctx context.Context, s storage.Storage, path string) (image.Image, error) {
	data, err := storage.Fetch(ctx, s, path)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}

	return img, nil
}
