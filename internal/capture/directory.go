package capture

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-logr/logr"
	"golang.org/x/xerrors"
)

// DirectorySource replays the still images of a directory in file name order.
type DirectorySource struct {
	directory string
	fps       float64
	loop      bool
	log       logr.Logger
}

func NewDirectorySource(directory string, fps float64, loop bool, log logr.Logger) *DirectorySource {
	return &DirectorySource{
		directory: directory,
		fps:       fps,
		loop:      loop,
		log:       log,
	}
}

func (s *DirectorySource) files() ([]string, error) {
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, xerrors.Errorf("failed to read directory %s: %w", s.directory, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff":
			files = append(files, filepath.Join(s.directory, entry.Name()))
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, xerrors.Errorf("no images found in %s", s.directory)
	}
	return files, nil
}

func (s *DirectorySource) Run(ctx context.Context, out chan<- *Frame) error {
	files, err := s.files()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval(s.fps))
	defer ticker.Stop()

	var seq sequencer
	for {
		for _, file := range files {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}

			img, err := imaging.Open(file, imaging.AutoOrientation(true))
			if err != nil {
				s.log.Error(err, "failed to decode image", "file", file)
				continue
			}
			if !Offer(ctx, out, seq.frame(img)) {
				s.log.V(1).Info("frame dropped", "file", file)
			}
		}

		if !s.loop {
			return nil
		}
	}
}
