//go:build !linux

package capture

import (
	"context"

	"github.com/go-logr/logr"
	"golang.org/x/xerrors"
)

// WebcamSource is only available on linux, where V4L2 exists.
type WebcamSource struct{}

func NewWebcamSource(config WebcamConfig, log logr.Logger) (*WebcamSource, error) {
	return nil, xerrors.New("webcam capture requires linux")
}

func (s *WebcamSource) Run(ctx context.Context, out chan<- *Frame) error {
	return xerrors.New("webcam capture requires linux")
}
