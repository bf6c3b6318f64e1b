//go:build linux

package capture

import (
	"context"
	"sort"
	"time"

	"github.com/blackjack/webcam"
	"github.com/go-logr/logr"
	"golang.org/x/xerrors"
)

// WebcamSource reads frames from a V4L2 device.
type WebcamSource struct {
	config WebcamConfig
	log    logr.Logger
}

func NewWebcamSource(config WebcamConfig, log logr.Logger) (*WebcamSource, error) {
	if config.Format != "" {
		if _, ok := fourccNames[config.Format]; !ok {
			return nil, xerrors.Errorf("unsupported webcam format %q", config.Format)
		}
	}
	if config.Size != "" {
		if _, _, err := parseSize(config.Size); err != nil {
			return nil, err
		}
	}
	return &WebcamSource{
		config: config,
		log:    log,
	}, nil
}

type openedCamera struct {
	cam    *webcam.Webcam
	fourcc uint32
	width  int
	height int
}

func (s *WebcamSource) open() (*openedCamera, error) {
	cam, err := webcam.Open(s.config.Device)
	if err != nil {
		return nil, xerrors.Errorf("failed to open %s: %w", s.config.Device, err)
	}

	formats := cam.GetSupportedFormats()
	var format webcam.PixelFormat
	if s.config.Format != "" {
		want := webcam.PixelFormat(fourccNames[s.config.Format])
		if _, ok := formats[want]; !ok {
			_ = cam.Close()
			return nil, xerrors.Errorf("%s does not support %s", s.config.Device, s.config.Format)
		}
		format = want
	} else {
		for _, candidate := range []uint32{fourccYUYV, fourccMJPEG} {
			if _, ok := formats[webcam.PixelFormat(candidate)]; ok {
				format = webcam.PixelFormat(candidate)
				break
			}
		}
		if format == 0 {
			_ = cam.Close()
			return nil, xerrors.Errorf("%s supports neither YUYV nor MJPEG", s.config.Device)
		}
	}

	var width, height uint32
	if s.config.Size != "" {
		w, h, _ := parseSize(s.config.Size)
		width, height = uint32(w), uint32(h)
	} else {
		sizes := cam.GetSupportedFrameSizes(format)
		if len(sizes) == 0 {
			_ = cam.Close()
			return nil, xerrors.Errorf("%s reports no frame sizes for %s", s.config.Device, formats[format])
		}
		sort.Slice(sizes, func(i, j int) bool {
			return sizes[i].MaxWidth*sizes[i].MaxHeight < sizes[j].MaxWidth*sizes[j].MaxHeight
		})
		width, height = sizes[len(sizes)-1].MaxWidth, sizes[len(sizes)-1].MaxHeight
	}

	f, w, h, err := cam.SetImageFormat(format, width, height)
	if err != nil {
		_ = cam.Close()
		return nil, xerrors.Errorf("failed to set image format: %w", err)
	}
	s.log.Info("webcam configured", "device", s.config.Device, "format", formats[f], "width", w, "height", h)

	if err := cam.StartStreaming(); err != nil {
		_ = cam.Close()
		return nil, xerrors.Errorf("failed to start streaming: %w", err)
	}

	return &openedCamera{
		cam:    cam,
		fourcc: uint32(f),
		width:  int(w),
		height: int(h),
	}, nil
}

func (s *WebcamSource) Run(ctx context.Context, out chan<- *Frame) error {
	c, err := s.open()
	if err != nil {
		return err
	}
	defer c.cam.Close()

	const timeoutSeconds = 1
	minInterval := interval(s.config.FPS)

	var seq sequencer
	var last time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := c.cam.WaitForFrame(timeoutSeconds)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			return xerrors.Errorf("failed to wait for frame: %w", err)
		}

		raw, err := c.cam.ReadFrame()
		if err != nil {
			return xerrors.Errorf("failed to read frame: %w", err)
		}
		if len(raw) == 0 || time.Since(last) < minInterval {
			continue
		}
		last = time.Now()

		img, err := decodeFrame(raw, c.fourcc, c.width, c.height)
		if err != nil {
			s.log.Error(err, "failed to decode frame")
			continue
		}
		if !Offer(ctx, out, seq.frame(img)) {
			s.log.V(1).Info("frame dropped", "sequence", seq.next)
		}
	}
}
