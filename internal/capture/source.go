package capture

import (
	"net/http"

	"github.com/go-logr/logr"
	"golang.org/x/xerrors"
)

const (
	KindWebcam    = "webcam"
	KindDirectory = "directory"
	KindHTTP      = "http"
	KindPage      = "page"
)

type Config struct {
	Kind string
	FPS  float64

	Webcam WebcamConfig

	Directory string
	Loop      bool

	// URL is the snapshot endpoint for KindHTTP and the page for KindPage.
	URL    string
	Client *http.Client

	Page PageConfig
}

func NewSource(config Config, log logr.Logger) (Source, error) {
	log = log.WithValues("source", config.Kind)

	switch config.Kind {
	case KindWebcam:
		webcamConfig := config.Webcam
		webcamConfig.FPS = config.FPS
		source, err := NewWebcamSource(webcamConfig, log)
		if err != nil {
			return nil, err
		}
		return source, nil
	case KindDirectory:
		if config.Directory == "" {
			return nil, xerrors.New("directory is empty")
		}
		return NewDirectorySource(config.Directory, config.FPS, config.Loop, log), nil
	case KindHTTP:
		if config.URL == "" {
			return nil, xerrors.New("snapshot url is empty")
		}
		return NewHTTPSource(config.URL, config.FPS, config.Client, log), nil
	case KindPage:
		pageConfig := config.Page
		pageConfig.URL = config.URL
		source, err := NewPageSource(pageConfig, log)
		if err != nil {
			return nil, err
		}
		return source, nil
	default:
		return nil, xerrors.Errorf("unknown source kind: %s", config.Kind)
	}
}
