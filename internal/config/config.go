package config

import (
	"flag"
	"motion-grid/internal/capture"
	"motion-grid/internal/diff/grid"
	"motion-grid/internal/overlay"
	"motion-grid/internal/preprocess"
	"motion-grid/internal/retry"
	"motion-grid/internal/storage"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/xerrors"
)

type Headers []string

func (h *Headers) String() string {
	return strings.Join(*h, ", ")
}

func (h *Headers) Set(value string) error {
	*h = append(*h, value)
	return nil
}

func (h Headers) Map() map[string]string {
	if len(h) == 0 {
		return nil
	}
	m := make(map[string]string, len(h))
	for _, header := range h {
		key, value, ok := strings.Cut(header, ":")
		if ok {
			m[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return m
}

type SourceConfig struct {
	Kind string
	FPS  float64

	Device       string
	WebcamFormat string
	WebcamSize   string

	Directory string
	Loop      bool

	URL        string
	Timeout    time.Duration
	RetryOn    string
	MaxRetries uint

	Schedule                  string
	ViewportWidth             int
	ViewportHeight            int
	ChromeDevtoolsProtocolURL string
	MaskSelectors             string
	Headers                   Headers
}

func (c *SourceConfig) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Kind, "source", EnvOrDefaultValue("SOURCE", capture.KindWebcam), "Frame source (webcam, directory, http or page)")
	fs.Float64Var(&c.FPS, "fps", EnvOrDefaultValue("FPS", 5.0), "Maximum frames per second taken from the source")
	fs.StringVar(&c.Device, "device", EnvOrDefaultValue("DEVICE", "/dev/video0"), "V4L2 device for the webcam source")
	fs.StringVar(&c.WebcamFormat, "webcam-format", EnvOrDefaultValue("WEBCAM_FORMAT", ""), "Webcam pixel format (YUYV or MJPEG), default first supported")
	fs.StringVar(&c.WebcamSize, "webcam-size", EnvOrDefaultValue("WEBCAM_SIZE", ""), "Webcam frame size as WIDTHxHEIGHT, default largest")
	fs.StringVar(&c.Directory, "source-directory", EnvOrDefaultValue("SOURCE_DIRECTORY", ""), "Directory of still images for the directory source")
	fs.BoolVar(&c.Loop, "loop", EnvOrDefaultValue("LOOP", false), "Replay the directory source forever")
	fs.StringVar(&c.URL, "url", EnvOrDefaultValue("URL", ""), "Snapshot URL for the http source or page URL for the page source")
	fs.DurationVar(&c.Timeout, "source-timeout", EnvOrDefaultValue("SOURCE_TIMEOUT", 10*time.Second), "Timeout of one snapshot request")
	fs.StringVar(&c.RetryOn, "retry-on", EnvOrDefaultValue("RETRY_ON", "gateway-error,connect-failure"), "Comma-separated retry conditions for snapshot requests")
	fs.UintVar(&c.MaxRetries, "max-retries", EnvOrDefaultValue("MAX_RETRIES", uint(3)), "Maximum retries of one snapshot request")
	fs.StringVar(&c.Schedule, "schedule", EnvOrDefaultValue("SCHEDULE", "@every 10s"), "Cron schedule of the page source")
	fs.IntVar(&c.ViewportWidth, "viewport-width", EnvOrDefaultValue("VIEWPORT_WIDTH", 1280), "Viewport width of the page source")
	fs.IntVar(&c.ViewportHeight, "viewport-height", EnvOrDefaultValue("VIEWPORT_HEIGHT", 720), "Viewport height of the page source")
	fs.StringVar(&c.ChromeDevtoolsProtocolURL, "chrome-devtools-protocol-url", EnvOrDefaultValue("CHROME_DEVTOOLS_PROTOCOL_URL", ""), "Connect to existing browser via Chrome DevTools Protocol URL (e.g., http://localhost:9222)")
	fs.StringVar(&c.MaskSelectors, "mask-selectors", EnvOrDefaultValue("MASK_SELECTORS", ""), "Comma-separated list of CSS selectors to mask during page capture")
	fs.Var(&c.Headers, "H", "Add HTTP header to page requests (can be used multiple times)")
}

func (c *SourceConfig) Validate() error {
	switch c.Kind {
	case capture.KindWebcam, capture.KindDirectory, capture.KindHTTP, capture.KindPage:
	default:
		return xerrors.Errorf("unknown source: %s", c.Kind)
	}
	if c.FPS <= 0 {
		return xerrors.Errorf("fps must be positive, got %v", c.FPS)
	}
	if _, err := retry.NewRetryOnFromString(c.RetryOn); err != nil {
		return xerrors.Errorf("failed to parse retry-on: %w", err)
	}
	return nil
}

// HTTPClient is used by the http source. Requests are traced and retried.
func (c *SourceConfig) HTTPClient() (*http.Client, error) {
	on, err := retry.NewRetryOnFromString(c.RetryOn)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Timeout: c.Timeout,
		Transport: &retry.Transport{
			Base:          otelhttp.NewTransport(http.DefaultTransport),
			RetryStrategy: retry.NewExponentialBackOff(100*time.Millisecond, 5*time.Second, c.MaxRetries, nil),
			RetryOn:       on,
		},
	}, nil
}

func (c *SourceConfig) Capture() (capture.Config, error) {
	client, err := c.HTTPClient()
	if err != nil {
		return capture.Config{}, err
	}

	page := capture.DefaultPageConfig()
	page.Schedule = c.Schedule
	page.ViewportWidth = c.ViewportWidth
	page.ViewportHeight = c.ViewportHeight
	page.ChromeDevtoolsProtocolURL = c.ChromeDevtoolsProtocolURL
	page.Headers = c.Headers.Map()
	for _, selector := range strings.Split(c.MaskSelectors, ",") {
		if selector = strings.TrimSpace(selector); selector != "" {
			page.MaskSelectors = append(page.MaskSelectors, selector)
		}
	}

	return capture.Config{
		Kind: c.Kind,
		FPS:  c.FPS,
		Webcam: capture.WebcamConfig{
			Device: c.Device,
			Format: c.WebcamFormat,
			Size:   c.WebcamSize,
		},
		Directory: c.Directory,
		Loop:      c.Loop,
		URL:       c.URL,
		Client:    client,
		Page:      page,
	}, nil
}

type AnalysisConfig struct {
	GridSize    int
	MaxGridSize int
	Metric    string
	Width     int
	BlurSigma float64
	Grayscale bool
}

func (c *AnalysisConfig) BindFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.GridSize, "grid-size", EnvOrDefaultValue("GRID_SIZE", 8), "Number of grid cells per axis")
	fs.IntVar(&c.MaxGridSize, "max-grid-size", EnvOrDefaultValue("MAX_GRID_SIZE", 256), "Largest grid size accepted from configuration or diff requests")
	fs.StringVar(&c.Metric, "metric", EnvOrDefaultValue("METRIC", grid.MeanAbsolute.String()), "Difference metric (mean-absolute or luma)")
	fs.IntVar(&c.Width, "analysis-width", EnvOrDefaultValue("ANALYSIS_WIDTH", 640), "Downscale frames wider than this before comparing, 0 keeps the full size")
	fs.Float64Var(&c.BlurSigma, "blur-sigma", EnvOrDefaultValue("BLUR_SIGMA", 0.0), "Gaussian blur applied before comparing, 0 disables it")
	fs.BoolVar(&c.Grayscale, "grayscale", EnvOrDefaultValue("GRAYSCALE", false), "Compare grayscale frames")
}

func (c *AnalysisConfig) Validate() error {
	if c.MaxGridSize <= 0 {
		return xerrors.Errorf("max grid size %d: %w", c.MaxGridSize, grid.ErrInvalidGridSize)
	}
	if c.GridSize <= 0 || c.GridSize > c.MaxGridSize {
		return xerrors.Errorf("grid size %d not within [1, %d]: %w", c.GridSize, c.MaxGridSize, grid.ErrInvalidGridSize)
	}
	if _, err := grid.ParseMetric(c.Metric); err != nil {
		return err
	}
	if c.Width < 0 || c.BlurSigma < 0 {
		return xerrors.New("analysis width and blur sigma must not be negative")
	}
	return nil
}

func (c *AnalysisConfig) Differ() (*grid.GridDiff, error) {
	metric, err := grid.ParseMetric(c.Metric)
	if err != nil {
		return nil, err
	}
	return grid.NewGridDiff(metric), nil
}

func (c *AnalysisConfig) Preprocess() preprocess.Options {
	return preprocess.Options{
		Width:     c.Width,
		Grayscale: c.Grayscale,
		BlurSigma: float32(c.BlurSigma),
	}
}

type OverlayConfig struct {
	LowColor    string
	HighColor   string
	BorderColor string
	Width       int
	Height      int
	Quality     int
	Threshold   float64
	FlipY       bool
}

func (c *OverlayConfig) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.LowColor, "overlay-low-color", EnvOrDefaultValue("OVERLAY_LOW_COLOR", "#FFA500"), "Fill color of barely changed cells")
	fs.StringVar(&c.HighColor, "overlay-high-color", EnvOrDefaultValue("OVERLAY_HIGH_COLOR", "#FF4500"), "Fill color of fully changed cells")
	fs.StringVar(&c.BorderColor, "overlay-border-color", EnvOrDefaultValue("OVERLAY_BORDER_COLOR", "#FF0000"), "Cell border color, empty disables borders")
	fs.IntVar(&c.Width, "overlay-width", EnvOrDefaultValue("OVERLAY_WIDTH", 0), "Overlay width, 0 keeps the frame width")
	fs.IntVar(&c.Height, "overlay-height", EnvOrDefaultValue("OVERLAY_HEIGHT", 0), "Overlay height, 0 keeps the frame height")
	fs.IntVar(&c.Quality, "jpeg-quality", EnvOrDefaultValue("JPEG_QUALITY", 80), "JPEG quality of streamed overlays")
	fs.Float64Var(&c.Threshold, "overlay-threshold", EnvOrDefaultValue("OVERLAY_THRESHOLD", 0.0), "Cells scoring at or below this are neither filled nor counted as changed")
	fs.BoolVar(&c.FlipY, "overlay-flip-y", EnvOrDefaultValue("OVERLAY_FLIP_Y", false), "Draw grid row 0 at the bottom")
}

func (c *OverlayConfig) Validate() error {
	if c.Quality < 1 || c.Quality > 100 {
		return xerrors.Errorf("jpeg quality must be within [1, 100], got %d", c.Quality)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return xerrors.Errorf("overlay threshold must be within [0, 1], got %v", c.Threshold)
	}
	if (c.Width == 0) != (c.Height == 0) || c.Width < 0 || c.Height < 0 {
		return xerrors.Errorf("overlay size %dx%d must be both positive or both 0", c.Width, c.Height)
	}
	_, err := c.Style()
	return err
}

func (c *OverlayConfig) Style() (overlay.Style, error) {
	style, err := overlay.ParseStyle(c.LowColor, c.HighColor, c.BorderColor)
	if err != nil {
		return overlay.Style{}, err
	}
	style.Threshold = c.Threshold
	return style, nil
}

func (c *OverlayConfig) Renderer() (*overlay.Renderer, error) {
	style, err := c.Style()
	if err != nil {
		return nil, err
	}
	return overlay.NewRenderer(style, c.Width, c.Height, c.FlipY), nil
}

type ServerConfig struct {
	Address                string
	TerminationGracePeriod time.Duration
	Lameduck               time.Duration
	KeepAlive              bool
	MaxConnections         int
	MaxUploadBytes         int64
}

func (c *ServerConfig) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Address, "address", EnvOrDefaultValue("ADDRESS", "0.0.0.0:8080"), "The address the HTTP server binds to")
	fs.DurationVar(&c.TerminationGracePeriod, "termination-grace-period", EnvOrDefaultValue("TERMINATION_GRACE_PERIOD", 10*time.Second), "Time allowed for in-flight requests on shutdown")
	fs.DurationVar(&c.Lameduck, "lameduck", EnvOrDefaultValue("LAMEDUCK", 1*time.Second), "Delay between SIGTERM and shutdown")
	fs.BoolVar(&c.KeepAlive, "http-keepalive", EnvOrDefaultValue("HTTP_KEEPALIVE", true), "Enable HTTP keep-alive")
	fs.IntVar(&c.MaxConnections, "max-connections", EnvOrDefaultValue("MAX_CONNECTIONS", 65532), "Maximum concurrent connections")
	fs.Int64Var(&c.MaxUploadBytes, "max-upload-bytes", EnvOrDefaultValue("MAX_UPLOAD_BYTES", int64(32<<20)), "Maximum size of a diff request body")
}

func (c *ServerConfig) Validate() error {
	if c.MaxConnections <= 0 {
		return xerrors.Errorf("max connections must be positive, got %d", c.MaxConnections)
	}
	if c.MaxUploadBytes <= 0 {
		return xerrors.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	return nil
}

type StorageConfig struct {
	Backend     string
	Directory   string
	Bucket      string
	EndpointURL string
}

func (c *StorageConfig) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Backend, "storage", EnvOrDefaultValue("STORAGE", storage.BackendFile), "Result storage backend (file or s3)")
	fs.StringVar(&c.Directory, "directory", EnvOrDefaultValue("DIRECTORY", "/tmp"), "Output directory of the file backend")
	fs.StringVar(&c.Bucket, "bucket", EnvOrDefaultValue("S3_BUCKET", ""), "Bucket of the s3 backend")
	fs.StringVar(&c.EndpointURL, "s3-endpoint-url", EnvOrDefaultValue("S3_ENDPOINT_URL", ""), "S3 compatible endpoint, default AWS")
}

func (c *StorageConfig) Validate() error {
	switch c.Backend {
	case storage.BackendFile:
	case storage.BackendS3:
		if c.Bucket == "" {
			return xerrors.New("s3 storage requires a bucket")
		}
	default:
		return xerrors.Errorf("unknown storage backend: %s", c.Backend)
	}
	return nil
}

func (c *StorageConfig) Storage() storage.Config {
	return storage.Config{
		Backend: c.Backend,
		File: storage.FileConfig{
			Directory: c.Directory,
		},
		S3: storage.S3Config{
			Bucket:      c.Bucket,
			EndpointURL: c.EndpointURL,
		},
	}
}

// Config is everything the live service needs.
type Config struct {
	Source   SourceConfig
	Analysis AnalysisConfig
	Overlay  OverlayConfig
	Server   ServerConfig
	Debug    bool
}

func (c *Config) BindFlags(fs *flag.FlagSet) {
	c.Source.BindFlags(fs)
	c.Analysis.BindFlags(fs)
	c.Overlay.BindFlags(fs)
	c.Server.BindFlags(fs)
	fs.BoolVar(&c.Debug, "debug", EnvOrDefaultValue("DEBUG", false), "Text logs and pprof endpoints")
}

func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if err := c.Analysis.Validate(); err != nil {
		return err
	}
	if err := c.Overlay.Validate(); err != nil {
		return err
	}
	return c.Server.Validate()
}
