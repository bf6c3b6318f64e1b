package runnable

import (
	"context"
	"errors"
	"log/slog"
	"motion-grid/internal/broadcast"
	"motion-grid/internal/config"
	"motion-grid/internal/myhttp"
	"motion-grid/internal/pipeline"
	"motion-grid/internal/routes"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscopepprof "github.com/grafana/pyroscope-go/http/pprof"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/net/netutil"
	"golang.org/x/xerrors"
)

// Routes selects what the server exposes. A nil field disables its routes,
// so the stateless diff server and the live service share one Server.
type Routes struct {
	Diff    *routes.DiffOptions
	Results *broadcast.Hub[*pipeline.Result]
	Frames  *broadcast.Hub[[]byte]
}

type Server struct {
	address                string
	terminationGracePeriod time.Duration
	lameduck               time.Duration
	keepAlive              bool
	maxConnections         int

	logger                           *slog.Logger
	httpRequestsDurationMicroSeconds metric.Int64Histogram
	routes                           Routes
}

func NewServer(c config.ServerConfig, logger *slog.Logger, httpRequestsDurationMicroSeconds metric.Int64Histogram, r Routes) *Server {
	return &Server{
		address:                          c.Address,
		terminationGracePeriod:           c.TerminationGracePeriod,
		lameduck:                         c.Lameduck,
		keepAlive:                        c.KeepAlive,
		maxConnections:                   c.MaxConnections,
		logger:                           logger,
		httpRequestsDurationMicroSeconds: httpRequestsDurationMicroSeconds,
		routes:                           r,
	}
}

var Debug = false

func (s *Server) Handler() http.Handler {
	mux := myhttp.NewServerMux(s.logger, s.httpRequestsDurationMicroSeconds)

	if s.routes.Diff != nil {
		mux.HandleFuncWithMiddleware("POST /diff", routes.Diff(*s.routes.Diff))
	}
	if s.routes.Results != nil {
		mux.HandleFuncWithMiddleware("GET /scores", routes.Scores(s.routes.Results))
		mux.HandleFuncWithMiddleware("GET /ws", routes.ScoresWebSocket(s.routes.Results))
	}
	if s.routes.Frames != nil {
		mux.HandleFuncWithMiddleware("GET /stream", routes.Stream(s.routes.Frames))
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(http.StatusText(http.StatusOK)))
	})

	mux.Handle("GET /metrics", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}),
	))

	if Debug {
		mux.HandleFunc("GET /debug/pprof/", pprof.Index)
		mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
		mux.HandleFunc("GET /debug/pprof/profile", pyroscopepprof.Profile)
	}

	return mux
}

// Start serves until SIGTERM arrives or ctx is done, then drains connections.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return xerrors.Errorf("failed to listen on address %s: %w", s.address, err)
	}

	// Shutdown does not cancel request contexts, so long-lived handlers such
	// as /stream and /ws would hold it for the whole grace period.
	requestCtx, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRequests()

	server := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return requestCtx
		},
	}
	server.SetKeepAlivesEnabled(s.keepAlive)
	server.RegisterOnShutdown(cancelRequests)

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(netutil.LimitListener(listener, s.maxConnections)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("failed to serve HTTP", "error", err)
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case <-ctx.Done():
	case err := <-serveErr:
		return xerrors.Errorf("failed to serve HTTP: %w", err)
	}
	time.Sleep(s.lameduck)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.terminationGracePeriod)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return xerrors.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
