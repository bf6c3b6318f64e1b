package runnable_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"motion-grid/internal/broadcast"
	"motion-grid/internal/config"
	"motion-grid/internal/diff/grid"
	"motion-grid/internal/pipeline"
	"motion-grid/internal/routes"
	"motion-grid/internal/runnable"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
)

func newServer(t *testing.T, r runnable.Routes) *runnable.Server {
	t.Helper()

	return newServerOn(t, "127.0.0.1:0", r)
}

func newServerOn(t *testing.T, address string, r runnable.Routes) *runnable.Server {
	t.Helper()

	histogram, err := noop.NewMeterProvider().Meter("test").Int64Histogram("http_requests_duration_micro_seconds")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return runnable.NewServer(config.ServerConfig{
		Address:                address,
		TerminationGracePeriod: time.Second,
		MaxConnections:         8,
		MaxUploadBytes:         1 << 20,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), histogram, r)
}

func TestServer_Handler(t *testing.T) {
	t.Parallel()

	stateless := newServer(t, runnable.Routes{
		Diff: &routes.DiffOptions{GridSize: 2, Metric: grid.MeanAbsolute, MaxUploadBytes: 1 << 20},
	}).Handler()
	live := newServer(t, runnable.Routes{
		Results: broadcast.NewHub[*pipeline.Result](),
		Frames:  broadcast.NewHub[[]byte](),
	}).Handler()

	tests := []struct {
		name    string
		handler http.Handler
		method  string
		path    string
		want    int
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			stateless, http.MethodGet, "/healthz", http.StatusOK,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			stateless, http.MethodGet, "/metrics", http.StatusOK,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			stateless, http.MethodPost, "/diff", http.StatusBadRequest,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			stateless, http.MethodGet, "/scores", http.StatusNotFound,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			live, http.MethodGet, "/scores", http.StatusNotFound,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			live, http.MethodPost, "/diff", http.StatusNotFound,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			live, http.MethodGet, "/ws", http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			tt.handler.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("Expected %d for %s %s, got %d", tt.want, tt.method, tt.path, w.Code)
			}
		})
	}
}

func TestServer_Start(t *testing.T) {
	t.Parallel()

	server := newServer(t, runnable.Routes{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Errorf("Expected Start to return after cancellation")
	}
}

func freeAddress(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer listener.Close()
	return listener.Addr().String()
}

func TestServer_Start_WithOpenStream(t *testing.T) {
	t.Parallel()

	address := freeAddress(t)
	frames := broadcast.NewHub[[]byte]()
	server := newServerOn(t, address, runnable.Routes{Frames: frames})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Start(ctx)
	}()

	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for {
		var err error
		resp, err = http.Get("http://" + address + "/stream")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("Unexpected error: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected %d, got %d", http.StatusOK, resp.StatusCode)
	}
	for frames.Subscribers() == 0 {
		time.Sleep(time.Millisecond)
	}

	started := time.Now()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
		// The grace period is one second; an open stream must not use it up.
		if elapsed := time.Since(started); elapsed >= time.Second {
			t.Errorf("Expected Start to return before the grace period, took %v", elapsed)
		}
	case <-time.After(5 * time.Second):
		t.Errorf("Expected Start to return after cancellation")
	}
}
