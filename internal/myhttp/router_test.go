package myhttp_test

import (
	"io"
	"log/slog"
	"motion-grid/internal/myhttp"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
)

func newMux(t *testing.T) interface {
	http.Handler
	HandleFuncWithMiddleware(string, http.HandlerFunc)
} {
	t.Helper()

	histogram, err := noop.NewMeterProvider().Meter("test").Int64Histogram("http_requests_duration_micro_seconds")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return myhttp.NewServerMux(slog.New(slog.NewTextHandler(io.Discard, nil)), histogram)
}

func TestMiddleware(t *testing.T) {
	mux := newMux(t)
	mux.HandleFuncWithMiddleware("GET /ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	mux.HandleFuncWithMiddleware("GET /panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	mux.HandleFuncWithMiddleware("GET /error-panic", func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})

	for _, testCase := range []struct {
		path string
		want int
	}{
		{path: "/ok", want: http.StatusTeapot},
		{path: "/panic", want: http.StatusInternalServerError},
		{path: "/error-panic", want: http.StatusInternalServerError},
		{path: "/missing", want: http.StatusNotFound},
	} {
		t.Run(testCase.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, testCase.path, nil))
			if w.Code != testCase.want {
				t.Errorf("Expected %d, got %d", testCase.want, w.Code)
			}
		})
	}
}
