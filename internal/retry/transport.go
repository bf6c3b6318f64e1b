package retry

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Transport retries requests according to RetryOn, sleeping as RetryStrategy
// says between attempts. Requests whose body cannot be replayed are sent once.
type Transport struct {
	Base          http.RoundTripper
	RetryStrategy Strategy
	RetryOn       *On
}

func (t *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	for retryCount := uint(0); ; retryCount++ {
		if retryCount > 0 && request.Body != nil && request.Body != http.NoBody {
			if request.GetBody == nil {
				return nil, io.ErrUnexpectedEOF
			}
			body, err := request.GetBody()
			if err != nil {
				return nil, err
			}
			request = request.Clone(request.Context())
			request.Body = body
		}

		sleep, exceeded := t.retryStrategy().Sleep(retryCount)

		response, err := t.base().RoundTrip(request)
		if err != nil {
			if exceeded || t.RetryOn == nil || !t.RetryOn.CheckError(err) || !replayable(request) {
				return nil, err
			}
		} else {
			if exceeded || t.RetryOn == nil || !t.RetryOn.CheckResponse(response) || !replayable(request) {
				return response, nil
			}
			sleep = max(sleep, retryAfter(response.Header.Get("Retry-After")))
			_, _ = io.Copy(io.Discard, response.Body)
			_ = response.Body.Close()
		}

		if err := wait(request.Context(), sleep); err != nil {
			return nil, err
		}
	}
}

func replayable(request *http.Request) bool {
	return request.Body == nil || request.Body == http.NoBody || request.GetBody != nil
}

// retryAfter parses the delay-seconds form of Retry-After.
func retryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) retryStrategy() Strategy {
	if t.RetryStrategy != nil {
		return t.RetryStrategy
	}
	return NewNever()
}
