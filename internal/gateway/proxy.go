package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/joao-fontenele/ordertrack/internal/breaker"
)

// forwardedHeaders are copied from the client request to the upstream call.
// Trace headers are added by the client transport.
var forwardedHeaders = []string{"Content-Type", "Accept"}

type upstreamStatusError struct {
	status int
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.status)
}

type ServiceProxy struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
}

func NewServiceProxy(baseURL string, client *http.Client, cb *gobreaker.CircuitBreaker) *ServiceProxy {
	return &ServiceProxy{
		baseURL: baseURL,
		client:  client,
		cb:      cb,
	}
}

// ForwardRequest replays r against the upstream at path, keeping the method,
// body, query string and content headers. A 5xx answer counts against the
// breaker but is still returned to the caller. When the breaker is open the
// upstream is not called and the error satisfies breaker.IsOpen.
func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string) (*http.Response, error) {
	target := p.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	resp, err := breaker.Execute(p.cb, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
		if err != nil {
			return nil, err
		}
		for _, h := range forwardedHeaders {
			if v := r.Header.Get(h); v != "" {
				req.Header.Set(h, v)
			}
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, &upstreamStatusError{status: resp.StatusCode}
		}
		return resp, nil
	})

	var statusErr *upstreamStatusError
	if errors.As(err, &statusErr) && resp != nil {
		return resp, nil
	}
	return resp, err
}
