package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// unhealthyStatus is the first HTTP status that fails an http_get probe
const unhealthyStatus = 400

// HTTPChecker sends a GET to a path on a service instance. Redirects are
// not followed: the instance answered, so its own status decides.
type HTTPChecker struct {
	target Target
	path   string
	client *http.Client
}

// NewHTTPChecker creates an http_get checker for path on target
func NewHTTPChecker(target Target, path string, timeout time.Duration) *HTTPChecker {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPChecker{
		target: target,
		path:   path,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// URL is the address the checker requests
func (h *HTTPChecker) URL() string {
	return "http://" + h.target.Address() + h.path
}

// Timeout is the deadline of one request
func (h *HTTPChecker) Timeout() time.Duration {
	return h.client.Timeout
}

func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// Check performs one GET
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL(), nil)
	if err != nil {
		return finish(start, false, fmt.Sprintf("invalid request for %s: %v", h.URL(), err))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return finish(start, false, fmt.Sprintf("GET %s failed: %v", h.path, err))
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	msg := fmt.Sprintf("GET %s: HTTP %d %s", h.path, resp.StatusCode, http.StatusText(resp.StatusCode))
	return finish(start, resp.StatusCode < unhealthyStatus, msg)
}
