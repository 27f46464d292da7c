package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Doer sends a single HTTP request and returns the response. *http.Client
// satisfies it; tests and mocks supply their own.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function into a Doer.
type DoerFunc func(req *http.Request) (*http.Response, error)

// Do calls f(req).
func (f DoerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used by the helper.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.doer = h
		}
	}
}

// WithDoer installs an arbitrary transport.
func WithDoer(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.doer = d
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics registers request counters and latency histograms with reg and
// instruments every round trip.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.registerer = reg
	}
}

// Client sends requests relative to a base URL through a Doer. Unlike a
// retrying client it never reinterprets status codes: every response is
// handed back to the caller, which owns the status contract.
type Client struct {
	baseURL    *url.URL
	doer       Doer
	logger     *slog.Logger
	registerer prometheus.Registerer
}

// Request describes a single outbound request.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   io.Reader
}

// NewClient creates a Client for the provided base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("httpx: base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httpx: invalid base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("httpx: base URL %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL: parsed,
		doer: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.registerer != nil {
		instrumented, err := instrument(c.doer, c.registerer)
		if err != nil {
			return nil, fmt.Errorf("httpx: register metrics: %w", err)
		}
		c.doer = instrumented
	}
	return c, nil
}

// NewRequest builds the *http.Request for req without sending it.
func (c *Client) NewRequest(ctx context.Context, req *Request) (*http.Request, error) {
	if req == nil {
		return nil, errors.New("httpx: request is nil")
	}
	if req.Method == "" {
		return nil, errors.New("httpx: HTTP method is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body := req.Body
	if body == nil {
		body = http.NoBody
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.buildURL(req.Path), body)
	if err != nil {
		return nil, err
	}

	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}
	return httpReq, nil
}

// Do builds req and sends it exactly once. The response is returned for any
// status code; only transport failures produce an error.
func (c *Client) Do(ctx context.Context, req *Request) (*http.Response, error) {
	httpReq, err := c.NewRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		closeBody(respBody(resp))
		c.logger.Debug("request failed", "method", req.Method, "route", req.Path, "error", err)
		return nil, err
	}
	c.logger.Debug("request completed", "method", req.Method, "route", req.Path, "status", resp.StatusCode)
	return resp, nil
}

func closeBody(rc io.ReadCloser) {
	if rc != nil {
		_ = rc.Close()
	}
}

func respBody(resp *http.Response) io.ReadCloser {
	if resp == nil {
		return nil
	}
	return resp.Body
}

// buildURL appends path to the base path verbatim. ResolveReference would
// drop the versioned base path and path.Join would collapse the trailing
// slash that root listings depend on.
func (c *Client) buildURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	full := *c.baseURL
	full.Path = strings.TrimSuffix(c.baseURL.Path, "/") + path
	full.RawPath = ""
	return full.String()
}

// ReadAllAndClose drains the reader and ensures it is closed.
func ReadAllAndClose(rc io.ReadCloser) ([]byte, error) {
	defer closeBody(rc)
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Discard drains and closes a response body so the connection can be reused.
func Discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	closeBody(resp.Body)
}

// Success reports whether code is in the 2xx range.
func Success(code int) bool {
	return code >= 200 && code <= 299
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.TrimSpace(contentType) == "application/json"
}
