package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/chis/regview/internal/logging"
)

// errRateLimitWait marks a request that never left because the client-side
// limiter could not admit it before the context ended.
var errRateLimitWait = errors.New("rate limit wait")

// RequestObserver is called once per HTTP round trip. status is 0 when the
// request never produced a response.
type RequestObserver func(op string, status int, err error, elapsed time.Duration)

// HTTPClient talks to a single registry over the v2 HTTP API.
type HTTPClient struct {
	desc       Descriptor
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *CircuitBreaker
	observe    RequestObserver
	logger     *logging.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit caps outgoing requests per second. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCircuitBreaker shares a breaker between clients. Nil disables it.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(c *HTTPClient) {
		c.breaker = cb
	}
}

// WithObserver registers a per-request hook, typically metrics.
func WithObserver(fn RequestObserver) Option {
	return func(c *HTTPClient) {
		c.observe = fn
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *logging.Logger) Option {
	return func(c *HTTPClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewHTTPClient validates desc and returns a client for it.
func NewHTTPClient(desc Descriptor, opts ...Option) (*HTTPClient, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	c := &HTTPClient{
		desc:       desc,
		baseURL:    desc.BaseURL(),
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(map[string]any{
		"registry": desc.Address(),
	})
	return c, nil
}

// Descriptor returns the descriptor the client was built from.
func (c *HTTPClient) Descriptor() Descriptor {
	return c.desc
}

// do issues one authenticated request. The caller owns resp.Body.
func (c *HTTPClient) do(ctx context.Context, op, method, p, accept string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", errRateLimitWait, err)
		}
	}

	target := resolveURL(c.baseURL, p, nil)
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	applyAuth(req, c.desc)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if c.observe != nil {
		c.observe(op, status, err, elapsed)
	}
	if err != nil {
		c.logger.DebugContext(ctx, "%s %s failed after %dms: %v", method, target, elapsed.Milliseconds(), err)
		return nil, err
	}
	c.logger.DebugContext(ctx, "%s %s -> %d (%dms)", method, target, status, elapsed.Milliseconds())
	return resp, nil
}

func (c *HTTPClient) url(p string) string {
	return resolveURL(c.baseURL, p, nil)
}

func (c *HTTPClient) breakerKey() string {
	return c.desc.Address()
}

func (c *HTTPClient) recordSuccess() {
	if c.breaker != nil {
		c.breaker.RecordSuccess(c.breakerKey())
	}
}

// recordFailure counts a registry failure. Failures caused by the caller
// giving up, or by the local limiter, say nothing about the registry and
// are not counted.
func (c *HTTPClient) recordFailure(ctx context.Context, err error) {
	if c.breaker == nil || callerAborted(ctx, err) {
		return
	}
	c.breaker.RecordFailure(c.breakerKey())
}

func callerAborted(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, errRateLimitWait)
}
