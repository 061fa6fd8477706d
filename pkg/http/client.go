// Package http provides the backend transport of Classroom Kit.
// It wraps net/http with retries, client-side rate limiting, request IDs,
// session cookies and a hook that invalidates the session on 401 responses.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "classroom-kit/1.0"

// SessionInvalidator is notified whenever the backend answers 401.
type SessionInvalidator interface {
	Invalidate()
}

// RequestObserver receives one observation per round trip.
// status is 0 when no response was received.
type RequestObserver interface {
	ObserveRequest(method string, status int, duration time.Duration)
}

// ClientConfig configures the HTTP client
type ClientConfig struct {
	BaseURL     string            // Backend root, e.g. http://localhost:5000
	Timeout     time.Duration     // Overall timeout for JSON calls; response-header timeout for streams
	MaxRetries  int               // Retries for idempotent calls; 0 disables
	Backoff     BackoffConfig     // Delay between retries
	Headers     map[string]string // Headers added to every request
	UserAgent   string
	RateLimit   float64 // Requests per second; 0 disables the limiter
	RateBurst   int
	BearerToken string // Optional Authorization bearer token

	Jar       http.CookieJar
	Session   SessionInvalidator
	Observer  RequestObserver
	Logger    *slog.Logger
	Transport http.RoundTripper // Base transport; defaults to a clone of http.DefaultTransport
}

// ClientMetrics tracks HTTP client activity
type ClientMetrics struct {
	TotalRequests   int64         `json:"total_requests"`
	SuccessfulReqs  int64         `json:"successful_requests"`
	FailedReqs      int64         `json:"failed_requests"`
	RetryCount      int64         `json:"retry_count"`
	AvgLatency      time.Duration `json:"avg_latency"`
	LastRequestTime time.Time     `json:"last_request_time"`
}

// Client talks to the backend
type Client struct {
	baseURL string
	config  ClientConfig
	client  *http.Client
	stream  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	requestCount int64
	successCount int64
	errorCount   int64
	retryCount   int64
	totalLatency int64 // Nanoseconds

	mu          sync.RWMutex
	lastRequest time.Time
}

// NewClient creates a client from config
func NewClient(config ClientConfig) (*Client, error) {
	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", config.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", config.BaseURL)
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.Backoff == (BackoffConfig{}) {
		config.Backoff = DefaultBackoffConfig()
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	roundTripper, streamRoundTripper := buildTransports(config)

	c := &Client{
		baseURL: strings.TrimRight(base.String(), "/"),
		config:  config,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: roundTripper,
			Jar:       config.Jar,
		},
		// Streams stay open for as long as the answer takes.
		stream: &http.Client{
			Transport: streamRoundTripper,
			Jar:       config.Jar,
		},
		logger: config.Logger,
	}

	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return c, nil
}

func buildTransports(config ClientConfig) (http.RoundTripper, http.RoundTripper) {
	base := config.Transport
	stream := config.Transport
	if base == nil {
		if dt, ok := http.DefaultTransport.(*http.Transport); ok {
			t := dt.Clone()
			base = t
			st := t.Clone()
			st.ResponseHeaderTimeout = config.Timeout
			stream = st
		} else {
			base = http.DefaultTransport
			stream = http.DefaultTransport
		}
	}

	if config.BearerToken != "" {
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.BearerToken, TokenType: "Bearer"})
		base = &oauth2.Transport{Source: source, Base: base}
		stream = &oauth2.Transport{Source: source, Base: stream}
	}
	return base, stream
}

// ResolveURL joins path onto the base URL. Absolute URLs are returned unchanged.
func (c *Client) ResolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// BaseURL returns the normalized backend root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do executes a request with rate limiting and retries.
// Idempotent requests are retried on network errors and retryable statuses;
// every other request is sent once. A response is returned for any status.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	c.prepare(req)
	requestID := req.Header.Get(RequestIDHeader)
	replayable := isIdempotent(req.Method) && (req.Body == nil || req.GetBody != nil)

	start := time.Now()
	atomic.AddInt64(&c.requestCount, 1)

	var resp *http.Response
	var err error
	var hint time.Duration

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(c.config.Backoff, attempt, hint)
			hint = 0
			c.logger.Warn("retrying request",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				c.finish(start, false)
				return nil, c.transportError(req, ctx.Err())
			}
			atomic.AddInt64(&c.retryCount, 1)
		}

		if err = c.wait(ctx); err != nil {
			break
		}

		var attemptReq *http.Request
		attemptReq, err = cloneRequest(ctx, req)
		if err != nil {
			break
		}

		attemptStart := time.Now()
		resp, err = c.client.Do(attemptReq)
		c.observe(req.Method, resp, time.Since(attemptStart))

		if err != nil {
			if ctx.Err() != nil || !replayable || attempt == c.config.MaxRetries {
				break
			}
			continue
		}

		c.checkUnauthorized(resp)

		if replayable && attempt < c.config.MaxRetries && IsRetryableStatus(resp.StatusCode) {
			hint, _ = RetryAfter(resp.Header, time.Now())
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close() //nolint:errcheck // Best effort close
			continue
		}
		break
	}

	if err != nil {
		c.finish(start, false)
		return nil, c.transportError(req, err)
	}

	c.finish(start, IsSuccess(resp.StatusCode))
	c.logger.Debug("request completed",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", requestID))
	return resp, nil
}

// Stream posts body to path and returns the response with its body unread.
// Streams are never retried and have no overall deadline; cancel ctx to abort.
func (c *Client) Stream(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ResolveURL(path), bytes.NewReader(body))
	if err != nil {
		return nil, types.NewTransportError(types.ErrCodeInvalidRequest, "failed to create request").WithOriginalErr(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.prepare(req)

	start := time.Now()
	atomic.AddInt64(&c.requestCount, 1)

	if err := c.wait(ctx); err != nil {
		c.finish(start, false)
		return nil, c.transportError(req, err)
	}

	resp, err := c.stream.Do(req)
	c.observe(req.Method, resp, time.Since(start))
	if err != nil {
		c.finish(start, false)
		return nil, c.transportError(req, err)
	}

	c.checkUnauthorized(resp)
	c.finish(start, IsSuccess(resp.StatusCode))
	return resp, nil
}

// GetJSON fetches path and decodes the JSON response into out
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	return c.DoJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON sends in as a JSON POST and decodes the response into out
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.DoJSON(ctx, http.MethodPost, path, in, out)
}

// PutJSON sends in as a JSON PUT and decodes the response into out
func (c *Client) PutJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.DoJSON(ctx, http.MethodPut, path, in, out)
}

// DoJSON sends a JSON request with the specified method. out may be nil.
// Non-2xx responses are returned as transport errors.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out interface{}) error {
	req, err := NewJSONRequest(ctx, method, c.ResolveURL(path), in)
	if err != nil {
		return fmt.Errorf("failed to create JSON request: %w", err)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}

	if err := ProcessJSONResponse(resp, out); err != nil {
		if ce, ok := err.(*types.ClientError); ok {
			return ce.WithEndpoint(req.URL.Path).WithRequestID(req.Header.Get(RequestIDHeader))
		}
		return err
	}
	return nil
}

// GetMetrics returns current client metrics
func (c *Client) GetMetrics() ClientMetrics {
	c.mu.RLock()
	last := c.lastRequest
	c.mu.RUnlock()

	metrics := ClientMetrics{
		TotalRequests:   atomic.LoadInt64(&c.requestCount),
		SuccessfulReqs:  atomic.LoadInt64(&c.successCount),
		FailedReqs:      atomic.LoadInt64(&c.errorCount),
		RetryCount:      atomic.LoadInt64(&c.retryCount),
		LastRequestTime: last,
	}
	if done := metrics.SuccessfulReqs + metrics.FailedReqs; done > 0 {
		metrics.AvgLatency = time.Duration(atomic.LoadInt64(&c.totalLatency) / done)
	}
	return metrics
}

func (c *Client) prepare(req *http.Request) {
	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.New().String())
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) checkUnauthorized(resp *http.Response) {
	if resp.StatusCode != http.StatusUnauthorized || c.config.Session == nil {
		return
	}
	c.logger.Info("session rejected by backend", slog.String("path", resp.Request.URL.Path))
	c.config.Session.Invalidate()
}

func (c *Client) observe(method string, resp *http.Response, d time.Duration) {
	if c.config.Observer == nil {
		return
	}
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	c.config.Observer.ObserveRequest(method, status, d)
}

func (c *Client) finish(start time.Time, ok bool) {
	if ok {
		atomic.AddInt64(&c.successCount, 1)
	} else {
		atomic.AddInt64(&c.errorCount, 1)
	}
	atomic.AddInt64(&c.totalLatency, time.Since(start).Nanoseconds())

	c.mu.Lock()
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

func (c *Client) transportError(req *http.Request, err error) *types.ClientError {
	c.logger.Warn("request failed",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.String("error", err.Error()))
	return types.NewTransportError(types.ErrCodeNetwork, "request failed").
		WithEndpoint(req.URL.Path).
		WithRequestID(req.Header.Get(RequestIDHeader)).
		WithOriginalErr(err)
}

// cloneRequest creates a fresh copy of req, with a rewound body, for one attempt
func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	cloned := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		cloned.Body = body
	}
	return cloned, nil
}
