package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Backoff and policy defaults. Adapters override the policy knobs per source;
// the backoff shape is fixed.
const (
	defaultMaxConcurrency = 3
	defaultMaxRetries     = 3
	defaultConnectTimeout = 10 * time.Second
	defaultTotalTimeout   = 60 * time.Second
	defaultBaseDelay      = 500 * time.Millisecond
	defaultMaxDelay       = 30 * time.Second
	defaultBackoffFactor  = 2.0
	jitterFraction        = 0.25
	maxResponseBytes      = 64 << 20 // 64 MiB cap on any single payload
)

var (
	// ErrResponseTooLarge is returned when a payload exceeds maxResponseBytes.
	ErrResponseTooLarge = errors.New("response body exceeds size limit")

	// ErrNilRequest is returned when Do is called with a nil request.
	ErrNilRequest = errors.New("request cannot be nil")
)

type (
	// Config holds per-source fetch policy. Zero fields fall back to package
	// defaults in NewClient.
	Config struct {
		// MaxConcurrency bounds in-flight requests on this client.
		MaxConcurrency int
		// MaxRetries is the number of retries after the initial attempt.
		MaxRetries int
		// RateInterval is the minimum interval between request starts.
		// Zero disables pacing.
		RateInterval time.Duration
		// ConnectTimeout bounds connection establishment per attempt.
		ConnectTimeout time.Duration
		// Timeout bounds the whole attempt (connect + response + body).
		Timeout time.Duration
		// BaseDelay is the first backoff delay.
		BaseDelay time.Duration
		// MaxDelay caps the computed backoff.
		MaxDelay time.Duration
		// Factor is the exponential backoff multiplier.
		Factor float64
		// UserAgent is sent on every request when set. SEC endpoints require
		// a contact-bearing User-Agent.
		UserAgent string
	}

	// Request describes one HTTP fetch. ResourceID tags the request in logs.
	Request struct {
		URL        string
		Method     string
		Query      url.Values
		Headers    map[string]string
		Body       []byte
		ResourceID string
	}

	// Response is a fully read HTTP response.
	Response struct {
		Status int
		Header http.Header
		Body   []byte
	}

	// Client is a per-source HTTP fetcher. At most MaxConcurrency requests are
	// in flight at any instant; request starts are paced by RateInterval.
	// Safe for concurrent use.
	Client struct {
		httpClient *http.Client
		sem        chan struct{}
		limiter    *rate.Limiter
		cfg        Config
		logger     *slog.Logger
		// sleep is swapped out in tests to avoid real backoff waits.
		sleep func(ctx context.Context, d time.Duration) error
	}
)

// NewClient creates a fetcher with the given policy. Zero-valued config
// fields fall back to package defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTotalTimeout
	}

	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}

	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}

	if cfg.Factor <= 1 {
		cfg.Factor = defaultBackoffFactor
	}

	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RateInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RateInterval), 1)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConnsPerHost:   cfg.MaxConcurrency,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		sem:        make(chan struct{}, cfg.MaxConcurrency),
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// Do executes the request under the client's concurrency, pacing, and retry
// policy, returning the fully read response or a terminal *Error.
//
// Retry policy: transport errors, timeouts, 5xx, and 429 are retried up to
// MaxRetries with base × factor^attempt backoff, ±25% jitter, capped at
// MaxDelay. A Retry-After header on a 429/503 response is honored verbatim.
// 4xx responses other than 429 fail immediately.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	// Acquire a concurrency slot; cancellation propagates through the wait.
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, &Error{Kind: KindCancelled, URL: req.URL, Err: ctx.Err()}
	}
	defer func() { <-c.sem }()

	requestURL := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if u, err := url.Parse(req.URL); err == nil && u.RawQuery != "" {
			sep = "&"
		}

		requestURL = req.URL + sep + req.Query.Encode()
	}

	var lastErr error

	var lastStatus int

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.waitRate(ctx); err != nil {
			return nil, &Error{Kind: KindCancelled, URL: req.URL, Attempts: attempt, Err: err}
		}

		resp, err := c.attempt(ctx, req, requestURL)
		if err == nil && resp.Status < 400 {
			return resp, nil
		}

		if err != nil {
			// Cancellation is terminal regardless of remaining attempts.
			if ctx.Err() != nil {
				return nil, &Error{Kind: KindCancelled, URL: req.URL, Attempts: attempt + 1, Err: ctx.Err()}
			}

			lastErr = err
			lastStatus = 0
		} else {
			lastStatus = resp.Status
			lastErr = fmt.Errorf("unexpected status %d", resp.Status)

			if terminal := classifyStatus(resp.Status); terminal != nil {
				return nil, &Error{
					Kind:     *terminal,
					Status:   resp.Status,
					Attempts: attempt + 1,
					URL:      req.URL,
					Err:      lastErr,
				}
			}
		}

		if attempt == c.cfg.MaxRetries {
			break
		}

		delay := c.backoff(attempt)
		if resp != nil {
			if ra, ok := retryAfter(resp.Header); ok {
				// Retry-After is preferred verbatim over computed backoff.
				delay = ra
			}
		}

		c.logger.Warn("fetch attempt failed, backing off",
			slog.String("resource_id", req.ResourceID),
			slog.String("url", req.URL),
			slog.Int("attempt", attempt+1),
			slog.Int("status", lastStatus),
			slog.Duration("delay", delay),
		)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, &Error{Kind: KindCancelled, URL: req.URL, Attempts: attempt + 1, Err: err}
		}
	}

	kind := KindTransient
	if lastStatus == 0 && isTimeout(lastErr) {
		kind = KindTimeout
	}

	return nil, &Error{
		Kind:     kind,
		Status:   lastStatus,
		Attempts: c.cfg.MaxRetries + 1,
		URL:      req.URL,
		Err:      lastErr,
	}
}

// attempt performs a single HTTP round trip with the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, req *Request, requestURL string) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if c.cfg.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("round trip: %w", err)
	}

	defer func() { _ = httpResp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if len(payload) > maxResponseBytes {
		return nil, ErrResponseTooLarge
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   payload,
	}, nil
}

// waitRate blocks until the pacing limiter admits the next request start.
func (c *Client) waitRate(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}

	return c.limiter.Wait(ctx)
}

// backoff computes base × factor^attempt with ±25% uniform jitter, capped at
// MaxDelay.
func (c *Client) backoff(attempt int) time.Duration {
	delay := float64(c.cfg.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= c.cfg.Factor
	}

	if delay > float64(c.cfg.MaxDelay) {
		delay = float64(c.cfg.MaxDelay)
	}

	jitter := 1 + jitterFraction*(2*rand.Float64()-1) //nolint:gosec // jitter, not crypto

	return time.Duration(delay * jitter)
}

// classifyStatus returns the terminal error kind for a status code, or nil
// when the status is retryable (5xx and 429).
func classifyStatus(status int) *Kind {
	if status >= 500 || status == http.StatusTooManyRequests {
		return nil
	}

	var kind Kind

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindAuth
	default:
		kind = KindClientError
	}

	return &kind
}

// retryAfter parses a Retry-After header as delay seconds or an HTTP-date.
func retryAfter(header http.Header) (time.Duration, bool) {
	value := header.Get("Retry-After")
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
	}

	return 0, false
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
