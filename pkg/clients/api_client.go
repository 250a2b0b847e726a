// Package clients provides the composed API client for external sources
package clients

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/chemflow/chemflow/pkg/cferrors"
	"github.com/chemflow/chemflow/pkg/config"
	"github.com/chemflow/chemflow/pkg/metrics"
)

// RequestDescriptor describes one logical request. It is immutable once
// built and doubles as the input to cache key derivation.
type RequestDescriptor struct {
	Method     string
	Path       string // joined onto the source base URL
	Query      map[string]string
	Headers    map[string]string
	Idempotent bool
}

// APIClient composes the rate limiter, circuit breaker, retry policy, and
// response cache around a single logical request. One instance exists per
// external source per run; its internal state is safe for concurrent use by
// the extract workers.
type APIClient struct {
	source string
	cfg    config.SourceConfig
	logger *zap.Logger

	httpClient *http.Client
	transport  *http.Transport

	rateLimiter RateLimiter
	breaker     *CircuitBreaker
	retry       *RetryPolicy
	cache       *ResponseCache

	totalRequests  int64
	failedRequests int64
}

// NewAPIClient creates a client for one external source.
func NewAPIClient(source string, cfg config.SourceConfig, logger *zap.Logger) *APIClient {
	logger = logger.With(zap.String("source", source))

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("failed to configure HTTP/2", zap.Error(err))
	}

	c := &APIClient{
		source:    source,
		cfg:       cfg,
		logger:    logger,
		transport: transport,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		rateLimiter: NewTokenBucketLimiter(
			cfg.RateLimit.MaxCalls,
			cfg.RateLimit.Period,
			cfg.RateLimit.Jitter,
			cfg.RateLimit.JitterFraction,
		),
		breaker: NewCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			Cooldown:         cfg.CircuitBreaker.Cooldown,
		}, logger),
		retry: NewRetryPolicy(
			cfg.Retry.MaxRetries,
			cfg.Retry.BackoffBase,
			cfg.Retry.BackoffMultiplier,
			cfg.Retry.MaxBackoff,
		),
	}

	if cfg.Cache.Enabled {
		c.cache = NewResponseCache(cfg.Cache.MaxEntries)
	}

	return c
}

// Source returns the source name this client serves.
func (c *APIClient) Source() string {
	return c.source
}

// Execute performs one logical request and returns the response body.
//
// Cached idempotent requests short-circuit before any rate-limiter or
// circuit-breaker involvement. Otherwise each attempt checks the breaker,
// acquires a rate-limiter token, performs the call, and classifies the
// outcome; retryable outcomes sleep the indicated wait and try again up to
// the configured retry budget. Cancellation is observed between attempts.
func (c *APIClient) Execute(ctx context.Context, req RequestDescriptor) ([]byte, error) {
	fullURL, err := c.buildURL(req)
	if err != nil {
		return nil, cferrors.Wrap(err, cferrors.ErrorTypeConfig, "invalid request URL").
			WithDetail("source", c.source)
	}

	var cacheKey string
	if req.Idempotent && c.cache != nil {
		cacheKey = CacheKey(req.Method, fullURL, req.Query)
		if body, ok := c.cache.Get(cacheKey); ok {
			metrics.CacheRequests.WithLabelValues(c.source, "hit").Inc()
			return body, nil
		}
		metrics.CacheRequests.WithLabelValues(c.source, "miss").Inc()
	}

	atomic.AddInt64(&c.totalRequests, 1)

	var lastOutcome Outcome
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, c.fail(cferrors.Wrap(err, cferrors.ErrorTypeNetwork, "request cancelled").
				WithDetail("source", c.source).
				WithDetail("attempt", attempt))
		}

		if !c.breaker.Allow() {
			metrics.CircuitState.WithLabelValues(c.source).Set(float64(c.breaker.State()))
			return nil, c.fail(cferrors.New(cferrors.ErrorTypeCircuitOpen, "circuit breaker open").
				WithDetail("source", c.source).
				WithDetail("endpoint", req.Path))
		}

		if err := c.rateLimiter.Acquire(ctx); err != nil {
			// No network call was made, so neither RecordSuccess nor
			// RecordFailure fires; hand back any half-open probe slot
			c.breaker.ReleaseProbe()
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, c.fail(cferrors.Wrap(err, cferrors.ErrorTypeRateLimit, "rate limit ceiling exceeded while waiting").
					WithDetail("source", c.source).
					WithDetail("endpoint", req.Path))
			}
			return nil, c.fail(cferrors.Wrap(err, cferrors.ErrorTypeNetwork, "request cancelled").
				WithDetail("source", c.source))
		}

		body, resp, attemptErr := c.attempt(ctx, req.Method, fullURL, req.Headers)
		if attemptErr == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.breaker.RecordSuccess()
			metrics.CircuitState.WithLabelValues(c.source).Set(float64(c.breaker.State()))
			metrics.APIRequests.WithLabelValues(c.source, "success").Inc()

			if req.Idempotent && c.cache != nil {
				c.cache.Put(cacheKey, body, c.cfg.Cache.TTL)
			}
			return body, nil
		}

		outcome := c.retry.Classify(resp, attemptErr, attempt)
		lastOutcome = outcome
		c.breaker.RecordFailure()
		metrics.CircuitState.WithLabelValues(c.source).Set(float64(c.breaker.State()))

		if outcome.Decision == DecisionFatal {
			metrics.RetryEvents.WithLabelValues(c.source, outcome.Decision.String()).Inc()
			return nil, c.fail(c.fatalError(req, resp, body, attempt))
		}

		if attempt >= c.retry.MaxRetries {
			metrics.RetryEvents.WithLabelValues(c.source, "giveup").Inc()
			c.logger.Warn("retries exhausted",
				zap.String("endpoint", req.Path),
				zap.Int("attempts", attempt+1),
				zap.String("classification", outcome.Decision.String()))
			return nil, c.fail(c.terminalError(req, resp, attemptErr, attempt, lastOutcome))
		}

		metrics.RetryEvents.WithLabelValues(c.source, outcome.Decision.String()).Inc()
		c.logger.Info("retrying request",
			zap.String("endpoint", req.Path),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", outcome.Wait),
			zap.String("classification", outcome.Decision.String()))

		timer := time.NewTimer(outcome.Wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, c.fail(cferrors.Wrap(ctx.Err(), cferrors.ErrorTypeNetwork, "request cancelled during backoff").
				WithDetail("source", c.source).
				WithDetail("attempt", attempt+1))
		}
	}
}

// ExecuteJSON performs a request and decodes the JSON response into target.
// Malformed payloads surface as a parse error and are never retried.
func (c *APIClient) ExecuteJSON(ctx context.Context, req RequestDescriptor, target interface{}) error {
	body, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, target); err != nil {
		metrics.APIRequests.WithLabelValues(c.source, "parse").Inc()
		return cferrors.Wrap(err, cferrors.ErrorTypeParse, "malformed response body").
			WithDetail("source", c.source).
			WithDetail("endpoint", req.Path)
	}
	return nil
}

// attempt performs one network call and drains the response body.
func (c *APIClient) attempt(ctx context.Context, method, fullURL string, headers map[string]string) ([]byte, *http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, nil, err
	}

	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	for key, value := range c.cfg.PolitenessHeaders {
		httpReq.Header.Set(key, value)
	}
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	metrics.RequestLatency.WithLabelValues(c.source).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, nil, readErr
	}

	return body, resp, nil
}

// buildURL joins the base URL, the request path, and sorted query parameters.
// Sorting keeps the assembled URL stable for logging and cache keys.
func (c *APIClient) buildURL(req RequestDescriptor) (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", err
	}

	ref, err := url.Parse(req.Path)
	if err != nil {
		return "", err
	}
	u := base.ResolveReference(ref)

	if len(req.Query) > 0 {
		keys := make([]string, 0, len(req.Query))
		for k := range req.Query {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		q := url.Values{}
		for _, k := range keys {
			q.Set(k, req.Query[k])
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// fatalError builds the terminal error for a non-retryable 4xx response.
func (c *APIClient) fatalError(req RequestDescriptor, resp *http.Response, body []byte, attempt int) error {
	metrics.APIRequests.WithLabelValues(c.source, "http").Inc()
	return cferrors.Newf(cferrors.ErrorTypeHTTP, "HTTP %d from %s", resp.StatusCode, req.Path).
		WithDetail("source", c.source).
		WithDetail("status", resp.StatusCode).
		WithDetail("body", string(body)).
		WithDetail("attempt", attempt+1)
}

// terminalError builds the error surfaced after the retry budget is spent.
func (c *APIClient) terminalError(req RequestDescriptor, resp *http.Response, err error, attempt int, last Outcome) error {
	details := func(e *cferrors.Error) *cferrors.Error {
		return e.WithDetail("source", c.source).
			WithDetail("endpoint", req.Path).
			WithDetail("attempts", attempt+1).
			WithDetail("last_classification", last.Decision.String())
	}

	switch {
	case err != nil:
		metrics.APIRequests.WithLabelValues(c.source, "network").Inc()
		return details(cferrors.Wrap(err, cferrors.ErrorTypeNetwork, "request failed after retries"))
	case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
		metrics.APIRequests.WithLabelValues(c.source, "rate_limit").Inc()
		return details(cferrors.New(cferrors.ErrorTypeRateLimit, "rate limited after retries"))
	default:
		metrics.APIRequests.WithLabelValues(c.source, "server").Inc()
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return details(cferrors.Newf(cferrors.ErrorTypeServer, "server error %d after retries", status))
	}
}

// fail counts a terminal failure and passes err through.
func (c *APIClient) fail(err error) error {
	atomic.AddInt64(&c.failedRequests, 1)
	return err
}

// GetStats returns a snapshot of the client's counters and component state.
func (c *APIClient) GetStats() ClientStats {
	stats := ClientStats{
		Source:         c.source,
		TotalRequests:  atomic.LoadInt64(&c.totalRequests),
		FailedRequests: atomic.LoadInt64(&c.failedRequests),
		RateLimiter:    c.rateLimiter.GetStats(),
		CircuitBreaker: c.breaker.Snapshot(),
	}
	if c.cache != nil {
		stats.Cache = c.cache.GetStats()
	}
	return stats
}

// Close releases idle connections held by the transport.
func (c *APIClient) Close() {
	c.transport.CloseIdleConnections()
}

// ClientStats represents an API client's counters and component state
type ClientStats struct {
	Source         string                 `json:"source"`
	TotalRequests  int64                  `json:"total_requests"`
	FailedRequests int64                  `json:"failed_requests"`
	RateLimiter    RateLimiterStats       `json:"rate_limiter"`
	CircuitBreaker CircuitBreakerSnapshot `json:"circuit_breaker"`
	Cache          CacheStats             `json:"cache"`
}
