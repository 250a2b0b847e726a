// Package clients provides retry classification and backoff for API clients
package clients

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// Decision is the retry decision for one attempt's outcome.
type Decision int

const (
	// DecisionFatal means the outcome is terminal and must not be retried
	DecisionFatal Decision = iota
	// DecisionRetryNow means the outcome is transient; retry after backoff
	DecisionRetryNow
	// DecisionRetryAfter means the server dictated a minimum wait before retry
	DecisionRetryAfter
)

// String returns the decision name used in logs and metrics labels.
func (d Decision) String() string {
	switch d {
	case DecisionFatal:
		return "fatal"
	case DecisionRetryNow:
		return "retry_now"
	case DecisionRetryAfter:
		return "retry_after"
	default:
		return "unknown"
	}
}

// Outcome is the inspectable result of classifying one attempt. Wait is the
// duration to sleep before the next attempt; it is zero for fatal outcomes.
type Outcome struct {
	Decision Decision
	Wait     time.Duration
}

// RetryPolicy classifies attempt outcomes and computes backoff delays.
type RetryPolicy struct {
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// NewRetryPolicy creates a retry policy with exponential backoff.
func NewRetryPolicy(maxRetries int, base time.Duration, multiplier float64, maxBackoff time.Duration) *RetryPolicy {
	if multiplier < 1.0 {
		multiplier = 2.0
	}
	return &RetryPolicy{
		MaxRetries:        maxRetries,
		BackoffBase:       base,
		BackoffMultiplier: multiplier,
		MaxBackoff:        maxBackoff,
	}
}

// Classify maps one attempt's result to a retry outcome.
//
// Connection errors, timeouts, and 5xx responses are retryable with
// exponential backoff. A 429 yields the server-stated wait, never reduced
// below the hint even when the computed backoff is smaller, capped at
// MaxBackoff. Any other 4xx is fatal. err takes precedence over resp.
func (rp *RetryPolicy) Classify(resp *http.Response, err error, attempt int) Outcome {
	if err != nil {
		// Connection failures and timeouts
		return Outcome{Decision: DecisionRetryNow, Wait: rp.BackoffFor(attempt)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Outcome{Decision: DecisionFatal} // not used; success short-circuits

	case resp.StatusCode == http.StatusTooManyRequests:
		wait := rp.retryAfterWait(resp, attempt)
		return Outcome{Decision: DecisionRetryAfter, Wait: wait}

	case resp.StatusCode >= 500:
		return Outcome{Decision: DecisionRetryNow, Wait: rp.BackoffFor(attempt)}

	case resp.StatusCode >= 400:
		return Outcome{Decision: DecisionFatal}

	default:
		return Outcome{Decision: DecisionFatal}
	}
}

// BackoffFor returns min(base * multiplier^attempt, max) for the given
// zero-based attempt number.
func (rp *RetryPolicy) BackoffFor(attempt int) time.Duration {
	delay := float64(rp.BackoffBase) * math.Pow(rp.BackoffMultiplier, float64(attempt))
	if delay > float64(rp.MaxBackoff) {
		delay = float64(rp.MaxBackoff)
	}
	return time.Duration(delay)
}

// retryAfterWait computes the wait for a 429 response. The server hint wins
// over the computed backoff when it is larger; the result is capped at
// MaxBackoff.
func (rp *RetryPolicy) retryAfterWait(resp *http.Response, attempt int) time.Duration {
	wait := rp.BackoffFor(attempt)

	if hint := parseRetryAfter(resp.Header.Get("Retry-After")); hint > wait {
		wait = hint
	}

	if wait > rp.MaxBackoff {
		wait = rp.MaxBackoff
	}
	return wait
}

// parseRetryAfter parses a Retry-After header value: either integer seconds
// or an HTTP-date for a future instant. Returns 0 when absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}

	return 0
}
