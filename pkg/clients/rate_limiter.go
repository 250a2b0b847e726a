// Package clients provides the resilient API client substrate for chemflow:
// per-source rate limiting, circuit breaking, retry classification, response
// caching, and the composed client that ties them together.
package clients

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// RateLimiter defines the admission-control interface used by the API client.
type RateLimiter interface {
	// Acquire blocks until a token is available, then consumes one token.
	// It returns an error only when ctx is cancelled.
	Acquire(ctx context.Context) error

	// Allow checks if a request is allowed immediately without blocking
	Allow() bool

	// GetStats returns rate limiter statistics
	GetStats() RateLimiterStats
}

// RateLimiterStats provides detailed statistics about rate limiter performance
// and current state for monitoring and debugging.
type RateLimiterStats struct {
	MaxCalls        int           `json:"max_calls"`
	Period          time.Duration `json:"period"`
	AllowedRequests int64         `json:"allowed_requests"`
	BlockedRequests int64         `json:"blocked_requests"`
	CurrentTokens   float64       `json:"current_tokens"`
	LastRefill      time.Time     `json:"last_refill"`
	AverageWaitTime time.Duration `json:"average_wait_time"`
}

// TokenBucketLimiter implements the token bucket algorithm. Tokens refill at
// maxCalls/period and are consumed one per admitted request, so no more than
// maxCalls requests pass in any sliding window of length period (within
// scheduling tolerance).
type TokenBucketLimiter struct {
	maxCalls       int
	period         time.Duration
	jitter         bool
	jitterFraction float64

	tokens   float64
	lastTime time.Time

	// Stats
	allowedRequests int64
	blockedRequests int64
	totalWaitTime   int64

	mu sync.Mutex
}

// NewTokenBucketLimiter creates a token bucket limiter admitting maxCalls
// requests per period. When jitter is enabled, the sleep taken while the
// bucket is empty is spread by ±jitterFraction (0.2 = ±20%).
func NewTokenBucketLimiter(maxCalls int, period time.Duration, jitter bool, jitterFraction float64) *TokenBucketLimiter {
	if jitterFraction <= 0 {
		jitterFraction = 0.2
	}
	return &TokenBucketLimiter{
		maxCalls:       maxCalls,
		period:         period,
		jitter:         jitter,
		jitterFraction: jitterFraction,
		tokens:         float64(maxCalls),
		lastTime:       time.Now(),
	}
}

// Allow checks if a request is allowed immediately.
// Returns true if a token is available and consumes it, false otherwise.
func (tb *TokenBucketLimiter) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= 1.0 {
		tb.tokens--
		atomic.AddInt64(&tb.allowedRequests, 1)
		return true
	}

	atomic.AddInt64(&tb.blockedRequests, 1)
	return false
}

// Acquire blocks until a token is available, then consumes one. The only
// failure mode is context cancellation; callers never see a rate error here.
func (tb *TokenBucketLimiter) Acquire(ctx context.Context) error {
	start := time.Now()

	for {
		tb.mu.Lock()
		tb.refill()

		if tb.tokens >= 1.0 {
			tb.tokens--
			atomic.AddInt64(&tb.allowedRequests, 1)
			atomic.AddInt64(&tb.totalWaitTime, time.Since(start).Nanoseconds())
			tb.mu.Unlock()
			return nil
		}
		tb.mu.Unlock()

		// Sleep one token interval, spread by jitter when enabled
		waitTime := tb.period / time.Duration(tb.maxCalls)
		if tb.jitter {
			spread := tb.jitterFraction
			factor := 1 - spread + rand.Float64()*2*spread
			waitTime = time.Duration(float64(waitTime) * factor)
		}

		timer := time.NewTimer(waitTime)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
			atomic.AddInt64(&tb.blockedRequests, 1)
			return ctx.Err()
		}
	}
}

// refill adds tokens based on elapsed time
func (tb *TokenBucketLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastTime).Seconds()

	rate := float64(tb.maxCalls) / tb.period.Seconds()
	tb.tokens += elapsed * rate
	if tb.tokens > float64(tb.maxCalls) {
		tb.tokens = float64(tb.maxCalls)
	}

	tb.lastTime = now
}

// GetStats returns rate limiter statistics
func (tb *TokenBucketLimiter) GetStats() RateLimiterStats {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	allowed := atomic.LoadInt64(&tb.allowedRequests)
	blocked := atomic.LoadInt64(&tb.blockedRequests)
	totalWait := atomic.LoadInt64(&tb.totalWaitTime)

	avgWait := time.Duration(0)
	if allowed > 0 {
		avgWait = time.Duration(totalWait / allowed)
	}

	return RateLimiterStats{
		MaxCalls:        tb.maxCalls,
		Period:          tb.period,
		AllowedRequests: allowed,
		BlockedRequests: blocked,
		CurrentTokens:   tb.tokens,
		LastRefill:      tb.lastTime,
		AverageWaitTime: avgWait,
	}
}
