package clients

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestPolicy() *RetryPolicy {
	return NewRetryPolicy(3, time.Second, 2.0, 60*time.Second)
}

func response(status int, headers map[string]string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
	}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

func TestRetryPolicy_NetworkErrorIsRetryable(t *testing.T) {
	rp := newTestPolicy()

	outcome := rp.Classify(nil, errors.New("connection refused"), 0)
	assert.Equal(t, DecisionRetryNow, outcome.Decision)
	assert.Equal(t, time.Second, outcome.Wait)
}

func TestRetryPolicy_ServerErrorIsRetryable(t *testing.T) {
	rp := newTestPolicy()

	for _, status := range []int{500, 502, 503, 504} {
		outcome := rp.Classify(response(status, nil), nil, 1)
		assert.Equal(t, DecisionRetryNow, outcome.Decision, "status %d", status)
		assert.Equal(t, 2*time.Second, outcome.Wait, "status %d", status)
	}
}

func TestRetryPolicy_ClientErrorIsFatal(t *testing.T) {
	rp := newTestPolicy()

	for _, status := range []int{400, 401, 403, 404, 410, 422} {
		outcome := rp.Classify(response(status, nil), nil, 0)
		assert.Equal(t, DecisionFatal, outcome.Decision, "status %d", status)
		assert.Zero(t, outcome.Wait, "status %d", status)
	}
}

func TestRetryPolicy_RetryAfterHintWinsOverBackoff(t *testing.T) {
	rp := newTestPolicy()

	// Backoff for attempt 0 is 1s; the server says 5s, so 5s wins
	outcome := rp.Classify(response(429, map[string]string{"Retry-After": "5"}), nil, 0)
	assert.Equal(t, DecisionRetryAfter, outcome.Decision)
	assert.Equal(t, 5*time.Second, outcome.Wait)
}

func TestRetryPolicy_BackoffWinsOverSmallerHint(t *testing.T) {
	rp := newTestPolicy()

	// Backoff for attempt 3 is 8s; a 2s hint never reduces the wait
	outcome := rp.Classify(response(429, map[string]string{"Retry-After": "2"}), nil, 3)
	assert.Equal(t, DecisionRetryAfter, outcome.Decision)
	assert.Equal(t, 8*time.Second, outcome.Wait)
}

func TestRetryPolicy_RetryAfterCappedAtMaxBackoff(t *testing.T) {
	rp := newTestPolicy()

	outcome := rp.Classify(response(429, map[string]string{"Retry-After": "3600"}), nil, 0)
	assert.Equal(t, DecisionRetryAfter, outcome.Decision)
	assert.Equal(t, 60*time.Second, outcome.Wait)
}

func TestRetryPolicy_RetryAfterHTTPDate(t *testing.T) {
	rp := newTestPolicy()

	at := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	outcome := rp.Classify(response(429, map[string]string{"Retry-After": at}), nil, 0)
	assert.Equal(t, DecisionRetryAfter, outcome.Decision)
	assert.Greater(t, outcome.Wait, 5*time.Second)
	assert.LessOrEqual(t, outcome.Wait, 10*time.Second)
}

func TestRetryPolicy_MalformedRetryAfterFallsBackToBackoff(t *testing.T) {
	rp := newTestPolicy()

	outcome := rp.Classify(response(429, map[string]string{"Retry-After": "soon"}), nil, 1)
	assert.Equal(t, DecisionRetryAfter, outcome.Decision)
	assert.Equal(t, 2*time.Second, outcome.Wait)
}

func TestRetryPolicy_BackoffGrowthAndCap(t *testing.T) {
	rp := newTestPolicy()

	assert.Equal(t, 1*time.Second, rp.BackoffFor(0))
	assert.Equal(t, 2*time.Second, rp.BackoffFor(1))
	assert.Equal(t, 4*time.Second, rp.BackoffFor(2))
	assert.Equal(t, 32*time.Second, rp.BackoffFor(5))
	assert.Equal(t, 60*time.Second, rp.BackoffFor(6))
	assert.Equal(t, 60*time.Second, rp.BackoffFor(20))
}
