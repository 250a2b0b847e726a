package cferrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndWrap(t *testing.T) {
	err := New(ErrorTypeHTTP, "bad response")
	assert.Equal(t, ErrorTypeHTTP, TypeOf(err))
	assert.Contains(t, err.Error(), "bad response")

	cause := errors.New("connection reset")
	wrapped := Wrap(cause, ErrorTypeNetwork, "request failed")
	assert.Equal(t, ErrorTypeNetwork, TypeOf(wrapped))
	assert.ErrorIs(t, wrapped, cause)
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeRateLimit, "slow down").
		WithDetail("source", "chembl").
		WithDetail("attempt", 3)

	require.NotNil(t, err.Details)
	assert.Equal(t, "chembl", err.Details["source"])
	assert.Equal(t, 3, err.Details["attempt"])
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeNetwork, "timeout")))
	assert.True(t, IsRetryable(New(ErrorTypeServer, "503")))
	assert.True(t, IsRetryable(New(ErrorTypeRateLimit, "429")))

	assert.False(t, IsRetryable(New(ErrorTypeHTTP, "404")))
	assert.False(t, IsRetryable(New(ErrorTypeValidation, "bad row")))
	assert.False(t, IsRetryable(New(ErrorTypeCircuitOpen, "open")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestIsType_ThroughWrapping(t *testing.T) {
	inner := New(ErrorTypeParse, "malformed")
	outer := fmt.Errorf("stage failed: %w", inner)

	assert.True(t, IsType(outer, ErrorTypeParse))
	assert.False(t, IsType(outer, ErrorTypeNetwork))
	assert.Equal(t, ErrorTypeParse, TypeOf(outer))
}

func TestTypeOf_PlainError(t *testing.T) {
	assert.Equal(t, ErrorTypeInternal, TypeOf(errors.New("plain")))
}
