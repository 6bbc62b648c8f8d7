package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrCodeNotFound, "message missing")
	assert.Equal(t, "NOT_FOUND: message missing", err.Error())

	wrapped := Wrap(errors.New("sql: no rows"), ErrCodeDatabaseQuery, "lookup failed")
	assert.Equal(t, "DATABASE_QUERY: lookup failed: sql: no rows", wrapped.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(cause, ErrCodeInternalError, "wrapper")
	assert.ErrorIs(t, err, cause)
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeValidationFailed, "bad input").
		WithContext("field", "content").
		WithContext("limit", 4000)

	assert.Equal(t, "content", err.Context["field"])
	assert.Equal(t, 4000, err.Context["limit"])
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(New(ErrCodeNotFound, "x")))

	gw := NewGatewayError("/api/v1/channels/c/messages", http.StatusBadGateway, errors.New("502"))
	assert.True(t, IsRetryable(gw))

	rejected := NewGatewayError("/api/v1/attachments", http.StatusBadRequest, errors.New("400"))
	assert.False(t, IsRetryable(rejected))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeRateLimit, GetCode(NewRateLimitError(100, "1m")))
	assert.Equal(t, ErrCodeInternalError, GetCode(errors.New("plain")))
}

func TestGetUserMessage(t *testing.T) {
	assert.Equal(t, "message not found", GetUserMessage(NewNotFoundError("message", "local-1")))
	assert.Equal(t, "An internal error occurred", GetUserMessage(errors.New("stacktrace gibberish")))
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NewValidationError("content", "too long"), http.StatusBadRequest},
		{NewNotFoundError("message", "x"), http.StatusNotFound},
		{NewConflictError("message", "not failed"), http.StatusConflict},
		{NewRateLimitError(100, "1m"), http.StatusTooManyRequests},
		{NewGatewayError("/x", 503, errors.New("down")), http.StatusBadGateway},
		{NewGatewayError("/x", 400, errors.New("bad")), http.StatusInternalServerError},
		{NewDatabaseError("upsert", errors.New("locked")), http.StatusServiceUnavailable},
		{New(ErrCodeTimeout, "slow"), http.StatusRequestTimeout},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatusCode(tt.err), "error: %v", tt.err)
	}
}

func TestToHTTPResponse_FiltersSensitiveContext(t *testing.T) {
	err := New(ErrCodeAuthentication, "bad credentials").
		WithContext("token", "super-secret").
		WithContext("endpoint", "/api/v1/queue/messages").
		WithUserMessage("Authentication failed")

	resp := ToHTTPResponse(err, "req-1")

	assert.Equal(t, ErrCodeAuthentication, resp.Error.Code)
	assert.Equal(t, "Authentication failed", resp.Error.Message)
	assert.Equal(t, "req-1", resp.RequestID)

	ctx, ok := resp.Error.Context.(map[string]interface{})
	require.True(t, ok)
	assert.NotContains(t, ctx, "token")
	assert.Contains(t, ctx, "endpoint")
}

func TestToHTTPResponse_PlainError(t *testing.T) {
	resp := ToHTTPResponse(errors.New("oops"), "")
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
	assert.Equal(t, "An internal error occurred", resp.Error.Message)
}
