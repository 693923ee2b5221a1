package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	cause := errors.New("cause")

	tests := []struct {
		name string
		err  *AppError
		code ErrorCode
		key  string
	}{
		{"validation", NewValidationError("to", "", "is required"), ErrCodeValidationFailed, "field"},
		{"database", NewDatabaseError("save message", cause), ErrCodeDatabaseQuery, "operation"},
		{"timeout", NewTimeoutError("create call log", "5s"), ErrCodeTimeout, "timeout"},
		{"auth", NewAuthError("expired"), ErrCodeAuthentication, "reason"},
		{"forbidden", NewForbiddenError("call", "c1"), ErrCodeAuthorization, "resource"},
		{"not found", NewNotFoundError("call", "c1"), ErrCodeNotFound, "identifier"},
		{"offline", NewTargetOfflineError("bob"), ErrCodeTargetOffline, "target"},
		{"transition", NewInvalidTransitionError("c1", "declined", "answered"), ErrCodeInvalidTransition, "call_id"},
		{"media", NewMediaError("upload", "image/png", cause), ErrCodeMediaUpload, "media_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Contains(t, tt.err.Context, tt.key)
			assert.NotEmpty(t, tt.err.UserMessage)
		})
	}
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", NewValidationError("to", "", "required"), http.StatusBadRequest},
		{"auth", NewAuthError("missing"), http.StatusUnauthorized},
		{"forbidden", NewForbiddenError("call", "c1"), http.StatusForbidden},
		{"not found", NewNotFoundError("user", "u1"), http.StatusNotFound},
		{"conflict", NewConflictError("already friends", nil), http.StatusConflict},
		{"transition", NewInvalidTransitionError("c1", "answered", "declined"), http.StatusConflict},
		{"timeout", NewTimeoutError("op", "1s"), http.StatusGatewayTimeout},
		{"database", NewDatabaseError("query", nil), http.StatusServiceUnavailable},
		{"media retryable", WrapRetryable(nil, ErrCodeMediaUpload, "upload"), http.StatusBadGateway},
		{"media", NewMediaError("upload", "image/png", nil), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestToHTTPResponse(t *testing.T) {
	resp := ToHTTPResponse(NewValidationError("to", "secret-value", "is required"), "req-1")

	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, ErrCodeValidationFailed, resp.Error.Code)
	assert.Equal(t, "Invalid to: is required", resp.Error.Message)
	assert.Equal(t, map[string]interface{}{"field": "to"}, resp.Error.Context, "only public context keys are echoed")

	plain := ToHTTPResponse(errors.New("sql: connection refused"), "")
	assert.Equal(t, ErrCodeInternalError, plain.Error.Code)
	assert.Equal(t, "An internal error occurred", plain.Error.Message)
	assert.Nil(t, plain.Error.Context)
}
