package errors

import (
	"fmt"
	"net/http"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

// NewForbiddenError rejects an authenticated user acting on something they do not own
func NewForbiddenError(resource, identifier string) *AppError {
	return New(ErrCodeAuthorization, fmt.Sprintf("not a participant of %s", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage("Not allowed")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewTargetOfflineError reports a relay whose target has no live session
func NewTargetOfflineError(userID string) *AppError {
	return New(ErrCodeTargetOffline, "target user is offline").
		WithContext("target", userID).
		WithUserMessage("User is offline")
}

// NewInvalidTransitionError reports a call status change the state machine refuses
func NewInvalidTransitionError(callID, from, to string) *AppError {
	return New(ErrCodeInvalidTransition, fmt.Sprintf("call cannot move from %s to %s", from, to)).
		WithContext("call_id", callID).
		WithContext("from", from).
		WithContext("to", to).
		WithUserMessage("Call is no longer active")
}

func NewConflictError(message string, err error) *AppError {
	return Wrap(err, ErrCodeConflict, message).WithUserMessage(message)
}

// NewMediaError creates an object storage error
func NewMediaError(operation, mediaType string, err error) *AppError {
	return Wrap(err, ErrCodeMediaUpload, fmt.Sprintf("media %s failed", operation)).
		WithContext("operation", operation).
		WithContext("media_type", mediaType).
		WithUserMessage("Media processing failed")
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeAuthorization:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeInvalidTransition:
		return http.StatusConflict
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeMediaUpload:
		if IsRetryable(err) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery, ErrCodeDatabaseMigration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body of every failed API call
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// publicContextKeys are the only context entries echoed back to clients
var publicContextKeys = map[string]bool{
	"field":      true,
	"resource":   true,
	"identifier": true,
	"target":     true,
	"call_id":    true,
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	publicContext := make(map[string]interface{})
	for k, v := range appErr.Context {
		if publicContextKeys[k] {
			publicContext[k] = v
		}
	}
	if len(publicContext) > 0 {
		response.Error.Context = publicContext
	}
	return response
}
