package service

// Logging Standards for ringrelay
//
// This file defines standard field names and message patterns so that
// every realtime handler logs the same way.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldUserID         = "user_id"
	LogFieldSessionID      = "session_id"
	LogFieldTargetID       = "target_id"
	LogFieldCallID         = "call_id"
	LogFieldMessageID      = "message_id"
	LogFieldConversationID = "conversation_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"

	// Event fields
	LogFieldEvent    = "event"
	LogFieldResult   = "result"
	LogFieldStatus   = "status"
	LogFieldCallType = "call_type"

	// HTTP request fields
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldMethod     = "method"
	LogFieldURL        = "url"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"
)

// Log Level Usage Guidelines
//
// DEBUG: relays to offline targets, ignored duplicates, no-op acknowledgements.
// INFO:  session connect/disconnect, call lifecycle transitions, startup/shutdown.
// WARN:  best-effort side effects that failed (presence mirror, call log sync).
// ERROR: persistence failures that surface a failure event to a client.
//
// User, session and call ids are masked through internal/privacy at INFO and above.

// Standard Log Message Patterns
//
// Starting operations:  "Starting [operation]"
// Completed operations: "[Operation] completed"
// Failed operations:    "Failed to [operation]"
// Skipping operations:  "Skipping [operation]: [reason]"
//
// Example Usage:
//
// logger.WithFields(logrus.Fields{
//     LogFieldUserID: privacy.MaskUserID(userID),
//     LogFieldCallID: privacy.MaskCallID(callID),
//     LogFieldStatus: models.CallStatusDeclined,
// }).Info("Call status changed")
