package privacy

import (
	"strings"

	"ringrelay/internal/constants"
)

// MaskUserID masks a user identifier
// Example: "user123456" -> "******3456"
func MaskUserID(userID string) string {
	return maskString(userID, constants.DefaultIDMaskLength)
}

// MaskSessionID masks a session identifier, keeping the first uuid group readable
// Example: "3f2a9c1e-7b44-4c1d-9a0b-2f6e8d7c5b4a" -> "3f2a9c1e-****-****-****-********5b4a"
func MaskSessionID(sessionID string) string {
	if sessionID == "" {
		return ""
	}

	parts := strings.Split(sessionID, "-")
	if len(parts) < 2 {
		return maskString(sessionID, constants.DefaultIDMaskLength)
	}

	result := parts[0]
	for i := 1; i < len(parts)-1; i++ {
		result += "-" + strings.Repeat("*", len(parts[i]))
	}
	return result + "-" + maskString(parts[len(parts)-1], constants.DefaultIDMaskLength)
}

// MaskCallID masks a call identifier
func MaskCallID(callID string) string {
	return maskString(callID, 8)
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}

		switch k {
		case "user_id", "userId", "from", "to", "sender_id", "receiver_id", "caller_id", "callee_id":
			masked[k] = MaskUserID(s)
		case "session_id", "sessionId":
			masked[k] = MaskSessionID(s)
		case "call_id", "callId":
			masked[k] = MaskCallID(s)
		default:
			masked[k] = v
		}
	}

	return masked
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}
