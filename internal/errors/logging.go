package errors

import (
	"github.com/sirupsen/logrus"
)

// Fields returns the structured context of err for a log entry
func Fields(err error) logrus.Fields {
	fields := logrus.Fields{}
	appErr, ok := As(err)
	if !ok {
		return fields
	}

	fields["error_code"] = appErr.Code
	fields["retryable"] = appErr.Retryable
	for k, v := range appErr.Context {
		fields[k] = v
	}
	return fields
}

// LogError logs err on entry at a level matching its category: client
// mistakes and offline targets at debug, retryable failures at warn,
// everything else at error.
func LogError(entry *logrus.Entry, err error, message string) {
	entry = entry.WithError(err).WithFields(Fields(err))

	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeTargetOffline,
		ErrCodeNotFound, ErrCodeAuthorization, ErrCodeInvalidTransition, ErrCodeConflict:
		entry.Debug(message)
	default:
		if IsRetryable(err) {
			entry.Warn(message)
			return
		}
		entry.Error(message)
	}
}
