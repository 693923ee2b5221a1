package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"ringrelay/internal/privacy"
	"ringrelay/internal/service"
	"ringrelay/internal/tracing"
)

// DetailedLoggingConfig controls what the verbose request log includes
type DetailedLoggingConfig struct {
	LogRequestHeaders bool
	LogRequestBody    bool
	MaxBodySize       int
	SensitiveHeaders  []string
	SkipPaths         []string
}

func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		LogRequestBody:    true,
		MaxBodySize:       1024,
		SensitiveHeaders:  []string{"authorization", "cookie", "set-cookie", "sec-websocket-key", "x-api-key"},
		SkipPaths:         []string{"/health", "/metrics", "/ws"},
	}
}

// DetailedLogging logs masked headers and small JSON bodies at debug level.
// It is only installed in verbose mode.
func DetailedLogging(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, skip := range config.SkipPaths {
				if r.URL.Path == skip {
					next.ServeHTTP(w, r)
					return
				}
			}

			fields := logrus.Fields{
				service.LogFieldRequestID: tracing.RequestID(r.Context()),
				service.LogFieldMethod:    r.Method,
				service.LogFieldURL:       r.URL.Path,
				"content_length":          r.ContentLength,
				"protocol":                r.Proto,
			}

			if config.LogRequestHeaders {
				headers := make(map[string]string, len(r.Header))
				for name, values := range r.Header {
					if isSensitiveHeader(name, config.SensitiveHeaders) {
						headers[name] = "***MASKED***"
						continue
					}
					headers[name] = strings.Join(values, ", ")
				}
				fields["request_headers"] = headers
			}

			if config.LogRequestBody && isJSON(r) && r.ContentLength > 0 && r.ContentLength <= int64(config.MaxBodySize) {
				body, err := io.ReadAll(r.Body)
				if err == nil {
					r.Body = io.NopCloser(bytes.NewReader(body))
					fields["request_body"] = privacy.MaskSensitiveFields(map[string]interface{}{"body": string(body)})["body"]
				}
			}

			logger.WithFields(fields).Debug("Detailed request logging")
			next.ServeHTTP(w, r)
		})
	}
}

func isSensitiveHeader(name string, sensitive []string) bool {
	for _, s := range sensitive {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// MaxBodySize caps request bodies; handlers see an error past the limit
func MaxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
