package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringrelay/internal/httputil"
	"ringrelay/internal/metrics"
	"ringrelay/internal/tracing"
)

func newBufferedLogger(level logrus.Level) (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(level)
	return logger, &buf
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func newRouter(logger *logrus.Logger, handler http.HandlerFunc) *mux.Router {
	ips, _ := httputil.NewClientIPResolver([]string{"10.0.0.0/8"})

	r := mux.NewRouter()
	r.Use(Observability(logger, ips))
	r.HandleFunc("/api/messages/{userId}", handler)
	return r
}

func TestObservability_LabelsByRouteTemplate(t *testing.T) {
	logger, buf := newBufferedLogger(logrus.InfoLevel)

	var seenRequestID string
	router := newRouter(logger, func(w http.ResponseWriter, r *http.Request) {
		seenRequestID = tracing.RequestID(r.Context())
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	req := httptest.NewRequest(http.MethodPost, "/api/messages/user-123", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.20")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, seenRequestID)
	assert.Equal(t, seenRequestID, w.Header().Get(RequestIDHeader))

	labels := map[string]string{"method": "POST", "route": "/api/messages/{userId}", "status_code": "201"}
	assert.GreaterOrEqual(t, metrics.GetRegistry().CounterValue(metrics.HTTPRequestsTotal, labels), float64(1))

	entry := lastLogLine(t, buf)
	assert.Equal(t, "HTTP request completed", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, float64(201), entry["status_code"])
	assert.Equal(t, "198.51.100.20", entry["remote_ip"])
	assert.Equal(t, float64(len(`{"ok":true}`)), entry["size_bytes"])
}

func TestObservability_KeepsIncomingRequestID(t *testing.T) {
	logger, _ := newBufferedLogger(logrus.InfoLevel)
	router := newRouter(logger, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-from-proxy", tracing.RequestID(r.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/messages/u1", nil)
	req.Header.Set(RequestIDHeader, "req-from-proxy")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-from-proxy", w.Header().Get(RequestIDHeader))
}

func TestObservability_LogLevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusNotFound, "warning"},
		{http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			logger, buf := newBufferedLogger(logrus.InfoLevel)
			router := newRouter(logger, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/messages/u1", nil))
			assert.Equal(t, tt.level, lastLogLine(t, buf)["level"])
		})
	}
}

func TestResponseWrapper_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWrapper{ResponseWriter: rec, statusCode: http.StatusOK}

	_, _ = rw.Write([]byte("body"))
	assert.Equal(t, http.StatusOK, rw.statusCode)
	assert.Equal(t, int64(4), rw.responseSize)
	assert.Equal(t, rec, rw.Unwrap())

	_, _, err := rw.Hijack()
	assert.Error(t, err, "the recorder cannot be hijacked")
}

func TestDetailedLogging(t *testing.T) {
	logger, buf := newBufferedLogger(logrus.DebugLevel)

	var body []byte
	handler := DetailedLogging(logger, DefaultDetailedLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
	}))

	payload := `{"text":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/api/messages/u1", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, payload, string(body), "the handler still sees the body")

	entry := lastLogLine(t, buf)
	assert.Equal(t, "Detailed request logging", entry["msg"])
	headers := entry["request_headers"].(map[string]interface{})
	assert.Equal(t, "***MASKED***", headers["Authorization"])
	assert.Equal(t, payload, entry["request_body"])
	assert.NotContains(t, buf.String(), "secret-token")

	t.Run("skipped paths", func(t *testing.T) {
		buf.Reset()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Empty(t, buf.String())
	})
}

func TestMaxBodySize(t *testing.T) {
	var readErr error
	handler := MaxBodySize(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	require.Error(t, readErr)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123")))
	assert.NoError(t, readErr)
}
