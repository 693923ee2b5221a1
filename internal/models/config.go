package models

import "time"

// Config holds the application configuration
type Config struct {
	Server      ServerConfig     `json:"server"`
	Database    DatabaseConfig   `json:"database"`
	Auth        AuthConfig       `json:"auth"`
	Encryption  EncryptionConfig `json:"encryption"`
	Realtime    RealtimeConfig   `json:"realtime"`
	Calls       CallsConfig      `json:"calls"`
	Presence    PresenceConfig   `json:"presence"`
	Media       MediaConfig      `json:"media"`
	Retry       RetryConfig      `json:"retry"`
	Tracing     TracingConfig    `json:"tracing"`
	Environment string           `json:"environment"`
	LogLevel    string           `json:"log_level"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port               int      `json:"port"`
	ReadTimeoutSec     int      `json:"readTimeoutSec"`
	WriteTimeoutSec    int      `json:"writeTimeoutSec"`
	IdleTimeoutSec     int      `json:"idleTimeoutSec"`
	AllowedOrigins     []string `json:"allowedOrigins"`
	TrustedProxies     []string `json:"trustedProxies"`
	MaxRequestBodySize int64    `json:"maxRequestBodyBytes"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path          string `json:"path"`
	BusyTimeoutMs int    `json:"busyTimeoutMs"`
}

// AuthConfig holds identity verification settings
type AuthConfig struct {
	JWTSecret  string `json:"jwt_secret"`
	Issuer     string `json:"issuer"`
	CookieName string `json:"cookie_name"`
}

// EncryptionConfig holds the message-at-rest secret
type EncryptionConfig struct {
	MessageSecret string `json:"message_secret"`
}

// RealtimeConfig holds websocket session settings
type RealtimeConfig struct {
	SendBufferSize  int `json:"sendBufferSize"`
	MaxFrameBytes   int `json:"maxFrameBytes"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	PingIntervalSec int `json:"pingIntervalSec"`
}

// CallsConfig holds signaling settings
type CallsConfig struct {
	PersistenceTimeoutMs int `json:"persistence_timeout_ms"`
	HistoryLimit         int `json:"historyLimit"`
}

// PersistenceTimeout returns the per-operation persistence deadline
func (c CallsConfig) PersistenceTimeout() time.Duration {
	return time.Duration(c.PersistenceTimeoutMs) * time.Millisecond
}

// PresenceConfig configures the optional cluster presence mirror
type PresenceConfig struct {
	ValkeyAddr     string `json:"valkey_addr"`
	ValkeyPassword string `json:"valkey_password"`
	KeyPrefix      string `json:"keyPrefix"`
	InstanceID     string `json:"instanceId"`
}

// MediaConfig configures the optional object store for message images
type MediaConfig struct {
	Endpoint      string `json:"endpoint"`
	AccessKey     string `json:"access_key"`
	SecretKey     string `json:"secret_key"`
	Bucket        string `json:"bucket"`
	UseSSL        bool   `json:"useSSL"`
	PublicBaseURL string `json:"publicBaseUrl"`
	MaxImageMB    int    `json:"maxImageMB"`
}

// Enabled reports whether an object store is configured
func (m MediaConfig) Enabled() bool {
	return m.Endpoint != ""
}

// RetryConfig holds startup retry settings
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
