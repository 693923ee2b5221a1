package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"ringrelay/internal/constants"
	"ringrelay/internal/models"
	"ringrelay/internal/security"
)

const productionEnvironment = "production"

var (
	ErrMissingDBPath        = models.ConfigError{Message: "missing database path"}
	ErrMissingJWTSecret     = models.ConfigError{Message: "missing JWT secret (set RINGRELAY_JWT_SECRET)"}
	ErrMissingMessageSecret = models.ConfigError{Message: "missing message secret (set RINGRELAY_MESSAGE_SECRET)"}
)

func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	// Secrets normally only arrive through the environment, so overrides go
	// before validation.
	if err := applyEnvironmentOverrides(&config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	applyDefaults(c)

	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Auth.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if len(c.Auth.JWTSecret) < constants.MinSecretLength {
		return models.ConfigError{Message: fmt.Sprintf("JWT secret must be at least %d characters long", constants.MinSecretLength)}
	}
	if c.Encryption.MessageSecret == "" {
		return ErrMissingMessageSecret
	}
	if len(c.Encryption.MessageSecret) < constants.MinSecretLength {
		return models.ConfigError{Message: fmt.Sprintf("message secret must be at least %d characters long", constants.MinSecretLength)}
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port: %d", c.Server.Port)}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing sample rate must be between 0 and 1"}
	}

	if c.Media.Enabled() && (c.Media.AccessKey == "" || c.Media.SecretKey == "") {
		return models.ConfigError{Message: "media store credentials are required when media.endpoint is set"}
	}
	if c.Presence.ValkeyAddr != "" && c.Presence.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			return models.ConfigError{Message: "presence.instanceId is required when valkey_addr is set"}
		}
		c.Presence.InstanceID = host
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.MaxRequestBodySize <= 0 {
		c.Server.MaxRequestBodySize = constants.DefaultMaxRequestBodyBytes
	}

	if c.Database.BusyTimeoutMs <= 0 {
		c.Database.BusyTimeoutMs = constants.DefaultDatabaseBusyTimeoutMs
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = constants.DefaultAuthCookieName
	}

	if c.Realtime.SendBufferSize <= 0 {
		c.Realtime.SendBufferSize = constants.DefaultSendBufferSize
	}
	if c.Realtime.MaxFrameBytes <= 0 {
		c.Realtime.MaxFrameBytes = constants.DefaultMaxFrameBytes
	}
	if c.Realtime.WriteTimeoutSec <= 0 {
		c.Realtime.WriteTimeoutSec = constants.DefaultWriteTimeoutSec
	}
	if c.Realtime.PingIntervalSec <= 0 {
		c.Realtime.PingIntervalSec = constants.DefaultPingIntervalSec
	}

	if c.Calls.PersistenceTimeoutMs <= 0 {
		c.Calls.PersistenceTimeoutMs = int(constants.DefaultPersistenceTimeout.Milliseconds())
	}
	if c.Calls.HistoryLimit <= 0 {
		c.Calls.HistoryLimit = constants.DefaultCallHistoryLimit
	}

	if c.Presence.KeyPrefix == "" {
		c.Presence.KeyPrefix = constants.DefaultPresenceKeyPrefix
	}

	if c.Media.Bucket == "" {
		c.Media.Bucket = constants.DefaultMediaBucket
	}
	if c.Media.MaxImageMB <= 0 {
		c.Media.MaxImageMB = constants.DefaultMaxImageSizeMB
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultBackoffInitialMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultBackoffMaxSec * 1000
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultStartupMaxAttempts
	}

	if c.Tracing.Enabled && c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(c *models.Config) error {
	if path := os.Getenv("RINGRELAY_DB_PATH"); path != "" {
		c.Database.Path = path
	}

	// SECURITY: secrets should be set via environment variables
	if secret := os.Getenv("RINGRELAY_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("RINGRELAY_MESSAGE_SECRET"); secret != "" {
		c.Encryption.MessageSecret = secret
	}

	if addr := os.Getenv("RINGRELAY_VALKEY_ADDR"); addr != "" {
		c.Presence.ValkeyAddr = addr
	}
	if password := os.Getenv("RINGRELAY_VALKEY_PASSWORD"); password != "" {
		c.Presence.ValkeyPassword = password
	}

	if key := os.Getenv("RINGRELAY_S3_ACCESS_KEY"); key != "" {
		c.Media.AccessKey = key
	}
	if key := os.Getenv("RINGRELAY_S3_SECRET_KEY"); key != "" {
		c.Media.SecretKey = key
	}

	if env := os.Getenv("RINGRELAY_ENV"); env != "" {
		c.Environment = env
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid PORT value %q", port)}
		}
		c.Server.Port = p
	}
	return nil
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if c.Environment == productionEnvironment {
		if c.Auth.JWTSecret == c.Encryption.MessageSecret {
			return models.ConfigError{Message: "JWT secret and message secret must differ in production"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
		if len(c.Server.AllowedOrigins) == 0 {
			return models.ConfigError{Message: "server.allowedOrigins is required in production"}
		}
	} else if len(c.Server.AllowedOrigins) == 0 {
		fmt.Fprintf(os.Stderr, "WARNING: server.allowedOrigins is empty; websocket upgrades are limited to same-origin requests.\n")
	}

	return nil
}
