package constants

import "time"

// Server defaults
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultMaxRequestBodyBytes   = 8 << 20
)

// Database defaults
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultDatabaseBusyTimeoutMs = 5000
	DefaultBackoffInitialMs      = 500
	DefaultBackoffMaxSec         = 5
	DefaultStartupMaxAttempts    = 5
)

// Realtime defaults
const (
	DefaultSendBufferSize      = 64
	DefaultMaxFrameBytes       = 1 << 20
	DefaultWriteTimeoutSec     = 10
	DefaultPingIntervalSec     = 30
	DefaultPersistenceTimeout  = 5 * time.Second
	DefaultCallHistoryLimit    = 50
	DefaultAuthCookieName      = "jwt"
	DefaultTokenQueryParameter = "token"
)

// Message encryption
const (
	EncryptionSalt       = "ringrelay-message-salt-v1"
	MinSecretLength      = 32
	CiphertextPartsCount = 3
)

// Presence mirror defaults
const (
	DefaultPresenceKeyPrefix = "ringrelay:presence"
	DefaultValkeyTimeoutSec  = 3
)

// Media defaults
const (
	DefaultMaxImageSizeMB = 5
	DefaultMediaBucket    = "ringrelay-media"
	MediaObjectPrefix     = "messages"
)

// Privacy settings
const (
	DefaultIDMaskLength = 4
)
