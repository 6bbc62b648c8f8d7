package constants

// Default queue processing values
const (
	DefaultProcessIntervalSec = 3
	DefaultMaxConcurrentSends = 3
	DefaultSendTimeoutSec     = 30
	DefaultUploadTimeoutSec   = 120
)

// Default retry policy values
const (
	DefaultMaxRetries         = 5
	DefaultInitialDelayMs     = 1000
	DefaultMaxDelayMs         = 60000
	DefaultBackoffMultiplier  = 2.0
	DefaultWriterRetryDelayMs = 300
)

// Default network monitor values
const (
	DefaultNetworkPollIntervalSec = 30
	DefaultProbeTimeoutSec        = 5
	DefaultWSReconnectInitialMs   = 500
	DefaultWSReconnectMaxMs       = 30000
)

// Default server and shutdown values
const (
	DefaultServerPort            = 8084
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
)

// Default persistence values
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultDatabaseBackoffMs     = 1000
	DefaultDatabaseMaxBackoffMs  = 60000
	DefaultWriterQueueCapacity   = 256
)

// Default enqueue validation values
const (
	DefaultMaxContentLength     = 4000
	DefaultMaxAttachmentSizeMB  = 100
	DefaultMaxAttachmentsPerMsg = 10
	MaxIDLength                 = 128
	BytesPerMegabyte            = 1024 * 1024
)

// EncryptionSalt is mixed into the pbkdf2 key derivation for content at rest.
const EncryptionSalt = "outbox-queue-at-rest-v1"
