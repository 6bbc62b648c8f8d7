package config

import (
	"encoding/json"
	"fmt"
	"os"

	"outbox/internal/constants"
	"outbox/internal/models"
	"outbox/internal/security"
	"outbox/internal/validation"
)

var (
	ErrMissingGatewayURL = models.ConfigError{Message: "missing gateway base URL"}
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
)

// LoadConfig reads, defaults, validates, and env-overrides a configuration
// file. Environment overrides apply after file validation so secrets never
// have to live on disk.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Gateway.TimeoutSec <= 0 {
		c.Gateway.TimeoutSec = constants.DefaultSendTimeoutSec
	}

	if c.Queue.ProcessIntervalSec <= 0 {
		c.Queue.ProcessIntervalSec = constants.DefaultProcessIntervalSec
	}
	if c.Queue.MaxConcurrentSends <= 0 {
		c.Queue.MaxConcurrentSends = constants.DefaultMaxConcurrentSends
	}
	if c.Queue.SendTimeoutSec <= 0 {
		c.Queue.SendTimeoutSec = constants.DefaultSendTimeoutSec
	}
	if c.Queue.UploadTimeoutSec <= 0 {
		c.Queue.UploadTimeoutSec = constants.DefaultUploadTimeoutSec
	}
	if c.Queue.MaxAttachmentSizeMB <= 0 {
		c.Queue.MaxAttachmentSizeMB = constants.DefaultMaxAttachmentSizeMB
	}

	if c.Retry.MaxRetries <= 0 {
		c.Retry = models.DefaultRetryConfig()
	}

	if c.Network.PollIntervalSec <= 0 {
		c.Network.PollIntervalSec = constants.DefaultNetworkPollIntervalSec
	}

	if c.Server.Port <= 0 {
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

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "outbox"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 0.1
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("OUTBOX_GATEWAY_URL"); url != "" {
		c.Gateway.BaseURL = url
	}
	// The bearer token is env-only: it has no JSON field on purpose.
	if token := os.Getenv("OUTBOX_GATEWAY_TOKEN"); token != "" {
		c.Gateway.Token = token
	}
	if path := os.Getenv("OUTBOX_DB_PATH"); path != "" {
		c.Database.Path = path
	}
}

func validate(c *models.Config) error {
	if c.Gateway.BaseURL == "" {
		return ErrMissingGatewayURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if err := validation.ValidateTimeout(c.Queue.SendTimeoutSec, "queue.sendTimeoutSec"); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := validation.ValidateTimeout(c.Queue.UploadTimeoutSec, "queue.uploadTimeoutSec"); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := validation.ValidateNumericRange(c.Queue.MaxConcurrentSends, "queue.maxConcurrentSends", 1, 32); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := validation.ValidateNumericRange(c.Retry.MaxRetries, "retry.maxRetries", 1, 100); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if c.Retry.InitialDelayMs <= 0 || c.Retry.MaxDelayMs < c.Retry.InitialDelayMs {
		return models.ConfigError{Message: "retry delays must satisfy 0 < initialDelayMs <= maxDelayMs"}
	}
	if c.Retry.BackoffMultiplier < 1 {
		return models.ConfigError{Message: "retry.backoffMultiplier must be at least 1"}
	}

	if os.Getenv("OUTBOX_ENV") == "production" && c.LogLevel == "debug" {
		return models.ConfigError{Message: "debug logging should not be used in production"}
	}
	return nil
}
