package config

import (
	"os"
	"path/filepath"
	"testing"

	"outbox/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `{
	"gateway": {"baseUrl": "https://gw.example"},
	"database": {"path": "/var/lib/outbox/queue.db"}
}`

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Queue.ProcessIntervalSec)
	assert.Equal(t, 3, cfg.Queue.MaxConcurrentSends)
	assert.Equal(t, 30, cfg.Queue.SendTimeoutSec)
	assert.Equal(t, 120, cfg.Queue.UploadTimeoutSec)
	assert.Equal(t, models.DefaultRetryConfig(), cfg.Retry)
	assert.Equal(t, 30, cfg.Network.PollIntervalSec)
	assert.Equal(t, 8084, cfg.Server.Port)
	assert.Equal(t, "outbox", cfg.Tracing.ServiceName)
}

func TestLoadConfig_ExplicitValuesSurviveDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{
		"logLevel": "warn",
		"gateway": {"baseUrl": "https://gw.example", "timeoutSec": 10},
		"database": {"path": "/tmp/q.db"},
		"queue": {"maxConcurrentSends": 8, "processIntervalSec": 1},
		"retry": {"maxRetries": 3, "initialDelayMs": 500, "maxDelayMs": 10000, "backoffMultiplier": 3}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Queue.MaxConcurrentSends)
	assert.Equal(t, 1, cfg.Queue.ProcessIntervalSec)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 500, cfg.Retry.InitialDelayMs)
	assert.Equal(t, 3.0, cfg.Retry.BackoffMultiplier)
}

func TestLoadConfig_MissingRequiredFields(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"database": {"path": "/tmp/q.db"}}`))
	assert.ErrorIs(t, err, ErrMissingGatewayURL)

	_, err = LoadConfig(writeConfig(t, `{"gateway": {"baseUrl": "https://gw.example"}}`))
	assert.ErrorIs(t, err, ErrMissingDBPath)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("OUTBOX_GATEWAY_URL", "https://override.example")
	t.Setenv("OUTBOX_GATEWAY_TOKEN", "env-token")
	t.Setenv("OUTBOX_DB_PATH", "/data/override.db")

	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://override.example", cfg.Gateway.BaseURL)
	assert.Equal(t, "env-token", cfg.Gateway.Token)
	assert.Equal(t, "/data/override.db", cfg.Database.Path)
}

func TestLoadConfig_EnvSuppliesMissingRequired(t *testing.T) {
	t.Setenv("OUTBOX_GATEWAY_URL", "https://env-only.example")

	cfg, err := LoadConfig(writeConfig(t, `{"database": {"path": "/tmp/q.db"}}`))
	require.NoError(t, err)
	assert.Equal(t, "https://env-only.example", cfg.Gateway.BaseURL)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"send timeout too large", `{
			"gateway": {"baseUrl": "u"}, "database": {"path": "p"},
			"queue": {"sendTimeoutSec": 7200}
		}`},
		{"too many concurrent sends", `{
			"gateway": {"baseUrl": "u"}, "database": {"path": "p"},
			"queue": {"maxConcurrentSends": 64}
		}`},
		{"max delay below initial", `{
			"gateway": {"baseUrl": "u"}, "database": {"path": "p"},
			"retry": {"maxRetries": 5, "initialDelayMs": 5000, "maxDelayMs": 1000, "backoffMultiplier": 2}
		}`},
		{"multiplier below one", `{
			"gateway": {"baseUrl": "u"}, "database": {"path": "p"},
			"retry": {"maxRetries": 5, "initialDelayMs": 1000, "maxDelayMs": 60000, "backoffMultiplier": 0.5}
		}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_ProductionRejectsDebugLogging(t *testing.T) {
	t.Setenv("OUTBOX_ENV", "production")

	_, err := LoadConfig(writeConfig(t, `{
		"logLevel": "debug",
		"gateway": {"baseUrl": "https://gw.example"},
		"database": {"path": "/tmp/q.db"}
	}`))
	assert.Error(t, err)
}

func TestLoadConfig_BadPaths(t *testing.T) {
	_, err := LoadConfig("")
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "{not json"))
	assert.Error(t, err)
}
