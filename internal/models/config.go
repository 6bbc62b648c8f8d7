package models

type Config struct {
	LogLevel string         `json:"logLevel,omitempty"`
	Gateway  GatewayConfig  `json:"gateway"`
	Database DatabaseConfig `json:"database"`
	Queue    QueueConfig    `json:"queue"`
	Retry    RetryConfig    `json:"retry"`
	Network  NetworkConfig  `json:"network"`
	Server   ServerConfig   `json:"server"`
	Tracing  TracingConfig  `json:"tracing"`
}

type GatewayConfig struct {
	BaseURL          string `json:"baseUrl"`
	Token            string `json:"-"`
	TimeoutSec       int    `json:"timeoutSec,omitempty"`
	WebsocketEnabled bool   `json:"websocketEnabled,omitempty"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

type QueueConfig struct {
	ProcessIntervalSec  int `json:"processIntervalSec,omitempty"`
	MaxConcurrentSends  int `json:"maxConcurrentSends,omitempty"`
	SendTimeoutSec      int `json:"sendTimeoutSec,omitempty"`
	UploadTimeoutSec    int `json:"uploadTimeoutSec,omitempty"`
	MaxAttachmentSizeMB int `json:"maxAttachmentSizeMB,omitempty"`
}

type NetworkConfig struct {
	PollIntervalSec int  `json:"pollIntervalSec,omitempty"`
	Metered         bool `json:"metered,omitempty"`
}

type ServerConfig struct {
	Port            int `json:"port,omitempty"`
	ReadTimeoutSec  int `json:"readTimeoutSec,omitempty"`
	WriteTimeoutSec int `json:"writeTimeoutSec,omitempty"`
	IdleTimeoutSec  int `json:"idleTimeoutSec,omitempty"`
}

type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName,omitempty"`
	ServiceVersion string  `json:"serviceVersion,omitempty"`
	Environment    string  `json:"environment,omitempty"`
	OTLPEndpoint   string  `json:"otlpEndpoint,omitempty"`
	SampleRate     float64 `json:"sampleRate,omitempty"`
	UseStdout      bool    `json:"useStdout,omitempty"`
}
