package models

import (
	"time"

	"outbox/internal/constants"
)

type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSending MessageStatus = "sending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

// FailureReason is the closed taxonomy for send failures. Transport and backend
// outcomes are classified into it once, at the gateway boundary.
type FailureReason string

const (
	FailureReasonNetwork      FailureReason = "network_error"
	FailureReasonTimeout      FailureReason = "timeout"
	FailureReasonServer       FailureReason = "server_error"
	FailureReasonRateLimited  FailureReason = "rate_limited"
	FailureReasonUnauthorized FailureReason = "unauthorized"
	FailureReasonValidation   FailureReason = "validation_error"
	FailureReasonUnknown      FailureReason = "unknown"
)

// RemoteAttachment is the stable descriptor the backend assigns once an
// attachment upload succeeds.
type RemoteAttachment struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// LocalAttachment is a file staged for upload. Once Uploaded is set the
// attachment is resolved and must never be uploaded again.
type LocalAttachment struct {
	ID             string            `json:"id"`
	URI            string            `json:"uri"`
	Filename       string            `json:"filename"`
	ContentType    string            `json:"contentType"`
	Size           int64             `json:"size"`
	UploadProgress int               `json:"uploadProgress"`
	Uploaded       *RemoteAttachment `json:"uploaded,omitempty"`
}

type ReplyReference struct {
	MessageID string `json:"messageId"`
	Preview   string `json:"preview,omitempty"`
}

// QueuedMessage is a single outbound message awaiting delivery.
//
// LocalID is assigned at enqueue time and is the primary key for all queue
// operations. ServerID is assigned only after the backend accepts the message;
// it is non-empty if and only if Status is MessageStatusSent.
type QueuedMessage struct {
	LocalID        string            `json:"localId"`
	ServerID       string            `json:"serverId,omitempty"`
	Content        string            `json:"content"`
	ChannelID      string            `json:"channelId"`
	AuthorID       string            `json:"authorId"`
	TargetServerID string            `json:"targetServerId,omitempty"`
	ReplyTo        *ReplyReference   `json:"replyTo,omitempty"`
	Attachments    []LocalAttachment `json:"attachments,omitempty"`
	Status         MessageStatus     `json:"status"`
	RetryCount     int               `json:"retryCount"`
	MaxRetries     int               `json:"maxRetries"`
	QueuedAt       time.Time         `json:"queuedAt"`
	LastAttemptAt  *time.Time        `json:"lastAttemptAt,omitempty"`
	NextRetryAt    *time.Time        `json:"nextRetryAt,omitempty"`
	FailureReason  FailureReason     `json:"failureReason,omitempty"`
	ErrorMessage   string            `json:"errorMessage,omitempty"`
}

// PermanentlyFailed reports whether the message has exhausted its retry budget
// and is waiting for explicit user action.
func (m *QueuedMessage) PermanentlyFailed() bool {
	return m.Status == MessageStatusFailed && m.NextRetryAt == nil
}

// EnqueueOptions carries the caller-supplied fields for a new queued message.
type EnqueueOptions struct {
	Content        string            `json:"content"`
	ChannelID      string            `json:"channelId"`
	AuthorID       string            `json:"authorId"`
	TargetServerID string            `json:"targetServerId,omitempty"`
	ReplyTo        *ReplyReference   `json:"replyTo,omitempty"`
	Attachments    []AttachmentInput `json:"attachments,omitempty"`
}

type AttachmentInput struct {
	URI         string `json:"uri"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// OutgoingMessage is a fully resolved message handed to the sender: every
// attachment has been uploaded and replaced by its remote descriptor id.
type OutgoingMessage struct {
	LocalID        string   `json:"-"`
	Content        string   `json:"content"`
	ChannelID      string   `json:"-"`
	TargetServerID string   `json:"serverId,omitempty"`
	ReplyToID      string   `json:"replyToId,omitempty"`
	AttachmentIDs  []string `json:"attachmentIds,omitempty"`
}

type SendResult struct {
	ServerID string `json:"id"`
}

// QueueStats is derived on demand from the queue, never stored.
type QueueStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sending int `json:"sending"`
	Failed  int `json:"failed"`
}

// SyncStatus describes the processor's current pass.
type SyncStatus struct {
	IsSyncing  bool       `json:"isSyncing"`
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
	Progress   int        `json:"progress"`
	Error      string     `json:"error,omitempty"`
}

// NetworkStatus is the monitor's best-known connectivity snapshot.
type NetworkStatus struct {
	IsConnected bool      `json:"isConnected"`
	Type        string    `json:"type"`
	IsMetered   bool      `json:"isMetered"`
	LastChecked time.Time `json:"lastChecked"`
}

const (
	NetworkTypeUnknown   = "unknown"
	NetworkTypeProbe     = "probe"
	NetworkTypeWebsocket = "websocket"
)

// RetryConfig controls the exponential backoff schedule. MaxRetries is copied
// onto each message at enqueue time so in-flight messages are unaffected by
// later config changes.
type RetryConfig struct {
	MaxRetries        int     `json:"maxRetries"`
	InitialDelayMs    int     `json:"initialDelayMs"`
	MaxDelayMs        int     `json:"maxDelayMs"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        constants.DefaultMaxRetries,
		InitialDelayMs:    constants.DefaultInitialDelayMs,
		MaxDelayMs:        constants.DefaultMaxDelayMs,
		BackoffMultiplier: constants.DefaultBackoffMultiplier,
	}
}
