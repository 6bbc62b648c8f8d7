package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"outbox/internal/models"
)

// Client talks to the chat gateway's HTTP API. All failures that carry an
// HTTP status are classified into *models.SendError at this boundary;
// transport-level errors are returned raw for the caller to classify.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type sendPayload struct {
	LocalID        string   `json:"localId"`
	Content        string   `json:"content"`
	TargetServerID string   `json:"targetServerId,omitempty"`
	ReplyToID      string   `json:"replyToId,omitempty"`
	AttachmentIDs  []string `json:"attachmentIds,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SendMessage posts one message to its channel. The local id doubles as an
// idempotency key so a retry after a lost response cannot duplicate the
// message server-side.
func (c *Client) SendMessage(ctx context.Context, msg *models.OutgoingMessage) (*models.SendResult, error) {
	payload := sendPayload{
		LocalID:        msg.LocalID,
		Content:        msg.Content,
		TargetServerID: msg.TargetServerID,
		ReplyToID:      msg.ReplyToID,
		AttachmentIDs:  msg.AttachmentIDs,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/channels/%s/messages", c.baseURL, url.PathEscape(msg.ChannelID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.LocalID)
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	var result models.SendResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.ServerID == "" {
		return nil, models.NewSendError(models.FailureReasonUnknown, "gateway accepted message without an id")
	}
	return &result, nil
}

// UploadAttachment pushes one local file to the gateway and returns its
// remote descriptor. onProgress, if non-nil, receives percentages in [0,100]
// as the request body is consumed.
func (c *Client) UploadAttachment(ctx context.Context, att models.LocalAttachment, onProgress func(percent int)) (*models.RemoteAttachment, error) {
	file, err := os.Open(att.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", att.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy file content: %w", err)
	}
	if att.ContentType != "" {
		_ = writer.WriteField("contentType", att.ContentType)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	reqBody := newProgressReader(body, int64(body.Len()), onProgress)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/attachments", reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.ContentLength = reqBody.total
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var result models.RemoteAttachment
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// Probe checks gateway reachability. Any HTTP response, including an error
// status, proves the network path works; only transport failures mean
// offline, reported as (false, nil).
func (c *Client) Probe(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return true, nil
}

// WebsocketURL derives the connectivity-watcher endpoint from the base URL.
func (c *Client) WebsocketURL() string {
	ws := c.baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/api/v1/ws"
}

// Token exposes the bearer token for sibling connections (the websocket
// watcher dials with the same credentials).
func (c *Client) Token() string {
	return c.token
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// classifyStatus maps an HTTP status onto the failure taxonomy. 4xx statuses
// other than 408 and 429 are not retryable by backoff; the processor decides
// that from the reason, not from the status.
func classifyStatus(status int, body []byte) *models.SendError {
	detail := strings.TrimSpace(string(body))
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		detail = parsed.Error
	}
	if detail == "" {
		detail = http.StatusText(status)
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusRequestEntityTooLarge:
		return models.NewSendError(models.FailureReasonValidation, "gateway rejected request (%d): %s", status, detail)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.NewSendError(models.FailureReasonUnauthorized, "gateway refused credentials (%d): %s", status, detail)
	case status == http.StatusTooManyRequests:
		return models.NewSendError(models.FailureReasonRateLimited, "gateway rate limited request (%d): %s", status, detail)
	case status == http.StatusRequestTimeout:
		return models.NewSendError(models.FailureReasonTimeout, "gateway timed out (%d): %s", status, detail)
	case status >= 500:
		return models.NewSendError(models.FailureReasonServer, "gateway error (%d): %s", status, detail)
	default:
		return models.NewSendError(models.FailureReasonUnknown, "unexpected gateway status (%d): %s", status, detail)
	}
}
