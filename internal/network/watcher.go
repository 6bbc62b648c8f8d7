package network

import (
	"context"
	"net/http"
	"time"

	"outbox/internal/constants"
	"outbox/internal/models"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// StatusSink receives connectivity edges observed by the watcher.
type StatusSink interface {
	SetOnline(online bool, via string)
}

// GatewayWatcher keeps a websocket open against the gateway so connectivity
// loss is detected as a socket close instead of waiting for the next probe.
// The socket carries no payload traffic; its liveness is the signal.
type GatewayWatcher struct {
	url    string
	token  string
	sink   StatusSink
	logger *logrus.Logger

	dial func(ctx context.Context, url string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error)
}

func NewGatewayWatcher(url, token string, sink StatusSink, logger *logrus.Logger) *GatewayWatcher {
	return &GatewayWatcher{
		url:    url,
		token:  token,
		sink:   sink,
		logger: logger,
		dial:   websocket.Dial,
	}
}

// Run dials the gateway and holds the socket open until ctx is done,
// reconnecting with exponential backoff. Blocks; run it in a goroutine.
func (w *GatewayWatcher) Run(ctx context.Context) {
	delay := time.Duration(constants.DefaultWSReconnectInitialMs) * time.Millisecond
	maxDelay := time.Duration(constants.DefaultWSReconnectMaxMs) * time.Millisecond

	for {
		connected, err := w.hold(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.WithError(err).WithField("retryIn", delay).Debug("Gateway websocket closed")
		}
		if ctx.Err() != nil {
			return
		}
		if connected {
			// The socket was up; start the reconnect schedule over.
			delay = time.Duration(constants.DefaultWSReconnectInitialMs) * time.Millisecond
		}

		w.sink.SetOnline(false, models.NetworkTypeWebsocket)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// hold dials once and blocks reading until the socket dies. Reports whether
// the dial succeeded so the caller can reset its backoff.
func (w *GatewayWatcher) hold(ctx context.Context) (bool, error) {
	opts := &websocket.DialOptions{}
	if w.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + w.token}}
	}

	conn, resp, err := w.dial(ctx, w.url, opts)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	w.logger.Info("Gateway websocket connected")
	w.sink.SetOnline(true, models.NetworkTypeWebsocket)

	// Drain inbound frames; control frames keep the connection verified.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return true, err
		}
	}
}
