package service

import (
	"context"
	"sync"

	"outbox/internal/models"
)

// mockSender scripts SendMessage responses per call and records concurrency.
type mockSender struct {
	mu         sync.Mutex
	calls      []*models.OutgoingMessage
	inFlight   int
	maxSeen    int
	sendFn     func(ctx context.Context, msg *models.OutgoingMessage) (*models.SendResult, error)
	holdPoint  chan struct{}
	reachHold  chan struct{}
	holdActive bool
}

func newMockSender() *mockSender {
	return &mockSender{
		sendFn: func(ctx context.Context, msg *models.OutgoingMessage) (*models.SendResult, error) {
			return &models.SendResult{ServerID: "srv-" + msg.LocalID}, nil
		},
	}
}

// holdSends makes every send block until releaseSends, so tests can observe
// in-flight concurrency.
func (s *mockSender) holdSends() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdActive = true
	s.holdPoint = make(chan struct{})
	s.reachHold = make(chan struct{}, 64)
}

func (s *mockSender) releaseSends() {
	s.mu.Lock()
	hold := s.holdPoint
	s.holdActive = false
	s.mu.Unlock()
	if hold != nil {
		close(hold)
	}
}

func (s *mockSender) SendMessage(ctx context.Context, msg *models.OutgoingMessage) (*models.SendResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, msg)
	s.inFlight++
	if s.inFlight > s.maxSeen {
		s.maxSeen = s.inFlight
	}
	holdActive := s.holdActive
	hold := s.holdPoint
	reach := s.reachHold
	fn := s.sendFn
	s.mu.Unlock()

	if holdActive {
		reach <- struct{}{}
		select {
		case <-hold:
		case <-ctx.Done():
		}
	}

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()
	return fn(ctx, msg)
}

func (s *mockSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *mockSender) maxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSeen
}

// mockUploader scripts UploadAttachment and records which attachments were
// pushed.
type mockUploader struct {
	mu       sync.Mutex
	uploads  []string
	uploadFn func(ctx context.Context, att models.LocalAttachment, onProgress func(int)) (*models.RemoteAttachment, error)
}

func newMockUploader() *mockUploader {
	return &mockUploader{
		uploadFn: func(ctx context.Context, att models.LocalAttachment, onProgress func(int)) (*models.RemoteAttachment, error) {
			if onProgress != nil {
				onProgress(50)
				onProgress(100)
			}
			return &models.RemoteAttachment{
				ID:          "remote-" + att.ID,
				URL:         "https://cdn.example/" + att.ID,
				Filename:    att.Filename,
				ContentType: att.ContentType,
				Size:        att.Size,
			}, nil
		},
	}
}

func (u *mockUploader) UploadAttachment(ctx context.Context, att models.LocalAttachment, onProgress func(int)) (*models.RemoteAttachment, error) {
	u.mu.Lock()
	u.uploads = append(u.uploads, att.ID)
	fn := u.uploadFn
	u.mu.Unlock()
	return fn(ctx, att, onProgress)
}

func (u *mockUploader) uploadedIDs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, len(u.uploads))
	copy(out, u.uploads)
	return out
}

// mockNetwork is a hand-driven connectivity source.
type mockNetwork struct {
	mu        sync.Mutex
	connected bool
	listeners []func(models.NetworkStatus)
}

func newMockNetwork(connected bool) *mockNetwork {
	return &mockNetwork{connected: connected}
}

func (n *mockNetwork) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

func (n *mockNetwork) OnChange(fn func(models.NetworkStatus)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

func (n *mockNetwork) setConnected(connected bool) {
	n.mu.Lock()
	changed := n.connected != connected
	n.connected = connected
	listeners := n.listeners
	n.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(models.NetworkStatus{IsConnected: connected, Type: models.NetworkTypeProbe})
	}
}
