package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"outbox/internal/models"
	"outbox/internal/privacy"
	"outbox/internal/retry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Repository is the durable backing for the queue; implemented by
// internal/database. A nil Repository gives an ephemeral in-memory queue,
// which tests rely on.
type Repository interface {
	UpsertMessage(ctx context.Context, m *models.QueuedMessage) error
	DeleteMessage(ctx context.Context, localID string) error
	DeleteMessagesByStatus(ctx context.Context, status models.MessageStatus) error
	DeleteAllMessages(ctx context.Context) error
	LoadQueue(ctx context.Context) ([]*models.QueuedMessage, error)
}

// Store holds the ordered collection of queued messages and owns every
// mutation of their lifecycle state. All access is serialized by a single
// mutex; readers receive copies, never aliases into the store.
type Store struct {
	mu       sync.RWMutex
	messages []*models.QueuedMessage
	byID     map[string]*models.QueuedMessage
	paused   bool

	retryCfg models.RetryConfig
	repo     Repository
	writer   *writer
	logger   *logrus.Logger

	now     func() time.Time
	newID   func() string
	delayFn func(retryCount int, cfg models.RetryConfig) time.Duration
}

func NewStore(repo Repository, retryCfg models.RetryConfig, logger *logrus.Logger) *Store {
	if retryCfg.MaxRetries <= 0 {
		retryCfg = models.DefaultRetryConfig()
	}

	s := &Store{
		byID:     make(map[string]*models.QueuedMessage),
		retryCfg: retryCfg,
		repo:     repo,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		delayFn:  retry.CalculateDelay,
	}
	if repo != nil {
		s.writer = newWriter(logger, 0)
	}
	return s
}

// Start launches the async persistence writer. No-op for ephemeral stores.
func (s *Store) Start(ctx context.Context) {
	if s.writer != nil {
		s.writer.start(ctx)
	}
}

// Flush blocks until all pending persistence writes have executed.
func (s *Store) Flush() {
	if s.writer != nil {
		s.writer.flush()
	}
}

// Load restores the queue from the repository, replacing in-memory state.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	restored, err := s.repo.LoadQueue(ctx)
	if err != nil {
		return fmt.Errorf("failed to load queue: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = restored
	s.byID = make(map[string]*models.QueuedMessage, len(restored))
	for _, m := range restored {
		s.byID[m.LocalID] = m
	}

	s.logger.WithField("messages", len(restored)).Info("Queue restored from disk")
	return nil
}

// Enqueue appends a new pending message and returns a copy of the created
// record for optimistic rendering.
func (s *Store) Enqueue(opts models.EnqueueOptions) *models.QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &models.QueuedMessage{
		LocalID:        s.newID(),
		Content:        opts.Content,
		ChannelID:      opts.ChannelID,
		AuthorID:       opts.AuthorID,
		TargetServerID: opts.TargetServerID,
		ReplyTo:        opts.ReplyTo,
		Status:         models.MessageStatusPending,
		RetryCount:     0,
		MaxRetries:     s.retryCfg.MaxRetries,
		QueuedAt:       s.now(),
	}

	for _, in := range opts.Attachments {
		msg.Attachments = append(msg.Attachments, models.LocalAttachment{
			ID:          s.newID(),
			URI:         in.URI,
			Filename:    in.Filename,
			ContentType: in.ContentType,
			Size:        in.Size,
		})
	}

	s.messages = append(s.messages, msg)
	s.byID[msg.LocalID] = msg
	s.persistLocked(msg)

	s.logger.WithFields(logrus.Fields{
		"localId":     msg.LocalID,
		"channelId":   privacy.MaskID(msg.ChannelID),
		"content":     privacy.MaskContent(msg.Content),
		"attachments": len(msg.Attachments),
	}).Debug("Message enqueued")

	return cloneMessage(msg)
}

// UpdateStatus applies a status transition plus an optional partial update.
// It is the generic mutator the processor uses for transitions that have no
// dedicated operation.
func (s *Store) UpdateStatus(localID string, status models.MessageStatus, update func(*models.QueuedMessage)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[localID]
	if !ok {
		return false
	}

	msg.Status = status
	if update != nil {
		update(msg)
	}
	s.persistLocked(msg)
	return true
}

// MarkSent records backend acceptance: terminal state, failure fields cleared,
// server id assigned.
func (s *Store) MarkSent(localID, serverID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[localID]
	if !ok {
		return false
	}

	msg.Status = models.MessageStatusSent
	msg.ServerID = serverID
	msg.FailureReason = ""
	msg.ErrorMessage = ""
	msg.NextRetryAt = nil
	s.persistLocked(msg)

	s.logger.WithFields(logrus.Fields{
		"localId":  localID,
		"serverId": privacy.MaskID(serverID),
	}).Debug("Message sent")
	return true
}

// MarkFailed records a failed attempt. While retry budget remains, the next
// attempt is scheduled with exponential backoff; once exhausted the message
// stays failed with no scheduled retry until the user acts.
func (s *Store) MarkFailed(localID string, reason models.FailureReason, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[localID]
	if !ok {
		return false
	}

	now := s.now()
	msg.RetryCount++
	msg.Status = models.MessageStatusFailed
	msg.LastAttemptAt = &now
	msg.FailureReason = reason
	msg.ErrorMessage = errMsg
	msg.ServerID = ""

	if msg.RetryCount < msg.MaxRetries {
		delay := s.delayFn(msg.RetryCount-1, s.retryCfg)
		next := now.Add(delay)
		msg.NextRetryAt = &next
	} else {
		msg.NextRetryAt = nil
	}
	s.persistLocked(msg)

	s.logger.WithFields(logrus.Fields{
		"localId":    localID,
		"reason":     reason,
		"retryCount": msg.RetryCount,
		"permanent":  msg.NextRetryAt == nil,
	}).Warn("Message send failed")
	return true
}

// RetryMessage resets a failed message to pending on explicit user action.
// The attempt history is preserved: RetryCount is not reset.
func (s *Store) RetryMessage(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[localID]
	if !ok {
		return fmt.Errorf("message not found: %s", localID)
	}
	if msg.Status != models.MessageStatusFailed {
		return fmt.Errorf("message %s is %s, only failed messages can be retried", localID, msg.Status)
	}

	s.resetToPendingLocked(msg)
	return nil
}

// RetryAllFailed resets every failed message to pending; returns the count.
func (s *Store) RetryAllFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, msg := range s.messages {
		if msg.Status == models.MessageStatusFailed {
			s.resetToPendingLocked(msg)
			count++
		}
	}
	return count
}

func (s *Store) resetToPendingLocked(msg *models.QueuedMessage) {
	msg.Status = models.MessageStatusPending
	msg.NextRetryAt = nil
	msg.FailureReason = ""
	msg.ErrorMessage = ""
	s.persistLocked(msg)
}

// Remove deletes a message regardless of its state.
func (s *Store) Remove(localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[localID]; !ok {
		return false
	}

	delete(s.byID, localID)
	for i, m := range s.messages {
		if m.LocalID == localID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}

	if s.repo != nil {
		id := localID
		s.writer.enqueue("delete "+id, func(ctx context.Context) error {
			return s.repo.DeleteMessage(ctx, id)
		})
	}
	return true
}

// ClearSent drops all terminal sent messages; returns the count removed.
func (s *Store) ClearSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.messages[:0]
	removed := 0
	for _, m := range s.messages {
		if m.Status == models.MessageStatusSent {
			delete(s.byID, m.LocalID)
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept

	if removed > 0 && s.repo != nil {
		s.writer.enqueue("clear sent", func(ctx context.Context) error {
			return s.repo.DeleteMessagesByStatus(ctx, models.MessageStatusSent)
		})
	}
	return removed
}

// ClearAll empties the queue entirely.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.byID = make(map[string]*models.QueuedMessage)

	if s.repo != nil {
		s.writer.enqueue("clear all", func(ctx context.Context) error {
			return s.repo.DeleteAllMessages(ctx)
		})
	}
}

func (s *Store) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *Store) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

func (s *Store) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// PendingMessages returns copies of all messages ready to send: pending, or
// failed with an elapsed retry schedule. A paused queue yields nothing,
// regardless of message states.
func (s *Store) PendingMessages() []*models.QueuedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.paused {
		return nil
	}

	now := s.now()
	var ready []*models.QueuedMessage
	for _, m := range s.messages {
		switch m.Status {
		case models.MessageStatusPending:
			ready = append(ready, cloneMessage(m))
		case models.MessageStatusFailed:
			if m.NextRetryAt != nil && !m.NextRetryAt.After(now) {
				ready = append(ready, cloneMessage(m))
			}
		}
	}
	return ready
}

// ChannelMessages returns copies of all queued messages for one channel, in
// enqueue order.
func (s *Store) ChannelMessages(channelID string) []*models.QueuedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.QueuedMessage
	for _, m := range s.messages {
		if m.ChannelID == channelID {
			out = append(out, cloneMessage(m))
		}
	}
	return out
}

// Messages returns copies of the entire queue in enqueue order.
func (s *Store) Messages() []*models.QueuedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.QueuedMessage, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, cloneMessage(m))
	}
	return out
}

// Message returns a copy of one message by local id.
func (s *Store) Message(localID string) (*models.QueuedMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[localID]
	if !ok {
		return nil, false
	}
	return cloneMessage(msg), true
}

// Stats derives queue counters on demand.
func (s *Store) Stats() models.QueueStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.QueueStats{Total: len(s.messages)}
	for _, m := range s.messages {
		switch m.Status {
		case models.MessageStatusPending:
			stats.Pending++
		case models.MessageStatusSending:
			stats.Sending++
		case models.MessageStatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// UpdateAttachmentProgress records upload progress for one attachment. No-op
// if the message or attachment no longer exists.
func (s *Store) UpdateAttachmentProgress(localID, attachmentID string, progress int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[localID]
	if !ok {
		return false
	}
	for i := range msg.Attachments {
		if msg.Attachments[i].ID == attachmentID {
			msg.Attachments[i].UploadProgress = progress
			return true
		}
	}
	return false
}

// MarkAttachmentUploaded resolves one attachment with its remote descriptor;
// subsequent processing passes skip it.
func (s *Store) MarkAttachmentUploaded(localID, attachmentID string, uploaded models.RemoteAttachment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[localID]
	if !ok {
		return false
	}
	for i := range msg.Attachments {
		if msg.Attachments[i].ID == attachmentID {
			msg.Attachments[i].UploadProgress = 100
			msg.Attachments[i].Uploaded = &uploaded
			s.persistLocked(msg)
			return true
		}
	}
	return false
}

// persistLocked snapshots the message under the store lock and hands the
// upsert to the serialized writer. Caller must hold s.mu.
func (s *Store) persistLocked(msg *models.QueuedMessage) {
	if s.repo == nil {
		return
	}
	snapshot := cloneMessage(msg)
	s.writer.enqueue("upsert "+snapshot.LocalID, func(ctx context.Context) error {
		return s.repo.UpsertMessage(ctx, snapshot)
	})
}

func cloneMessage(m *models.QueuedMessage) *models.QueuedMessage {
	c := *m
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		c.ReplyTo = &r
	}
	if m.LastAttemptAt != nil {
		t := *m.LastAttemptAt
		c.LastAttemptAt = &t
	}
	if m.NextRetryAt != nil {
		t := *m.NextRetryAt
		c.NextRetryAt = &t
	}
	if m.Attachments != nil {
		c.Attachments = make([]models.LocalAttachment, len(m.Attachments))
		copy(c.Attachments, m.Attachments)
		for i := range c.Attachments {
			if c.Attachments[i].Uploaded != nil {
				u := *c.Attachments[i].Uploaded
				c.Attachments[i].Uploaded = &u
			}
		}
	}
	return &c
}
