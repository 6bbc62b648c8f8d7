package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"outbox/internal/constants"
	"outbox/internal/metrics"
	"outbox/internal/models"
	"outbox/internal/privacy"

	"github.com/sirupsen/logrus"
)

// QueueStore is the slice of the queue the processor mutates. Implemented by
// internal/queue.Store; injectable so tests drive the processor against a
// fake.
type QueueStore interface {
	PendingMessages() []*models.QueuedMessage
	Message(localID string) (*models.QueuedMessage, bool)
	UpdateStatus(localID string, status models.MessageStatus, update func(*models.QueuedMessage)) bool
	MarkSent(localID, serverID string) bool
	MarkFailed(localID string, reason models.FailureReason, errMsg string) bool
	UpdateAttachmentProgress(localID, attachmentID string, progress int) bool
	MarkAttachmentUploaded(localID, attachmentID string, uploaded models.RemoteAttachment) bool
	Stats() models.QueueStats
}

// Sender delivers one resolved message to the backend.
type Sender interface {
	SendMessage(ctx context.Context, msg *models.OutgoingMessage) (*models.SendResult, error)
}

// Uploader pushes one local attachment and returns its remote descriptor.
type Uploader interface {
	UploadAttachment(ctx context.Context, att models.LocalAttachment, onProgress func(percent int)) (*models.RemoteAttachment, error)
}

// Connectivity is the processor's view of the network monitor.
type Connectivity interface {
	IsConnected() bool
	OnChange(fn func(models.NetworkStatus))
}

// Options tune one Processor instance. Zero fields fall back to defaults.
type Options struct {
	ProcessInterval    time.Duration
	MaxConcurrentSends int
	SendTimeout        time.Duration
	UploadTimeout      time.Duration
}

func (o *Options) applyDefaults() {
	if o.ProcessInterval <= 0 {
		o.ProcessInterval = time.Duration(constants.DefaultProcessIntervalSec) * time.Second
	}
	if o.MaxConcurrentSends <= 0 {
		o.MaxConcurrentSends = constants.DefaultMaxConcurrentSends
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = time.Duration(constants.DefaultSendTimeoutSec) * time.Second
	}
	if o.UploadTimeout <= 0 {
		o.UploadTimeout = time.Duration(constants.DefaultUploadTimeoutSec) * time.Second
	}
}

// Processor drains the queue: it collects eligible messages on a schedule or
// on a wake signal, and sends them with bounded concurrency. At most one
// pass runs at a time; wake signals during a pass coalesce into one
// follow-up pass.
type Processor struct {
	store    QueueStore
	sender   Sender
	uploader Uploader
	network  Connectivity
	logger   *logrus.Logger
	opts     Options

	wake chan struct{}
	sem  chan struct{}

	mu         sync.Mutex
	processing bool
	syncStatus models.SyncStatus

	running  bool
	runMu    sync.Mutex
	stopCh   chan struct{}
	passDone sync.WaitGroup
}

func NewProcessor(store QueueStore, sender Sender, uploader Uploader, network Connectivity, opts Options, logger *logrus.Logger) *Processor {
	opts.applyDefaults()

	p := &Processor{
		store:    store,
		sender:   sender,
		uploader: uploader,
		network:  network,
		logger:   logger,
		opts:     opts,
		wake:     make(chan struct{}, 1),
		sem:      make(chan struct{}, opts.MaxConcurrentSends),
	}

	if network != nil {
		network.OnChange(func(status models.NetworkStatus) {
			if status.IsConnected {
				p.Wake()
			}
		})
	}
	return p
}

// Wake requests a pass as soon as the loop is idle. Non-blocking; concurrent
// wakes collapse into one.
func (p *Processor) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Start launches the processing loop.
func (p *Processor) Start(ctx context.Context) {
	p.runMu.Lock()
	if p.running {
		p.runMu.Unlock()
		p.logger.Warn("Queue processor is already running")
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.runMu.Unlock()

	go p.loop(ctx)
	p.logger.WithFields(logrus.Fields{
		"interval":       p.opts.ProcessInterval,
		"maxConcurrency": p.opts.MaxConcurrentSends,
	}).Info("Queue processor started")
}

// Stop halts the loop; in-flight sends finish on their own contexts.
func (p *Processor) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if !p.running {
		return
	}
	close(p.stopCh)
	p.stopCh = nil
	p.running = false
	p.logger.Info("Queue processor stopped")
}

// SyncStatus reports the current pass state for UI consumption.
func (p *Processor) SyncStatus() models.SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncStatus
}

func (p *Processor) loop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.ProcessInterval)
	defer ticker.Stop()

	stopCh := p.getStopCh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
		case <-p.wake:
		}
		p.ProcessPass(ctx)
	}
}

func (p *Processor) getStopCh() <-chan struct{} {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.stopCh == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.stopCh
}

// ProcessPass runs one drain pass synchronously. Reentrant calls return
// immediately; the loop is the usual caller but tests and the foreground
// handler call it directly.
func (p *Processor) ProcessPass(ctx context.Context) {
	p.mu.Lock()
	if p.processing {
		p.mu.Unlock()
		return
	}
	p.processing = true
	p.syncStatus.IsSyncing = true
	p.syncStatus.Progress = 0
	p.syncStatus.Error = ""
	p.mu.Unlock()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("Queue pass panicked")
			p.finishPass(started, fmt.Sprintf("internal error: %v", r))
			return
		}
		p.finishPass(started, "")
	}()

	if p.network != nil && !p.network.IsConnected() {
		return
	}

	batch := p.store.PendingMessages()
	if len(batch) == 0 {
		return
	}

	p.logger.WithField("messages", len(batch)).Debug("Processing queue pass")

	var (
		wg        sync.WaitGroup
		completed int64
		compMu    sync.Mutex
	)
	total := len(batch)

	for i, msg := range batch {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case p.sem <- struct{}{}:
		}

		// Connectivity can drop mid-pass. Stop launching so the rest of the
		// batch keeps its retry budget; in-flight sends are left to finish.
		if p.network != nil && !p.network.IsConnected() {
			<-p.sem
			p.logger.WithField("deferred", len(batch)-i).Debug("Connectivity lost mid-pass, deferring remaining messages")
			break
		}

		wg.Add(1)
		go func(m *models.QueuedMessage) {
			defer wg.Done()
			defer func() { <-p.sem }()
			defer func() {
				if r := recover(); r != nil {
					p.logger.WithField("panic", r).WithField("localId", m.LocalID).Error("Message processing panicked")
					p.store.MarkFailed(m.LocalID, models.FailureReasonUnknown, fmt.Sprintf("internal error: %v", r))
				}
			}()

			p.processMessage(ctx, m)

			compMu.Lock()
			completed++
			done := completed
			compMu.Unlock()
			p.setProgress(int(math.Round(float64(done) / float64(total) * 100)))
		}(msg)
	}
	wg.Wait()
}

func (p *Processor) finishPass(started time.Time, errMsg string) {
	metrics.RecordTimer(metrics.MetricPassDuration, time.Since(started), nil)

	stats := p.store.Stats()
	metrics.SetGauge(metrics.MetricQueueDepth, float64(stats.Pending+stats.Sending), nil)
	metrics.SetGauge(metrics.MetricQueueFailed, float64(stats.Failed), nil)

	now := time.Now()
	p.mu.Lock()
	p.processing = false
	p.syncStatus.IsSyncing = false
	p.syncStatus.LastSyncAt = &now
	p.syncStatus.Error = errMsg
	p.mu.Unlock()
}

func (p *Processor) setProgress(progress int) {
	p.mu.Lock()
	p.syncStatus.Progress = progress
	p.mu.Unlock()
}

// processMessage drives one message through upload, resolution, and send.
// The message arrives as a snapshot; every mutation goes back through the
// store so a concurrent removal wins over stale processor state.
func (p *Processor) processMessage(ctx context.Context, msg *models.QueuedMessage) {
	now := time.Now()
	if !p.store.UpdateStatus(msg.LocalID, models.MessageStatusSending, func(m *models.QueuedMessage) {
		m.LastAttemptAt = &now
	}) {
		// Removed between collection and processing.
		return
	}

	if err := p.uploadAttachments(ctx, msg); err != nil {
		reason, detail := models.ClassifyError(err)
		p.store.MarkFailed(msg.LocalID, reason, detail)
		metrics.IncrementCounter(metrics.MetricSendFailure, map[string]string{"reason": string(reason)})
		p.logger.WithError(err).WithFields(logrus.Fields{
			"localId": msg.LocalID,
			"reason":  reason,
		}).Warn("Attachment upload failed")
		return
	}

	outgoing, err := p.resolveOutgoing(msg.LocalID)
	if err != nil {
		reason, detail := models.ClassifyError(err)
		p.store.MarkFailed(msg.LocalID, reason, detail)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.opts.SendTimeout)
	defer cancel()

	sendStarted := time.Now()
	result, err := p.sender.SendMessage(sendCtx, outgoing)
	metrics.RecordTimer(metrics.MetricSendDuration, time.Since(sendStarted), nil)

	if err != nil {
		reason, detail := models.ClassifyError(err)
		p.store.MarkFailed(msg.LocalID, reason, detail)
		metrics.IncrementCounter(metrics.MetricSendFailure, map[string]string{"reason": string(reason)})
		p.logger.WithError(err).WithFields(logrus.Fields{
			"localId":   msg.LocalID,
			"channelId": privacy.MaskID(msg.ChannelID),
			"reason":    reason,
		}).Warn("Message send failed")
		return
	}

	p.store.MarkSent(msg.LocalID, result.ServerID)
	metrics.IncrementCounter(metrics.MetricSendSuccess, nil)
}

// uploadAttachments resolves every local attachment that has no remote
// descriptor yet. Already-uploaded attachments are skipped, so a message
// failing at send does not re-upload on retry. A single upload failure fails
// the whole message; successful uploads before it keep their descriptors.
func (p *Processor) uploadAttachments(ctx context.Context, msg *models.QueuedMessage) error {
	for _, att := range msg.Attachments {
		if att.Uploaded != nil {
			continue
		}

		uploadCtx, cancel := context.WithTimeout(ctx, p.opts.UploadTimeout)
		remote, err := p.uploader.UploadAttachment(uploadCtx, att, func(percent int) {
			p.store.UpdateAttachmentProgress(msg.LocalID, att.ID, percent)
		})
		cancel()

		if err != nil {
			metrics.IncrementCounter(metrics.MetricUploadFailure, nil)
			return fmt.Errorf("failed to upload attachment %s: %w", privacy.MaskFilename(att.Filename), err)
		}

		p.store.MarkAttachmentUploaded(msg.LocalID, att.ID, *remote)
		metrics.IncrementCounter(metrics.MetricUploadSuccess, nil)
	}
	return nil
}

// resolveOutgoing re-reads the message so attachment ids reflect uploads
// recorded moments ago.
func (p *Processor) resolveOutgoing(localID string) (*models.OutgoingMessage, error) {
	current, ok := p.store.Message(localID)
	if !ok {
		return nil, fmt.Errorf("message disappeared during processing: %s", localID)
	}

	out := &models.OutgoingMessage{
		LocalID:        current.LocalID,
		Content:        current.Content,
		ChannelID:      current.ChannelID,
		TargetServerID: current.TargetServerID,
	}
	if current.ReplyTo != nil {
		out.ReplyToID = current.ReplyTo.MessageID
	}
	for _, att := range current.Attachments {
		if att.Uploaded == nil {
			return nil, models.NewSendError(models.FailureReasonUnknown, "attachment %s has no remote descriptor", att.ID)
		}
		out.AttachmentIDs = append(out.AttachmentIDs, att.Uploaded.ID)
	}
	return out, nil
}
