package service

import (
	"context"
	"testing"
	"time"

	"outbox/internal/models"
	"outbox/internal/queue"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newTestProcessor(t *testing.T, sender *mockSender, uploader *mockUploader, network *mockNetwork, opts Options) (*Processor, *queue.Store) {
	t.Helper()
	store := queue.NewStore(nil, models.DefaultRetryConfig(), testLogger())
	return NewProcessor(store, sender, uploader, network, opts, testLogger()), store
}

// forceRetryDue rewinds a failed message's schedule so the next pass picks
// it up without sleeping through real backoff.
func forceRetryDue(t *testing.T, store *queue.Store, localID string) {
	t.Helper()
	past := time.Now().Add(-time.Second)
	require.True(t, store.UpdateStatus(localID, models.MessageStatusFailed, func(m *models.QueuedMessage) {
		m.NextRetryAt = &past
	}))
}

func TestProcessPass_SendsPendingMessage(t *testing.T) {
	sender := newMockSender()
	proc, store := newTestProcessor(t, sender, newMockUploader(), newMockNetwork(true), Options{})

	msg := store.Enqueue(models.EnqueueOptions{Content: "hello", ChannelID: "chan-1", AuthorID: "user-1"})
	proc.ProcessPass(context.Background())

	got, ok := store.Message(msg.LocalID)
	require.True(t, ok)
	assert.Equal(t, models.MessageStatusSent, got.Status)
	assert.Equal(t, "srv-"+msg.LocalID, got.ServerID)
	require.NotNil(t, got.LastAttemptAt)

	require.Equal(t, 1, sender.callCount())
	assert.Equal(t, "hello", sender.calls[0].Content)
	assert.Equal(t, "chan-1", sender.calls[0].ChannelID)
}

func TestProcessPass_OfflineSkipsEntirely(t *testing.T) {
	sender := newMockSender()
	proc, store := newTestProcessor(t, sender, newMockUploader(), newMockNetwork(false), Options{})

	msg := store.Enqueue(models.EnqueueOptions{Content: "hello", ChannelID: "c", AuthorID: "u"})
	proc.ProcessPass(context.Background())

	got, _ := store.Message(msg.LocalID)
	assert.Equal(t, models.MessageStatusPending, got.Status)
	assert.Equal(t, 0, sender.callCount())
}

func TestProcessPass_ConnectivityLossStopsLaunching(t *testing.T) {
	network := newMockNetwork(true)
	sender := newMockSender()
	sender.sendFn = func(ctx context.Context, msg *models.OutgoingMessage) (*models.SendResult, error) {
		// The network goes dark while the first send is in flight.
		network.setConnected(false)
		return &models.SendResult{ServerID: "srv-" + msg.LocalID}, nil
	}
	proc, store := newTestProcessor(t, sender, newMockUploader(), network, Options{MaxConcurrentSends: 1})

	first := store.Enqueue(models.EnqueueOptions{Content: "a", ChannelID: "c", AuthorID: "u"})
	second := store.Enqueue(models.EnqueueOptions{Content: "b", ChannelID: "c", AuthorID: "u"})
	third := store.Enqueue(models.EnqueueOptions{Content: "c", ChannelID: "c", AuthorID: "u"})

	proc.ProcessPass(context.Background())

	assert.Equal(t, 1, sender.callCount())

	got, _ := store.Message(first.LocalID)
	assert.Equal(t, models.MessageStatusSent, got.Status)

	// The rest of the batch is deferred untouched: no attempt, no burned retry.
	for _, id := range []string{second.LocalID, third.LocalID} {
		got, _ := store.Message(id)
		assert.Equal(t, models.MessageStatusPending, got.Status)
		assert.Equal(t, 0, got.RetryCount)
		assert.Nil(t, got.LastAttemptAt)
	}
}

func TestConnectivityRestoredWakesProcessor(t *testing.T) {
	sender := newMockSender()
	network := newMockNetwork(false)
	proc, store := newTestProcessor(t, sender, newMockUploader(), network, Options{
		ProcessInterval: time.Hour, // only the wake signal can trigger a pass
	})

	msg := store.Enqueue(models.EnqueueOptions{Content: "queued offline", ChannelID: "c", AuthorID: "u"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(ctx)
	defer proc.Stop()

	network.setConnected(true)

	require.Eventually(t, func() bool {
		got, _ := store.Message(msg.LocalID)
		return got.Status == models.MessageStatusSent
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcessPass_FailureSchedulesBackoffThenRecovers(t *testing.T) {
	sender := newMockSender()
	sender.sendFn = func(ctx context.Context, msg *models.OutgoingMessage) (*models.SendResult, error) {
		return nil, models.NewSendError(models.FailureReasonServer, "internal error")
	}
	proc, store := newTestProcessor(t, sender, newMockUploader(), newMockNetwork(true), Options{})

	msg := store.Enqueue(models.EnqueueOptions{Content: "x", ChannelID: "c", AuthorID: "u"})
	proc.ProcessPass(context.Background())

	got, _ := store.Message(msg.LocalID)
	assert.Equal(t, models.MessageStatusFailed, got.Status)
	assert.Equal(t, models.FailureReasonServer, got.FailureReason)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.LastAttemptAt)
	require.NotNil(t, got.NextRetryAt)

	// First retry is scheduled one jittered initial delay out.
	delay := got.NextRetryAt.Sub(*got.LastAttemptAt)
	assert.GreaterOrEqual(t, delay, 750*time.Millisecond)
	assert.LessOrEqual(t, delay, 1250*time.Millisecond)

	// Not due yet: the next pass must leave it alone.
	proc.ProcessPass(context.Background())
	assert.Equal(t, 1, sender.callCount())

	// Once due, the retry goes out and succeeds.
	sender.mu.Lock()
	sender.sendFn = func(ctx context.Context, m *models.OutgoingMessage) (*models.SendResult, error) {
		return &models.SendResult{ServerID: "srv-1"}, nil
	}
	sender.mu.Unlock()

	forceRetryDue(t, store, msg.LocalID)
	proc.ProcessPass(context.Background())

	got, _ = store.Message(msg.LocalID)
	assert.Equal(t, models.MessageStatusSent, got.Status)
	assert.Equal(t, "srv-1", got.ServerID)
	assert.Equal(t, 2, sender.callCount())
}

func TestProcessPass_AttachmentsUploadOnceAcrossRetries(t *testing.T) {
	sender := newMockSender()
	sender.sendFn = func(ctx context.Context, msg *models.OutgoingMessage) (*models.SendResult, error) {
		return nil, models.NewSendError(models.FailureReasonServer, "busy")
	}
	uploader := newMockUploader()
	proc, store := newTestProcessor(t, sender, uploader, newMockNetwork(true), Options{})

	msg := store.Enqueue(models.EnqueueOptions{
		Content:   "with files",
		ChannelID: "c",
		AuthorID:  "u",
		Attachments: []models.AttachmentInput{
			{URI: "/tmp/a.jpg", Filename: "a.jpg", ContentType: "image/jpeg", Size: 100},
			{URI: "/tmp/b.pdf", Filename: "b.pdf", ContentType: "application/pdf", Size: 200},
		},
	})

	// First pass: uploads succeed, the send fails.
	proc.ProcessPass(context.Background())

	got, _ := store.Message(msg.LocalID)
	assert.Equal(t, models.MessageStatusFailed, got.Status)
	require.Len(t, uploader.uploadedIDs(), 2)
	for _, att := range got.Attachments {
		require.NotNil(t, att.Uploaded)
		assert.Equal(t, 100, att.UploadProgress)
	}

	// Retry pass: attachments already resolved, nothing re-uploads.
	sender.mu.Lock()
	sender.sendFn = func(ctx context.Context, m *models.OutgoingMessage) (*models.SendResult, error) {
		return &models.SendResult{ServerID: "srv-9"}, nil
	}
	sender.mu.Unlock()

	forceRetryDue(t, store, msg.LocalID)
	proc.ProcessPass(context.Background())

	got, _ = store.Message(msg.LocalID)
	assert.Equal(t, models.MessageStatusSent, got.Status)
	assert.Len(t, uploader.uploadedIDs(), 2)

	// The send carried the remote ids recorded at upload time.
	require.Equal(t, 2, sender.callCount())
	sent := sender.calls[1]
	assert.Equal(t, []string{"remote-" + msg.Attachments[0].ID, "remote-" + msg.Attachments[1].ID}, sent.AttachmentIDs)
}

func TestProcessPass_UploadFailureFailsMessageKeepsCompletedUploads(t *testing.T) {
	sender := newMockSender()
	uploader := newMockUploader()
	base := uploader.uploadFn
	uploader.uploadFn = func(ctx context.Context, att models.LocalAttachment, onProgress func(int)) (*models.RemoteAttachment, error) {
		if att.Filename == "b.pdf" {
			return nil, models.NewSendError(models.FailureReasonNetwork, "connection reset")
		}
		return base(ctx, att, onProgress)
	}
	proc, store := newTestProcessor(t, sender, uploader, newMockNetwork(true), Options{})

	msg := store.Enqueue(models.EnqueueOptions{
		Content:   "x",
		ChannelID: "c",
		AuthorID:  "u",
		Attachments: []models.AttachmentInput{
			{URI: "/tmp/a.jpg", Filename: "a.jpg", ContentType: "image/jpeg", Size: 100},
			{URI: "/tmp/b.pdf", Filename: "b.pdf", ContentType: "application/pdf", Size: 200},
		},
	})

	proc.ProcessPass(context.Background())

	got, _ := store.Message(msg.LocalID)
	assert.Equal(t, models.MessageStatusFailed, got.Status)
	assert.Equal(t, models.FailureReasonNetwork, got.FailureReason)
	assert.Equal(t, 0, sender.callCount())

	// The successful upload survives; only the failed one retries later.
	assert.NotNil(t, got.Attachments[0].Uploaded)
	assert.Nil(t, got.Attachments[1].Uploaded)
}

func TestProcessPass_ExhaustedRetriesGoPermanent(t *testing.T) {
	sender := newMockSender()
	sender.sendFn = func(ctx context.Context, msg *models.OutgoingMessage) (*models.SendResult, error) {
		return nil, models.NewSendError(models.FailureReasonServer, "still broken")
	}
	proc, store := newTestProcessor(t, sender, newMockUploader(), newMockNetwork(true), Options{})

	msg := store.Enqueue(models.EnqueueOptions{Content: "doomed", ChannelID: "c", AuthorID: "u"})

	proc.ProcessPass(context.Background())
	for i := 0; i < 4; i++ {
		forceRetryDue(t, store, msg.LocalID)
		proc.ProcessPass(context.Background())
	}

	got, _ := store.Message(msg.LocalID)
	assert.Equal(t, 5, got.RetryCount)
	assert.Nil(t, got.NextRetryAt)
	assert.True(t, got.PermanentlyFailed())
	assert.Equal(t, 5, sender.callCount())

	// No schedule, no more automatic attempts.
	proc.ProcessPass(context.Background())
	assert.Equal(t, 5, sender.callCount())

	// Manual retry puts it back in play.
	sender.mu.Lock()
	sender.sendFn = func(ctx context.Context, m *models.OutgoingMessage) (*models.SendResult, error) {
		return &models.SendResult{ServerID: "srv-final"}, nil
	}
	sender.mu.Unlock()

	require.NoError(t, store.RetryMessage(msg.LocalID))
	proc.ProcessPass(context.Background())

	got, _ = store.Message(msg.LocalID)
	assert.Equal(t, models.MessageStatusSent, got.Status)
	assert.Equal(t, "srv-final", got.ServerID)
}

func TestProcessPass_BoundedConcurrency(t *testing.T) {
	sender := newMockSender()
	sender.holdSends()
	proc, store := newTestProcessor(t, sender, newMockUploader(), newMockNetwork(true), Options{
		MaxConcurrentSends: 2,
	})

	for i := 0; i < 6; i++ {
		store.Enqueue(models.EnqueueOptions{Content: "bulk", ChannelID: "c", AuthorID: "u"})
	}

	done := make(chan struct{})
	go func() {
		proc.ProcessPass(context.Background())
		close(done)
	}()

	// Two sends reach the hold point; the rest wait on the semaphore.
	<-sender.reachHold
	<-sender.reachHold
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, sender.maxConcurrent())
	assert.Equal(t, 2, sender.callCount())

	sender.releaseSends()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pass did not finish")
	}

	assert.Equal(t, 6, sender.callCount())
	assert.LessOrEqual(t, sender.maxConcurrent(), 2)
	assert.Equal(t, 0, store.Stats().Pending)
}

func TestProcessPass_ReentrantCallsCoalesce(t *testing.T) {
	sender := newMockSender()
	sender.holdSends()
	proc, store := newTestProcessor(t, sender, newMockUploader(), newMockNetwork(true), Options{})

	msg := store.Enqueue(models.EnqueueOptions{Content: "once", ChannelID: "c", AuthorID: "u"})

	done := make(chan struct{})
	go func() {
		proc.ProcessPass(context.Background())
		close(done)
	}()
	<-sender.reachHold

	// A second pass while one is running returns without touching the queue.
	proc.ProcessPass(context.Background())
	assert.Equal(t, 1, sender.callCount())

	sender.releaseSends()
	<-done

	got, _ := store.Message(msg.LocalID)
	assert.Equal(t, models.MessageStatusSent, got.Status)
	assert.Equal(t, 1, sender.callCount())
}

func TestProcessPass_SendTimeoutClassified(t *testing.T) {
	sender := newMockSender()
	sender.sendFn = func(ctx context.Context, msg *models.OutgoingMessage) (*models.SendResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	proc, store := newTestProcessor(t, sender, newMockUploader(), newMockNetwork(true), Options{
		SendTimeout: 30 * time.Millisecond,
	})

	msg := store.Enqueue(models.EnqueueOptions{Content: "slow", ChannelID: "c", AuthorID: "u"})
	proc.ProcessPass(context.Background())

	got, _ := store.Message(msg.LocalID)
	assert.Equal(t, models.MessageStatusFailed, got.Status)
	assert.Equal(t, models.FailureReasonTimeout, got.FailureReason)
}

func TestProcessPass_PanicIsContained(t *testing.T) {
	sender := newMockSender()
	sender.sendFn = func(ctx context.Context, msg *models.OutgoingMessage) (*models.SendResult, error) {
		panic("sender exploded")
	}
	proc, store := newTestProcessor(t, sender, newMockUploader(), newMockNetwork(true), Options{})

	msg := store.Enqueue(models.EnqueueOptions{Content: "boom", ChannelID: "c", AuthorID: "u"})
	proc.ProcessPass(context.Background())

	got, _ := store.Message(msg.LocalID)
	assert.Equal(t, models.MessageStatusFailed, got.Status)
	assert.Equal(t, models.FailureReasonUnknown, got.FailureReason)
	assert.Contains(t, got.ErrorMessage, "sender exploded")

	// The processor remains usable after the panic.
	sender.mu.Lock()
	sender.sendFn = func(ctx context.Context, m *models.OutgoingMessage) (*models.SendResult, error) {
		return &models.SendResult{ServerID: "srv-ok"}, nil
	}
	sender.mu.Unlock()

	forceRetryDue(t, store, msg.LocalID)
	proc.ProcessPass(context.Background())
	got, _ = store.Message(msg.LocalID)
	assert.Equal(t, models.MessageStatusSent, got.Status)
}

func TestSyncStatusLifecycle(t *testing.T) {
	sender := newMockSender()
	proc, store := newTestProcessor(t, sender, newMockUploader(), newMockNetwork(true), Options{})

	assert.False(t, proc.SyncStatus().IsSyncing)
	assert.Nil(t, proc.SyncStatus().LastSyncAt)

	store.Enqueue(models.EnqueueOptions{Content: "x", ChannelID: "c", AuthorID: "u"})
	proc.ProcessPass(context.Background())

	status := proc.SyncStatus()
	assert.False(t, status.IsSyncing)
	require.NotNil(t, status.LastSyncAt)
	assert.Equal(t, 100, status.Progress)
	assert.Empty(t, status.Error)
}

func TestProcessPass_RemovedMessageIsSkipped(t *testing.T) {
	sender := newMockSender()
	proc, store := newTestProcessor(t, sender, newMockUploader(), newMockNetwork(true), Options{})

	msg := store.Enqueue(models.EnqueueOptions{Content: "gone", ChannelID: "c", AuthorID: "u"})
	batch := store.PendingMessages()
	require.Len(t, batch, 1)

	// Simulate the user deleting between collection and processing.
	store.Remove(msg.LocalID)
	proc.ProcessPass(context.Background())

	assert.Equal(t, 0, sender.callCount())
}
