package queue

import (
	"context"
	"sync"
	"time"

	"outbox/internal/constants"

	"github.com/sirupsen/logrus"
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// writer serializes persistence operations on a single goroutine so in-memory
// mutations never wait on disk and writes land in mutation order.
type writer struct {
	logger  *logrus.Logger
	queue   chan writeCmd
	wg      sync.WaitGroup
	once    sync.Once
	stopped chan struct{}
}

func newWriter(logger *logrus.Logger, capacity int) *writer {
	if capacity <= 0 {
		capacity = constants.DefaultWriterQueueCapacity
	}
	return &writer{
		logger:  logger,
		queue:   make(chan writeCmd, capacity),
		stopped: make(chan struct{}),
	}
}

// enqueue submits a command to the worker, blocking while the queue is full.
// Callers hold the store mutex, so submission order is mutation order; a
// stall under a full backlog is preferable to reordered writes. Once the
// worker has exited the command runs inline instead.
func (w *writer) enqueue(name string, fn func(context.Context) error) {
	cmd := writeCmd{name: name, fn: fn}
	select {
	case <-w.stopped:
		w.runInline(cmd)
		return
	default:
	}
	select {
	case w.queue <- cmd:
	case <-w.stopped:
		w.runInline(cmd)
	}
}

func (w *writer) runInline(cmd writeCmd) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()
	w.run(ctx, cmd)
}

func (w *writer) start(ctx context.Context) {
	w.once.Do(func() {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer close(w.stopped)
			for {
				select {
				case <-ctx.Done():
					w.drain()
					return
				case cmd := <-w.queue:
					w.run(ctx, cmd)
				}
			}
		}()
	})
}

// drain flushes whatever is already queued at shutdown with a fresh context.
func (w *writer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	for {
		select {
		case cmd := <-w.queue:
			w.run(ctx, cmd)
		default:
			return
		}
	}
}

func (w *writer) run(ctx context.Context, cmd writeCmd) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := cmd.fn(ctx)
		if err == nil {
			return
		}
		w.logger.WithError(err).WithFields(logrus.Fields{
			"cmd":     cmd.name,
			"attempt": attempt,
		}).Error("Queue persistence write failed")
		if attempt == maxAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * constants.DefaultWriterRetryDelayMs * time.Millisecond):
		}
	}
}

// flush blocks until every command enqueued before it has been executed.
// The worker is a single goroutine consuming in FIFO order, so a sentinel
// command completing means everything ahead of it completed too. When the
// worker has already exited (shutdown), the remaining queue is executed
// inline so a final flush still lands everything on disk.
func (w *writer) flush() {
	done := make(chan struct{})
	w.enqueue("flush", func(context.Context) error {
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-w.stopped:
		w.drain()
	}
}
