// Package core provides the main VoiceMem engine and conversational memory functionality.
package core

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxhive/voicemem-go/pkg/storage"
)

// writeTimeout bounds a single background persist. Writes run off the
// caller's hot path, so this is generous compared to the search budget.
const writeTimeout = 5 * time.Second

// writer persists records in the background.
//
// Submissions never block the caller: the queue is bounded and a submission
// arriving while it is full is dropped and counted. Workers drain the queue
// until Close.
type writer struct {
	store  storage.MemoryStore
	embed  func(ctx context.Context, text string) ([]float32, error)
	queue  chan *storage.Record
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool

	// pending tracks enqueued records not yet persisted, for Wait.
	pending sync.WaitGroup
	workers sync.WaitGroup

	writes   atomic.Uint64
	failures atomic.Uint64
	dropped  atomic.Uint64
}

// newWriter creates a writer and starts its worker pool. The embed function
// fills in embeddings for records submitted without one; embedding runs on
// the worker, off the caller's hot path.
func newWriter(store storage.MemoryStore, embed func(ctx context.Context, text string) ([]float32, error), queueSize, workers int, logger *slog.Logger) *writer {
	w := &writer{
		store:  store,
		embed:  embed,
		queue:  make(chan *storage.Record, queueSize),
		logger: logger,
	}

	w.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go w.run()
	}

	return w
}

// Submit enqueues a record for background persistence. Returns false when
// the record was dropped, either because the queue is full or the writer is
// closed.
func (w *writer) Submit(record *storage.Record) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.dropped.Add(1)
		w.logger.Warn("dropping memory submitted after close",
			slog.String("user_id", record.UserID),
			slog.Any("error", ErrEngineClosed))
		return false
	}

	w.pending.Add(1)
	select {
	case w.queue <- record:
		return true
	default:
		w.pending.Done()
		w.dropped.Add(1)
		w.logger.Warn("write queue full, dropping memory",
			slog.String("user_id", record.UserID),
			slog.Any("error", ErrQueueFull))
		return false
	}
}

// Wait blocks until every enqueued record has been persisted or failed.
//
// Useful in tests and at shutdown; callers on the hot path never wait.
func (w *writer) Wait() {
	w.pending.Wait()
}

// Close stops accepting submissions, drains the queue, and waits for the
// workers to exit.
func (w *writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	w.workers.Wait()
}

// run drains the queue until it is closed.
func (w *writer) run() {
	defer w.workers.Done()

	for record := range w.queue {
		w.persist(record)
		w.pending.Done()
	}
}

// persist writes one record, counting the outcome. Failures are logged and
// counted, never propagated: the submitting caller has long since moved on.
func (w *writer) persist(record *storage.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if record.Embedding == nil {
		embedding, err := w.embed(ctx, record.Content)
		if err != nil {
			w.failures.Add(1)
			w.logger.Error("failed to embed memory",
				slog.String("user_id", record.UserID),
				slog.Int64("id", record.ID),
				slog.Any("error", err))
			return
		}
		record.Embedding = embedding
	}

	if err := w.store.Insert(ctx, record); err != nil {
		w.failures.Add(1)
		w.logger.Error("failed to persist memory",
			slog.String("user_id", record.UserID),
			slog.Int64("id", record.ID),
			slog.Any("error", err))
		return
	}

	w.writes.Add(1)
}
