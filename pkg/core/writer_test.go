package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxhive/voicemem-go/pkg/storage"
)

// fakeStore records inserts in memory, with injectable failures and latency.
type fakeStore struct {
	mu        sync.Mutex
	records   []*storage.Record
	insertErr error
	delay     time.Duration
}

func (s *fakeStore) Insert(ctx context.Context, record *storage.Record) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *fakeStore) ScanRecent(ctx context.Context, userID string, limit int) ([]*storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []*storage.Record
	for i := len(s.records) - 1; i >= 0 && len(records) < limit; i-- {
		if s.records[i].UserID == userID {
			records = append(records, s.records[i])
		}
	}
	return records, nil
}

func (s *fakeStore) KeywordSearch(ctx context.Context, userID string, tokens []string, limit int) ([]*storage.KeywordHit, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func staticEmbed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

// logRecorder is a slog.Handler that captures records for assertions.
type logRecorder struct {
	mu      sync.Mutex
	records []slog.Record
}

func (r *logRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *logRecorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec.Clone())
	return nil
}

func (r *logRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *logRecorder) WithGroup(string) slog.Handler      { return r }

// loggedError reports whether any captured record carries an error attribute
// matching target.
func (r *logRecorder) loggedError(target error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		found := false
		rec.Attrs(func(a slog.Attr) bool {
			if err, ok := a.Value.Any().(error); ok && errors.Is(err, target) {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

func testRecord(id int64) *storage.Record {
	return &storage.Record{
		ID:        id,
		UserID:    "test_user",
		Content:   "content",
		CreatedAt: time.Now().UTC(),
	}
}

func TestWriter_PersistsSubmittedRecords(t *testing.T) {
	store := &fakeStore{}
	w := newWriter(store, staticEmbed, 8, 1, slog.Default())
	defer w.Close()

	require.True(t, w.Submit(testRecord(1)))
	require.True(t, w.Submit(testRecord(2)))
	w.Wait()

	assert.Equal(t, 2, store.len())
	assert.Equal(t, uint64(2), w.writes.Load())

	// The worker filled in the embedding before persisting.
	store.mu.Lock()
	assert.Equal(t, []float32{1, 0, 0}, store.records[0].Embedding)
	store.mu.Unlock()
}

func TestWriter_DropsWhenQueueFull(t *testing.T) {
	store := &fakeStore{delay: 50 * time.Millisecond}
	recorder := &logRecorder{}
	w := newWriter(store, staticEmbed, 1, 1, slog.New(recorder))
	defer w.Close()

	// Saturate the single worker and the single queue slot, then overflow.
	submitted := 0
	for i := 0; i < 10; i++ {
		if w.Submit(testRecord(int64(i))) {
			submitted++
		}
	}

	assert.Less(t, submitted, 10)
	assert.Equal(t, uint64(10-submitted), w.dropped.Load())
	assert.True(t, recorder.loggedError(ErrQueueFull))

	w.Wait()
	assert.Equal(t, submitted, store.len())
}

func TestWriter_CountsFailures(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("disk full")}
	w := newWriter(store, staticEmbed, 8, 1, slog.Default())
	defer w.Close()

	require.True(t, w.Submit(testRecord(1)))
	w.Wait()

	assert.Equal(t, uint64(1), w.failures.Load())
	assert.Equal(t, uint64(0), w.writes.Load())
}

func TestWriter_CountsEmbeddingFailures(t *testing.T) {
	store := &fakeStore{}
	embedErr := errors.New("provider unavailable")
	failEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, embedErr
	}
	w := newWriter(store, failEmbed, 8, 1, slog.Default())
	defer w.Close()

	require.True(t, w.Submit(testRecord(1)))
	w.Wait()

	assert.Equal(t, uint64(1), w.failures.Load())
	assert.Equal(t, 0, store.len())
}

func TestWriter_CloseDrainsQueue(t *testing.T) {
	store := &fakeStore{}
	recorder := &logRecorder{}
	w := newWriter(store, staticEmbed, 16, 2, slog.New(recorder))

	for i := 0; i < 10; i++ {
		w.Submit(testRecord(int64(i)))
	}
	w.Close()

	assert.Equal(t, 10, store.len())

	// Submissions after Close are dropped, not queued.
	assert.False(t, w.Submit(testRecord(99)))
	assert.Equal(t, uint64(1), w.dropped.Load())
	assert.True(t, recorder.loggedError(ErrEngineClosed))
}
