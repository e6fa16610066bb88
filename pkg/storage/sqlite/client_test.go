package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxhive/voicemem-go/pkg/storage"
	sqliteStore "github.com/voxhive/voicemem-go/pkg/storage/sqlite"
)

func setupSQLiteTest(t *testing.T) *sqliteStore.Client {
	t.Helper()

	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath:    filepath.Join(t.TempDir(), "voicemem_test.db"),
		TableName: "memories",
	})
	require.NoError(t, err)
	require.NotNil(t, store)

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func insertRecord(t *testing.T, store *sqliteStore.Client, id int64, userID, content string, createdAt time.Time) {
	t.Helper()

	err := store.Insert(context.Background(), &storage.Record{
		ID:        id,
		UserID:    userID,
		Content:   content,
		Embedding: []float32{0.1, 0.2, 0.3},
		CreatedAt: createdAt,
	})
	require.NoError(t, err)
}

func TestSQLiteClient_InsertAndScanRecent(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertRecord(t, store, 1, "alice", "first memory", now.Add(-2*time.Minute))
	insertRecord(t, store, 2, "alice", "second memory", now.Add(-time.Minute))
	insertRecord(t, store, 3, "alice", "third memory", now)

	records, err := store.ScanRecent(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Newest first.
	assert.Equal(t, int64(3), records[0].ID)
	assert.Equal(t, int64(2), records[1].ID)
	assert.Equal(t, int64(1), records[2].ID)

	assert.Equal(t, "third memory", records[0].Content)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, records[0].Embedding)
}

func TestSQLiteClient_ScanRecentLimit(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 1; i <= 150; i++ {
		insertRecord(t, store, int64(i), "alice", fmt.Sprintf("memory %d", i), now.Add(time.Duration(i)*time.Second))
	}

	records, err := store.ScanRecent(ctx, "alice", 100)
	require.NoError(t, err)
	require.Len(t, records, 100)

	// The newest 100 survive the cut; the oldest 50 do not.
	assert.Equal(t, int64(150), records[0].ID)
	assert.Equal(t, int64(51), records[99].ID)
}

func TestSQLiteClient_UserIsolation(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	now := time.Now().UTC()
	insertRecord(t, store, 1, "alice", "alice likes hiking", now)
	insertRecord(t, store, 2, "bob", "bob likes sailing", now)

	records, err := store.ScanRecent(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alice likes hiking", records[0].Content)

	hits, err := store.KeywordSearch(ctx, "alice", []string{"sailing"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSQLiteClient_KeywordSearch(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	now := time.Now().UTC()
	insertRecord(t, store, 1, "alice", "I love hiking in the mountains", now.Add(-time.Minute))
	insertRecord(t, store, 2, "alice", "The ocean is beautiful at sunset", now)

	hits, err := store.KeywordSearch(ctx, "alice", []string{"hiking", "mountains"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].ID)

	hits, err = store.KeywordSearch(ctx, "alice", []string{"ocean"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(2), hits[0].ID)
}

func TestSQLiteClient_KeywordSearchRanking(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	now := time.Now().UTC()
	insertRecord(t, store, 1, "alice", "coffee", now.Add(-time.Minute))
	insertRecord(t, store, 2, "alice", "tea and biscuits and cake and more tea", now)

	hits, err := store.KeywordSearch(ctx, "alice", []string{"coffee", "tea"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// Hits come back best first; ranks do not decrease down the list.
	assert.LessOrEqual(t, hits[0].Rank, hits[1].Rank)
}

func TestSQLiteClient_KeywordSearchStemming(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	insertRecord(t, store, 1, "alice", "I went hiking last weekend", time.Now().UTC())

	// The porter tokenizer stems "hike" and "hiking" to the same root.
	hits, err := store.KeywordSearch(ctx, "alice", []string{"hike"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestSQLiteClient_KeywordSearchHostileTokens(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	insertRecord(t, store, 1, "alice", "plain content", time.Now().UTC())

	// FTS5 operator characters in tokens must not produce a syntax error.
	hits, err := store.KeywordSearch(ctx, "alice", []string{`content"`, "(AND)", "NEAR:"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// Tokens reduced to nothing by sanitization yield no query at all.
	hits, err = store.KeywordSearch(ctx, "alice", []string{`"()"`, "*^"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSQLiteClient_RecordImmutability(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	err := store.Insert(ctx, &storage.Record{
		ID:        42,
		UserID:    "alice",
		Content:   "exact content survives the round trip",
		Embedding: []float32{0.25, -0.5, 1},
		CreatedAt: created,
	})
	require.NoError(t, err)

	records, err := store.ScanRecent(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, int64(42), records[0].ID)
	assert.Equal(t, "exact content survives the round trip", records[0].Content)
	assert.Equal(t, []float32{0.25, -0.5, 1}, records[0].Embedding)
	assert.True(t, created.Equal(records[0].CreatedAt))
}

func TestSQLiteClient_DuplicateIDRejected(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	insertRecord(t, store, 7, "alice", "original", time.Now().UTC())

	err := store.Insert(ctx, &storage.Record{
		ID:        7,
		UserID:    "alice",
		Content:   "conflicting",
		Embedding: []float32{0},
		CreatedAt: time.Now().UTC(),
	})
	assert.Error(t, err)
}
