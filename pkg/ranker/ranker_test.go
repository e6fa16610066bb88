package ranker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxhive/voicemem-go/pkg/ranker"
	"github.com/voxhive/voicemem-go/pkg/storage"
)

func record(id int64, content string, embedding []float32, createdAt time.Time) *storage.Record {
	return &storage.Record{
		ID:        id,
		UserID:    "test_user",
		Content:   content,
		Embedding: embedding,
		CreatedAt: createdAt,
	}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, ranker.CosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, ranker.CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, ranker.CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// Magnitude does not matter.
	assert.InDelta(t, 1.0, ranker.CosineSimilarity([]float32{2, 0}, []float32{7, 0}), 1e-9)
}

func TestCosineSimilarity_DegenerateInputs(t *testing.T) {
	assert.Zero(t, ranker.CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Zero(t, ranker.CosineSimilarity(nil, nil))
	assert.Zero(t, ranker.CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func TestRanker_OrdersByFusedScore(t *testing.T) {
	r := ranker.New(0.7, 0.3)
	now := time.Now()

	query := []float32{1, 0}
	candidates := []*storage.Record{
		record(1, "orthogonal", []float32{0, 1}, now.Add(-2*time.Hour)),
		record(2, "aligned", []float32{1, 0}, now.Add(-1*time.Hour)),
		record(3, "diagonal", []float32{1, 1}, now),
	}

	scored := r.Rank(query, candidates, nil, 10)
	assert.Len(t, scored, 3)
	assert.Equal(t, int64(2), scored[0].Record.ID)
	assert.Equal(t, int64(3), scored[1].Record.ID)
	assert.Equal(t, int64(1), scored[2].Record.ID)
	assert.InDelta(t, 0.7, scored[0].Score, 1e-9)
}

func TestRanker_KeywordBoost(t *testing.T) {
	r := ranker.New(0.7, 0.3)
	now := time.Now()

	// Both candidates are equally similar to the query vector; the keyword
	// hit decides the order.
	query := []float32{1, 0}
	candidates := []*storage.Record{
		record(1, "no keyword overlap", []float32{1, 1}, now),
		record(2, "matches the keywords", []float32{1, 1}, now),
	}
	hits := []*storage.KeywordHit{
		{ID: 2, Content: "matches the keywords", CreatedAt: now, Rank: -1.5},
	}

	scored := r.Rank(query, candidates, hits, 10)
	assert.Equal(t, int64(2), scored[0].Record.ID)
	assert.Greater(t, scored[0].Score, scored[1].Score)
}

func TestRanker_NegativeSimilarityClamped(t *testing.T) {
	r := ranker.New(0.7, 0.3)

	query := []float32{1, 0}
	candidates := []*storage.Record{
		record(1, "opposite", []float32{-1, 0}, time.Now()),
	}

	scored := r.Rank(query, candidates, nil, 10)
	assert.Zero(t, scored[0].Score)
}

func TestRanker_ScoreBounds(t *testing.T) {
	r := ranker.New(0.7, 0.3)
	now := time.Now()

	query := []float32{1, 0}
	candidates := []*storage.Record{
		record(1, "best possible", []float32{1, 0}, now),
	}
	hits := []*storage.KeywordHit{
		{ID: 1, Content: "best possible", CreatedAt: now, Rank: -5},
	}

	scored := r.Rank(query, candidates, hits, 10)
	assert.InDelta(t, 1.0, scored[0].Score, 1e-9)
	assert.LessOrEqual(t, scored[0].Score, 1.0)
}

func TestRanker_KeywordOnlyHitsIncluded(t *testing.T) {
	r := ranker.New(0.7, 0.3)
	now := time.Now()

	// Hit 99 fell outside the recent-candidate window; it still appears in
	// the ranking on the keyword signal alone.
	query := []float32{1, 0}
	candidates := []*storage.Record{
		record(1, "recent but orthogonal", []float32{0, 1}, now),
	}
	hits := []*storage.KeywordHit{
		{ID: 99, Content: "old but keyword relevant", CreatedAt: now.Add(-24 * time.Hour), Rank: -2},
	}

	scored := r.Rank(query, candidates, hits, 10)
	require.Len(t, scored, 2)
	assert.Equal(t, int64(99), scored[0].Record.ID)
	assert.InDelta(t, 0.3, scored[0].Score, 1e-9)
}

func TestRanker_TieBreaksTowardRecent(t *testing.T) {
	r := ranker.New(0.7, 0.3)
	now := time.Now()

	query := []float32{1, 0}
	candidates := []*storage.Record{
		record(1, "older", []float32{1, 0}, now.Add(-time.Hour)),
		record(2, "newer", []float32{1, 0}, now),
	}

	scored := r.Rank(query, candidates, nil, 10)
	assert.Equal(t, int64(2), scored[0].Record.ID)
	assert.Equal(t, int64(1), scored[1].Record.ID)
}

func TestRanker_LimitAndEmpty(t *testing.T) {
	r := ranker.New(0.7, 0.3)
	now := time.Now()

	query := []float32{1, 0}
	candidates := []*storage.Record{
		record(1, "a", []float32{1, 0}, now),
		record(2, "b", []float32{1, 0.1}, now),
		record(3, "c", []float32{1, 0.2}, now),
	}

	assert.Len(t, r.Rank(query, candidates, nil, 2), 2)
	assert.Nil(t, r.Rank(query, nil, nil, 2))
	assert.Nil(t, r.Rank(query, candidates, nil, 0))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"what's", "favorite", "color"}, ranker.Tokenize("What's my favorite color?"))
	assert.Equal(t, []string{"hiking", "mountains"}, ranker.Tokenize("hiking... MOUNTAINS!"))

	// Short tokens are dropped entirely.
	assert.Nil(t, ranker.Tokenize("is it a no"))
	assert.Nil(t, ranker.Tokenize(""))
	assert.Nil(t, ranker.Tokenize("   "))
}

func TestTokenize_CapsTermCount(t *testing.T) {
	terms := ranker.Tokenize("alpha bravo charlie delta echo foxtrot golf hotel india juliet")
	assert.Len(t, terms, 8)
	assert.Equal(t, "alpha", terms[0])
	assert.Equal(t, "hotel", terms[7])
}
