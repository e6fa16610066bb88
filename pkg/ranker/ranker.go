// Package ranker fuses vector similarity with keyword relevance to score
// candidate memories against a query.
//
// Vector similarity captures meaning (a query about "the sea" matches a
// memory about "the ocean"); keyword relevance captures exact terms that
// embeddings blur (names, product codes, rare words). The weighted blend of
// both beats either signal alone on short conversational queries.
package ranker

import (
	"math"
	"sort"
	"strings"

	"github.com/voxhive/voicemem-go/pkg/storage"
)

// DefaultVectorWeight and DefaultKeywordWeight control the score blend.
// They sum to 1 so final scores stay in [0, 1].
const (
	DefaultVectorWeight  = 0.7
	DefaultKeywordWeight = 0.3
)

// maxQueryTerms caps how many tokens feed the keyword search. Spoken queries
// run long; terms past the first handful add latency without adding signal.
const maxQueryTerms = 8

// minTermLength drops tokens too short to be meaningful ("a", "is", "to").
const minTermLength = 3

// Scored pairs a candidate record with its fused relevance score.
type Scored struct {
	Record *storage.Record
	Score  float64
}

// Ranker scores and orders candidate records for a query.
type Ranker struct {
	vectorWeight  float64
	keywordWeight float64
}

// New creates a Ranker with the given blend weights. Weights must be
// non-negative and sum to at most 1; callers validate at config load.
func New(vectorWeight, keywordWeight float64) *Ranker {
	return &Ranker{
		vectorWeight:  vectorWeight,
		keywordWeight: keywordWeight,
	}
}

// Rank scores candidates against the query embedding and keyword hits, and
// returns the top limit results ordered by descending score. Ties break
// toward the more recent record.
//
// A record appearing in only one signal gets zero for the other: keyword
// hits from outside the candidate window are still ranked, with no vector
// component. Hits must be ordered best-first, as storage backends return
// them.
func (r *Ranker) Rank(queryEmbedding []float32, candidates []*storage.Record, hits []*storage.KeywordHit, limit int) []Scored {
	if len(candidates) == 0 && len(hits) == 0 || limit <= 0 {
		return nil
	}

	// Keyword score decays with position in the hit list: 1 for the best
	// hit, 1/2 for the next, and so on. Position is used instead of the raw
	// backend rank so scores stay comparable across storage backends.
	keywordScores := make(map[int64]float64, len(hits))
	for i, hit := range hits {
		keywordScores[hit.ID] = 1 / float64(1+i)
	}

	seen := make(map[int64]bool, len(candidates))
	scored := make([]Scored, 0, len(candidates)+len(hits))
	for _, record := range candidates {
		seen[record.ID] = true
		vec := CosineSimilarity(queryEmbedding, record.Embedding)
		if vec < 0 {
			vec = 0
		}
		score := r.vectorWeight*vec + r.keywordWeight*keywordScores[record.ID]
		scored = append(scored, Scored{Record: record, Score: score})
	}

	// Keyword hits older than the candidate window carry no stored
	// embedding here, so they score on the keyword signal alone.
	for i, hit := range hits {
		if seen[hit.ID] {
			continue
		}
		scored = append(scored, Scored{
			Record: &storage.Record{
				ID:        hit.ID,
				Content:   hit.Content,
				CreatedAt: hit.CreatedAt,
			},
			Score: r.keywordWeight / float64(1+i),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Record.CreatedAt.After(scored[j].Record.CreatedAt)
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 when the vectors differ in length or either has near-zero
// magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	const epsilon = 1e-9
	if normA < epsilon || normB < epsilon {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Tokenize extracts keyword search terms from a query: lowercased words with
// surrounding punctuation trimmed, short tokens dropped, capped at
// maxQueryTerms. Returns nil when no usable terms remain.
func Tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))

	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		term := strings.TrimFunc(field, func(r rune) bool {
			return !isWordRune(r)
		})
		if len([]rune(term)) < minTermLength {
			continue
		}
		terms = append(terms, term)
		if len(terms) == maxQueryTerms {
			break
		}
	}

	if len(terms) == 0 {
		return nil
	}
	return terms
}

func isWordRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127
}
