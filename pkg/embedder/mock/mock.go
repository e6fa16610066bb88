// Package mock provides a deterministic in-process embedder for tests and
// local development, with no network dependency.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
	"time"
)

// Embedder generates deterministic embeddings from text. Each word maps to a
// pseudo-random unit direction derived from its hash; a text's embedding is
// the normalized sum of its word directions, so texts sharing words have
// positive cosine similarity. Deterministic across processes.
type Embedder struct {
	dimensions int
	delay      time.Duration
	err        error
	calls      atomic.Int64
}

// Option configures a mock Embedder.
type Option func(*Embedder)

// WithDimensions sets the embedding dimension (default 384).
func WithDimensions(d int) Option {
	return func(e *Embedder) { e.dimensions = d }
}

// WithDelay makes every encode sleep for d before returning, for exercising
// timeout paths.
func WithDelay(d time.Duration) Option {
	return func(e *Embedder) { e.delay = d }
}

// WithError makes every encode fail with err.
func WithError(err error) Option {
	return func(e *Embedder) { e.err = err }
}

// New creates a new mock embedder.
func New(opts ...Option) *Embedder {
	e := &Embedder{dimensions: 384}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed creates a deterministic embedding from text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}

	return e.encode(text), nil
}

// EmbedBatch creates deterministic embeddings for each text. Counts as a
// single call.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = e.encode(text)
	}
	return embeddings, nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases no resources; retained for interface compatibility.
func (e *Embedder) Close() error {
	return nil
}

// Calls returns how many encode requests (Embed or EmbedBatch) were made.
// Used by tests to verify query-cache behavior.
func (e *Embedder) Calls() int64 {
	return e.calls.Load()
}

// encode sums per-word pseudo-random directions and normalizes.
func (e *Embedder) encode(text string) []float32 {
	embedding := make([]float32, e.dimensions)

	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		words = []string{text}
	}

	for _, word := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		seed := h.Sum64()

		for i := 0; i < e.dimensions; i++ {
			// Simple LCG keyed by the word hash.
			seed = seed*6364136223846793005 + 1442695040888963407
			embedding[i] += float32(int64(seed)) / float32(math.MaxInt64)
		}
	}

	return normalize(embedding)
}

// normalize converts an embedding to a unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	scale := 1 / float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
