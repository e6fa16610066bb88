// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface that all embedding implementations must
// satisfy, enabling text-to-vector conversion for similarity search.
package embedder

import "context"

// Provider defines the interface for embedding providers.
//
// All embedding implementations (OpenAI, Qwen, mock) must implement this
// interface. A Provider must be safe for concurrent use: multiple in-flight
// searches may call Embed at the same time.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	//
	// Deterministic for a given model version: embedding the same text twice
	// yields the same vector.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - text: The input text to embed
	//
	// Returns the embedding vector and any error.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple text strings into vector embeddings.
	//
	// This method is more efficient than calling Embed multiple times,
	// as it can batch process requests.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - texts: Slice of input texts to embed
	//
	// Returns a slice of embedding vectors and any error.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimension of embedding vectors produced by this
	// provider.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}

// warmupTexts are throwaway inputs encoded during warm-up. Short and varied
// enough to exercise tokenization and the full encode path.
var warmupTexts = []string{
	"hello",
	"warm up the embedding model",
	"ok",
}

// Warmup issues a few throwaway encodes so the first real query does not pay
// lazy-initialization costs (connection setup, model load). Results are
// discarded. Returns the first error encountered; callers typically log a
// warmup failure rather than treating it as fatal.
func Warmup(ctx context.Context, p Provider) error {
	if _, err := p.EmbedBatch(ctx, warmupTexts); err != nil {
		return err
	}
	return nil
}
