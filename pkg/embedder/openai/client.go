package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Client is an OpenAI embedding client.
// It implements the embedder.Provider interface on top of the OpenAI
// Embeddings API.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config is the configuration for the OpenAI embedder.
// APIKey: OpenAI API key (required)
// Model: Model name to use (default: text-embedding-3-small)
// BaseURL: API base URL, defaults to the OpenAI official address
// Dimensions: Vector dimensions, defaults to 1536
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// NewClient creates a new OpenAI embedding client.
//
// Args:
//   - cfg: OpenAI embedder configuration containing APIKey, BaseURL, Dimensions, etc.
//
// Returns:
//   - *Client: OpenAI embedding client instance
//   - error: Returns an error if the configuration is invalid
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	client := openai.NewClientWithConfig(config)

	model := openai.SmallEmbedding3
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	return &Client{
		client:     client,
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text to a vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("embedding generation failed: no data returned from OpenAI API")
	}

	return resp.Data[0].Embedding, nil
}

// EmbedBatch converts multiple texts to vectors in a single request.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding generation failed: unexpected number of results from OpenAI API (got %d, expected %d)", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for i, data := range resp.Data {
		embeddings[i] = data.Embedding
	}

	return embeddings, nil
}

// Dimensions returns the vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close closes the client connection.
// The OpenAI SDK client does not require explicit closing; this method is
// retained for interface compatibility.
func (c *Client) Close() error {
	return nil
}
