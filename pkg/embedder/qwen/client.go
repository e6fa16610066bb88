// Package qwen provides a Qwen embedder backed by the Alibaba Cloud DashScope
// Text Embedding API. It implements the embedder.Provider interface.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client implements embedder.Provider using the DashScope Text Embedding API.
type Client struct {
	// client is the HTTP client for API requests.
	client *http.Client

	// apiKey is the DashScope API key.
	apiKey string

	// model is the Qwen embedding model name to use.
	model string

	// baseURL is the base URL for the DashScope API.
	baseURL string

	// dimensions is the dimension of embedding vectors.
	dimensions int
}

// Config contains configuration for creating a Qwen embedder client.
type Config struct {
	// APIKey is the DashScope API key (required).
	APIKey string

	// Model is the model name to use (default: "text-embedding-v4").
	Model string

	// BaseURL is the API base URL (default: DashScope official address).
	BaseURL string

	// Dimensions is the vector dimension (default: 1536).
	Dimensions int

	// HTTPClient is a custom HTTP client (uses a 30s-timeout default if nil).
	HTTPClient *http.Client
}

// NewClient creates a new Qwen embedder client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://dashscope.aliyuncs.com/api/v1"
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-v4"
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &Client{
		client:     client,
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text string into a vector embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch converts multiple text strings into vector embeddings in a
// single request.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"model": c.model,
		"input": map[string]interface{}{
			"texts": texts,
		},
		"text_type": "document",
	}
	if c.dimensions > 0 {
		reqBody["parameters"] = map[string]interface{}{
			"dimension": c.dimensions,
		}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/services/embeddings/text-embedding/text-embedding", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Output struct {
			Embeddings []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"embeddings"`
		} `json:"output"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(response.Output.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding generation failed: unexpected number of results from Qwen API (got %d, expected %d)", len(response.Output.Embeddings), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for i, emb := range response.Output.Embeddings {
		embeddings[i] = emb.Embedding
	}

	return embeddings, nil
}

// Dimensions returns the dimension of embedding vectors produced by this
// provider.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close closes the client connection.
// HTTP clients do not need explicit closing; retained for interface
// compatibility.
func (c *Client) Close() error {
	return nil
}
