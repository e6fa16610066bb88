package openai

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(&Config{APIKey: "sk-test"})
	require.NoError(t, err)

	assert.Equal(t, openai.SmallEmbedding3, client.model)
	assert.Equal(t, 1536, client.dimensions)
	assert.Equal(t, 1536, client.Dimensions())
}

func TestNewClient_CustomModel(t *testing.T) {
	client, err := NewClient(&Config{
		APIKey:     "sk-test",
		Model:      "text-embedding-3-large",
		Dimensions: 3072,
	})
	require.NoError(t, err)

	assert.Equal(t, openai.EmbeddingModel("text-embedding-3-large"), client.model)
	assert.Equal(t, 3072, client.Dimensions())
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(&Config{})
	assert.Error(t, err)
}
