package container

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/legal-rag/internal/core/knowledge"
	"github.com/jinford/legal-rag/internal/infra/openai"
	"github.com/jinford/legal-rag/internal/infra/voyage"
	"github.com/jinford/legal-rag/internal/platform/config"
)

func testConfig(provider string) *config.Config {
	return &config.Config{
		Embedding: config.EmbeddingConfig{
			Provider:   provider,
			Timeout:    5 * time.Second,
			MaxRetries: 1,
		},
		OpenAI: config.OpenAIConfig{
			EmbeddingModel:     "text-embedding-3-small",
			EmbeddingDimension: 1536,
		},
		Voyage: config.VoyageConfig{
			EmbeddingModel:     "voyage-law-2",
			EmbeddingDimension: 1024,
			BaseURL:            "http://127.0.0.1:1",
		},
	}
}

func TestNewEmbeddingProvider(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		wantName  string
		wantModel string
		wantDim   int
	}{
		{name: "openai", provider: config.ProviderOpenAI, wantName: openai.ProviderName, wantModel: "text-embedding-3-small", wantDim: 1536},
		{name: "voyage", provider: config.ProviderVoyage, wantName: voyage.ProviderName, wantModel: "voyage-law-2", wantDim: 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewEmbeddingProvider(testConfig(tt.provider))
			assert.Equal(t, tt.wantName, p.Name())
			assert.Equal(t, tt.wantModel, p.Model())
			assert.Equal(t, tt.wantDim, p.Dimension())
		})
	}
}

func TestNewEmbeddingProvider_MissingKeyFailsOnFirstUse(t *testing.T) {
	for _, provider := range []string{config.ProviderOpenAI, config.ProviderVoyage} {
		t.Run(provider, func(t *testing.T) {
			p := NewEmbeddingProvider(testConfig(provider))
			require.NotNil(t, p)

			_, err := p.EmbedQuery(context.Background(), "prazo recursal")
			require.Error(t, err)
			assert.ErrorIs(t, err, knowledge.ErrConfiguration)
		})
	}
}
