package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.Embedding.Provider)
	assert.Equal(t, 30*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, 7*24*time.Hour, cfg.Embedding.CacheTTL)
	assert.Equal(t, 2000, cfg.Indexing.ChunkMaxSize)
	assert.Equal(t, 200, cfg.Indexing.ChunkOverlap)
	assert.Equal(t, 1536, cfg.EmbeddingDimension())
	// APIキーが無くても起動時はエラーにしない
	assert.Empty(t, cfg.OpenAI.APIKey)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"EMBEDDING_PROVIDER=Voyage\nVOYAGE_API_KEY=vk\nEMBEDDING_TIMEOUT=5s\nCHUNK_MAX_SIZE=800\n",
	), 0o600))

	// godotenv は既存の環境変数を上書きしないので事前に空にしておく
	for _, key := range []string{"EMBEDDING_PROVIDER", "VOYAGE_API_KEY", "EMBEDDING_TIMEOUT", "CHUNK_MAX_SIZE"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, ProviderVoyage, cfg.Embedding.Provider)
	assert.Equal(t, "vk", cfg.Voyage.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, 800, cfg.Indexing.ChunkMaxSize)
	assert.Equal(t, 1024, cfg.EmbeddingDimension())
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "cohere")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cohere")
}

func TestGetEnvAsDuration_InvalidFallsBack(t *testing.T) {
	t.Setenv("EMBEDDING_TIMEOUT", "soon")
	assert.Equal(t, time.Minute, getEnvAsDuration("EMBEDDING_TIMEOUT", time.Minute))
}
