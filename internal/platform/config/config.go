package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// ProviderOpenAI は OpenAI の Embedding を使う
	ProviderOpenAI = "openai"
	// ProviderVoyage は Voyage AI の Embedding を使う
	ProviderVoyage = "voyage"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// Embedding設定（プロバイダ選択、キャッシュ、タイムアウト）
	Embedding EmbeddingConfig

	// OpenAI設定（Embeddings + LLM）
	OpenAI OpenAIConfig

	// Voyage AI設定
	Voyage VoyageConfig

	// チャンク分割とインデックス処理の設定
	Indexing IndexingConfig

	// ログ設定
	Log LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// EmbeddingConfig はプロバイダ共通の Embedding 設定
type EmbeddingConfig struct {
	Provider        string // "openai" or "voyage"
	Timeout         time.Duration
	MaxRetries      int
	CacheTTL        time.Duration
	CacheMemorySize int // 0 でプロセス内キャッシュを無効化
}

// OpenAIConfig はOpenAI API設定（Embeddings + LLM）
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	LLMModel           string // 質問応答に使うLLMモデル名
}

// VoyageConfig は Voyage AI API 設定
type VoyageConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	BaseURL            string
}

// IndexingConfig はチャンク分割と並行数の設定
type IndexingConfig struct {
	ChunkMaxSize       int
	ChunkOverlap       int
	Concurrency        int
	ReindexConcurrency int
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "legalrag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "legalrag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
		},
		Embedding: EmbeddingConfig{
			Provider:        strings.ToLower(getEnv("EMBEDDING_PROVIDER", ProviderOpenAI)),
			Timeout:         getEnvAsDuration("EMBEDDING_TIMEOUT", 30*time.Second),
			MaxRetries:      getEnvAsInt("EMBEDDING_MAX_RETRIES", 1),
			CacheTTL:        getEnvAsDuration("EMBEDDING_CACHE_TTL", 7*24*time.Hour),
			CacheMemorySize: getEnvAsInt("EMBEDDING_CACHE_MEMORY_SIZE", 4096),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			LLMModel:           getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
		},
		Voyage: VoyageConfig{
			APIKey:             getEnv("VOYAGE_API_KEY", ""),
			EmbeddingModel:     getEnv("VOYAGE_EMBEDDING_MODEL", "voyage-3"),
			EmbeddingDimension: getEnvAsInt("VOYAGE_EMBEDDING_DIMENSION", 1024),
			BaseURL:            getEnv("VOYAGE_BASE_URL", "https://api.voyageai.com/v1"),
		},
		Indexing: IndexingConfig{
			ChunkMaxSize:       getEnvAsInt("CHUNK_MAX_SIZE", 2000),
			ChunkOverlap:       getEnvAsInt("CHUNK_OVERLAP", 200),
			Concurrency:        getEnvAsInt("INDEX_CONCURRENCY", 4),
			ReindexConcurrency: getEnvAsInt("REINDEX_CONCURRENCY", 2),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は起動時に判定できる設定ミスを検出します。
// APIキーの欠落はここでは扱わず、プロバイダの初回呼び出しで ErrConfiguration になります
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case ProviderOpenAI, ProviderVoyage:
	default:
		return fmt.Errorf("unsupported EMBEDDING_PROVIDER %q (want %q or %q)", c.Embedding.Provider, ProviderOpenAI, ProviderVoyage)
	}
	if c.EmbeddingDimension() <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	return nil
}

// EmbeddingDimension は選択中のプロバイダのベクトル次元を返します
func (c *Config) EmbeddingDimension() int {
	if c.Embedding.Provider == ProviderVoyage {
		return c.Voyage.EmbeddingDimension
	}
	return c.OpenAI.EmbeddingDimension
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します（例: 30s, 168h）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
