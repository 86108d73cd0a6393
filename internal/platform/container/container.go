package container

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	coreask "github.com/jinford/legal-rag/internal/core/ask"
	"github.com/jinford/legal-rag/internal/core/embedding"
	coreingestion "github.com/jinford/legal-rag/internal/core/ingestion"
	"github.com/jinford/legal-rag/internal/core/knowledge/chunk"
	coresearch "github.com/jinford/legal-rag/internal/core/search"
	"github.com/jinford/legal-rag/internal/infra/memory"
	"github.com/jinford/legal-rag/internal/infra/openai"
	"github.com/jinford/legal-rag/internal/infra/postgres"
	"github.com/jinford/legal-rag/internal/infra/voyage"
	"github.com/jinford/legal-rag/internal/platform/config"
)

// ServiceContainer はアプリケーションの依存関係を保持する。
// AskService は LLM の API キーが必要なため、初回利用時に構築する
type ServiceContainer struct {
	Indexer     *coreingestion.Indexer
	Retriever   *coresearch.Retriever
	VectorStore *postgres.VectorStore
	Cache       *postgres.EmbeddingCache
	Provider    embedding.Provider

	askService func() (*coreask.AskService, error)
	logger     *slog.Logger
	database   *postgres.DB
}

type containerOptions struct {
	logger    *slog.Logger
	provider  embedding.Provider
	llmClient coreask.LLMClient
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerProvider は Embedding プロバイダを差し替える。
// 差し替えた場合もキャッシュは前段に挟まる
func WithContainerProvider(provider embedding.Provider) ContainerOption {
	return func(opts *containerOptions) {
		opts.provider = provider
	}
}

// WithContainerLLMClient は LLM クライアントを差し替える
func WithContainerLLMClient(client coreask.LLMClient) ContainerOption {
	return func(opts *containerOptions) {
		opts.llmClient = client
	}
}

// NewContainer は設定からコンテナを生成する。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	db, err := postgres.New(ctx, postgres.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}

	if err := postgres.EnsureSchema(ctx, db.Pool, cfg.EmbeddingDimension()); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗しました: %w", err)
	}

	c, err := NewContainerWithDB(cfg, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewContainerWithDB は既存の DB を受け取りコンテナを生成する。
// スキーマは作成済みであることを前提とする
func NewContainerWithDB(cfg *config.Config, db *postgres.DB, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	provider := options.provider
	if provider == nil {
		provider = NewEmbeddingProvider(cfg)
	}

	// Embedding キャッシュ (プロセス内 LRU → PostgreSQL)
	dbCache := postgres.NewEmbeddingCache(db.Pool, provider.Model())
	var cache embedding.Cache = dbCache
	if cfg.Embedding.CacheMemorySize > 0 {
		memCache := memory.NewEmbeddingCache(cfg.Embedding.CacheMemorySize, memory.DefaultTTL)
		cache = embedding.NewTieredCache(memCache, dbCache)
	}

	embedder := embedding.NewCachingEmbedder(
		provider,
		cache,
		embedding.WithCacheTTL(cfg.Embedding.CacheTTL),
		embedding.WithCacheLogger(options.logger),
	)

	chunker := chunk.New(chunk.Config{
		MaxChunkSize: cfg.Indexing.ChunkMaxSize,
		OverlapSize:  cfg.Indexing.ChunkOverlap,
	})

	store := postgres.NewVectorStore(db.Pool)

	indexer := coreingestion.NewIndexer(
		chunker,
		embedder,
		store,
		coreingestion.WithIndexerLogger(options.logger),
		coreingestion.WithEntitySources(postgres.EntitySources(db.Pool)...),
		coreingestion.WithConcurrency(cfg.Indexing.Concurrency),
		coreingestion.WithReindexConcurrency(cfg.Indexing.ReindexConcurrency),
	)

	tokenCounter, err := openai.NewTokenCounter()
	if err != nil {
		return nil, fmt.Errorf("TokenCounter 初期化に失敗しました: %w", err)
	}

	retriever := coresearch.NewRetriever(
		store,
		embedder,
		coresearch.WithRetrieverLogger(options.logger),
		coresearch.WithLexicalSearcher(postgres.NewLexicalSearcher(db.Pool)),
		coresearch.WithTokenCounter(tokenCounter),
	)

	logger := options.logger
	llmClient := options.llmClient
	askService := sync.OnceValues(func() (*coreask.AskService, error) {
		client := llmClient
		if client == nil {
			openaiClient, err := openai.NewClientWithAPIKey(cfg.OpenAI.APIKey, cfg.OpenAI.LLMModel)
			if err != nil {
				return nil, fmt.Errorf("OpenAI LLMクライアント初期化に失敗しました: %w", err)
			}
			client = openaiClient
		}
		return coreask.NewAskService(retriever, client, coreask.WithAskLogger(logger)), nil
	})

	return &ServiceContainer{
		Indexer:     indexer,
		Retriever:   retriever,
		VectorStore: store,
		Cache:       dbCache,
		Provider:    provider,
		askService:  askService,
		logger:      options.logger,
		database:    db,
	}, nil
}

// NewEmbeddingProvider は設定で選択された Embedding プロバイダを生成する。
// API キーが空でも生成には成功し、最初の呼び出しで ErrConfiguration を返す
func NewEmbeddingProvider(cfg *config.Config) embedding.Provider {
	switch cfg.Embedding.Provider {
	case config.ProviderVoyage:
		opts := []voyage.EmbedderOption{
			voyage.WithEmbeddingModel(cfg.Voyage.EmbeddingModel),
			voyage.WithEmbeddingDimension(cfg.Voyage.EmbeddingDimension),
			voyage.WithTimeout(cfg.Embedding.Timeout),
			voyage.WithMaxRetries(cfg.Embedding.MaxRetries),
		}
		if cfg.Voyage.BaseURL != "" {
			opts = append(opts, voyage.WithBaseURL(cfg.Voyage.BaseURL))
		}
		return voyage.NewEmbedder(cfg.Voyage.APIKey, opts...)
	default:
		return openai.NewEmbedder(
			cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
			openai.WithEmbeddingTimeout(cfg.Embedding.Timeout),
			openai.WithMaxRetries(cfg.Embedding.MaxRetries),
		)
	}
}

// AskService は質問応答サービスを返す。LLM クライアントの構築に失敗した場合はエラー
func (c *ServiceContainer) AskService() (*coreask.AskService, error) {
	return c.askService()
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c != nil && c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Database はデータベースを返す。
func (c *ServiceContainer) Database() *postgres.DB {
	if c == nil {
		return nil
	}
	return c.database
}
