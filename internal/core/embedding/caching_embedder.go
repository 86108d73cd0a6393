package embedding

import (
	"context"
	"log/slog"
	"time"
)

// CachingEmbedder は文書用 Embedding をキャッシュ経由で生成する。
// クエリ用 Embedding はキャッシュを通さない
type CachingEmbedder struct {
	provider Provider
	cache    Cache
	ttl      time.Duration
	logger   *slog.Logger
}

type cachingOptions struct {
	ttl    time.Duration
	logger *slog.Logger
}

// CachingOption は CachingEmbedder のオプション設定
type CachingOption func(*cachingOptions)

// WithCacheTTL はキャッシュの有効期間を上書きする
func WithCacheTTL(ttl time.Duration) CachingOption {
	return func(o *cachingOptions) {
		o.ttl = ttl
	}
}

// WithCacheLogger はロガーを設定する
func WithCacheLogger(logger *slog.Logger) CachingOption {
	return func(o *cachingOptions) {
		o.logger = logger
	}
}

// NewCachingEmbedder は CachingEmbedder を作成する。cache が nil の場合は常にプロバイダを呼ぶ
func NewCachingEmbedder(provider Provider, cache Cache, opts ...CachingOption) *CachingEmbedder {
	options := cachingOptions{
		ttl:    DefaultCacheTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.ttl <= 0 {
		options.ttl = DefaultCacheTTL
	}

	return &CachingEmbedder{
		provider: provider,
		cache:    cache,
		ttl:      options.ttl,
		logger:   options.logger,
	}
}

// EmbedDocument はキャッシュを参照し、ミス時のみプロバイダを呼んで結果を保存する
func (e *CachingEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	normalized, err := NormalizeInput(text)
	if err != nil {
		return nil, err
	}

	key := CacheKey(e.provider.Model(), normalized)
	if vector, ok := e.lookup(ctx, key); ok {
		return vector, nil
	}

	vector, err := e.provider.EmbedDocument(ctx, normalized)
	if err != nil {
		return nil, err
	}

	e.store(ctx, key, vector)
	return vector, nil
}

// EmbedQuery はキャッシュを使わずにプロバイダを呼ぶ
func (e *CachingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	normalized, err := NormalizeInput(text)
	if err != nil {
		return nil, err
	}
	return e.provider.EmbedQuery(ctx, normalized)
}

func (e *CachingEmbedder) Name() string   { return e.provider.Name() }
func (e *CachingEmbedder) Model() string  { return e.provider.Model() }
func (e *CachingEmbedder) Dimension() int { return e.provider.Dimension() }

// lookup はキャッシュ障害をログに残して握りつぶす
func (e *CachingEmbedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	if e.cache == nil {
		return nil, false
	}
	hit, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("embedding cache get failed", "key", key, "error", err)
		return nil, false
	}
	return hit.Get()
}

func (e *CachingEmbedder) store(ctx context.Context, key string, vector []float32) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Put(ctx, key, vector, e.ttl); err != nil {
		e.logger.Warn("embedding cache put failed", "key", key, "error", err)
	}
}

var _ Provider = (*CachingEmbedder)(nil)
