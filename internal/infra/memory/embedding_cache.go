package memory

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/samber/mo"

	"github.com/jinford/legal-rag/internal/core/embedding"
)

const (
	// DefaultSize はプロセス内キャッシュの最大エントリ数
	DefaultSize = 4096
	// DefaultTTL はプロセス内キャッシュの最大保持期間。永続層より短くして古いエントリを早めに捨てる
	DefaultTTL = time.Hour
)

type entry struct {
	vector    []float32
	expiresAt time.Time
}

// EmbeddingCache は Embedding をプロセス内に保持する LRU キャッシュ。
// Put ごとの TTL とキャッシュ全体の TTL の短い方で失効する
type EmbeddingCache struct {
	lru *expirable.LRU[string, entry]
	now func() time.Time
}

// NewEmbeddingCache は EmbeddingCache を作成する
func NewEmbeddingCache(size int, ttl time.Duration) *EmbeddingCache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &EmbeddingCache{
		lru: expirable.NewLRU[string, entry](size, nil, ttl),
		now: time.Now,
	}
}

// Get はキャッシュを参照する。失効済みのエントリは削除して None を返す
func (c *EmbeddingCache) Get(ctx context.Context, key string) (mo.Option[[]float32], error) {
	e, ok := c.lru.Get(key)
	if !ok {
		return mo.None[[]float32](), nil
	}
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		return mo.None[[]float32](), nil
	}
	return mo.Some(slices.Clone(e.vector)), nil
}

// Put はベクトルを保存する
func (c *EmbeddingCache) Put(ctx context.Context, key string, vector []float32, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = embedding.DefaultCacheTTL
	}
	c.lru.Add(key, entry{vector: slices.Clone(vector), expiresAt: c.now().Add(ttl)})
	return nil
}

// Len は保持しているエントリ数を返す
func (c *EmbeddingCache) Len() int {
	return c.lru.Len()
}

// インターフェース実装の確認
var _ embedding.Cache = (*EmbeddingCache)(nil)
