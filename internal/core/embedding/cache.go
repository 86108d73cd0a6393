package embedding

import (
	"context"
	"time"

	"github.com/samber/mo"
)

// DefaultCacheTTL はキャッシュエントリの既定の有効期間
const DefaultCacheTTL = 7 * 24 * time.Hour

// Cache はコンテンツハッシュをキーにベクトルを保持するキャッシュ。
// 有効期限の判定はバックエンド側で行う
type Cache interface {
	Get(ctx context.Context, key string) (mo.Option[[]float32], error)
	Put(ctx context.Context, key string, vector []float32, ttl time.Duration) error
}

// TieredCache はプロセス内キャッシュを前段に置き、バックエンドのヒットを前段へ昇格させる
type TieredCache struct {
	front Cache
	back  Cache
}

// NewTieredCache は TieredCache を作成する
func NewTieredCache(front, back Cache) *TieredCache {
	return &TieredCache{front: front, back: back}
}

// Get は前段、後段の順に参照する。前段のエラーは後段へのフォールバックで吸収する
func (c *TieredCache) Get(ctx context.Context, key string) (mo.Option[[]float32], error) {
	if hit, err := c.front.Get(ctx, key); err == nil && hit.IsPresent() {
		return hit, nil
	}

	hit, err := c.back.Get(ctx, key)
	if err != nil {
		return mo.None[[]float32](), err
	}
	if vector, ok := hit.Get(); ok {
		// 昇格の失敗は後段に値があるので無視してよい
		_ = c.front.Put(ctx, key, vector, DefaultCacheTTL)
	}
	return hit, nil
}

// Put は両方の層に書き込む
func (c *TieredCache) Put(ctx context.Context, key string, vector []float32, ttl time.Duration) error {
	frontErr := c.front.Put(ctx, key, vector, ttl)
	if err := c.back.Put(ctx, key, vector, ttl); err != nil {
		return err
	}
	return frontErr
}

var _ Cache = (*TieredCache)(nil)
