package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/samber/mo"

	"github.com/jinford/legal-rag/internal/core/embedding"
)

// EmbeddingCache は embedding_cache テーブルを使った永続キャッシュ。
// 有効期限は expires_at で判定し、期限切れの行は PurgeExpired で削除する
type EmbeddingCache struct {
	db    DBTX
	model string
}

// NewEmbeddingCache は新しい EmbeddingCache を作成する。model は監査用に行へ記録する
func NewEmbeddingCache(db DBTX, model string) *EmbeddingCache {
	return &EmbeddingCache{db: db, model: model}
}

var _ embedding.Cache = (*EmbeddingCache)(nil)

func (c *EmbeddingCache) Get(ctx context.Context, key string) (mo.Option[[]float32], error) {
	var vector pgvector.Vector
	err := c.db.QueryRow(ctx,
		`SELECT embedding FROM embedding_cache WHERE cache_key = $1 AND expires_at > now()`,
		key,
	).Scan(&vector)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[[]float32](), nil
		}
		return mo.None[[]float32](), fmt.Errorf("failed to read embedding cache: %w", err)
	}
	return mo.Some(vector.Slice()), nil
}

func (c *EmbeddingCache) Put(ctx context.Context, key string, vector []float32, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = embedding.DefaultCacheTTL
	}
	_, err := c.db.Exec(ctx, `
INSERT INTO embedding_cache (cache_key, model, embedding, expires_at)
VALUES ($1, $2, $3, now() + make_interval(secs => $4))
ON CONFLICT (cache_key) DO UPDATE SET
  embedding = EXCLUDED.embedding,
  model = EXCLUDED.model,
  expires_at = EXCLUDED.expires_at`,
		key, c.model, pgvector.NewVector(vector), ttl.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to write embedding cache: %w", err)
	}
	return nil
}

// PurgeExpired は期限切れのエントリを削除し、削除件数を返す
func (c *EmbeddingCache) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := c.db.Exec(ctx, `DELETE FROM embedding_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge embedding cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
