package postgres

import (
	"context"
	"fmt"
)

// EnsureSchema は document_embeddings と embedding_cache を作成する。
// 次元数はテーブル作成時に固定されるため、プロバイダやモデルを変えた場合は再作成が必要
func EnsureSchema(ctx context.Context, db DBTX, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid embedding dimension: %d", dimension)
	}

	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS document_embeddings (
  id              uuid PRIMARY KEY,
  kind            text NOT NULL,
  source_id       bigint NOT NULL,
  chunk_index     integer NOT NULL,
  chunk_offset    integer NOT NULL,
  total_chunks    integer NOT NULL,
  related_case_id bigint,
  content         text NOT NULL,
  metadata        jsonb NOT NULL,
  embedding       vector(%d) NOT NULL,
  created_at      timestamptz NOT NULL DEFAULT now(),
  UNIQUE (kind, source_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS document_embeddings_related_case_idx ON document_embeddings (related_case_id);
CREATE INDEX IF NOT EXISTS document_embeddings_meta_idx ON document_embeddings USING gin (metadata);
CREATE INDEX IF NOT EXISTS document_embeddings_content_trgm_idx ON document_embeddings USING gin (content gin_trgm_ops);
CREATE INDEX IF NOT EXISTS document_embeddings_embedding_idx ON document_embeddings USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS embedding_cache (
  cache_key  text PRIMARY KEY,
  model      text NOT NULL,
  embedding  vector NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  expires_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS embedding_cache_expires_idx ON embedding_cache (expires_at);
`, dimension)

	if _, err := db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
