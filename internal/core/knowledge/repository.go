package knowledge

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// StoredChunk は GetFirstChunk が返す保存済みチャンク
type StoredChunk struct {
	Text      string
	Embedding []float32
}

// VectorStore は Embedding の永続化と近傍検索を提供する
type VectorStore interface {
	// Insert は1チャンク分のレコードを追加し、IDを返す
	Insert(ctx context.Context, text string, embedding []float32, metadata DocumentMetadata) (uuid.UUID, error)

	// DeleteWhere は (kind, sourceID) に一致する全レコードを削除する
	DeleteWhere(ctx context.Context, kind Kind, sourceID int64) (int64, error)

	// DeleteAll は全レコードを削除する（ReindexAll 専用）
	DeleteAll(ctx context.Context) (int64, error)

	// NearestNeighbors は類似度が threshold 以上のレコードを類似度降順で返す
	NearestNeighbors(ctx context.Context, embedding []float32, threshold float64, limit int, filter MetadataFilter) ([]SemanticSearchResult, error)

	// GetFirstChunk は chunkIndex=0 のレコードを返す
	GetFirstChunk(ctx context.Context, kind Kind, sourceID int64) (mo.Option[StoredChunk], error)
}

// LexicalSearcher は部分一致検索を提供する
type LexicalSearcher interface {
	SubstringMatch(ctx context.Context, query string, limit int, filter MetadataFilter) ([]SemanticSearchResult, error)
}

// EntitySource は種別ごとの業務エンティティを列挙する（ReindexAll 専用）
type EntitySource interface {
	Kind() Kind
	ListAll(ctx context.Context) ([]Document, error)
}
