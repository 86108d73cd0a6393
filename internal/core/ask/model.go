package ask

import (
	"github.com/jinford/legal-rag/internal/core/knowledge"
)

// AskParams は質問応答のパラメータを表す
type AskParams struct {
	Query            string // ユーザーの質問文
	MaxContextTokens int    // コンテキストのトークン予算（デフォルト: 2000）
}

// AskResult は質問応答の結果を表す
type AskResult struct {
	Answer  string            `json:"answer"`
	Sources []SourceReference `json:"sources"`
}

// SourceReference は回答の根拠となったドキュメント
type SourceReference struct {
	Kind       knowledge.Kind `json:"kind"`
	SourceID   int64          `json:"sourceId"`
	ChunkIndex int            `json:"chunkIndex"`
	Similarity float64        `json:"similarity"`
}
