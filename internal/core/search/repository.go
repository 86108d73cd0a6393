package search

import (
	"context"
)

// QueryEmbedder は検索クエリの Embedding を生成する
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// TokenCounter はテキストのトークン数を数える
type TokenCounter interface {
	CountTokens(text string) int
}
