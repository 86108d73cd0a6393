package embedding

import "context"

// Provider はテキストを固定次元のベクトルに変換する Embedding プロバイダ。
// 文書登録用と検索クエリ用で最適化を変えるプロバイダがあるため2つの呼び出しを持つ
type Provider interface {
	// EmbedDocument はインデックス登録用の Embedding を生成する
	EmbedDocument(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery は検索クエリ用の Embedding を生成する
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Name はプロバイダ名を返す（openai, voyage）
	Name() string

	// Model はモデル名を返す
	Model() string

	// Dimension はベクトルの次元数を返す
	Dimension() int
}
