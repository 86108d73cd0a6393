package search

import (
	"github.com/samber/mo"

	"github.com/jinford/legal-rag/internal/core/knowledge"
)

const (
	// DefaultLimit は検索件数の既定値
	DefaultLimit = 10
	// DefaultThreshold は類似度の下限の既定値
	DefaultThreshold = 0.7
	// AbsoluteMaxResults は1回の検索で返す最大件数
	AbsoluteMaxResults = 50
	// DefaultSimilarLimit は FindSimilar の既定件数
	DefaultSimilarLimit = 5

	// LexicalSimilarity は部分一致のみでヒットした結果に付与する類似度。
	// 意味検索の結果より必ず下位になるよう閾値の既定値より低くしている
	LexicalSimilarity = 0.5

	// RAG コンテキスト用の検索は件数を広げ、閾値を下げる
	RagResultLimit = 20
	RagThreshold   = 0.5
	// CharsPerToken はトークン数から文字数への概算係数
	CharsPerToken = 4
	// DefaultMaxContextTokens は BuildRagContext の既定トークン予算
	DefaultMaxContextTokens = 2000
)

// SearchOptions は検索パラメータを表す。ゼロ値の項目には既定値が適用される
type SearchOptions struct {
	Limit     int
	Threshold mo.Option[float64]
	Filter    knowledge.MetadataFilter
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > AbsoluteMaxResults {
		o.Limit = AbsoluteMaxResults
	}
	// 類似度は [0,1] なので範囲外の閾値は端に丸める
	threshold := o.Threshold.OrElse(DefaultThreshold)
	o.Threshold = mo.Some(min(max(threshold, 0), 1))
	return o
}

// RagContext は LLM に渡すコンテキスト文字列と、実際に含めた検索結果
type RagContext struct {
	Context string                           `json:"context"`
	Sources []knowledge.SemanticSearchResult `json:"sources"`
	// Tokens は TokenCounter が設定されている場合のみ実測値が入る
	Tokens int `json:"tokens,omitempty"`
}
