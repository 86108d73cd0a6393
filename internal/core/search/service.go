package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/legal-rag/internal/core/knowledge"
)

// Retriever は意味検索、類似ドキュメント検索、ハイブリッド検索、RAG コンテキスト構築を提供する
type Retriever struct {
	store        knowledge.VectorStore
	lexical      knowledge.LexicalSearcher
	embedder     QueryEmbedder
	tokenCounter TokenCounter
	logger       *slog.Logger
}

type retrieverOptions struct {
	lexical      knowledge.LexicalSearcher
	tokenCounter TokenCounter
	logger       *slog.Logger
}

// RetrieverOption は Retriever のオプション設定
type RetrieverOption func(*retrieverOptions)

// WithRetrieverLogger はロガーを設定する
func WithRetrieverLogger(logger *slog.Logger) RetrieverOption {
	return func(o *retrieverOptions) {
		o.logger = logger
	}
}

// WithLexicalSearcher は HybridSearch で使う部分一致検索を設定する
func WithLexicalSearcher(lexical knowledge.LexicalSearcher) RetrieverOption {
	return func(o *retrieverOptions) {
		o.lexical = lexical
	}
}

// WithTokenCounter は RagContext.Tokens の算出に使うトークナイザを設定する
func WithTokenCounter(counter TokenCounter) RetrieverOption {
	return func(o *retrieverOptions) {
		o.tokenCounter = counter
	}
}

// NewRetriever は新しい Retriever を作成する
func NewRetriever(store knowledge.VectorStore, embedder QueryEmbedder, opts ...RetrieverOption) *Retriever {
	options := retrieverOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &Retriever{
		store:        store,
		lexical:      options.lexical,
		embedder:     embedder,
		tokenCounter: options.tokenCounter,
		logger:       options.logger,
	}
}

// SemanticSearch はクエリを Embedding に変換し、類似度が閾値以上のチャンクを類似度降順で返す。
// 並び順は Vector Store の結果をそのまま使う
func (r *Retriever) SemanticSearch(ctx context.Context, query string, opts SearchOptions) ([]knowledge.SemanticSearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", knowledge.ErrInvalidInput)
	}
	opts = opts.withDefaults()

	queryVector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := r.store.NearestNeighbors(ctx, queryVector, opts.Threshold.MustGet(), opts.Limit, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}

	r.logger.Debug("semantic search",
		"limit", opts.Limit,
		"threshold", opts.Threshold.MustGet(),
		"results", len(results),
	)

	return results, nil
}

// FindSimilar は参照ドキュメントの先頭チャンクの Embedding をクエリとして類似ドキュメントを返す。
// 参照ドキュメント自身のチャンクは結果から除外する
func (r *Retriever) FindSimilar(ctx context.Context, kind knowledge.Kind, sourceID int64, limit int) ([]knowledge.SemanticSearchResult, error) {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	if limit > AbsoluteMaxResults {
		limit = AbsoluteMaxResults
	}

	first, err := r.store.GetFirstChunk(ctx, kind, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference chunk: %w", err)
	}
	reference, ok := first.Get()
	if !ok {
		return nil, fmt.Errorf("%w: no indexed chunk for %s/%d", knowledge.ErrNotFound, kind, sourceID)
	}

	// 自分自身が結果に含まれる分を見込んで1件多く取得する
	neighbors, err := r.store.NearestNeighbors(ctx, reference.Embedding, 0, limit+1, knowledge.MetadataFilter{})
	if err != nil {
		return nil, fmt.Errorf("similar search failed: %w", err)
	}

	results := make([]knowledge.SemanticSearchResult, 0, limit)
	for _, n := range neighbors {
		if n.Metadata.Kind == kind && n.Metadata.SourceID == sourceID {
			continue
		}
		results = append(results, n)
		if len(results) == limit {
			break
		}
	}

	return results, nil
}

// HybridSearch は意味検索と部分一致検索を並行に実行してマージする。
// 意味検索の結果を先に並べ、部分一致のみの結果は LexicalSimilarity を付けて後ろに追加する
func (r *Retriever) HybridSearch(ctx context.Context, query string, opts SearchOptions) ([]knowledge.SemanticSearchResult, error) {
	if r.lexical == nil {
		return nil, fmt.Errorf("%w: lexical searcher is not configured", knowledge.ErrConfiguration)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", knowledge.ErrInvalidInput)
	}
	opts = opts.withDefaults()

	semanticOpts := opts
	semanticOpts.Limit = opts.Limit * 2

	var semantic, lexical []knowledge.SemanticSearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		semantic, err = r.searchUnclamped(gctx, query, semanticOpts)
		return err
	})
	g.Go(func() error {
		var err error
		lexical, err = r.lexical.SubstringMatch(gctx, query, opts.Limit, opts.Filter)
		if err != nil {
			return fmt.Errorf("lexical search failed: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeHybrid(semantic, lexical, opts.Limit)

	r.logger.Debug("hybrid search",
		"semantic", len(semantic),
		"lexical", len(lexical),
		"merged", len(merged),
	)

	return merged, nil
}

// searchUnclamped は HybridSearch 用に上限を超える件数の意味検索を行う
func (r *Retriever) searchUnclamped(ctx context.Context, query string, opts SearchOptions) ([]knowledge.SemanticSearchResult, error) {
	queryVector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := r.store.NearestNeighbors(ctx, queryVector, opts.Threshold.MustGet(), opts.Limit, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}
	return results, nil
}

func mergeHybrid(semantic, lexical []knowledge.SemanticSearchResult, limit int) []knowledge.SemanticSearchResult {
	seen := make(map[uuid.UUID]struct{}, len(semantic)+len(lexical))
	merged := make([]knowledge.SemanticSearchResult, 0, limit)

	for _, res := range semantic {
		if _, dup := seen[res.ID]; dup {
			continue
		}
		seen[res.ID] = struct{}{}
		merged = append(merged, res)
	}
	for _, res := range lexical {
		if _, dup := seen[res.ID]; dup {
			continue
		}
		seen[res.ID] = struct{}{}
		res.Similarity = LexicalSimilarity
		merged = append(merged, res)
	}

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// BuildRagContext は検索結果を `[KIND ID:n]` 形式のブロックとして連結し、
// maxTokens*CharsPerToken 文字に収まる範囲でコンテキストを組み立てる
func (r *Retriever) BuildRagContext(ctx context.Context, query string, maxTokens int) (*RagContext, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}

	candidates, err := r.SemanticSearch(ctx, query, SearchOptions{
		Limit:     RagResultLimit,
		Threshold: mo.Some(float64(RagThreshold)),
	})
	if err != nil {
		return nil, err
	}

	contextText, sources := packContext(candidates, maxTokens*CharsPerToken)

	rag := &RagContext{
		Context: contextText,
		Sources: sources,
	}
	if r.tokenCounter != nil && contextText != "" {
		rag.Tokens = r.tokenCounter.CountTokens(contextText)
	}

	r.logger.Debug("rag context built",
		"candidates", len(candidates),
		"included", len(sources),
		"chars", len([]rune(contextText)),
	)

	return rag, nil
}

// packContext は類似度順にブロックを追加し、次のブロックで予算を超える時点で打ち切る
func packContext(candidates []knowledge.SemanticSearchResult, maxChars int) (string, []knowledge.SemanticSearchResult) {
	var b strings.Builder
	used := 0
	sources := make([]knowledge.SemanticSearchResult, 0, len(candidates))

	for _, c := range candidates {
		block := formatBlock(c)
		size := len([]rune(block))
		if used+size > maxChars {
			break
		}
		b.WriteString(block)
		used += size
		sources = append(sources, c)
	}

	return strings.TrimSpace(b.String()), sources
}

func formatBlock(res knowledge.SemanticSearchResult) string {
	return fmt.Sprintf("[%s ID:%d]\n%s\n\n", res.Metadata.Kind.Label(), res.Metadata.SourceID, res.Text)
}
