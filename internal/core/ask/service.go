package ask

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/legal-rag/internal/core/knowledge"
	"github.com/jinford/legal-rag/internal/core/search"
)

// LLMClient はLLM通信インターフェース
type LLMClient interface {
	GenerateCompletion(ctx context.Context, prompt string) (string, error)
}

// ContextBuilder は質問に対する RAG コンテキストを組み立てる
type ContextBuilder interface {
	BuildRagContext(ctx context.Context, query string, maxTokens int) (*search.RagContext, error)
}

var _ ContextBuilder = (*search.Retriever)(nil)

// AskService は質問応答のビジネスロジックを提供する
type AskService struct {
	retriever ContextBuilder
	llm       LLMClient
	logger    *slog.Logger
}

type AskServiceOption func(*AskService)

// WithAskLogger は AskService にロガーを設定する
func WithAskLogger(logger *slog.Logger) AskServiceOption {
	return func(s *AskService) {
		s.logger = logger
	}
}

// NewAskService は新しいAskServiceを作成する
func NewAskService(retriever ContextBuilder, llm LLMClient, opts ...AskServiceOption) *AskService {
	svc := &AskService{
		retriever: retriever,
		llm:       llm,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	return svc
}

// Ask は質問に対してRAGベースで回答を生成する。
// 関連ドキュメントが見つからない場合は LLM を呼ばずに定型文を返す
func (s *AskService) Ask(ctx context.Context, params AskParams) (*AskResult, error) {
	if strings.TrimSpace(params.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", knowledge.ErrInvalidInput)
	}

	maxTokens := params.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = search.DefaultMaxContextTokens
	}

	rag, err := s.retriever.BuildRagContext(ctx, params.Query, maxTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to build context: %w", err)
	}

	s.logger.Info("rag context built",
		"sources", len(rag.Sources),
		"tokens", rag.Tokens,
	)

	if rag.Context == "" {
		return &AskResult{Answer: noContextAnswer, Sources: []SourceReference{}}, nil
	}

	prompt := BuildAskPrompt(params.Query, rag.Context)

	s.logger.Info("generating answer with LLM")
	answer, err := s.llm.GenerateCompletion(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	sources := make([]SourceReference, 0, len(rag.Sources))
	for _, src := range rag.Sources {
		sources = append(sources, SourceReference{
			Kind:       src.Metadata.Kind,
			SourceID:   src.Metadata.SourceID,
			ChunkIndex: src.Metadata.ChunkIndex,
			Similarity: src.Similarity,
		})
	}

	s.logger.Info("ask completed successfully",
		"answerLength", len(answer),
		"sources", len(sources),
	)

	return &AskResult{
		Answer:  answer,
		Sources: sources,
	}, nil
}
