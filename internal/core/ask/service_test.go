package ask

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/legal-rag/internal/core/knowledge"
	"github.com/jinford/legal-rag/internal/core/search"
)

type stubContextBuilder struct {
	rag           *search.RagContext
	err           error
	lastMaxTokens int
}

func (b *stubContextBuilder) BuildRagContext(ctx context.Context, query string, maxTokens int) (*search.RagContext, error) {
	b.lastMaxTokens = maxTokens
	return b.rag, b.err
}

type stubLLM struct {
	answer     string
	err        error
	lastPrompt string
	calls      int
}

func (l *stubLLM) GenerateCompletion(ctx context.Context, prompt string) (string, error) {
	l.calls++
	l.lastPrompt = prompt
	return l.answer, l.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAskService_Ask(t *testing.T) {
	builder := &stubContextBuilder{rag: &search.RagContext{
		Context: "[CASE ID:42]\nAção de cobrança com acordo homologado.",
		Sources: []knowledge.SemanticSearchResult{{
			Metadata:   knowledge.DocumentMetadata{Kind: knowledge.KindCase, SourceID: 42},
			Similarity: 0.83,
		}},
	}}
	llm := &stubLLM{answer: "Sim, houve acordo [CASE ID:42]."}
	svc := NewAskService(builder, llm, WithAskLogger(quietLogger()))

	result, err := svc.Ask(context.Background(), AskParams{Query: "Houve acordo no processo?"})
	require.NoError(t, err)

	assert.Equal(t, "Sim, houve acordo [CASE ID:42].", result.Answer)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, knowledge.KindCase, result.Sources[0].Kind)
	assert.Equal(t, int64(42), result.Sources[0].SourceID)
	assert.Equal(t, search.DefaultMaxContextTokens, builder.lastMaxTokens)
	assert.Contains(t, llm.lastPrompt, "[CASE ID:42]")
	assert.Contains(t, llm.lastPrompt, "Houve acordo no processo?")
}

func TestAskService_AskWithoutContextSkipsLLM(t *testing.T) {
	llm := &stubLLM{}
	svc := NewAskService(&stubContextBuilder{rag: &search.RagContext{}}, llm, WithAskLogger(quietLogger()))

	result, err := svc.Ask(context.Background(), AskParams{Query: "Qual o prazo?", MaxContextTokens: 500})
	require.NoError(t, err)
	assert.Equal(t, noContextAnswer, result.Answer)
	assert.Empty(t, result.Sources)
	assert.Zero(t, llm.calls)
}

func TestAskService_AskErrors(t *testing.T) {
	svc := NewAskService(&stubContextBuilder{}, &stubLLM{}, WithAskLogger(quietLogger()))
	_, err := svc.Ask(context.Background(), AskParams{Query: " "})
	assert.ErrorIs(t, err, knowledge.ErrInvalidInput)

	searchErr := &knowledge.StoreError{Op: "nearest neighbors", Err: errors.New("down")}
	svc = NewAskService(&stubContextBuilder{err: searchErr}, &stubLLM{}, WithAskLogger(quietLogger()))
	_, err = svc.Ask(context.Background(), AskParams{Query: "prazo"})
	assert.ErrorIs(t, err, knowledge.ErrStore)

	llmErr := errors.New("rate limited")
	svc = NewAskService(
		&stubContextBuilder{rag: &search.RagContext{Context: "[CASE ID:1]\ntexto"}},
		&stubLLM{err: llmErr},
		WithAskLogger(quietLogger()),
	)
	_, err = svc.Ask(context.Background(), AskParams{Query: "prazo"})
	assert.ErrorIs(t, err, llmErr)
}
