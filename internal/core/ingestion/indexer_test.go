package ingestion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/legal-rag/internal/core/knowledge"
	"github.com/jinford/legal-rag/internal/core/knowledge/chunk"
)

type storedRow struct {
	id       uuid.UUID
	text     string
	metadata knowledge.DocumentMetadata
}

type stubStore struct {
	mu        sync.Mutex
	rows      []storedRow
	failAfter int // 0 は無効。N 件目の Insert 以降を失敗させる
	inserts   int
	deleteErr error
}

func (s *stubStore) Insert(ctx context.Context, text string, embedding []float32, metadata knowledge.DocumentMetadata) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.failAfter > 0 && s.inserts >= s.failAfter {
		return uuid.Nil, &knowledge.StoreError{Op: "insert", Err: errors.New("connection reset")}
	}
	id := uuid.New()
	s.rows = append(s.rows, storedRow{id: id, text: text, metadata: metadata})
	return id, nil
}

func (s *stubStore) DeleteWhere(ctx context.Context, kind knowledge.Kind, sourceID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	kept := s.rows[:0]
	var removed int64
	for _, r := range s.rows {
		if r.metadata.Kind == kind && r.metadata.SourceID == sourceID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return removed, nil
}

func (s *stubStore) DeleteAll(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.rows))
	s.rows = nil
	return n, nil
}

func (s *stubStore) NearestNeighbors(ctx context.Context, embedding []float32, threshold float64, limit int, filter knowledge.MetadataFilter) ([]knowledge.SemanticSearchResult, error) {
	return nil, nil
}

func (s *stubStore) GetFirstChunk(ctx context.Context, kind knowledge.Kind, sourceID int64) (mo.Option[knowledge.StoredChunk], error) {
	return mo.None[knowledge.StoredChunk](), nil
}

func (s *stubStore) rowsFor(kind knowledge.Kind, sourceID int64) []storedRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storedRow
	for _, r := range s.rows {
		if r.metadata.Kind == kind && r.metadata.SourceID == sourceID {
			out = append(out, r)
		}
	}
	return out
}

type stubEmbedder struct {
	calls  atomic.Int32
	failOn string
	delay  func(text string) time.Duration
}

func (e *stubEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.delay != nil {
		time.Sleep(e.delay(text))
	}
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, &knowledge.ProviderError{Provider: "stub", StatusCode: 400, Message: "bad request"}
	}
	return []float32{float32(len(text)), 1}, nil
}

type stubSource struct {
	kind knowledge.Kind
	docs []knowledge.Document
	err  error
}

func (s *stubSource) Kind() knowledge.Kind { return s.kind }

func (s *stubSource) ListAll(ctx context.Context) ([]knowledge.Document, error) {
	return s.docs, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func smallChunker() *chunk.Chunker {
	return chunk.New(chunk.Config{MaxChunkSize: 100, OverlapSize: 0, Lookback: 50})
}

func caseMeta(id int64) knowledge.DocumentMetadata {
	return knowledge.DocumentMetadata{Kind: knowledge.KindCase, SourceID: id}
}

// 98文字の段落を空行で n 個つなげる。smallChunker では段落ごとに1チャンクになる
func paragraphs(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = strings.Repeat(string(rune('a'+i)), 98)
	}
	return strings.Join(parts, "\n\n")
}

func TestIndexer_IndexDocument_ShortText(t *testing.T) {
	store := &stubStore{}
	ix := NewIndexer(chunk.New(chunk.DefaultConfig()), &stubEmbedder{}, store, WithIndexerLogger(quietLogger()))

	result := ix.IndexDocument(context.Background(), "Ação trabalhista contra a Empresa X.", caseMeta(42))

	require.True(t, result.Success)
	assert.Equal(t, 1, result.ChunksIndexed)
	require.Len(t, result.RecordIDs, 1)

	rows := store.rowsFor(knowledge.KindCase, 42)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].metadata.ChunkIndex)
	assert.Equal(t, 1, rows[0].metadata.TotalChunks)
	assert.Equal(t, result.RecordIDs[0], rows[0].id)
}

func TestIndexer_IndexDocument_EmptyText(t *testing.T) {
	store := &stubStore{}
	embedder := &stubEmbedder{}
	ix := NewIndexer(chunk.New(chunk.DefaultConfig()), embedder, store, WithIndexerLogger(quietLogger()))

	for _, text := range []string{"", "   \n\t  "} {
		result := ix.IndexDocument(context.Background(), text, caseMeta(1))

		assert.False(t, result.Success)
		assert.Equal(t, 0, result.ChunksIndexed)
		assert.NotEmpty(t, result.Error)
		assert.ErrorIs(t, result.Err, knowledge.ErrInvalidInput)
	}
	assert.Zero(t, embedder.calls.Load())
	assert.Empty(t, store.rows)
}

func TestIndexer_IndexDocument_InvalidMetadata(t *testing.T) {
	ix := NewIndexer(smallChunker(), &stubEmbedder{}, &stubStore{}, WithIndexerLogger(quietLogger()))

	result := ix.IndexDocument(context.Background(), "texto", knowledge.DocumentMetadata{Kind: "unknown", SourceID: 1})
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, knowledge.ErrInvalidInput)

	result = ix.IndexDocument(context.Background(), "texto", knowledge.DocumentMetadata{Kind: knowledge.KindCase})
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, knowledge.ErrInvalidInput)
}

func TestIndexer_IndexDocument_PreservesChunkOrderUnderConcurrency(t *testing.T) {
	store := &stubStore{}
	// 先頭のチャンクほど遅く返す
	embedder := &stubEmbedder{delay: func(text string) time.Duration {
		return time.Duration('j'-rune(text[0])) * time.Millisecond
	}}
	ix := NewIndexer(smallChunker(), embedder, store, WithConcurrency(8), WithIndexerLogger(quietLogger()))

	text := paragraphs(10)
	result := ix.IndexDocument(context.Background(), text, caseMeta(7))
	require.True(t, result.Success, result.Error)

	rows := store.rowsFor(knowledge.KindCase, 7)
	require.Len(t, rows, result.ChunksIndexed)
	for i, r := range rows {
		assert.Equal(t, i, r.metadata.ChunkIndex)
		assert.Equal(t, len(rows), r.metadata.TotalChunks)
		assert.Equal(t, result.RecordIDs[i], r.id)
		// Offset は元テキスト上の位置を指す
		assert.True(t, strings.HasPrefix(string([]rune(text)[r.metadata.ChunkOffset:]), r.text))
	}
}

func TestIndexer_IndexDocument_EmbeddingFailureWritesNothing(t *testing.T) {
	store := &stubStore{}
	embedder := &stubEmbedder{failOn: "ccc"}
	ix := NewIndexer(smallChunker(), embedder, store, WithIndexerLogger(quietLogger()))

	result := ix.IndexDocument(context.Background(), paragraphs(5), caseMeta(3))

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, knowledge.ErrProvider)
	require.NotNil(t, result.FailedChunk)
	assert.Equal(t, 2, *result.FailedChunk)
	assert.Empty(t, store.rowsFor(knowledge.KindCase, 3))
}

func TestIndexer_IndexDocument_PartialInsertFailure(t *testing.T) {
	store := &stubStore{failAfter: 3}
	ix := NewIndexer(smallChunker(), &stubEmbedder{}, store, WithIndexerLogger(quietLogger()))

	result := ix.IndexDocument(context.Background(), paragraphs(5), caseMeta(9))

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, knowledge.ErrStore)
	require.NotNil(t, result.FailedChunk)
	assert.Equal(t, 2, *result.FailedChunk)
	assert.Equal(t, 2, result.ChunksIndexed)
	assert.Len(t, result.RecordIDs, 2)

	rows := store.rowsFor(knowledge.KindCase, 9)
	require.Len(t, rows, 2)
	assert.Equal(t, 0, rows[0].metadata.ChunkIndex)
	assert.Equal(t, 1, rows[1].metadata.ChunkIndex)
}

func TestIndexer_RemoveDocument(t *testing.T) {
	store := &stubStore{}
	ix := NewIndexer(smallChunker(), &stubEmbedder{}, store, WithIndexerLogger(quietLogger()))
	ctx := context.Background()

	require.True(t, ix.IndexDocument(ctx, paragraphs(3), caseMeta(5)).Success)
	require.True(t, ix.IndexDocument(ctx, "outro", caseMeta(6)).Success)

	removed, err := ix.RemoveDocument(ctx, knowledge.KindCase, 5)
	require.NoError(t, err)
	assert.True(t, removed.Success)
	assert.Equal(t, int64(3), removed.RemovedCount)
	assert.Len(t, store.rowsFor(knowledge.KindCase, 6), 1)

	// 存在しないドキュメントの削除も成功扱い
	removed, err = ix.RemoveDocument(ctx, knowledge.KindCase, 5)
	require.NoError(t, err)
	assert.True(t, removed.Success)
	assert.Zero(t, removed.RemovedCount)
}

func TestIndexer_RemoveDocument_StoreError(t *testing.T) {
	store := &stubStore{deleteErr: &knowledge.StoreError{Op: "delete", Err: errors.New("timeout")}}
	ix := NewIndexer(smallChunker(), &stubEmbedder{}, store, WithIndexerLogger(quietLogger()))

	removed, err := ix.RemoveDocument(context.Background(), knowledge.KindFiling, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, knowledge.ErrStore)
	assert.False(t, removed.Success)
}

func TestIndexer_UpdateDocument_ShrinksChunkCount(t *testing.T) {
	store := &stubStore{}
	ix := NewIndexer(smallChunker(), &stubEmbedder{}, store, WithIndexerLogger(quietLogger()))
	ctx := context.Background()

	first := ix.IndexDocument(ctx, paragraphs(3), caseMeta(11))
	require.True(t, first.Success)
	require.Equal(t, 3, first.ChunksIndexed)

	second := ix.UpdateDocument(ctx, paragraphs(2), caseMeta(11))
	require.True(t, second.Success)

	rows := store.rowsFor(knowledge.KindCase, 11)
	require.Len(t, rows, 2)
	for i, r := range rows {
		assert.Equal(t, i, r.metadata.ChunkIndex)
		assert.Equal(t, 2, r.metadata.TotalChunks)
	}
}

func TestIndexer_UpdateDocument_Idempotent(t *testing.T) {
	store := &stubStore{}
	ix := NewIndexer(smallChunker(), &stubEmbedder{}, store, WithIndexerLogger(quietLogger()))
	ctx := context.Background()
	text := paragraphs(4)

	require.True(t, ix.UpdateDocument(ctx, text, caseMeta(12)).Success)
	before := store.rowsFor(knowledge.KindCase, 12)
	require.True(t, ix.UpdateDocument(ctx, text, caseMeta(12)).Success)
	after := store.rowsFor(knowledge.KindCase, 12)

	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].text, after[i].text)
		assert.Equal(t, before[i].metadata, after[i].metadata)
	}
}

func TestIndexer_ReindexAll_ContinuesPastFailures(t *testing.T) {
	store := &stubStore{}
	ix := NewIndexer(smallChunker(), &stubEmbedder{failOn: "QUEBRA"}, store,
		WithIndexerLogger(quietLogger()),
		WithReindexConcurrency(3),
		WithEntitySources(
			&stubSource{kind: knowledge.KindCase, docs: []knowledge.Document{
				{Text: "Processo 1", Metadata: caseMeta(1)},
				{Text: "Processo QUEBRA", Metadata: caseMeta(2)},
				{Text: "Processo 3", Metadata: caseMeta(3)},
			}},
			&stubSource{kind: knowledge.KindClient, err: errors.New("relation does not exist")},
			&stubSource{kind: knowledge.KindHearing, docs: []knowledge.Document{
				{Text: "Audiência", Metadata: knowledge.DocumentMetadata{Kind: knowledge.KindHearing, SourceID: 1}},
			}},
		),
	)
	ctx := context.Background()

	// 既存データは全削除される
	require.True(t, ix.IndexDocument(ctx, "resto antigo", knowledge.DocumentMetadata{Kind: knowledge.KindOther, SourceID: 99}).Success)

	stats, err := ix.ReindexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PerKind[knowledge.KindCase])
	assert.Equal(t, 1, stats.PerKind[knowledge.KindHearing])
	assert.Equal(t, 2, stats.ErrorCount)
	assert.Empty(t, store.rowsFor(knowledge.KindOther, 99))
	assert.Len(t, store.rows, 3)
}

func TestIndexer_ReindexAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ix := NewIndexer(smallChunker(), &stubEmbedder{}, &stubStore{},
		WithIndexerLogger(quietLogger()),
		WithEntitySources(&stubSource{kind: knowledge.KindCase}),
	)

	stats, err := ix.ReindexAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, stats)
}
