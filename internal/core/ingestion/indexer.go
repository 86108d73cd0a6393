package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/legal-rag/internal/core/knowledge"
)

const (
	// DefaultConcurrency は1ドキュメント内で並行に実行する Embedding 呼び出し数
	DefaultConcurrency = 4
	// DefaultReindexConcurrency は ReindexAll で並行に処理するエンティティ数
	DefaultReindexConcurrency = 2
)

// Chunker はテキストをチャンクに分割する
type Chunker interface {
	Chunk(text string) []knowledge.TextChunk
}

// Embedder は文書登録用の Embedding を生成する（キャッシュ経由を想定）
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
}

// Indexer はチャンク分割、Embedding 生成、永続化をドキュメント単位で実行する
type Indexer struct {
	chunker            Chunker
	embedder           Embedder
	store              knowledge.VectorStore
	sources            []knowledge.EntitySource
	concurrency        int
	reindexConcurrency int
	logger             *slog.Logger
}

type indexerOptions struct {
	sources            []knowledge.EntitySource
	concurrency        int
	reindexConcurrency int
	logger             *slog.Logger
}

// IndexerOption は Indexer のオプション設定
type IndexerOption func(*indexerOptions)

// WithIndexerLogger はロガーを設定する
func WithIndexerLogger(logger *slog.Logger) IndexerOption {
	return func(o *indexerOptions) {
		o.logger = logger
	}
}

// WithEntitySources は ReindexAll が列挙するエンティティソースを設定する
func WithEntitySources(sources ...knowledge.EntitySource) IndexerOption {
	return func(o *indexerOptions) {
		o.sources = append(o.sources, sources...)
	}
}

// WithConcurrency はチャンク単位の Embedding 並行数を設定する
func WithConcurrency(n int) IndexerOption {
	return func(o *indexerOptions) {
		o.concurrency = n
	}
}

// WithReindexConcurrency は ReindexAll のエンティティ並行数を設定する
func WithReindexConcurrency(n int) IndexerOption {
	return func(o *indexerOptions) {
		o.reindexConcurrency = n
	}
}

// NewIndexer は新しい Indexer を作成する
func NewIndexer(chunker Chunker, embedder Embedder, store knowledge.VectorStore, opts ...IndexerOption) *Indexer {
	options := indexerOptions{
		concurrency:        DefaultConcurrency,
		reindexConcurrency: DefaultReindexConcurrency,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.concurrency <= 0 {
		options.concurrency = 1
	}
	if options.reindexConcurrency <= 0 {
		options.reindexConcurrency = 1
	}

	return &Indexer{
		chunker:            chunker,
		embedder:           embedder,
		store:              store,
		sources:            options.sources,
		concurrency:        options.concurrency,
		reindexConcurrency: options.reindexConcurrency,
		logger:             options.logger,
	}
}

type chunkError struct {
	index int
	err   error
}

func (e *chunkError) Error() string { return fmt.Sprintf("chunk %d: %v", e.index, e.err) }
func (e *chunkError) Unwrap() error { return e.err }

// IndexDocument はテキストを分割してチャンクごとに Embedding を生成し、Vector Store に保存する。
//
// Embedding は全チャンク分を先に生成するため、Embedding の失敗では何も書き込まれない。
// 保存はチャンク順に1件ずつ行い、k 番目で失敗した場合 0..k-1 は残る（ロールバックしない）。
// 書き込み済みの範囲は RecordIDs と FailedChunk で呼び出し側に伝える
func (ix *Indexer) IndexDocument(ctx context.Context, text string, metadata knowledge.DocumentMetadata) *knowledge.IndexResult {
	if err := metadata.Validate(); err != nil {
		return failed(err, nil, nil)
	}

	chunks := ix.chunker.Chunk(text)
	if len(chunks) == 0 {
		return failed(fmt.Errorf("%w: text produced no indexable chunks", knowledge.ErrInvalidInput), nil, nil)
	}

	vectors, err := ix.embedChunks(ctx, chunks)
	if err != nil {
		var ce *chunkError
		var failedIndex *int
		if errors.As(err, &ce) {
			failedIndex = &ce.index
		}
		ix.logger.Warn("embedding failed",
			"kind", metadata.Kind,
			"sourceID", metadata.SourceID,
			"error", err,
		)
		return failed(err, nil, failedIndex)
	}

	total := len(chunks)
	recordIDs := make([]uuid.UUID, 0, total)
	for i, chunk := range chunks {
		chunkMeta := metadata.WithChunk(chunk.Index, chunk.Offset, total)
		id, err := ix.store.Insert(ctx, chunk.Text, vectors[i], chunkMeta)
		if err != nil {
			idx := chunk.Index
			ix.logger.Warn("chunk insert failed, earlier chunks remain persisted",
				"kind", metadata.Kind,
				"sourceID", metadata.SourceID,
				"chunkIndex", idx,
				"persisted", len(recordIDs),
				"error", err,
			)
			return failed(err, recordIDs, &idx)
		}
		recordIDs = append(recordIDs, id)
	}

	ix.logger.Debug("document indexed",
		"kind", metadata.Kind,
		"sourceID", metadata.SourceID,
		"chunks", total,
	)

	return &knowledge.IndexResult{
		Success:       true,
		ChunksIndexed: len(recordIDs),
		RecordIDs:     recordIDs,
	}
}

// embedChunks は並行に Embedding を生成する。結果の順序はチャンク順を保つ
func (ix *Indexer) embedChunks(ctx context.Context, chunks []knowledge.TextChunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for i := range chunks {
		g.Go(func() error {
			vector, err := ix.embedder.EmbedDocument(gctx, chunks[i].Text)
			if err != nil {
				return &chunkError{index: chunks[i].Index, err: err}
			}
			vectors[i] = vector
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// RemoveDocument は (kind, sourceID) の全チャンクを削除する。対象が0件でも成功とする
func (ix *Indexer) RemoveDocument(ctx context.Context, kind knowledge.Kind, sourceID int64) (knowledge.RemoveResult, error) {
	removed, err := ix.store.DeleteWhere(ctx, kind, sourceID)
	if err != nil {
		return knowledge.RemoveResult{Success: false}, fmt.Errorf("failed to remove document %s/%d: %w", kind, sourceID, err)
	}
	return knowledge.RemoveResult{Success: true, RemovedCount: removed}, nil
}

// UpdateDocument は既存チャンクを削除してから再登録する。
// 削除結果は無視するので、チャンク数が変わっても古いチャンクは残らない
func (ix *Indexer) UpdateDocument(ctx context.Context, text string, metadata knowledge.DocumentMetadata) *knowledge.IndexResult {
	if _, err := ix.RemoveDocument(ctx, metadata.Kind, metadata.SourceID); err != nil {
		ix.logger.Warn("remove before update failed", "kind", metadata.Kind, "sourceID", metadata.SourceID, "error", err)
	}
	return ix.IndexDocument(ctx, text, metadata)
}

// ReindexAll は Vector Store を全削除し、登録済みの全エンティティを再インデックスする。
// 個々のエンティティの失敗は集計してログに残し、処理を継続する。
// 他の更新系操作と同時に実行してはならない（呼び出し側で直列化すること）
func (ix *Indexer) ReindexAll(ctx context.Context) (*knowledge.ReindexStats, error) {
	start := time.Now()

	wiped, err := ix.store.DeleteAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wipe vector store: %w", err)
	}
	ix.logger.Info("vector store wiped", "removed", wiped)

	stats := &knowledge.ReindexStats{PerKind: make(map[knowledge.Kind]int)}
	var mu sync.Mutex

	for _, source := range ix.sources {
		kind := source.Kind()
		docs, err := source.ListAll(ctx)
		if err != nil {
			ix.logger.Error("failed to list entities", "kind", kind, "error", err)
			stats.ErrorCount++
			continue
		}

		ix.logger.Info("reindexing entities", "kind", kind, "count", len(docs))

		var g errgroup.Group
		g.SetLimit(ix.reindexConcurrency)
		for _, doc := range docs {
			g.Go(func() error {
				result := ix.IndexDocument(ctx, doc.Text, doc.Metadata)

				mu.Lock()
				defer mu.Unlock()
				if !result.Success {
					stats.ErrorCount++
					ix.logger.Error("failed to index entity",
						"kind", doc.Metadata.Kind,
						"sourceID", doc.Metadata.SourceID,
						"error", result.Error,
					)
					return nil
				}
				stats.PerKind[doc.Metadata.Kind]++
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(start)
			return stats, fmt.Errorf("reindex interrupted: %w", err)
		}
	}

	stats.Duration = time.Since(start)
	ix.logger.Info("reindex completed",
		"perKind", stats.PerKind,
		"errors", stats.ErrorCount,
		"duration", stats.Duration,
	)
	return stats, nil
}

func failed(err error, recordIDs []uuid.UUID, failedChunk *int) *knowledge.IndexResult {
	return &knowledge.IndexResult{
		Success:       false,
		ChunksIndexed: len(recordIDs),
		RecordIDs:     recordIDs,
		FailedChunk:   failedChunk,
		Error:         err.Error(),
		Err:           err,
	}
}
