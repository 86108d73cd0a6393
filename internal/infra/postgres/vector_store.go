package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/samber/mo"

	"github.com/jinford/legal-rag/internal/core/knowledge"
)

// VectorStore は document_embeddings テーブルを使った knowledge.VectorStore の実装
type VectorStore struct {
	db DBTX

	mu            sync.Mutex
	iterativeScan *bool // pgvector >= 0.8 の hnsw.iterative_scan が使えるか（初回検索時に判定）
}

// NewVectorStore は新しい VectorStore を作成する
func NewVectorStore(db DBTX) *VectorStore {
	return &VectorStore{db: db}
}

// コンパイル時の型チェック
var _ knowledge.VectorStore = (*VectorStore)(nil)

const insertEmbeddingSQL = `
INSERT INTO document_embeddings
  (id, kind, source_id, chunk_index, chunk_offset, total_chunks, related_case_id, content, metadata, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func (s *VectorStore) Insert(ctx context.Context, text string, embedding []float32, metadata knowledge.DocumentMetadata) (uuid.UUID, error) {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return uuid.Nil, &knowledge.StoreError{Op: "insert", Err: err}
	}

	id := uuid.New()
	_, err = s.db.Exec(ctx, insertEmbeddingSQL,
		UUIDToPgtype(id),
		string(metadata.Kind),
		metadata.SourceID,
		metadata.ChunkIndex,
		metadata.ChunkOffset,
		metadata.TotalChunks,
		Int64PtrToPgtype(metadata.RelatedCaseID),
		text,
		meta,
		pgvector.NewVector(embedding),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			err = fmt.Errorf("chunk %s/%d#%d already exists: %w", metadata.Kind, metadata.SourceID, metadata.ChunkIndex, err)
		}
		return uuid.Nil, &knowledge.StoreError{Op: "insert", Err: err}
	}

	return id, nil
}

func (s *VectorStore) DeleteWhere(ctx context.Context, kind knowledge.Kind, sourceID int64) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM document_embeddings WHERE kind = $1 AND source_id = $2`,
		string(kind), sourceID,
	)
	if err != nil {
		return 0, &knowledge.StoreError{Op: "delete", Err: err}
	}
	return tag.RowsAffected(), nil
}

func (s *VectorStore) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM document_embeddings`)
	if err != nil {
		return 0, &knowledge.StoreError{Op: "delete all", Err: err}
	}
	return tag.RowsAffected(), nil
}

const (
	// hnswDefaultEfSearch は pgvector の hnsw.ef_search 既定値
	hnswDefaultEfSearch = 40
	// hnswMaxEfSearch は hnsw.ef_search に設定できる上限
	hnswMaxEfSearch = 1000
)

// NearestNeighbors は類似度が threshold 以上のチャンクを類似度降順で返す。
//
// HNSW インデックスは ef_search 件の候補を返した後で WHERE 句を適用するため、
// 既定のままでは limit が 40 を超える検索やフィルタ付き検索で結果が欠ける。
// トランザクション内で ef_search を limit 以上に広げ、pgvector 0.8 以降では
// iterative_scan=strict_order で条件を満たす行が揃うまで走査を続けさせる
func (s *VectorStore) NearestNeighbors(ctx context.Context, embedding []float32, threshold float64, limit int, filter knowledge.MetadataFilter) ([]knowledge.SemanticSearchResult, error) {
	if limit <= 0 {
		return []knowledge.SemanticSearchResult{}, nil
	}

	iterative, err := s.iterativeScanSupported(ctx)
	if err != nil {
		return nil, &knowledge.StoreError{Op: "nearest neighbors", Err: err}
	}

	args := []any{pgvector.NewVector(embedding), threshold}
	where := []string{"1 - (embedding <=> $1) >= $2"}
	where, args = appendFilter(where, args, filter)
	args = append(args, limit)

	query := fmt.Sprintf(`
SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
FROM document_embeddings
WHERE %s
ORDER BY embedding <=> $1
LIMIT $%d`, strings.Join(where, " AND "), len(args))

	var results []knowledge.SemanticSearchResult
	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for _, stmt := range indexScanSettings(limit, !filter.IsEmpty(), iterative) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to tune index scan: %w", err)
			}
		}

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		results, err = scanResults(rows, true)
		return err
	})
	if err != nil {
		return nil, &knowledge.StoreError{Op: "nearest neighbors", Err: err}
	}
	return results, nil
}

// indexScanSettings は近傍検索の前に実行する SET LOCAL 文を返す。
// iterative_scan が使えない古い pgvector でフィルタがある場合は ef_search を上限まで広げる
func indexScanSettings(limit int, filtered, iterative bool) []string {
	ef := min(max(limit, hnswDefaultEfSearch), hnswMaxEfSearch)
	if filtered && !iterative {
		ef = hnswMaxEfSearch
	}

	stmts := []string{fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", ef)}
	if iterative {
		stmts = append(stmts, "SET LOCAL hnsw.iterative_scan = strict_order")
	}
	return stmts
}

// iterativeScanSupported はインストール済みの vector 拡張のバージョンを一度だけ調べる
func (s *VectorStore) iterativeScanSupported(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.iterativeScan != nil {
		return *s.iterativeScan, nil
	}

	var version string
	err := s.db.QueryRow(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&version)
	if err != nil {
		return false, fmt.Errorf("failed to read pgvector version: %w", err)
	}

	supported := versionAtLeast(version, 0, 8)
	s.iterativeScan = &supported
	return supported, nil
}

// versionAtLeast は "major.minor.patch" 形式のバージョンを比較する。解釈できない場合は false
func versionAtLeast(version string, major, minor int) bool {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return false
	}
	gotMajor, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	gotMinor, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	if gotMajor != major {
		return gotMajor > major
	}
	return gotMinor >= minor
}

func (s *VectorStore) GetFirstChunk(ctx context.Context, kind knowledge.Kind, sourceID int64) (mo.Option[knowledge.StoredChunk], error) {
	var (
		content string
		vector  pgvector.Vector
	)
	err := s.db.QueryRow(ctx,
		`SELECT content, embedding FROM document_embeddings WHERE kind = $1 AND source_id = $2 AND chunk_index = 0`,
		string(kind), sourceID,
	).Scan(&content, &vector)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[knowledge.StoredChunk](), nil
		}
		return mo.None[knowledge.StoredChunk](), &knowledge.StoreError{Op: "get first chunk", Err: err}
	}

	return mo.Some(knowledge.StoredChunk{Text: content, Embedding: vector.Slice()}), nil
}

// CountByDocument は (kind, sourceID) のチャンク数を返す
func (s *VectorStore) CountByDocument(ctx context.Context, kind knowledge.Kind, sourceID int64) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM document_embeddings WHERE kind = $1 AND source_id = $2`,
		string(kind), sourceID,
	).Scan(&count)
	if err != nil {
		return 0, &knowledge.StoreError{Op: "count", Err: err}
	}
	return count, nil
}

// CountByKind は種別ごとのチャンク数を返す
func (s *VectorStore) CountByKind(ctx context.Context) (map[knowledge.Kind]int, error) {
	rows, err := s.db.Query(ctx, `SELECT kind, count(*) FROM document_embeddings GROUP BY kind`)
	if err != nil {
		return nil, &knowledge.StoreError{Op: "count by kind", Err: err}
	}
	defer rows.Close()

	result := make(map[knowledge.Kind]int)
	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, &knowledge.StoreError{Op: "count by kind", Err: err}
		}
		result[knowledge.Kind(kind)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, &knowledge.StoreError{Op: "count by kind", Err: err}
	}
	return result, nil
}

// appendFilter は MetadataFilter を WHERE 句に変換する。プレースホルダ番号は args の長さから振る
func appendFilter(where []string, args []any, filter knowledge.MetadataFilter) ([]string, []any) {
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		args = append(args, kinds)
		where = append(where, fmt.Sprintf("kind = ANY($%d)", len(args)))
	}
	if filter.RelatedCaseID != nil {
		args = append(args, *filter.RelatedCaseID)
		where = append(where, fmt.Sprintf("related_case_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("metadata->>'status' = $%d", len(args)))
	}
	if filter.Court != nil {
		args = append(args, *filter.Court)
		where = append(where, fmt.Sprintf("metadata->>'court' = $%d", len(args)))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		where = append(where, fmt.Sprintf("metadata->>'category' = $%d", len(args)))
	}
	return where, args
}

func scanResults(rows pgx.Rows, withSimilarity bool) ([]knowledge.SemanticSearchResult, error) {
	results := []knowledge.SemanticSearchResult{}
	for rows.Next() {
		var (
			id         pgtype.UUID
			content    string
			meta       []byte
			similarity float64
		)
		dest := []any{&id, &content, &meta}
		if withSimilarity {
			dest = append(dest, &similarity)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		metadata, err := decodeMetadata(meta)
		if err != nil {
			return nil, err
		}

		results = append(results, knowledge.SemanticSearchResult{
			ID:         PgtypeToUUID(id),
			Text:       content,
			Metadata:   metadata,
			Similarity: similarity,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
