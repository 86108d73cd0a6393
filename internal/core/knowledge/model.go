package knowledge

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind はインデックス対象となる業務エンティティの種別を表す
type Kind string

const (
	KindCase        Kind = "case"
	KindFiling      Kind = "filing"
	KindHearing     Kind = "hearing"
	KindClient      Kind = "client"
	KindLedgerEntry Kind = "ledger_entry"
	KindOther       Kind = "other"
)

// AllKinds は再インデックス時の処理順序を兼ねる
var AllKinds = []Kind{KindCase, KindFiling, KindHearing, KindClient, KindLedgerEntry, KindOther}

// ParseKind は文字列から Kind を解決する
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown document kind %q", ErrInvalidInput, s)
}

// Label はRAGコンテキストのブロック見出しに使う大文字表記を返す
func (k Kind) Label() string {
	return strings.ToUpper(string(k))
}

// DocumentMetadata はインデックス済みテキストの出所を表す
type DocumentMetadata struct {
	Kind          Kind       `json:"kind"`
	SourceID      int64      `json:"sourceId"`
	RelatedCaseID *int64     `json:"relatedCaseId,omitempty"`
	CaseNumber    *string    `json:"caseNumber,omitempty"`
	Status        *string    `json:"status,omitempty"`
	Court         *string    `json:"court,omitempty"`
	Category      *string    `json:"category,omitempty"`
	ReferenceDate *time.Time `json:"referenceDate,omitempty"`

	// 以下は Indexer が設定する。呼び出し側の値は上書きされる
	ChunkIndex  int `json:"chunkIndex"`
	ChunkOffset int `json:"chunkOffset"`
	TotalChunks int `json:"totalChunks"`
}

// WithChunk はチャンク位置を設定したコピーを返す
func (m DocumentMetadata) WithChunk(index, offset, total int) DocumentMetadata {
	m.ChunkIndex = index
	m.ChunkOffset = offset
	m.TotalChunks = total
	return m
}

// Validate は呼び出し側が指定すべき項目を検証する
func (m DocumentMetadata) Validate() error {
	if _, err := ParseKind(string(m.Kind)); err != nil {
		return err
	}
	if m.SourceID <= 0 {
		return fmt.Errorf("%w: sourceId must be positive", ErrInvalidInput)
	}
	return nil
}

// TextChunk は Chunker が生成するテキスト断片
type TextChunk struct {
	Text   string
	Index  int
	Offset int
}

// EmbeddingRecord は Vector Store の1行を表す
type EmbeddingRecord struct {
	ID        uuid.UUID
	Text      string
	Embedding []float32
	Metadata  DocumentMetadata
}

// SemanticSearchResult は検索1件分の結果
type SemanticSearchResult struct {
	ID         uuid.UUID        `json:"id"`
	Text       string           `json:"text"`
	Metadata   DocumentMetadata `json:"metadata"`
	Similarity float64          `json:"similarity"`
}

// MetadataFilter は検索時のメタデータ条件。ゼロ値は全件に一致する
type MetadataFilter struct {
	Kinds         []Kind
	RelatedCaseID *int64
	Status        *string
	Court         *string
	Category      *string
}

// IsEmpty は条件が1つも指定されていないかを返す
func (f MetadataFilter) IsEmpty() bool {
	return len(f.Kinds) == 0 && f.RelatedCaseID == nil && f.Status == nil && f.Court == nil && f.Category == nil
}

// Matches はメモリ上でフィルタを評価する（スタブやキャッシュ層向け）
func (f MetadataFilter) Matches(m DocumentMetadata) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == m.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.RelatedCaseID != nil && (m.RelatedCaseID == nil || *m.RelatedCaseID != *f.RelatedCaseID) {
		return false
	}
	if f.Status != nil && (m.Status == nil || *m.Status != *f.Status) {
		return false
	}
	if f.Court != nil && (m.Court == nil || *m.Court != *f.Court) {
		return false
	}
	if f.Category != nil && (m.Category == nil || *m.Category != *f.Category) {
		return false
	}
	return true
}

// IndexResult は IndexDocument の結果
type IndexResult struct {
	Success       bool        `json:"success"`
	ChunksIndexed int         `json:"chunksIndexed"`
	RecordIDs     []uuid.UUID `json:"recordIds,omitempty"`
	// FailedChunk は失敗したチャンク番号。それより前のチャンクは永続化済み
	FailedChunk *int   `json:"failedChunk,omitempty"`
	Error       string `json:"error,omitempty"`
	// Err は errors.Is で分類するための元エラー
	Err error `json:"-"`
}

// RemoveResult は RemoveDocument の結果
type RemoveResult struct {
	Success      bool  `json:"success"`
	RemovedCount int64 `json:"removedCount"`
}

// ReindexStats は ReindexAll の集計結果
type ReindexStats struct {
	PerKind    map[Kind]int  `json:"perKind"`
	ErrorCount int           `json:"errorCount"`
	Duration   time.Duration `json:"duration"`
}

// Document はエンティティから組み立てたインデックス対象
type Document struct {
	Text     string
	Metadata DocumentMetadata
}
