package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jinford/legal-rag/internal/core/knowledge"
)

// LexicalSearcher は content に対する ILIKE 部分一致検索を提供する
type LexicalSearcher struct {
	db DBTX
}

// NewLexicalSearcher は新しい LexicalSearcher を作成する
func NewLexicalSearcher(db DBTX) *LexicalSearcher {
	return &LexicalSearcher{db: db}
}

var _ knowledge.LexicalSearcher = (*LexicalSearcher)(nil)

// SubstringMatch はクエリを含むチャンクを返す。% と _ はリテラルとして扱う
func (l *LexicalSearcher) SubstringMatch(ctx context.Context, query string, limit int, filter knowledge.MetadataFilter) ([]knowledge.SemanticSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []knowledge.SemanticSearchResult{}, nil
	}

	args := []any{escapeLike(query)}
	where := []string{`content ILIKE '%' || $1 || '%' ESCAPE '\'`}
	where, args = appendFilter(where, args, filter)
	args = append(args, limit)

	sql := fmt.Sprintf(`
SELECT id, content, metadata
FROM document_embeddings
WHERE %s
ORDER BY kind, source_id, chunk_index
LIMIT $%d`, strings.Join(where, " AND "), len(args))

	rows, err := l.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, &knowledge.StoreError{Op: "substring match", Err: err}
	}
	defer rows.Close()

	results, err := scanResults(rows, false)
	if err != nil {
		return nil, &knowledge.StoreError{Op: "substring match", Err: err}
	}
	return results, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
