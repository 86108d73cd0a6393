package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jinford/legal-rag/internal/core/knowledge"
)

// Normalize は前後の空白を除去し、連続する空白を1つのスペースにまとめる
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// NormalizeInput は Normalize の結果が空なら ErrInvalidInput を返す。
// 空文字列を黙って埋め込むことはしない
func NormalizeInput(text string) (string, error) {
	normalized := Normalize(text)
	if normalized == "" {
		return "", fmt.Errorf("%w: text is empty after normalization", knowledge.ErrInvalidInput)
	}
	return normalized, nil
}

// CacheKey は正規化済みテキストのコンテンツハッシュを返す。
// 次元の異なるベクトルを返さないようモデル名で名前空間を分ける
func CacheKey(model, normalized string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}
