package chunk

import (
	"unicode"

	"github.com/jinford/legal-rag/internal/core/knowledge"
)

const (
	// DefaultMaxChunkSize はチャンクの最大文字数（rune 単位）
	DefaultMaxChunkSize = 2000
	// DefaultOverlapSize は連続するチャンク間で共有する文字数
	DefaultOverlapSize = 200
	// DefaultLookback は区切り文字を後方探索する範囲
	DefaultLookback = 200
)

// separatorTiers は優先度順の区切り文字。同じ段の中では最も右にあるものを採用する
var separatorTiers = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{", "},
	{" "},
}

// Config は Chunker の設定
type Config struct {
	MaxChunkSize int
	OverlapSize  int
	Lookback     int
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		MaxChunkSize: DefaultMaxChunkSize,
		OverlapSize:  DefaultOverlapSize,
		Lookback:     DefaultLookback,
	}
}

// Chunker は長いテキストを自然な境界で重なりのある断片に分割する。
// 状態を持たないため並行に利用できる
type Chunker struct {
	cfg Config
}

// New は Chunker を作成する。不正な値はデフォルトに丸める
func New(cfg Config) *Chunker {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.OverlapSize < 0 {
		cfg.OverlapSize = 0
	}
	if cfg.OverlapSize >= cfg.MaxChunkSize {
		cfg.OverlapSize = cfg.MaxChunkSize / 10
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.Lookback > cfg.MaxChunkSize {
		cfg.Lookback = cfg.MaxChunkSize
	}
	return &Chunker{cfg: cfg}
}

// Config は適用済みの設定を返す
func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk はテキストを分割する。
// Offset は親テキスト内でチャンク本文（トリム後）が始まる rune 位置で、
// Text は常に親テキストの [Offset, Offset+len(Text)) と一致する
func (c *Chunker) Chunk(text string) []knowledge.TextChunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	if n <= c.cfg.MaxChunkSize {
		if chunk, ok := trimmedChunk(runes, 0, n, 0); ok {
			return []knowledge.TextChunk{chunk}
		}
		return nil
	}

	var chunks []knowledge.TextChunk
	index := 0
	offset := 0
	lastEmitted := -1
	for offset < n {
		end := offset + c.cfg.MaxChunkSize
		if end > n {
			end = n
		}
		if end < n {
			if cut := c.findBoundary(runes, offset, end); cut > offset {
				end = cut
			}
		}

		if chunk, ok := trimmedChunk(runes, offset, end, index); ok {
			chunks = append(chunks, chunk)
			lastEmitted = chunk.Offset
			index++
		}

		if end >= n {
			break
		}

		next := end - c.cfg.OverlapSize
		if next <= offset || next <= lastEmitted {
			// オーバーラップが大きすぎて前進できない場合は重なりを捨てる
			next = end
		}
		offset = next
	}

	return chunks
}

// findBoundary は [offset, end) の末尾 Lookback 文字から区切り位置を探す。
// 見つかった場合は区切り文字の直後の位置を、見つからなければ -1 を返す
func (c *Chunker) findBoundary(runes []rune, offset, end int) int {
	start := end - c.cfg.Lookback
	if start < offset {
		start = offset
	}
	region := runes[start:end]

	for _, tier := range separatorTiers {
		best := -1
		bestLen := 0
		for _, sep := range tier {
			sepRunes := []rune(sep)
			if pos := lastIndex(region, sepRunes); pos > best {
				best = pos
				bestLen = len(sepRunes)
			}
		}
		if best >= 0 {
			return start + best + bestLen
		}
	}
	return -1
}

func lastIndex(haystack, needle []rune) int {
	for i := len(haystack) - len(needle); i >= 0; i-- {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func trimmedChunk(runes []rune, start, end, index int) (knowledge.TextChunk, bool) {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	if start == end {
		return knowledge.TextChunk{}, false
	}
	return knowledge.TextChunk{
		Text:   string(runes[start:end]),
		Index:  index,
		Offset: start,
	}, true
}
