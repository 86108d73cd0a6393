package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jinford/legal-rag/internal/core/embedding"
	"github.com/jinford/legal-rag/internal/core/knowledge"
)

// ProviderName はエラーやログで使うプロバイダ名
const ProviderName = "openai"

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingDimension はOpenAI推奨のデフォルト次元
	DefaultEmbeddingDimension = 1536
	// DefaultEmbeddingTimeout は1回の Embedding 呼び出しのタイムアウト
	DefaultEmbeddingTimeout = 30 * time.Second
	// DefaultMaxRetries は 429/5xx/接続エラー時の SDK リトライ回数
	DefaultMaxRetries = 1
)

// Embedder は OpenAI API を使用してテキストをベクトルに変換する。
// OpenAI は文書とクエリを区別しないため EmbedDocument と EmbedQuery は同じ処理になる
type Embedder struct {
	client    openai.Client
	apiKey    string
	model     string
	dimension int
	timeout   time.Duration
}

type embedderOptions struct {
	model      string
	dimension  int
	timeout    time.Duration
	maxRetries int
	baseURL    string
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		o.model = model
	}
}

// WithEmbeddingDimension はベクトル次元を上書きする
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithEmbeddingTimeout は呼び出しごとのタイムアウトを設定する
func WithEmbeddingTimeout(timeout time.Duration) EmbedderOption {
	return func(o *embedderOptions) {
		o.timeout = timeout
	}
}

// WithMaxRetries は一時的なエラーに対するリトライ回数を設定する。0 でリトライしない
func WithMaxRetries(n int) EmbedderOption {
	return func(o *embedderOptions) {
		o.maxRetries = n
	}
}

// WithBaseURL は API のエンドポイントを上書きする（互換 API やテスト用）
func WithBaseURL(baseURL string) EmbedderOption {
	return func(o *embedderOptions) {
		o.baseURL = baseURL
	}
}

// NewEmbedder は新しい Embedder を作成する。
// apiKey が空でもエラーにはせず、最初の呼び出しで ErrConfiguration を返す
func NewEmbedder(apiKey string, opts ...EmbedderOption) *Embedder {
	options := embedderOptions{
		model:      DefaultEmbeddingModel,
		dimension:  DefaultEmbeddingDimension,
		timeout:    DefaultEmbeddingTimeout,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.maxRetries < 0 {
		options.maxRetries = 0
	}
	if options.timeout <= 0 {
		options.timeout = DefaultEmbeddingTimeout
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(options.maxRetries),
	}
	if options.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(options.baseURL))
	}

	return &Embedder{
		client:    openai.NewClient(clientOpts...),
		apiKey:    apiKey,
		model:     options.model,
		dimension: options.dimension,
		timeout:   options.timeout,
	}
}

// EmbedDocument は登録用テキストの Embedding を生成する
func (e *Embedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

// EmbedQuery は検索クエリの Embedding を生成する
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

func (e *Embedder) embed(ctx context.Context, text string) ([]float32, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", knowledge.ErrConfiguration)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(callCtx, params)
	if err != nil {
		return nil, toProviderError(ctx, err)
	}

	if len(resp.Data) == 0 {
		return nil, &knowledge.ProviderError{Provider: ProviderName, Message: "no embeddings returned"}
	}

	data := resp.Data[0].Embedding
	vector := make([]float32, len(data))
	for i, v := range data {
		vector[i] = float32(v)
	}

	return vector, nil
}

// Name はプロバイダ名を返す
func (e *Embedder) Name() string {
	return ProviderName
}

// Model はモデル名を返す
func (e *Embedder) Model() string {
	return e.model
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

// インターフェース実装の確認
var _ embedding.Provider = (*Embedder)(nil)
