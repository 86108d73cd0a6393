package voyage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/jinford/legal-rag/internal/core/embedding"
	"github.com/jinford/legal-rag/internal/core/knowledge"
)

// ProviderName はエラーやログで使うプロバイダ名
const ProviderName = "voyage"

const (
	// DefaultBaseURL は Voyage AI API のエンドポイント
	DefaultBaseURL = "https://api.voyageai.com/v1"
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "voyage-3"
	// DefaultEmbeddingDimension は voyage-3 の次元数
	DefaultEmbeddingDimension = 1024
	// DefaultTimeout は1回の呼び出しのタイムアウト
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries は一時的なエラーに対するリトライ回数
	DefaultMaxRetries = 1
	// DefaultRetryBackoff はリトライ前の基本待機時間。実際の待機はこの値から2倍までのジッタ付き
	DefaultRetryBackoff = 500 * time.Millisecond
)

const (
	inputTypeDocument = "document"
	inputTypeQuery    = "query"
)

// Embedder は Voyage AI の embeddings API を呼び出す。
// 文書とクエリで input_type を切り替える
type Embedder struct {
	apiKey     string
	baseURL    string
	model      string
	dimension  int
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	client     *http.Client
}

type embedderOptions struct {
	baseURL    string
	model      string
	dimension  int
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithBaseURL はエンドポイントを上書きする
func WithBaseURL(baseURL string) EmbedderOption {
	return func(o *embedderOptions) {
		o.baseURL = baseURL
	}
}

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

// WithTimeout は呼び出しごとのタイムアウトを設定する
func WithTimeout(timeout time.Duration) EmbedderOption {
	return func(o *embedderOptions) {
		o.timeout = timeout
	}
}

// WithMaxRetries はリトライ回数を設定する。0 でリトライしない
func WithMaxRetries(n int) EmbedderOption {
	return func(o *embedderOptions) {
		o.maxRetries = n
	}
}

// WithRetryBackoff はリトライ前の基本待機時間を設定する
func WithRetryBackoff(d time.Duration) EmbedderOption {
	return func(o *embedderOptions) {
		o.backoff = d
	}
}

// WithHTTPClient は HTTP クライアントを差し替える
func WithHTTPClient(client *http.Client) EmbedderOption {
	return func(o *embedderOptions) {
		o.httpClient = client
	}
}

// NewEmbedder は新しい Embedder を作成する。
// apiKey が空でもエラーにはせず、最初の呼び出しで ErrConfiguration を返す
func NewEmbedder(apiKey string, opts ...EmbedderOption) *Embedder {
	options := embedderOptions{
		baseURL:    DefaultBaseURL,
		model:      DefaultEmbeddingModel,
		dimension:  DefaultEmbeddingDimension,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultRetryBackoff,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.maxRetries < 0 {
		options.maxRetries = 0
	}
	if options.timeout <= 0 {
		options.timeout = DefaultTimeout
	}

	return &Embedder{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(options.baseURL, "/"),
		model:      options.model,
		dimension:  options.dimension,
		timeout:    options.timeout,
		maxRetries: options.maxRetries,
		backoff:    options.backoff,
		client:     options.httpClient,
	}
}

type embedRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// EmbedDocument は登録用テキストの Embedding を生成する
func (e *Embedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, inputTypeDocument)
}

// EmbedQuery は検索クエリの Embedding を生成する
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, inputTypeQuery)
}

func (e *Embedder) embed(ctx context.Context, text, inputType string) ([]float32, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("%w: VOYAGE_API_KEY is not set", knowledge.ErrConfiguration)
	}

	body, err := json.Marshal(embedRequest{
		Input:     []string{text},
		Model:     e.model,
		InputType: inputType,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.jitteredBackoff()):
			}
		}

		vector, err := e.post(ctx, body)
		if err == nil {
			return vector, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
	}

	return nil, lastErr
}

func (e *Embedder) post(ctx context.Context, body []byte) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		message := "request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			message = "request timed out"
		}
		return nil, &knowledge.ProviderError{Provider: ProviderName, Message: message, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		message := strings.TrimSpace(string(respBody))
		var apiErr errorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Detail != "" {
			message = apiErr.Detail
		}
		return nil, &knowledge.ProviderError{Provider: ProviderName, StatusCode: resp.StatusCode, Message: message}
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &knowledge.ProviderError{Provider: ProviderName, Message: "decode embed response", Err: err}
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, &knowledge.ProviderError{Provider: ProviderName, Message: "no embeddings returned"}
	}

	return result.Data[0].Embedding, nil
}

func (e *Embedder) jitteredBackoff() time.Duration {
	if e.backoff <= 0 {
		return 0
	}
	return e.backoff + rand.N(e.backoff)
}

// isTransient は 429、5xx、通信エラーのみをリトライ対象とする
func isTransient(err error) bool {
	var providerErr *knowledge.ProviderError
	if !errors.As(err, &providerErr) {
		return false
	}
	if providerErr.StatusCode == 0 {
		return providerErr.Err != nil
	}
	return providerErr.StatusCode == http.StatusTooManyRequests || providerErr.StatusCode >= 500
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
