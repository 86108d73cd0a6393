package knowledge

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput は空文字列など利用できない入力
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration は選択中のプロバイダに認証情報が設定されていない
	ErrConfiguration = errors.New("configuration error")

	// ErrProvider は上流の Embedding 呼び出しの失敗。自動リトライ対象ではない
	ErrProvider = errors.New("embedding provider error")

	// ErrNotFound は参照ドキュメント/チャンクが存在しない
	ErrNotFound = errors.New("not found")

	// ErrStore は Vector Store の読み書き失敗
	ErrStore = errors.New("vector store error")
)

// ProviderError は上流のステータスとメッセージを保持する
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// StoreError は失敗した操作名を保持する
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }
