package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v3"

	"github.com/jinford/legal-rag/internal/core/knowledge"
)

// toProviderError は SDK のエラーを ProviderError に変換する。
// 呼び出し元のコンテキストが終了している場合はそのエラーをそのまま返す
func toProviderError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = apiErr.Error()
		}
		return &knowledge.ProviderError{
			Provider:   ProviderName,
			StatusCode: apiErr.StatusCode,
			Message:    message,
			Err:        err,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &knowledge.ProviderError{Provider: ProviderName, Message: "request timed out", Err: err}
	}

	return &knowledge.ProviderError{Provider: ProviderName, Message: err.Error(), Err: err}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}

	return false
}
