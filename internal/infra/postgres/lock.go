package postgres

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrLockNotAcquired は他のプロセスが同じロックを保持している場合のエラー
var ErrLockNotAcquired = errors.New("advisory lock is held by another session")

// GenerateLockID は文字列からロックIDを生成します
func GenerateLockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
	}
	hash := h.Sum(nil)

	// ハッシュの最初の8バイトをint64として使用
	var id int64
	for i := range 8 {
		id = (id << 8) | int64(hash[i])
	}

	return id
}

// WithAdvisoryLock はトランザクションスコープのアドバイザリロックを取得して fn を実行する。
// ロックが取得できない場合は待たずに ErrLockNotAcquired を返す。
// ロックはトランザクション終了時に自動的に解放される
func WithAdvisoryLock[T any](ctx context.Context, pool *pgxpool.Pool, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	lockID := GenerateLockID("legal-rag", name)

	return Transact(ctx, pool, func(tx pgx.Tx) (T, error) {
		var zero T
		var acquired bool
		if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", lockID).Scan(&acquired); err != nil {
			return zero, fmt.Errorf("failed to acquire advisory lock: %w", err)
		}
		if !acquired {
			return zero, fmt.Errorf("%w: %s", ErrLockNotAcquired, name)
		}
		return fn(ctx)
	})
}
