package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// CachePurgeAction は有効期限切れの Embedding キャッシュを削除する
func CachePurgeAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	purged, err := appCtx.Container.Cache.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("キャッシュの削除に失敗しました: %w", err)
	}

	appCtx.Logger().Info("期限切れキャッシュを削除しました", "purged", purged)
	return printJSON(map[string]int64{"purged": purged})
}
