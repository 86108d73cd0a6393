package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/legal-rag/internal/core/knowledge"
	"github.com/jinford/legal-rag/internal/infra/postgres"
)

// reindexLockName は reindex の多重実行を防ぐアドバイザリロック名
const reindexLockName = "legal-rag:reindex"

// DocumentFlags は index / update コマンドのフラグ
func DocumentFlags() []cli.Flag {
	return []cli.Flag{
		EnvFlag(),
		&cli.StringFlag{
			Name:     "kind",
			Usage:    "ドキュメント種別 (case/filing/hearing/client/ledger_entry/other)",
			Required: true,
		},
		&cli.Int64Flag{
			Name:     "source-id",
			Usage:    "元エンティティのID",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "file",
			Usage: "本文ファイルパス（\"-\" で標準入力。省略時は引数または標準入力）",
		},
		&cli.Int64Flag{
			Name:  "case-id",
			Usage: "関連する案件ID",
		},
		&cli.StringFlag{
			Name:  "case-number",
			Usage: "案件番号",
		},
		&cli.StringFlag{
			Name:  "status",
			Usage: "ステータス",
		},
		&cli.StringFlag{
			Name:  "court",
			Usage: "裁判所",
		},
		&cli.StringFlag{
			Name:  "category",
			Usage: "分野",
		},
		&cli.StringFlag{
			Name:  "date",
			Usage: "基準日 (YYYY-MM-DD)",
		},
	}
}

// IndexAction はテキストをチャンク分割してインデックスに登録する
func IndexAction(ctx context.Context, cmd *cli.Command) error {
	return runIndex(ctx, cmd, false)
}

// UpdateAction は既存のチャンクを削除してから再登録する
func UpdateAction(ctx context.Context, cmd *cli.Command) error {
	return runIndex(ctx, cmd, true)
}

func runIndex(ctx context.Context, cmd *cli.Command, replace bool) error {
	metadata, err := parseMetadata(cmd)
	if err != nil {
		return err
	}
	text, err := readText(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	indexer := appCtx.Container.Indexer
	var result *knowledge.IndexResult
	if replace {
		result = indexer.UpdateDocument(ctx, text, metadata)
	} else {
		result = indexer.IndexDocument(ctx, text, metadata)
	}

	if err := printJSON(result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("インデックス登録に失敗しました: %s", result.Error)
	}
	return nil
}

// RemoveAction はドキュメントの全チャンクを削除する
func RemoveAction(ctx context.Context, cmd *cli.Command) error {
	kind, err := knowledge.ParseKind(cmd.String("kind"))
	if err != nil {
		return err
	}
	sourceID := cmd.Int64("source-id")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, err := appCtx.Container.Indexer.RemoveDocument(ctx, kind, sourceID)
	if err != nil {
		return fmt.Errorf("削除に失敗しました: %w", err)
	}
	return printJSON(result)
}

// ReindexAction は全エンティティを再インデックスする。
// 他プロセスが実行中の場合はロックを取得できずに終了する
func ReindexAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	logger := appCtx.Logger()
	logger.Info("再インデックスを開始します")

	stats, err := postgres.WithAdvisoryLock(ctx, appCtx.Container.Database().Pool, reindexLockName,
		func(ctx context.Context) (*knowledge.ReindexStats, error) {
			return appCtx.Container.Indexer.ReindexAll(ctx)
		})
	if err != nil {
		if errors.Is(err, postgres.ErrLockNotAcquired) {
			return fmt.Errorf("別の再インデックスが実行中です: %w", err)
		}
		return fmt.Errorf("再インデックスに失敗しました: %w", err)
	}

	logger.Info("再インデックスが完了しました",
		slog.Any("perKind", stats.PerKind),
		slog.Int("errors", stats.ErrorCount),
		slog.Duration("duration", stats.Duration),
	)
	return printJSON(stats)
}

// StatsAction は種別ごとの登録チャンク数を表示する
func StatsAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	counts, err := appCtx.Container.VectorStore.CountByKind(ctx)
	if err != nil {
		return fmt.Errorf("集計に失敗しました: %w", err)
	}
	return printJSON(counts)
}

// parseMetadata はフラグから DocumentMetadata を組み立てる
func parseMetadata(cmd *cli.Command) (knowledge.DocumentMetadata, error) {
	kind, err := knowledge.ParseKind(cmd.String("kind"))
	if err != nil {
		return knowledge.DocumentMetadata{}, err
	}

	metadata := knowledge.DocumentMetadata{
		Kind:       kind,
		SourceID:   cmd.Int64("source-id"),
		CaseNumber: optionalFlag(cmd, "case-number"),
		Status:     optionalFlag(cmd, "status"),
		Court:      optionalFlag(cmd, "court"),
		Category:   optionalFlag(cmd, "category"),
	}
	if cmd.IsSet("case-id") {
		caseID := cmd.Int64("case-id")
		metadata.RelatedCaseID = &caseID
	}
	if raw := strings.TrimSpace(cmd.String("date")); raw != "" {
		date, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return knowledge.DocumentMetadata{}, fmt.Errorf("%w: invalid --date %q", knowledge.ErrInvalidInput, raw)
		}
		metadata.ReferenceDate = &date
	}
	return metadata, metadata.Validate()
}
