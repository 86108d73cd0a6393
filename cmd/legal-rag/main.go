package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/legal-rag/internal/app/cli"
	coresearch "github.com/jinford/legal-rag/internal/core/search"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "legal-rag",
		Usage: "法律事務所の業務データ向けセマンティック検索・RAG 基盤",
		Commands: []*cli.Command{
			{
				Name:      "index",
				Usage:     "テキストをチャンク分割してインデックスに登録",
				ArgsUsage: "[本文]",
				Flags:     appcli.DocumentFlags(),
				Action:    appcli.IndexAction,
			},
			{
				Name:      "update",
				Usage:     "ドキュメントの既存チャンクを置き換えて再登録",
				ArgsUsage: "[本文]",
				Flags:     appcli.DocumentFlags(),
				Action:    appcli.UpdateAction,
			},
			{
				Name:  "remove",
				Usage: "ドキュメントの全チャンクを削除",
				Flags: []cli.Flag{
					appcli.EnvFlag(),
					&cli.StringFlag{
						Name:     "kind",
						Usage:    "ドキュメント種別",
						Required: true,
					},
					&cli.Int64Flag{
						Name:     "source-id",
						Usage:    "元エンティティのID",
						Required: true,
					},
				},
				Action: appcli.RemoveAction,
			},
			{
				Name:   "reindex",
				Usage:  "全エンティティを再インデックス（インデックスを全削除してから再構築）",
				Flags:  []cli.Flag{appcli.EnvFlag()},
				Action: appcli.ReindexAction,
			},
			{
				Name:   "stats",
				Usage:  "種別ごとの登録チャンク数を表示",
				Flags:  []cli.Flag{appcli.EnvFlag()},
				Action: appcli.StatsAction,
			},
			{
				Name:      "search",
				Usage:     "意味検索",
				ArgsUsage: "<クエリ>",
				Flags:     appcli.SearchFlags(),
				Action:    appcli.SearchAction,
			},
			{
				Name:      "hybrid",
				Usage:     "意味検索と部分一致検索を組み合わせた検索",
				ArgsUsage: "<クエリ>",
				Flags:     appcli.SearchFlags(),
				Action:    appcli.HybridAction,
			},
			{
				Name:  "similar",
				Usage: "指定ドキュメントに類似する他のドキュメントを検索",
				Flags: []cli.Flag{
					appcli.EnvFlag(),
					&cli.StringFlag{
						Name:     "kind",
						Usage:    "基準ドキュメントの種別",
						Required: true,
					},
					&cli.Int64Flag{
						Name:     "source-id",
						Usage:    "基準ドキュメントのID",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "最大件数",
						Value: coresearch.DefaultSimilarLimit,
					},
				},
				Action: appcli.SimilarAction,
			},
			{
				Name:      "context",
				Usage:     "質問に対する RAG コンテキストを表示",
				ArgsUsage: "<質問>",
				Flags: []cli.Flag{
					appcli.EnvFlag(),
					&cli.IntFlag{
						Name:  "max-tokens",
						Usage: "コンテキストのトークン予算",
						Value: coresearch.DefaultMaxContextTokens,
					},
					&cli.BoolFlag{
						Name:  "raw",
						Usage: "コンテキスト文字列のみを出力",
					},
				},
				Action: appcli.ContextAction,
			},
			{
				Name:      "ask",
				Usage:     "RAG による質問応答",
				ArgsUsage: "<質問>",
				Flags: []cli.Flag{
					appcli.EnvFlag(),
					&cli.IntFlag{
						Name:  "max-tokens",
						Usage: "コンテキストのトークン予算",
						Value: coresearch.DefaultMaxContextTokens,
					},
					&cli.BoolFlag{
						Name:  "show-sources",
						Usage: "参照したドキュメントを表示",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "結果を JSON で出力",
					},
				},
				Action: appcli.AskAction,
			},
			{
				Name:  "cache",
				Usage: "Embedding キャッシュ管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "purge",
						Usage:  "有効期限切れのキャッシュを削除",
						Flags:  []cli.Flag{appcli.EnvFlag()},
						Action: appcli.CachePurgeAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
