package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/jinford/legal-rag/internal/core/knowledge"
	coresearch "github.com/jinford/legal-rag/internal/core/search"
)

// SearchFlags は search / hybrid コマンドのフラグ
func SearchFlags() []cli.Flag {
	flags := []cli.Flag{
		EnvFlag(),
		&cli.IntFlag{
			Name:  "limit",
			Usage: fmt.Sprintf("最大件数（上限 %d）", coresearch.AbsoluteMaxResults),
			Value: coresearch.DefaultLimit,
		},
		&cli.Float64Flag{
			Name:  "threshold",
			Usage: fmt.Sprintf("類似度の下限（省略時 %.1f）", coresearch.DefaultThreshold),
		},
	}
	return append(flags, FilterFlags()...)
}

// SearchAction は意味検索を実行する
func SearchAction(ctx context.Context, cmd *cli.Command) error {
	return runSearch(ctx, cmd, false)
}

// HybridAction は意味検索と部分一致検索を組み合わせて実行する
func HybridAction(ctx context.Context, cmd *cli.Command) error {
	return runSearch(ctx, cmd, true)
}

func runSearch(ctx context.Context, cmd *cli.Command, hybrid bool) error {
	query := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("検索クエリを指定してください")
	}
	filter, err := parseFilter(cmd)
	if err != nil {
		return err
	}
	opts := coresearch.SearchOptions{
		Limit:     cmd.Int("limit"),
		Threshold: thresholdFlag(cmd),
		Filter:    filter,
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	retriever := appCtx.Container.Retriever
	var results []knowledge.SemanticSearchResult
	if hybrid {
		results, err = retriever.HybridSearch(ctx, query, opts)
	} else {
		results, err = retriever.SemanticSearch(ctx, query, opts)
	}
	if err != nil {
		return fmt.Errorf("検索に失敗しました: %w", err)
	}
	return printJSON(results)
}

// SimilarAction は指定ドキュメントに類似する他のドキュメントを検索する
func SimilarAction(ctx context.Context, cmd *cli.Command) error {
	kind, err := knowledge.ParseKind(cmd.String("kind"))
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	results, err := appCtx.Container.Retriever.FindSimilar(ctx, kind, cmd.Int64("source-id"), cmd.Int("limit"))
	if err != nil {
		return fmt.Errorf("類似検索に失敗しました: %w", err)
	}
	return printJSON(results)
}

// ContextAction は質問に対する RAG コンテキストを組み立てて表示する
func ContextAction(ctx context.Context, cmd *cli.Command) error {
	query := strings.Join(cmd.Args().Slice(), " ")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	rag, err := appCtx.Container.Retriever.BuildRagContext(ctx, query, cmd.Int("max-tokens"))
	if err != nil {
		return fmt.Errorf("コンテキストの構築に失敗しました: %w", err)
	}
	if cmd.Bool("raw") {
		fmt.Println(rag.Context)
		return nil
	}
	return printJSON(rag)
}
