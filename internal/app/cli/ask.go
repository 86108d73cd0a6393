package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v3"

	coreask "github.com/jinford/legal-rag/internal/core/ask"
)

// AskAction は質問応答コマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	showSources := cmd.Bool("show-sources")
	envFile := cmd.String("env")

	question := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("質問文を指定してください")
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	logger := appCtx.Logger()
	logger.Info("質問応答を開始", "question", question, "showSources", showSources)

	askService, err := appCtx.Container.AskService()
	if err != nil {
		return err
	}

	result, err := askService.Ask(ctx, coreask.AskParams{
		Query:            question,
		MaxContextTokens: cmd.Int("max-tokens"),
	})
	if err != nil {
		logger.Error("質問応答に失敗しました", "error", err)
		return err
	}

	if cmd.Bool("json") {
		return printJSON(result)
	}

	fmt.Println(result.Answer)

	// --show-sourcesフラグが指定されている場合、参照ソースも出力
	if showSources && len(result.Sources) > 0 {
		fmt.Println("\n--- Fontes ---")
		for i, source := range result.Sources {
			fmt.Printf("[%d] %s ID:%d (trecho %d) similaridade: %.4f\n",
				i+1,
				source.Kind.Label(),
				source.SourceID,
				source.ChunkIndex,
				source.Similarity,
			)
		}
	}

	logger.Info("質問応答が完了しました", slog.Int("sources", len(result.Sources)))
	return nil
}
