package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/legal-rag/internal/core/knowledge"
	"github.com/jinford/legal-rag/internal/platform/config"
	"github.com/jinford/legal-rag/internal/platform/container"
	"github.com/jinford/legal-rag/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
}

// NewAppContext は設定ファイルを読み込み、DBに接続して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	cont, err := container.NewContainer(ctx, cfg, container.WithContainerLogger(appLogger))
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}

// EnvFlag は全コマンド共通の --env フラグ
func EnvFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

// FilterFlags は検索系コマンド共通のメタデータ絞り込みフラグ
func FilterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "kind",
			Usage: "ドキュメント種別で絞り込み (case/filing/hearing/client/ledger_entry/other、複数指定可)",
		},
		&cli.Int64Flag{
			Name:  "case-id",
			Usage: "関連する案件IDで絞り込み",
		},
		&cli.StringFlag{
			Name:  "status",
			Usage: "ステータスで絞り込み",
		},
		&cli.StringFlag{
			Name:  "court",
			Usage: "裁判所で絞り込み",
		},
		&cli.StringFlag{
			Name:  "category",
			Usage: "分野で絞り込み",
		},
	}
}

// parseFilter はフラグから MetadataFilter を組み立てる
func parseFilter(cmd *cli.Command) (knowledge.MetadataFilter, error) {
	var filter knowledge.MetadataFilter
	for _, raw := range cmd.StringSlice("kind") {
		kind, err := knowledge.ParseKind(raw)
		if err != nil {
			return knowledge.MetadataFilter{}, err
		}
		filter.Kinds = append(filter.Kinds, kind)
	}
	if cmd.IsSet("case-id") {
		caseID := cmd.Int64("case-id")
		filter.RelatedCaseID = &caseID
	}
	filter.Status = optionalFlag(cmd, "status")
	filter.Court = optionalFlag(cmd, "court")
	filter.Category = optionalFlag(cmd, "category")
	return filter, nil
}

// thresholdFlag は明示指定された場合のみ閾値を返す。0 も有効な値として扱う
func thresholdFlag(cmd *cli.Command) mo.Option[float64] {
	if !cmd.IsSet("threshold") {
		return mo.None[float64]()
	}
	return mo.Some(cmd.Float64("threshold"))
}

func optionalFlag(cmd *cli.Command, name string) *string {
	if !cmd.IsSet(name) {
		return nil
	}
	v := strings.TrimSpace(cmd.String(name))
	if v == "" {
		return nil
	}
	return &v
}

// readText は --file、引数、標準入力の順に本文を取得する。"-" は標準入力を表す
func readText(cmd *cli.Command) (string, error) {
	if path := cmd.String("file"); path != "" {
		if path == "-" {
			return readAll(os.Stdin)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("ファイルの読み込みに失敗: %w", err)
		}
		return string(data), nil
	}
	if cmd.Args().Present() {
		return strings.Join(cmd.Args().Slice(), " "), nil
	}
	return readAll(os.Stdin)
}

func readAll(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("標準入力の読み込みに失敗: %w", err)
	}
	return string(data), nil
}

// printJSON はコマンド結果を標準出力に JSON で書き出す
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
