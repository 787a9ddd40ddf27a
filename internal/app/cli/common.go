package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/platform/config"
	"github.com/jinford/doc-rag/internal/platform/container"
	"github.com/jinford/doc-rag/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.Container
}

// loadConfig は設定を読み込み、ロガーを初期化する
func loadConfig(envFile string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	appLogger := logger.New(logger.Config{Level: level, Format: cfg.Log.Format})
	return cfg, appLogger, nil
}

// NewAppContext は設定ファイルを読み込み、依存関係を初期化して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, appLogger, err := loadConfig(envFile)
	if err != nil {
		return nil, err
	}

	cont, err := container.New(ctx, appLogger, cfg)
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

// EnvFlag は全コマンド共通の環境変数ファイル指定
func EnvFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

// FilterFlags は検索・一覧系コマンド共通の絞り込みフラグ
func FilterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{Name: "document-id", Usage: "ドキュメントID（複数指定はOR）"},
		&cli.StringFlag{Name: "tenant", Usage: "テナントID"},
		&cli.StringFlag{Name: "user", Usage: "ユーザーID"},
		&cli.StringFlag{Name: "project", Usage: "プロジェクトID"},
		&cli.StringFlag{Name: "thread", Usage: "スレッドID"},
	}
}

// TagFlags は取り込み時に付与するタグのフラグ
func TagFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "tenant", Usage: "テナントID"},
		&cli.StringFlag{Name: "user", Usage: "ユーザーID"},
		&cli.StringFlag{Name: "project", Usage: "プロジェクトID"},
		&cli.StringFlag{Name: "thread", Usage: "スレッドID"},
	}
}

func filterFromFlags(cmd *cli.Command) (document.Filter, error) {
	filter := document.Filter{
		TenantID:  optionalString(cmd.String("tenant")),
		UserID:    optionalString(cmd.String("user")),
		ProjectID: optionalString(cmd.String("project")),
		ThreadID:  optionalString(cmd.String("thread")),
	}
	for _, s := range cmd.StringSlice("document-id") {
		id, err := uuid.Parse(s)
		if err != nil {
			return document.Filter{}, fmt.Errorf("不正なドキュメントIDです: %s", s)
		}
		filter.DocumentIDs = append(filter.DocumentIDs, id)
	}
	return filter, nil
}

func tagsFromFlags(cmd *cli.Command) document.Tags {
	return document.Tags{
		TenantID:  cmd.String("tenant"),
		UserID:    cmd.String("user"),
		ProjectID: cmd.String("project"),
		ThreadID:  cmd.String("thread"),
	}
}

func optionalString(s string) mo.Option[string] {
	if s == "" {
		return mo.None[string]()
	}
	return mo.Some(s)
}

// parseMetadata は key=value 形式のフラグ値をメタデータに変換する
func parseMetadata(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("メタデータは key=value 形式で指定してください: %s", pair)
		}
		m[k] = v
	}
	return m, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
