package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/infra/postgres"
	"github.com/jinford/doc-rag/internal/platform/database"
)

// DBMigrateAction はスキーマを適用するコマンドのアクション。
// Embedding サービスの設定は不要。
func DBMigrateAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	cfg, _, err := loadConfig(envFile)
	if err != nil {
		return err
	}

	db, err := database.New(ctx, database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("データベース接続に失敗: %w", err)
	}
	defer db.Close()

	slog.Info("スキーマを適用します", "dimension", cfg.OpenAI.EmbeddingDimension)
	if err := postgres.Migrate(ctx, db.Pool, cfg.OpenAI.EmbeddingDimension); err != nil {
		return err
	}
	slog.Info("スキーマを適用しました")
	return nil
}
