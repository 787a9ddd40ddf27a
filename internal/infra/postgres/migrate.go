package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// defaultSchemaDimension は schema.sql に記述された embedding 列の次元数
const defaultSchemaDimension = 1536

// Schema は embedding 列の次元数を dimension に置き換えたスキーマDDLを返す
func Schema(dimension int) string {
	if dimension <= 0 || dimension == defaultSchemaDimension {
		return schemaSQL
	}
	return strings.ReplaceAll(schemaSQL,
		fmt.Sprintf("vector(%d)", defaultSchemaDimension),
		fmt.Sprintf("vector(%d)", dimension))
}

// Migrate はスキーマを適用する。全ての DDL は IF NOT EXISTS で冪等。
// 既存テーブルの次元数は変更しない。
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if _, err := pool.Exec(ctx, Schema(dimension)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
