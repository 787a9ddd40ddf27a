package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/core/search"
)

// QueryAction は類似チャンク検索コマンドのアクション
func QueryAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	topK := int(cmd.Int("top-k"))
	asJSON := cmd.Bool("json")

	// 検索文の取得
	text := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("検索文を指定してください")
	}

	filter, err := filterFromFlags(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	slog.Info("検索を開始", "query", text, "topK", topK)

	results, err := appCtx.Container.SearchService.Query(ctx, search.QueryParams{
		Text:   text,
		Filter: filter,
		TopK:   topK,
	})
	if err != nil {
		slog.Error("検索に失敗しました", "error", err)
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("該当するチャンクはありません")
		return nil
	}
	for i, r := range results {
		name, _ := r.Metadata["document_name"].(string)
		fmt.Printf("[%d] %s #%d スコア: %.4f\n", i+1, name, r.ChunkIndex, r.Score)
		fmt.Printf("    %s\n", truncate(r.Text, 200))
	}
	return nil
}

// HistoryAction は最近のクエリ履歴を表示するコマンドのアクション
func HistoryAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	limit := int(cmd.Int("limit"))

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	records, err := appCtx.Container.SearchService.RecentQueries(ctx, limit)
	if err != nil {
		return fmt.Errorf("クエリ履歴の取得に失敗: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("クエリ履歴はありません")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Created At", "Query", "Top K", "Results", "Latency", "Best Score")
	for _, rec := range records {
		best := "-"
		if len(rec.Results) > 0 {
			best = strconv.FormatFloat(rec.Results[0].Score, 'f', 4, 64)
		}
		if err := table.Append(
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
			truncate(rec.QueryText, 40),
			strconv.Itoa(rec.TopK),
			strconv.Itoa(rec.ResultCount),
			rec.Latency.String(),
			best,
		); err != nil {
			return err
		}
	}
	return table.Render()
}
