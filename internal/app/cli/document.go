package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/infra/filesource"
)

// DocumentIngestAction は抽出済みテキスト1件を取り込むコマンドのアクション
func DocumentIngestAction(ctx context.Context, cmd *cli.Command) error {
	sourceKey := cmd.String("source-key")
	file := cmd.String("file")
	envFile := cmd.String("env")

	text, err := readText(file, cmd.String("text"))
	if err != nil {
		return err
	}
	metadata, err := parseMetadata(cmd.StringSlice("metadata"))
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	slog.Info("ドキュメント取り込みを開始", "sourceKey", sourceKey, "bytes", len(text))

	result, err := appCtx.Container.IngestionService.IngestDocument(ctx, ingestion.IngestRequest{
		SourceKey: sourceKey,
		Name:      cmd.String("name"),
		Text:      text,
		Tags:      tagsFromFlags(cmd),
		Metadata:  metadata,
	})
	if result != nil {
		renderIngestResult(result)
	}
	if err != nil {
		slog.Error("ドキュメント取り込みに失敗しました", "sourceKey", sourceKey, "error", err)
		return err
	}

	// 非同期モードの同期がバックグラウンドで終わるのを待ってから終了する
	appCtx.Container.IngestionService.WaitForSync()
	slog.Info("ドキュメント取り込みが完了しました", "documentID", result.DocumentID)
	return nil
}

// DocumentIngestDirAction はディレクトリ配下のテキストファイルを一括で取り込むコマンドのアクション
func DocumentIngestDirAction(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.String("dir")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	loader := filesource.NewLoader(dir,
		filesource.WithSourcePrefix(cmd.String("prefix")),
		filesource.WithTags(tagsFromFlags(cmd)),
		filesource.WithIgnorePatterns(cmd.StringSlice("exclude")...),
		filesource.WithLoaderLogger(appCtx.Logger()),
	)
	reqs, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("ファイルの読み込みに失敗: %w", err)
	}
	if len(reqs) == 0 {
		fmt.Println("取り込み対象のファイルがありません")
		return nil
	}

	slog.Info("一括取り込みを開始", "dir", dir, "files", len(reqs))
	items := appCtx.Container.IngestionService.IngestDocuments(ctx, reqs)
	appCtx.Container.IngestionService.WaitForSync()

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Source Key", "Status", "Chunks", "Failed", "Error")
	failed := 0
	for _, item := range items {
		status, chunks, failedChunks, msg := "-", 0, 0, ""
		if item.Result != nil {
			status = string(item.Result.Status)
			chunks = item.Result.ChunkCount
			failedChunks = item.Result.FailedChunks
			msg = item.Result.ErrorMessage
		}
		if item.Err != nil {
			failed++
			msg = item.Err.Error()
		}
		if err := table.Append(item.SourceKey, status, strconv.Itoa(chunks), strconv.Itoa(failedChunks), msg); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	slog.Info("一括取り込みが完了しました", "total", len(items), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d 件のドキュメントの取り込みに失敗しました", failed)
	}
	return nil
}

// DocumentStatusAction はドキュメントの状態を表示するコマンドのアクション
func DocumentStatusAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	ref, err := documentRefFromFlags(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	status, err := appCtx.Container.IngestionService.GetDocumentStatus(ctx, ref)
	if err != nil {
		return fmt.Errorf("ドキュメント状態の取得に失敗: %w", err)
	}
	st, ok := status.Get()
	if !ok {
		fmt.Println("ドキュメントが見つかりません")
		return nil
	}

	renderDocumentDetail(st)
	return nil
}

// DocumentListAction は状態ごとのドキュメント一覧を表示するコマンドのアクション
func DocumentListAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	status := document.Status(cmd.String("status"))
	limit := int(cmd.Int("limit"))

	filter, err := filterFromFlags(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	docs, err := appCtx.Container.IngestionService.ListDocuments(ctx, status, filter, limit)
	if err != nil {
		return fmt.Errorf("ドキュメント一覧の取得に失敗: %w", err)
	}
	if len(docs) == 0 {
		fmt.Println("該当するドキュメントはありません")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Source Key", "Status", "Chunks", "Updated At")
	for _, doc := range docs {
		if err := table.Append(
			doc.ID.String(),
			doc.Name,
			doc.SourceKey,
			string(doc.Status),
			strconv.Itoa(doc.ChunkCount),
			doc.UpdatedAt.Format("2006-01-02 15:04"),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

// DocumentFailedChunksAction は Embedding に失敗したチャンクを表示するコマンドのアクション
func DocumentFailedChunksAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	id, err := uuid.Parse(cmd.String("id"))
	if err != nil {
		return fmt.Errorf("不正なドキュメントIDです: %w", err)
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	chunks, err := appCtx.Container.IngestionService.ListFailedChunks(ctx, id)
	if err != nil {
		return fmt.Errorf("失敗チャンクの取得に失敗: %w", err)
	}
	if len(chunks) == 0 {
		fmt.Println("失敗したチャンクはありません")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Index", "Reason", "Text")
	for _, c := range chunks {
		if err := table.Append(strconv.Itoa(c.Index), derefString(c.ErrorReason), truncate(c.Text, 60)); err != nil {
			return err
		}
	}
	return table.Render()
}

// DocumentExportAction は completed チャンクを JSON Lines で書き出すコマンドのアクション
func DocumentExportAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	output := cmd.String("output")

	filter, err := filterFromFlags(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	var w io.Writer = os.Stdout
	if output != "" && output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("出力ファイルの作成に失敗: %w", err)
		}
		defer f.Close()
		w = f
	}

	n, err := appCtx.Container.IngestionService.ExportChunks(ctx, filter, w)
	if err != nil {
		return fmt.Errorf("チャンクのエクスポートに失敗: %w", err)
	}

	slog.Info("チャンクをエクスポートしました", "chunks", n, "output", output)
	return nil
}

func documentRefFromFlags(cmd *cli.Command) (ingestion.DocumentRef, error) {
	idStr := cmd.String("id")
	sourceKey := cmd.String("source-key")

	switch {
	case idStr != "" && sourceKey != "":
		return ingestion.DocumentRef{}, errors.New("--id と --source-key はどちらか一方を指定してください")
	case idStr != "":
		id, err := uuid.Parse(idStr)
		if err != nil {
			return ingestion.DocumentRef{}, fmt.Errorf("不正なドキュメントIDです: %w", err)
		}
		return ingestion.ByID(id), nil
	case sourceKey != "":
		return ingestion.BySourceKey(sourceKey), nil
	default:
		return ingestion.DocumentRef{}, errors.New("--id または --source-key を指定してください")
	}
}

// readText は --file（"-" は標準入力）または --text から本文を取得する
func readText(file, text string) (string, error) {
	switch {
	case file != "" && text != "":
		return "", errors.New("--file と --text はどちらか一方を指定してください")
	case file == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("標準入力の読み込みに失敗: %w", err)
		}
		return string(b), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("ファイルの読み込みに失敗: %w", err)
		}
		return string(b), nil
	default:
		return text, nil
	}
}

func renderIngestResult(r *ingestion.IngestResult) {
	fmt.Printf("\n=== 取り込み結果 ===\n\n")
	fmt.Printf("Document ID:   %s\n", r.DocumentID)
	fmt.Printf("Source Key:    %s\n", r.SourceKey)
	fmt.Printf("Status:        %s\n", r.Status)
	fmt.Printf("Chunks:        %d\n", r.ChunkCount)
	if r.FailedChunks > 0 {
		fmt.Printf("Failed Chunks: %d\n", r.FailedChunks)
	}
	if r.SyncJobID != "" {
		fmt.Printf("Sync Job:      %s\n", r.SyncJobID)
	}
	if r.ErrorMessage != "" {
		fmt.Printf("Error:         %s\n", r.ErrorMessage)
	}
}

func renderDocumentDetail(st *ingestion.DocumentStatus) {
	doc := st.Document
	fmt.Printf("\n=== ドキュメント詳細 ===\n\n")
	fmt.Printf("ID:            %s\n", doc.ID)
	fmt.Printf("Name:          %s\n", doc.Name)
	fmt.Printf("Source Key:    %s\n", doc.SourceKey)
	fmt.Printf("Status:        %s\n", doc.Status)
	fmt.Printf("Chunks:        %d\n", doc.ChunkCount)
	fmt.Printf("Failed Chunks: %d\n", st.FailedChunkCount)
	if doc.SyncJobID != nil {
		fmt.Printf("Sync Job:      %s\n", *doc.SyncJobID)
	}
	if doc.ErrorMessage != nil {
		fmt.Printf("Error:         %s\n", *doc.ErrorMessage)
	}
	fmt.Printf("Created At:    %s\n", doc.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated At:    %s\n", doc.UpdatedAt.Format(time.RFC3339))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
