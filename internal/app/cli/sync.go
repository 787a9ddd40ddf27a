package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/core/kbsync"
)

// SyncTriggerAction はマネージドインデックスの同期ジョブを開始するコマンドのアクション
func SyncTriggerAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	wait := cmd.Bool("wait")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	trigger, err := appCtx.Container.Trigger()
	if err != nil {
		return err
	}

	jobID, err := trigger.TriggerSync(ctx)
	if err != nil {
		slog.Error("同期ジョブの開始に失敗しました", "error", err)
		return err
	}
	fmt.Printf("同期ジョブを開始しました: %s\n", jobID)

	if !wait {
		return nil
	}
	return waitForJob(ctx, trigger, jobID)
}

// SyncStatusAction は同期ジョブの状態を表示するコマンドのアクション
func SyncStatusAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	jobID := cmd.String("job-id")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	trigger, err := appCtx.Container.Trigger()
	if err != nil {
		return err
	}

	if jobID == "" {
		// ジョブ未指定の場合は実行中のジョブを表示する
		jobs, err := trigger.ActiveJobs(ctx)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("実行中の同期ジョブはありません")
			return nil
		}
		for _, j := range jobs {
			fmt.Printf("%s: %s (started %s)\n", j.ID, j.Status, j.StartedAt.Format(time.RFC3339))
		}
		return nil
	}

	status, err := trigger.PollSyncStatus(ctx, jobID)
	if err != nil {
		return fmt.Errorf("ジョブ状態の取得に失敗: %w", err)
	}
	fmt.Printf("%s: %s\n", jobID, status)
	return nil
}

// SyncWaitAction は同期ジョブの終了を待つコマンドのアクション
func SyncWaitAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	jobID := cmd.String("job-id")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	trigger, err := appCtx.Container.Trigger()
	if err != nil {
		return err
	}
	return waitForJob(ctx, trigger, jobID)
}

func waitForJob(ctx context.Context, trigger *kbsync.Trigger, jobID string) error {
	status, err := trigger.WaitForJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, kbsync.ErrJobTimeout) {
			slog.Warn("同期ジョブの完了待ちがタイムアウトしました", "jobID", jobID, "status", status)
		}
		return err
	}

	fmt.Printf("%s: %s\n", jobID, status)
	if status != kbsync.JobStatusComplete {
		return fmt.Errorf("同期ジョブが %s で終了しました", status)
	}
	return nil
}
