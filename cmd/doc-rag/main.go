package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/doc-rag/internal/app/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "doc-rag",
		Usage: "抽出済みドキュメントのチャンク化・Embedding・類似検索エンジン",
		Commands: []*cli.Command{
			documentCommand(),
			{
				Name:      "query",
				Usage:     "類似チャンクを検索",
				ArgsUsage: "<検索文>",
				Flags: append([]cli.Flag{
					appcli.EnvFlag(),
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "返す件数（省略時は TOP_K）",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "JSON形式で出力",
					},
				}, appcli.FilterFlags()...),
				Action: appcli.QueryAction,
			},
			{
				Name:  "history",
				Usage: "最近のクエリ履歴を表示",
				Flags: []cli.Flag{
					appcli.EnvFlag(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "表示件数",
						Value: 20,
					},
				},
				Action: appcli.HistoryAction,
			},
			syncCommand(),
			{
				Name:  "db",
				Usage: "データベース管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "migrate",
						Usage:  "スキーマを適用（冪等）",
						Flags:  []cli.Flag{appcli.EnvFlag()},
						Action: appcli.DBMigrateAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
		os.Exit(1)
	}
}

func documentCommand() *cli.Command {
	return &cli.Command{
		Name:  "document",
		Usage: "ドキュメント管理コマンド",
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "抽出済みテキストを取り込む",
				Flags: append([]cli.Flag{
					appcli.EnvFlag(),
					&cli.StringFlag{
						Name:     "source-key",
						Usage:    "ソースを一意に識別するキー（例: s3://bucket/path/file.txt）",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "表示名（省略時はソースキーの末尾）",
					},
					&cli.StringFlag{
						Name:  "file",
						Usage: "テキストファイルパス（- で標準入力）",
					},
					&cli.StringFlag{
						Name:  "text",
						Usage: "テキスト本文",
					},
					&cli.StringSliceFlag{
						Name:  "metadata",
						Usage: "チャンクに付与するメタデータ（key=value）",
					},
				}, appcli.TagFlags()...),
				Action: appcli.DocumentIngestAction,
			},
			{
				Name:  "ingest-dir",
				Usage: "ディレクトリ配下のテキストファイルを一括で取り込む",
				Flags: append([]cli.Flag{
					appcli.EnvFlag(),
					&cli.StringFlag{
						Name:     "dir",
						Usage:    "ディレクトリパス",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "prefix",
						Usage: "ソースキーの接頭辞（例: s3://bucket/docs）",
					},
					&cli.StringSliceFlag{
						Name:  "exclude",
						Usage: "追加の除外パターン（.gitignore 形式）",
					},
				}, appcli.TagFlags()...),
				Action: appcli.DocumentIngestDirAction,
			},
			{
				Name:  "status",
				Usage: "ドキュメントの状態を表示",
				Flags: []cli.Flag{
					appcli.EnvFlag(),
					&cli.StringFlag{
						Name:  "id",
						Usage: "ドキュメントID",
					},
					&cli.StringFlag{
						Name:  "source-key",
						Usage: "ソースキー",
					},
				},
				Action: appcli.DocumentStatusAction,
			},
			{
				Name:  "list",
				Usage: "状態ごとのドキュメント一覧を表示",
				Flags: append([]cli.Flag{
					appcli.EnvFlag(),
					&cli.StringFlag{
						Name:  "status",
						Usage: "pending / processing / completed / failed",
						Value: "completed",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "表示件数",
						Value: 100,
					},
				}, appcli.FilterFlags()...),
				Action: appcli.DocumentListAction,
			},
			{
				Name:  "failed-chunks",
				Usage: "Embedding に失敗したチャンクを表示",
				Flags: []cli.Flag{
					appcli.EnvFlag(),
					&cli.StringFlag{
						Name:     "id",
						Usage:    "ドキュメントID",
						Required: true,
					},
				},
				Action: appcli.DocumentFailedChunksAction,
			},
			{
				Name:  "export",
				Usage: "completed チャンクを JSON Lines で書き出す",
				Flags: append([]cli.Flag{
					appcli.EnvFlag(),
					&cli.StringFlag{
						Name:  "output",
						Usage: "出力ファイルパス（省略時は標準出力）",
					},
				}, appcli.FilterFlags()...),
				Action: appcli.DocumentExportAction,
			},
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "マネージドインデックス同期コマンド",
		Commands: []*cli.Command{
			{
				Name:  "trigger",
				Usage: "同期ジョブを開始（実行中のジョブがあれば待機・再試行）",
				Flags: []cli.Flag{
					appcli.EnvFlag(),
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "ジョブの終了まで待つ",
					},
				},
				Action: appcli.SyncTriggerAction,
			},
			{
				Name:  "status",
				Usage: "同期ジョブの状態を表示（省略時は実行中のジョブ一覧）",
				Flags: []cli.Flag{
					appcli.EnvFlag(),
					&cli.StringFlag{
						Name:  "job-id",
						Usage: "ジョブID",
					},
				},
				Action: appcli.SyncStatusAction,
			},
			{
				Name:  "wait",
				Usage: "同期ジョブの終了を待つ",
				Flags: []cli.Flag{
					appcli.EnvFlag(),
					&cli.StringFlag{
						Name:     "job-id",
						Usage:    "ジョブID",
						Required: true,
					},
				},
				Action: appcli.SyncWaitAction,
			},
		},
	}
}
