package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/doc-rag/internal/core/document"
)

var (
	// ErrExtractionEmpty は抽出済みテキストに単語が1つもない場合のエラー
	ErrExtractionEmpty = errors.New("extracted text is empty")

	// ErrEmbeddingFailed は全チャンクの Embedding 生成に失敗した場合のエラー
	ErrEmbeddingFailed = errors.New("embedding failed for every chunk")

	// ErrInvalidRequest は取り込みリクエストが不正な場合のエラー
	ErrInvalidRequest = errors.New("invalid ingest request")
)

// StoreWriteError はチャンクのバッチ書き込みに失敗したことを表す。
// Indices に含まれるチャンクはいずれもコミットされていない。
type StoreWriteError struct {
	DocumentID uuid.UUID
	Indices    []int
	Err        error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("failed to write %d chunk(s) of document %s (indices %v): %v",
		len(e.Indices), e.DocumentID, e.Indices, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// StatusUpdate はドキュメント状態の更新内容。
// None のフィールドは既存の値を維持する。
type StatusUpdate struct {
	Status       mo.Option[document.Status]
	ErrorMessage mo.Option[string]
	ChunkCount   mo.Option[int]
	SyncJobID    mo.Option[string]
	// ClearError が true の場合は error_message を NULL に戻す
	ClearError bool
}

// Repository はドキュメントとチャンクの永続化を担うチャンクストア。
// テスト時のモック用に消費者側で定義
type Repository interface {
	// UpsertDocument は SourceKey をキーにドキュメントを作成または更新し、保存後の行を返す
	UpsertDocument(ctx context.Context, doc *document.Document) (*document.Document, error)
	// UpsertChunks は (document_id, chunk_index) をキーにバッチ単位で原子的に upsert する。
	// 失敗時は *StoreWriteError を返す。
	UpsertChunks(ctx context.Context, documentID uuid.UUID, chunks []document.ChunkInput) error
	// DeleteChunksFrom は fromIndex 以降のチャンクを削除する
	DeleteChunksFrom(ctx context.Context, documentID uuid.UUID, fromIndex int) error
	// FetchCompletedChunks は completed 状態のチャンクのみを (document_id, chunk_index) 順で返す。
	// failed のドキュメントに属するチャンクは含めない。
	FetchCompletedChunks(ctx context.Context, filter document.Filter) ([]*document.Chunk, error)
	// ListFailedChunks は failed 状態のチャンクを返す
	ListFailedChunks(ctx context.Context, documentID uuid.UUID) ([]*document.Chunk, error)
	// CountFailedChunks は failed 状態のチャンク数を返す
	CountFailedChunks(ctx context.Context, documentID uuid.UUID) (int, error)

	UpdateDocumentStatus(ctx context.Context, documentID uuid.UUID, update StatusUpdate) error
	GetDocument(ctx context.Context, id uuid.UUID) (mo.Option[*document.Document], error)
	GetDocumentBySourceKey(ctx context.Context, sourceKey string) (mo.Option[*document.Document], error)
	// ListDocumentsByStatus は作成日時の新しい順に最大 limit 件を返す
	ListDocumentsByStatus(ctx context.Context, status document.Status, filter document.Filter, limit int) ([]*document.Document, error)
}
