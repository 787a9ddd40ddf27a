package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/mo"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/core/search"
	"github.com/jinford/doc-rag/internal/infra/postgres/sqlc"
	"github.com/jinford/doc-rag/internal/platform/database"
)

// ErrDocumentNotFound は状態更新対象のドキュメントが存在しない場合のエラー
var ErrDocumentNotFound = errors.New("document not found")

// chunkLockNamespace はチャンク書き込みのアドバイザリロックの名前空間
const chunkLockNamespace = "document_chunks"

// ChunkStore は ingestion.Repository インターフェースを実装する PostgreSQL リポジトリです
type ChunkStore struct {
	q  sqlc.Querier
	tx *database.TransactionProvider
}

// NewChunkStore は新しい ChunkStore を作成します
func NewChunkStore(q sqlc.Querier, tx *database.TransactionProvider) *ChunkStore {
	return &ChunkStore{q: q, tx: tx}
}

// コンパイル時の型チェック
var (
	_ ingestion.Repository = (*ChunkStore)(nil)
	_ search.ChunkSource   = (*ChunkStore)(nil)
)

// === Document ===

func (s *ChunkStore) UpsertDocument(ctx context.Context, doc *document.Document) (*document.Document, error) {
	row, err := s.q.UpsertDocument(ctx, sqlc.UpsertDocumentParams{
		ID:        UUIDToPgtype(doc.ID),
		Name:      sanitizeText(doc.Name),
		SourceKey: doc.SourceKey,
		Status:    string(doc.Status),
		TenantID:  StringToNullableText(doc.Tags.TenantID),
		UserID:    StringToNullableText(doc.Tags.UserID),
		ProjectID: StringToNullableText(doc.Tags.ProjectID),
		ThreadID:  StringToNullableText(doc.Tags.ThreadID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert document: %w", err)
	}
	return convertDocument(row), nil
}

func (s *ChunkStore) GetDocument(ctx context.Context, id uuid.UUID) (mo.Option[*document.Document], error) {
	row, err := s.q.GetDocument(ctx, UUIDToPgtype(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*document.Document](), nil
		}
		return mo.None[*document.Document](), fmt.Errorf("failed to get document: %w", err)
	}
	return mo.Some(convertDocument(row)), nil
}

func (s *ChunkStore) GetDocumentBySourceKey(ctx context.Context, sourceKey string) (mo.Option[*document.Document], error) {
	row, err := s.q.GetDocumentBySourceKey(ctx, sourceKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*document.Document](), nil
		}
		return mo.None[*document.Document](), fmt.Errorf("failed to get document by source key: %w", err)
	}
	return mo.Some(convertDocument(row)), nil
}

func (s *ChunkStore) UpdateDocumentStatus(ctx context.Context, documentID uuid.UUID, update ingestion.StatusUpdate) error {
	errorMessage := OptionToPgtext(update.ErrorMessage)
	if errorMessage.Valid {
		errorMessage.String = sanitizeText(errorMessage.String)
	}

	affected, err := s.q.UpdateDocumentStatus(ctx, sqlc.UpdateDocumentStatusParams{
		Status:       statusToPgtext(update.Status),
		ClearError:   update.ClearError,
		ErrorMessage: errorMessage,
		ChunkCount:   OptionIntToPgInt4(update.ChunkCount),
		SyncJobID:    OptionToPgtext(update.SyncJobID),
		ID:           UUIDToPgtype(documentID),
	})
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	return nil
}

func (s *ChunkStore) ListDocumentsByStatus(ctx context.Context, status document.Status, filter document.Filter, limit int) ([]*document.Document, error) {
	fp := newFilterParams(filter)
	rows, err := s.q.ListDocumentsByStatus(ctx, sqlc.ListDocumentsByStatusParams{
		Status:      string(status),
		DocumentIds: fp.DocumentIDs,
		TenantID:    fp.TenantID,
		UserID:      fp.UserID,
		ProjectID:   fp.ProjectID,
		ThreadID:    fp.ThreadID,
		RowLimit:    int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	docs := make([]*document.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, convertDocument(row))
	}
	return docs, nil
}

// === Chunk ===

// UpsertChunks はバッチを1トランザクションで upsert する。
// 同一ドキュメントへの書き込みはアドバイザリロックで直列化される。
func (s *ChunkStore) UpsertChunks(ctx context.Context, documentID uuid.UUID, chunks []document.ChunkInput) error {
	if len(chunks) == 0 {
		return nil
	}

	params := make([]sqlc.UpsertChunkParams, 0, len(chunks))
	for _, c := range chunks {
		p, err := toUpsertChunkParams(documentID, c)
		if err != nil {
			return newStoreWriteError(documentID, chunks, err)
		}
		params = append(params, p)
	}

	_, err := database.Transact(ctx, s.tx, func(a *database.Adapter) (struct{}, error) {
		if err := a.Locks.Acquire(ctx, database.GenerateLockID(chunkLockNamespace, documentID.String())); err != nil {
			return struct{}{}, err
		}
		for _, p := range params {
			if err := a.Queries.UpsertChunk(ctx, p); err != nil {
				return struct{}{}, fmt.Errorf("chunk %d: %w", p.ChunkIndex, err)
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return newStoreWriteError(documentID, chunks, err)
	}
	return nil
}

func (s *ChunkStore) DeleteChunksFrom(ctx context.Context, documentID uuid.UUID, fromIndex int) error {
	if err := s.q.DeleteChunksFrom(ctx, sqlc.DeleteChunksFromParams{
		DocumentID: UUIDToPgtype(documentID),
		ChunkIndex: int32(fromIndex),
	}); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *ChunkStore) FetchCompletedChunks(ctx context.Context, filter document.Filter) ([]*document.Chunk, error) {
	fp := newFilterParams(filter)
	rows, err := s.q.FetchCompletedChunks(ctx, sqlc.FetchCompletedChunksParams{
		DocumentIds: fp.DocumentIDs,
		TenantID:    fp.TenantID,
		UserID:      fp.UserID,
		ProjectID:   fp.ProjectID,
		ThreadID:    fp.ThreadID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch completed chunks: %w", err)
	}

	chunks := make([]*document.Chunk, 0, len(rows))
	for _, row := range rows {
		chunks = append(chunks, &document.Chunk{
			DocumentID: PgtypeToUUID(row.DocumentID),
			Index:      int(row.ChunkIndex),
			Text:       row.ChunkText,
			Embedding:  PgvectorToSlice(row.Embedding),
			Status:     document.ChunkStatus(row.Status),
			Metadata:   JSONBToMetadata(row.Metadata),
			CreatedAt:  PgtypeToTime(row.CreatedAt),
			UpdatedAt:  PgtypeToTime(row.UpdatedAt),
		})
	}
	return chunks, nil
}

func (s *ChunkStore) ListFailedChunks(ctx context.Context, documentID uuid.UUID) ([]*document.Chunk, error) {
	rows, err := s.q.ListFailedChunks(ctx, UUIDToPgtype(documentID))
	if err != nil {
		return nil, fmt.Errorf("failed to list failed chunks: %w", err)
	}

	chunks := make([]*document.Chunk, 0, len(rows))
	for _, row := range rows {
		chunks = append(chunks, &document.Chunk{
			DocumentID:  PgtypeToUUID(row.DocumentID),
			Index:       int(row.ChunkIndex),
			Text:        row.ChunkText,
			Status:      document.ChunkStatus(row.Status),
			ErrorReason: PgtextToStringPtr(row.ErrorReason),
			Metadata:    JSONBToMetadata(row.Metadata),
			CreatedAt:   PgtypeToTime(row.CreatedAt),
			UpdatedAt:   PgtypeToTime(row.UpdatedAt),
		})
	}
	return chunks, nil
}

func (s *ChunkStore) CountFailedChunks(ctx context.Context, documentID uuid.UUID) (int, error) {
	count, err := s.q.CountFailedChunks(ctx, UUIDToPgtype(documentID))
	if err != nil {
		return 0, fmt.Errorf("failed to count failed chunks: %w", err)
	}
	return int(count), nil
}

func toUpsertChunkParams(documentID uuid.UUID, c document.ChunkInput) (sqlc.UpsertChunkParams, error) {
	if c.Index < 0 {
		return sqlc.UpsertChunkParams{}, fmt.Errorf("chunk index must not be negative: %d", c.Index)
	}

	metadata, err := MetadataToJSONB(c.Metadata)
	if err != nil {
		return sqlc.UpsertChunkParams{}, err
	}

	p := sqlc.UpsertChunkParams{
		DocumentID: UUIDToPgtype(documentID),
		ChunkIndex: int32(c.Index),
		ChunkText:  sanitizeText(c.Text),
		Status:     string(c.Status),
		Metadata:   metadata,
	}

	switch c.Status {
	case document.ChunkStatusCompleted:
		if len(c.Embedding) == 0 {
			return sqlc.UpsertChunkParams{}, fmt.Errorf("completed chunk %d has no embedding", c.Index)
		}
		p.Embedding = VectorToPgvector(c.Embedding)
	case document.ChunkStatusFailed:
		p.ErrorReason = StringPtrToPgtext(c.ErrorReason)
	}

	return p, nil
}

func newStoreWriteError(documentID uuid.UUID, chunks []document.ChunkInput, err error) *ingestion.StoreWriteError {
	indices := make([]int, len(chunks))
	for i, c := range chunks {
		indices[i] = c.Index
	}
	return &ingestion.StoreWriteError{DocumentID: documentID, Indices: indices, Err: err}
}
