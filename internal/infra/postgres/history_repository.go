package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/search"
	"github.com/jinford/doc-rag/internal/infra/postgres/sqlc"
	"github.com/jinford/doc-rag/internal/platform/database"
)

// QueryHistoryRepository は search.QueryRecorder を実装する PostgreSQL リポジトリ。
type QueryHistoryRepository struct {
	q  sqlc.Querier
	tx *database.TransactionProvider
}

// NewQueryHistoryRepository は新しい QueryHistoryRepository を返す。
func NewQueryHistoryRepository(q sqlc.Querier, tx *database.TransactionProvider) *QueryHistoryRepository {
	return &QueryHistoryRepository{q: q, tx: tx}
}

var _ search.QueryRecorder = (*QueryHistoryRepository)(nil)

// filterJSON は query_history.filter 列の JSON 表現
type filterJSON struct {
	DocumentIDs []string `json:"document_ids,omitempty"`
	TenantID    *string  `json:"tenant_id,omitempty"`
	UserID      *string  `json:"user_id,omitempty"`
	ProjectID   *string  `json:"project_id,omitempty"`
	ThreadID    *string  `json:"thread_id,omitempty"`
}

func encodeFilter(f document.Filter) ([]byte, error) {
	fj := filterJSON{
		TenantID:  f.TenantID.ToPointer(),
		UserID:    f.UserID.ToPointer(),
		ProjectID: f.ProjectID.ToPointer(),
		ThreadID:  f.ThreadID.ToPointer(),
	}
	for _, id := range f.DocumentIDs {
		fj.DocumentIDs = append(fj.DocumentIDs, id.String())
	}
	return json.Marshal(fj)
}

func decodeFilter(b []byte) document.Filter {
	var fj filterJSON
	if err := json.Unmarshal(b, &fj); err != nil {
		return document.Filter{}
	}
	f := document.Filter{
		TenantID:  mo.PointerToOption(fj.TenantID),
		UserID:    mo.PointerToOption(fj.UserID),
		ProjectID: mo.PointerToOption(fj.ProjectID),
		ThreadID:  mo.PointerToOption(fj.ThreadID),
	}
	for _, s := range fj.DocumentIDs {
		if id, err := uuid.Parse(s); err == nil {
			f.DocumentIDs = append(f.DocumentIDs, id)
		}
	}
	return f
}

// RecordQuery はクエリと結果を1トランザクションで保存する
func (r *QueryHistoryRepository) RecordQuery(ctx context.Context, record *search.QueryRecord) error {
	filter, err := encodeFilter(record.Filter)
	if err != nil {
		return fmt.Errorf("failed to encode filter: %w", err)
	}

	_, err = database.Transact(ctx, r.tx, func(a *database.Adapter) (struct{}, error) {
		if err := a.Queries.CreateQueryHistory(ctx, sqlc.CreateQueryHistoryParams{
			ID:          UUIDToPgtype(record.ID),
			QueryText:   sanitizeText(record.QueryText),
			Filter:      filter,
			TopK:        int32(record.TopK),
			ResultCount: int32(record.ResultCount),
			LatencyMs:   record.Latency.Milliseconds(),
			CreatedAt:   TimeToPgtype(record.CreatedAt),
		}); err != nil {
			return struct{}{}, fmt.Errorf("failed to insert query history: %w", err)
		}

		for i, res := range record.Results {
			metadata, err := MetadataToJSONB(res.Metadata)
			if err != nil {
				return struct{}{}, err
			}
			if err := a.Queries.CreateQueryResult(ctx, sqlc.CreateQueryResultParams{
				QueryID:    UUIDToPgtype(record.ID),
				Rank:       int32(i + 1),
				DocumentID: UUIDToPgtype(res.DocumentID),
				ChunkIndex: int32(res.ChunkIndex),
				Score:      res.Score,
				ChunkText:  res.Text,
				Metadata:   metadata,
			}); err != nil {
				return struct{}{}, fmt.Errorf("failed to insert query result: %w", err)
			}
		}
		return struct{}{}, nil
	})
	return err
}

// ListRecentQueries は新しい順にクエリ履歴を結果付きで返す
func (r *QueryHistoryRepository) ListRecentQueries(ctx context.Context, limit int) ([]*search.QueryRecord, error) {
	rows, err := r.q.ListRecentQueries(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list query history: %w", err)
	}
	if len(rows) == 0 {
		return []*search.QueryRecord{}, nil
	}

	records := make([]*search.QueryRecord, 0, len(rows))
	byID := make(map[uuid.UUID]*search.QueryRecord, len(rows))
	ids := make([]pgtype.UUID, 0, len(rows))
	for _, row := range rows {
		rec := &search.QueryRecord{
			ID:          PgtypeToUUID(row.ID),
			QueryText:   row.QueryText,
			Filter:      decodeFilter(row.Filter),
			TopK:        int(row.TopK),
			ResultCount: int(row.ResultCount),
			Latency:     time.Duration(row.LatencyMs) * time.Millisecond,
			CreatedAt:   PgtypeToTime(row.CreatedAt),
		}
		records = append(records, rec)
		byID[rec.ID] = rec
		ids = append(ids, row.ID)
	}

	results, err := r.q.ListQueryResults(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list query results: %w", err)
	}
	for _, row := range results {
		rec, ok := byID[PgtypeToUUID(row.QueryID)]
		if !ok {
			continue
		}
		rec.Results = append(rec.Results, &search.Result{
			DocumentID: PgtypeToUUID(row.DocumentID),
			ChunkIndex: int(row.ChunkIndex),
			Text:       row.ChunkText,
			Metadata:   JSONBToMetadata(row.Metadata),
			Score:      row.Score,
		})
	}

	return records, nil
}
