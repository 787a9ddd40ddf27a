package postgres

import (
	"context"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/search"
	"github.com/jinford/doc-rag/internal/infra/postgres/sqlc"
)

// VectorSearcher は pgvector の HNSW インデックスを使って search.Searcher を実装する。
// フィルタは WHERE 句で評価され、ORDER BY / LIMIT より先に適用される。
//
// HNSW は近似検索のため、選択性の高いフィルタと組み合わせると
// 一致するチャンクが k 件未満しか返らない場合がある（hnsw.ef_search に依存）。
// 厳密な結果が必要な場合は search.BruteForceSearcher を使う。
type VectorSearcher struct {
	q sqlc.Querier
}

// NewVectorSearcher は新しい VectorSearcher を返す。
func NewVectorSearcher(q sqlc.Querier) *VectorSearcher {
	return &VectorSearcher{q: q}
}

var _ search.Searcher = (*VectorSearcher)(nil)

// TopK はコサイン距離の昇順（スコアの降順）で上位 k 件を返す。
// 同距離の場合は (document_id, chunk_index) 順になる。
func (s *VectorSearcher) TopK(ctx context.Context, queryVector []float32, k int, filter document.Filter) ([]*search.Result, error) {
	if k <= 0 {
		return []*search.Result{}, nil
	}

	// ゼロベクトルとのコサイン距離は NaN になるため、全件スコア0の走査順として扱う
	if isZeroVector(queryVector) {
		return s.zeroVectorResults(ctx, queryVector, k, filter)
	}

	fp := newFilterParams(filter)
	rows, err := s.q.SearchCompletedChunks(ctx, sqlc.SearchCompletedChunksParams{
		QueryVector: pgvector.NewVector(queryVector),
		DocumentIds: fp.DocumentIDs,
		TenantID:    fp.TenantID,
		UserID:      fp.UserID,
		ProjectID:   fp.ProjectID,
		ThreadID:    fp.ThreadID,
		RowLimit:    int32(k),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	results := make([]*search.Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, &search.Result{
			DocumentID: PgtypeToUUID(row.DocumentID),
			ChunkIndex: int(row.ChunkIndex),
			Text:       row.ChunkText,
			Metadata:   JSONBToMetadata(row.Metadata),
			Score:      row.Score,
		})
	}
	return results, nil
}

func (s *VectorSearcher) zeroVectorResults(ctx context.Context, queryVector []float32, k int, filter document.Filter) ([]*search.Result, error) {
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
			Metadata:   JSONBToMetadata(row.Metadata),
		})
	}
	return search.RankChunks(queryVector, chunks, k), nil
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
