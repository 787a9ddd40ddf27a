package search

import (
	"context"

	"github.com/jinford/doc-rag/internal/core/document"
)

// Searcher は類似度検索の共通契約。
// フィルタは必ずランキングの前に適用し、同点の場合はストアの走査順を維持する。
type Searcher interface {
	TopK(ctx context.Context, queryVector []float32, k int, filter document.Filter) ([]*Result, error)
}

// ChunkSource は completed 状態のチャンクを読み出す
type ChunkSource interface {
	FetchCompletedChunks(ctx context.Context, filter document.Filter) ([]*document.Chunk, error)
}

// QueryRecorder はクエリ履歴を保存する
type QueryRecorder interface {
	RecordQuery(ctx context.Context, record *QueryRecord) error
	ListRecentQueries(ctx context.Context, limit int) ([]*QueryRecord, error)
}
