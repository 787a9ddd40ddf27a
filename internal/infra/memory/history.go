package memory

import (
	"context"
	"sync"

	"github.com/jinford/doc-rag/internal/core/search"
)

// QueryHistory は search.QueryRecorder のメモリ実装。
// 保持件数を超えた古い履歴から破棄する。
type QueryHistory struct {
	mu       sync.Mutex
	records  []*search.QueryRecord
	capacity int
}

// NewQueryHistory は最大 capacity 件を保持する QueryHistory を返す
func NewQueryHistory(capacity int) *QueryHistory {
	if capacity <= 0 {
		capacity = 1000
	}
	return &QueryHistory{capacity: capacity}
}

var _ search.QueryRecorder = (*QueryHistory)(nil)

func (h *QueryHistory) RecordQuery(ctx context.Context, record *search.QueryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, record)
	if over := len(h.records) - h.capacity; over > 0 {
		h.records = h.records[over:]
	}
	return nil
}

// ListRecentQueries は新しい順に最大 limit 件を返す
func (h *QueryHistory) ListRecentQueries(ctx context.Context, limit int) ([]*search.QueryRecord, error) {
	if limit <= 0 {
		return []*search.QueryRecord{}, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*search.QueryRecord, 0, min(limit, len(h.records)))
	for i := len(h.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.records[i])
	}
	return out, nil
}
