package search

import (
	"time"

	"github.com/google/uuid"

	"github.com/jinford/doc-rag/internal/core/document"
)

// Result はベクトル検索の結果を表す
type Result struct {
	DocumentID uuid.UUID      `json:"documentID"`
	ChunkIndex int            `json:"chunkIndex"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata"`
	Score      float64        `json:"score"`
}

// QueryParams は query 操作のパラメータ
type QueryParams struct {
	Text   string
	Filter document.Filter
	// TopK が 0 以下の場合はサービスのデフォルト値を使う
	TopK int
}

// QueryRecord は監査用のクエリ履歴
type QueryRecord struct {
	ID          uuid.UUID
	QueryText   string
	Filter      document.Filter
	TopK        int
	ResultCount int
	Latency     time.Duration
	Results     []*Result
	CreatedAt   time.Time
}
