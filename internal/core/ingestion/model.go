package ingestion

import (
	"github.com/google/uuid"

	"github.com/jinford/doc-rag/internal/core/document"
)

// IngestRequest は抽出済みテキスト1件分の取り込み要求
type IngestRequest struct {
	// SourceKey はオブジェクトストレージ上の位置など、ソースを一意に識別するキー
	SourceKey string
	// Name は表示名。空の場合は SourceKey の末尾要素を使う
	Name     string
	Text     string
	Tags     document.Tags
	Metadata map[string]any
}

// IngestResult は取り込み結果
type IngestResult struct {
	DocumentID   uuid.UUID
	SourceKey    string
	Status       document.Status
	ChunkCount   int // 保存に成功したチャンク数
	FailedChunks int
	ErrorMessage string
	SyncJobID    string // 同期モードでジョブを開始できた場合のみ
}

// BatchItem は IngestDocuments の1件分の結果
type BatchItem struct {
	SourceKey string
	Result    *IngestResult
	Err       error
}

// DocumentRef は ID か SourceKey のどちらかでドキュメントを指す
type DocumentRef struct {
	id        uuid.UUID
	sourceKey string
}

// ByID は ID で参照する DocumentRef を返す
func ByID(id uuid.UUID) DocumentRef {
	return DocumentRef{id: id}
}

// BySourceKey は SourceKey で参照する DocumentRef を返す
func BySourceKey(key string) DocumentRef {
	return DocumentRef{sourceKey: key}
}

// DocumentStatus は get_document_status の応答
type DocumentStatus struct {
	Document         *document.Document
	FailedChunkCount int
}

// ExportRecord はチャンクエクスポートの1行（JSON Lines）
type ExportRecord struct {
	DocumentID string         `json:"document_id"`
	ChunkID    string         `json:"chunk_id"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata"`
}
