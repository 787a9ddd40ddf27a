package document

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Status はドキュメントのライフサイクル状態
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid は既知の状態かどうかを返す
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ChunkStatus はチャンク単位の状態
type ChunkStatus string

const (
	ChunkStatusPending   ChunkStatus = "pending"
	ChunkStatusCompleted ChunkStatus = "completed"
	ChunkStatusFailed    ChunkStatus = "failed"
)

// Tags はドキュメントに付与される不透明な所属情報。
// アクセス制御には使用しない。
type Tags struct {
	TenantID  string
	UserID    string
	ProjectID string
	ThreadID  string
}

// Document はソース成果物1件に対応する
type Document struct {
	ID           uuid.UUID
	Name         string
	SourceKey    string
	Status       Status
	ChunkCount   int
	ErrorMessage *string
	SyncJobID    *string
	Tags         Tags
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chunk は永続化されたチャンク
type Chunk struct {
	DocumentID  uuid.UUID
	Index       int
	Text        string
	Embedding   []float32
	Status      ChunkStatus
	ErrorReason *string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChunkInput は UpsertChunks に渡す1チャンク分の入力。
// Status が completed の場合 Embedding は必須、failed の場合は無視される。
type ChunkInput struct {
	Index       int
	Text        string
	Embedding   []float32
	Status      ChunkStatus
	ErrorReason *string
	Metadata    map[string]any
}

// Filter は検索・取得時の絞り込み条件。
// DocumentIDs はいずれかに一致 (OR)、タグ条件は全て一致 (AND) で評価される。
type Filter struct {
	DocumentIDs []uuid.UUID
	TenantID    mo.Option[string]
	UserID      mo.Option[string]
	ProjectID   mo.Option[string]
	ThreadID    mo.Option[string]
}

// IsEmpty は条件が何も指定されていないかを返す
func (f Filter) IsEmpty() bool {
	return len(f.DocumentIDs) == 0 &&
		f.TenantID.IsAbsent() &&
		f.UserID.IsAbsent() &&
		f.ProjectID.IsAbsent() &&
		f.ThreadID.IsAbsent()
}

// Matches はドキュメントIDとタグが条件を満たすかを判定する
func (f Filter) Matches(documentID uuid.UUID, tags Tags) bool {
	if len(f.DocumentIDs) > 0 {
		found := false
		for _, id := range f.DocumentIDs {
			if id == documentID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return matchTag(f.TenantID, tags.TenantID) &&
		matchTag(f.UserID, tags.UserID) &&
		matchTag(f.ProjectID, tags.ProjectID) &&
		matchTag(f.ThreadID, tags.ThreadID)
}

func matchTag(want mo.Option[string], got string) bool {
	v, ok := want.Get()
	if !ok {
		return true
	}
	return v == got
}

// sourceKeyNamespace は SourceKey から DocumentID を導出するための名前空間
var sourceKeyNamespace = uuid.MustParse("6f1c2b9e-4d0a-5c7e-9a3b-2e8f0d6c1a47")

// IDFromSourceKey は SourceKey から安定した DocumentID を導出する。
// 同じソースの再取り込みは常に同じドキュメントを更新する。
func IDFromSourceKey(sourceKey string) uuid.UUID {
	return uuid.NewSHA1(sourceKeyNamespace, []byte(sourceKey))
}
