package kbsync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// JobStatus はマネージドインデックスの同期ジョブの状態
type JobStatus string

const (
	JobStatusStarting   JobStatus = "STARTING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusComplete   JobStatus = "COMPLETE"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusStopping   JobStatus = "STOPPING"
	JobStatusStopped    JobStatus = "STOPPED"
)

// IsTerminal はジョブがこれ以上遷移しない状態かを返す
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusComplete, JobStatusFailed, JobStatusStopped:
		return true
	}
	return false
}

// Job は実行中または完了済みの同期ジョブ
type Job struct {
	ID        string
	Status    JobStatus
	StartedAt time.Time
}

var (
	// ErrSyncConflict は別のジョブが実行中のため開始できなかったことを表す（再試行可能）
	ErrSyncConflict = errors.New("sync job already running")

	// ErrMaxRetriesExceeded は競合による再試行回数の上限に達したことを表す
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrJobTimeout はジョブ完了待ちがタイムアウトしたことを表す
	ErrJobTimeout = errors.New("timed out waiting for sync job")
)

// SyncError は再試行しない同期エラー
type SyncError struct {
	IndexID  string
	Attempts int
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync for index %s failed after %d attempt(s): %v", e.IndexID, e.Attempts, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// JobController は外部のジョブ制御API。
// 競合は ErrSyncConflict をラップして返すこと。
type JobController interface {
	StartIngestionJob(ctx context.Context, indexID, sourceID string) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (JobStatus, error)
	ListActiveJobs(ctx context.Context, indexID string) ([]Job, error)
}
