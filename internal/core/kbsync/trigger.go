package kbsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jinford/doc-rag/internal/shared/clock"
)

const (
	DefaultMaxAttempts  = 8
	DefaultBackoffBase  = 5 * time.Second
	DefaultMaxJitter    = 3 * time.Second
	DefaultWaitTimeout  = 60 * time.Second
	DefaultPollInterval = 5 * time.Second
	DefaultJobTimeout   = 120 * time.Second

	// MaxAttemptsLimit は MaxAttempts に指定できる上限
	MaxAttemptsLimit = 32
)

// maxBackoffShift を超える試行回数でも待機時間は 2^maxBackoffShift 倍で頭打ちになる
const maxBackoffShift = 30

// Config は同期トリガーの設定。
// インデックスIDとソースIDは起動時に一度だけ解決して渡す。
type Config struct {
	IndexID  string
	SourceID string

	// MaxAttempts は競合時を含むジョブ開始の最大試行回数
	MaxAttempts int
	// BackoffBase は指数バックオフの基準時間（base * 2^attempt）
	BackoffBase time.Duration
	// MaxJitter はバックオフに加える一様乱数の上限
	MaxJitter time.Duration
	// WaitTimeout は実行中ジョブの終了待ちの上限。超えた場合は開始を試みる
	WaitTimeout  time.Duration
	PollInterval time.Duration
	// JobTimeout は WaitForJob の上限
	JobTimeout time.Duration
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig(indexID, sourceID string) Config {
	return Config{
		IndexID:      indexID,
		SourceID:     sourceID,
		MaxAttempts:  DefaultMaxAttempts,
		BackoffBase:  DefaultBackoffBase,
		MaxJitter:    DefaultMaxJitter,
		WaitTimeout:  DefaultWaitTimeout,
		PollInterval: DefaultPollInterval,
		JobTimeout:   DefaultJobTimeout,
	}
}

func (c *Config) normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxAttempts > MaxAttemptsLimit {
		c.MaxAttempts = MaxAttemptsLimit
	}
	if c.BackoffBase < 0 {
		c.BackoffBase = 0
	}
	if c.MaxJitter < 0 {
		c.MaxJitter = 0
	}
	if c.WaitTimeout < 0 {
		c.WaitTimeout = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
}

// Trigger はマネージドインデックスの同期ジョブを起動する。
// ジョブ開始前に毎回実行中ジョブを確認し、競合時は指数バックオフで再試行する。
type Trigger struct {
	controller JobController
	config     Config
	logger     *slog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	jitter func() float64
}

// Option は Trigger のオプション設定
type Option func(*Trigger)

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trigger) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock は待機関数と現在時刻を差し替える（テスト用）
func WithClock(sleep func(ctx context.Context, d time.Duration) error, now func() time.Time) Option {
	return func(t *Trigger) {
		t.sleep = sleep
		t.now = now
	}
}

// WithJitterSource は [0, 1) の乱数源を差し替える（テスト用）
func WithJitterSource(jitter func() float64) Option {
	return func(t *Trigger) {
		t.jitter = jitter
	}
}

// NewTrigger は新しい Trigger を作成する
func NewTrigger(controller JobController, config Config, opts ...Option) *Trigger {
	config.normalize()
	t := &Trigger{
		controller: controller,
		config:     config,
		logger:     slog.Default(),
		sleep:      clock.Sleep,
		now:        time.Now,
		jitter:     rand.Float64,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Config は解決済みの設定を返す
func (t *Trigger) Config() Config {
	return t.config
}

// TriggerSync は同期ジョブを開始し、ジョブIDを返す。
// 競合以外の開始エラーは即座に *SyncError を返す。
func (t *Trigger) TriggerSync(ctx context.Context) (string, error) {
	logger := t.logger.With("index_id", t.config.IndexID, "source_id", t.config.SourceID)

	var lastErr error
	for attempt := 0; attempt < t.config.MaxAttempts; attempt++ {
		free, err := t.WaitUntilFree(ctx)
		if err != nil {
			return "", &SyncError{IndexID: t.config.IndexID, Attempts: attempt + 1, Err: err}
		}
		if !free {
			logger.Warn("実行中の同期ジョブが終わらないため開始を試みます", "attempt", attempt+1)
		}

		jobID, err := t.controller.StartIngestionJob(ctx, t.config.IndexID, t.config.SourceID)
		if err == nil {
			logger.Info("同期ジョブを開始", "job_id", jobID, "attempt", attempt+1)
			return jobID, nil
		}
		if !errors.Is(err, ErrSyncConflict) {
			return "", &SyncError{IndexID: t.config.IndexID, Attempts: attempt + 1, Err: err}
		}
		lastErr = err

		if attempt == t.config.MaxAttempts-1 {
			break
		}

		delay := t.backoff(attempt)
		logger.Warn("同期ジョブが競合、バックオフ後に再試行します",
			"attempt", attempt+1,
			"max_attempts", t.config.MaxAttempts,
			"delay", delay,
		)
		if err := t.sleep(ctx, delay); err != nil {
			return "", &SyncError{IndexID: t.config.IndexID, Attempts: attempt + 1, Err: err}
		}
	}

	return "", &SyncError{
		IndexID:  t.config.IndexID,
		Attempts: t.config.MaxAttempts,
		Err:      fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr),
	}
}

// WaitUntilFree は実行中のジョブがなくなるまでポーリングする。
// WaitTimeout を超えた場合は false を返す。ジョブ一覧の取得失敗は空きとみなす。
func (t *Trigger) WaitUntilFree(ctx context.Context) (bool, error) {
	deadline := t.now().Add(t.config.WaitTimeout)
	for {
		busy, err := t.isBusy(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			t.logger.Warn("実行中ジョブの確認に失敗", "index_id", t.config.IndexID, "error", err)
			return true, nil
		}
		if !busy {
			return true, nil
		}
		if !t.now().Before(deadline) {
			return false, nil
		}
		if err := t.sleep(ctx, t.config.PollInterval); err != nil {
			return false, err
		}
	}
}

func (t *Trigger) isBusy(ctx context.Context) (bool, error) {
	jobs, err := t.controller.ListActiveJobs(ctx, t.config.IndexID)
	if err != nil {
		return false, err
	}
	for _, j := range jobs {
		if !j.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

// ActiveJobs は設定されたインデックスで実行中のジョブを返す
func (t *Trigger) ActiveJobs(ctx context.Context) ([]Job, error) {
	jobs, err := t.controller.ListActiveJobs(ctx, t.config.IndexID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	active := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if !j.Status.IsTerminal() {
			active = append(active, j)
		}
	}
	return active, nil
}

// PollSyncStatus はジョブの現在の状態を返す
func (t *Trigger) PollSyncStatus(ctx context.Context, jobID string) (JobStatus, error) {
	status, err := t.controller.GetJobStatus(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("failed to get job status: %w", err)
	}
	return status, nil
}

// WaitForJob はジョブが終了状態になるまで JobTimeout を上限にポーリングする
func (t *Trigger) WaitForJob(ctx context.Context, jobID string) (JobStatus, error) {
	deadline := t.now().Add(t.config.JobTimeout)
	for {
		status, err := t.PollSyncStatus(ctx, jobID)
		if err != nil {
			return "", err
		}
		if status.IsTerminal() {
			return status, nil
		}
		if !t.now().Before(deadline) {
			return status, fmt.Errorf("%w: job %s is %s", ErrJobTimeout, jobID, status)
		}
		if err := t.sleep(ctx, t.config.PollInterval); err != nil {
			return status, err
		}
	}
}

// backoff は attempt（0始まり）回目の競合後の待機時間を返す
func (t *Trigger) backoff(attempt int) time.Duration {
	shift := min(max(attempt, 0), maxBackoffShift)
	if t.config.BackoffBase > math.MaxInt64>>shift {
		return time.Duration(math.MaxInt64)
	}
	delay := t.config.BackoffBase << shift
	if t.config.MaxJitter > 0 {
		jitter := time.Duration(t.jitter() * float64(t.config.MaxJitter))
		if delay > math.MaxInt64-jitter {
			return time.Duration(math.MaxInt64)
		}
		delay += jitter
	}
	return delay
}
