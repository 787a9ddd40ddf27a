package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jinford/doc-rag/internal/shared/clock"
)

const (
	// DefaultMaxAttempts は1テキストあたりの最大試行回数
	DefaultMaxAttempts = 3
	// DefaultRetryBase は線形バックオフの基準時間（base * attempt）
	DefaultRetryBase = 2 * time.Second
)

var (
	// ErrEmptyText は空文字列の Embedding を要求した場合のエラー
	ErrEmptyText = errors.New("empty text")

	// ErrDimensionMismatch はプロバイダが想定外の次元のベクトルを返した場合のエラー
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// EmbeddingError はリトライを使い切っても Embedding を得られなかったことを表す。
// ゼロベクトルの代わりに返される。
type EmbeddingError struct {
	Attempts int
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// Provider は外部 Embedding サービスのインターフェース
type Provider interface {
	// Embed は単一テキストの Embedding を生成する
	Embed(ctx context.Context, text string) ([]float32, error)
	// BatchEmbed は入力と同じ順序で Embedding を生成する
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension はベクトルの次元数を返す
	Dimension() int
	// MaxBatchSize は1回のバッチ呼び出しの最大件数を返す
	MaxBatchSize() int
}

// Outcome はバッチ内1件分の結果。Vector と Err のどちらか一方が設定される。
type Outcome struct {
	Vector []float32
	Err    error
}

// Embedder は Provider にリトライとスロットリングを付与する。
// 状態は呼び出し間で保持しない。
type Embedder struct {
	provider    Provider
	maxAttempts int
	retryBase   time.Duration
	limiter     *rate.Limiter
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// Option は Embedder のオプション設定
type Option func(*Embedder)

// WithMaxAttempts は最大試行回数を設定する
func WithMaxAttempts(n int) Option {
	return func(e *Embedder) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithRetryBase は線形バックオフの基準時間を設定する
func WithRetryBase(d time.Duration) Option {
	return func(e *Embedder) {
		if d >= 0 {
			e.retryBase = d
		}
	}
}

// WithRateLimit は毎秒のリクエスト上限を設定する（0以下で無制限）
func WithRateLimit(perSecond float64) Option {
	return func(e *Embedder) {
		if perSecond <= 0 {
			e.limiter = nil
			return
		}
		burst := max(int(perSecond), 1)
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithSleeper は待機関数を差し替える（テスト用）
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Embedder) {
		e.sleep = sleep
	}
}

// WithEmbedderLogger はロガーを設定する
func WithEmbedderLogger(logger *slog.Logger) Option {
	return func(e *Embedder) {
		e.logger = logger
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(provider Provider, opts ...Option) *Embedder {
	e := &Embedder{
		provider:    provider,
		maxAttempts: DefaultMaxAttempts,
		retryBase:   DefaultRetryBase,
		sleep:       clock.Sleep,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Dimension はベクトルの次元数を返す
func (e *Embedder) Dimension() int {
	return e.provider.Dimension()
}

// MaxBatchSize はプロバイダのバッチ上限を返す
func (e *Embedder) MaxBatchSize() int {
	return e.provider.MaxBatchSize()
}

// Embed は単一テキストの Embedding を生成する。
// 失敗時は base*attempt の間隔で再試行し、上限に達すると *EmbeddingError を返す。
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &EmbeddingError{Attempts: 0, Err: ErrEmptyText}
	}

	var vec []float32
	attempts, err := e.retry(ctx, "embed", func() error {
		v, err := e.provider.Embed(ctx, text)
		if err != nil {
			return err
		}
		if err := e.checkDimension(v); err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, &EmbeddingError{Attempts: attempts, Err: err}
	}
	return vec, nil
}

// EmbedBatch は入力と同じ順序で1件ずつの結果を返す。
// まずバッチ呼び出しを試み、失敗または件数不一致の場合は1件ずつ Embed にフォールバックする。
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) []Outcome {
	outcomes := make([]Outcome, len(texts))
	if len(texts) == 0 {
		return outcomes
	}

	// 空テキストはバッチに含めない
	pending := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			outcomes[i].Err = &EmbeddingError{Attempts: 0, Err: ErrEmptyText}
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return outcomes
	}

	batch := make([]string, len(pending))
	for j, idx := range pending {
		batch[j] = texts[idx]
	}

	var vectors [][]float32
	_, err := e.retry(ctx, "batch_embed", func() error {
		v, err := e.provider.BatchEmbed(ctx, batch)
		if err != nil {
			return err
		}
		if len(v) != len(batch) {
			return fmt.Errorf("batch returned %d vectors for %d texts", len(v), len(batch))
		}
		for _, vec := range v {
			if err := e.checkDimension(vec); err != nil {
				return err
			}
		}
		vectors = v
		return nil
	})
	if err == nil {
		for j, idx := range pending {
			outcomes[idx].Vector = vectors[j]
		}
		return outcomes
	}

	if ctx.Err() != nil {
		for _, idx := range pending {
			outcomes[idx].Err = &EmbeddingError{Attempts: 0, Err: ctx.Err()}
		}
		return outcomes
	}

	e.logger.Warn("バッチEmbeddingに失敗したため1件ずつ再試行します",
		"batch_size", len(batch),
		"error", err,
	)
	for _, idx := range pending {
		vec, err := e.Embed(ctx, texts[idx])
		outcomes[idx] = Outcome{Vector: vec, Err: err}
	}
	return outcomes
}

// retry は fn を最大 maxAttempts 回実行し、実行回数と最後のエラーを返す
func (e *Embedder) retry(ctx context.Context, op string, fn func() error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return attempt - 1, err
			}
		}

		err := fn()
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		// 次元不一致とキャンセルは再試行しても結果が変わらない
		if errors.Is(err, ErrDimensionMismatch) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return attempt, err
		}
		if attempt == e.maxAttempts {
			break
		}

		delay := e.retryBase * time.Duration(attempt)
		e.logger.Warn("Embedding生成に失敗、再試行します",
			"op", op,
			"attempt", attempt,
			"max_attempts", e.maxAttempts,
			"delay", delay,
			"error", err,
		)
		if err := e.sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
	return e.maxAttempts, lastErr
}

func (e *Embedder) checkDimension(v []float32) error {
	want := e.provider.Dimension()
	if want > 0 && len(v) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), want)
	}
	return nil
}
