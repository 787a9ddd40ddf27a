package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTopK はデフォルトの取得件数
const DefaultTopK = 5

// ErrEmptyQuery はクエリ文字列が空の場合のエラー
var ErrEmptyQuery = errors.New("query is required")

// Embedder はテキストのEmbedding生成インターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchService は検索のビジネスロジックを提供する
type SearchService struct {
	searcher    Searcher
	embedder    Embedder
	recorder    QueryRecorder
	defaultTopK int
	logger      *slog.Logger
	now         func() time.Time
}

// SearchOption は SearchService のオプション設定
type SearchOption func(*SearchService)

// WithSearchLogger はロガーを設定する
func WithSearchLogger(logger *slog.Logger) SearchOption {
	return func(s *SearchService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithQueryRecorder はクエリ履歴の保存先を設定する
func WithQueryRecorder(recorder QueryRecorder) SearchOption {
	return func(s *SearchService) {
		s.recorder = recorder
	}
}

// WithDefaultTopK は TopK 未指定時の件数を設定する
func WithDefaultTopK(k int) SearchOption {
	return func(s *SearchService) {
		if k > 0 {
			s.defaultTopK = k
		}
	}
}

// NewSearchService は新しいSearchServiceを作成する
func NewSearchService(searcher Searcher, embedder Embedder, opts ...SearchOption) *SearchService {
	s := &SearchService{
		searcher:    searcher,
		embedder:    embedder,
		defaultTopK: DefaultTopK,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query はクエリ文字列を Embedding に変換して類似チャンクを返す
func (s *SearchService) Query(ctx context.Context, params QueryParams) ([]*Result, error) {
	// バリデーション
	if strings.TrimSpace(params.Text) == "" {
		return nil, ErrEmptyQuery
	}

	topK := params.TopK
	if topK <= 0 {
		topK = s.defaultTopK
	}

	startTime := s.now()

	// クエリをEmbeddingに変換
	queryVector, err := s.embedder.Embed(ctx, params.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.searcher.TopK(ctx, queryVector, topK, params.Filter)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	latency := s.now().Sub(startTime)
	s.logger.Debug("検索を実行", "top_k", topK, "results", len(results), "latency", latency)

	s.record(ctx, &QueryRecord{
		ID:          uuid.New(),
		QueryText:   params.Text,
		Filter:      params.Filter,
		TopK:        topK,
		ResultCount: len(results),
		Latency:     latency,
		Results:     results,
		CreatedAt:   startTime,
	})

	return results, nil
}

// RecentQueries は新しい順にクエリ履歴を返す
func (s *SearchService) RecentQueries(ctx context.Context, limit int) ([]*QueryRecord, error) {
	if s.recorder == nil {
		return []*QueryRecord{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	records, err := s.recorder.ListRecentQueries(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list query history: %w", err)
	}
	return records, nil
}

// record はクエリ履歴をベストエフォートで保存する
func (s *SearchService) record(ctx context.Context, record *QueryRecord) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordQuery(context.WithoutCancel(ctx), record); err != nil {
		s.logger.Warn("クエリ履歴の保存に失敗", "query_id", record.ID, "error", err)
	}
}
