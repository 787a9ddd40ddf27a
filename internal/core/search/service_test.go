package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/document"
)

type stubEmbedder struct {
	called bool
	err    error
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.called = true
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 2, 3}, nil
}

type stubSearcher struct {
	results    []*Result
	lastK      int
	lastFilter document.Filter
	err        error
}

func (s *stubSearcher) TopK(ctx context.Context, queryVector []float32, k int, filter document.Filter) ([]*Result, error) {
	s.lastK = k
	s.lastFilter = filter
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type stubRecorder struct {
	records []*QueryRecord
	err     error
}

func (r *stubRecorder) RecordQuery(ctx context.Context, record *QueryRecord) error {
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, record)
	return nil
}

func (r *stubRecorder) ListRecentQueries(ctx context.Context, limit int) ([]*QueryRecord, error) {
	if len(r.records) > limit {
		return r.records[:limit], nil
	}
	return r.records, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{AddSource: false}))
}

func TestSearchService_QueryUsesDefaultTopKAndEmbedder(t *testing.T) {
	// Setup
	searcher := &stubSearcher{results: []*Result{{
		DocumentID: uuid.New(),
		ChunkIndex: 0,
		Text:       "test",
		Score:      0.9,
	}}}
	embedder := &stubEmbedder{}
	svc := NewSearchService(searcher, embedder, WithSearchLogger(discardLogger()))

	// Execute
	results, err := svc.Query(context.Background(), QueryParams{Text: "hello", TopK: 0})

	// Assert
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, DefaultTopK, searcher.lastK)
	assert.True(t, embedder.called)
}

func TestSearchService_QueryPassesFilter(t *testing.T) {
	searcher := &stubSearcher{}
	svc := NewSearchService(searcher, &stubEmbedder{}, WithSearchLogger(discardLogger()), WithDefaultTopK(8))
	filter := document.Filter{ProjectID: mo.Some("p1")}

	_, err := svc.Query(context.Background(), QueryParams{Text: "hello", Filter: filter})

	require.NoError(t, err)
	assert.Equal(t, 8, searcher.lastK)
	assert.Equal(t, filter, searcher.lastFilter)
}

func TestSearchService_QueryValidation(t *testing.T) {
	embedder := &stubEmbedder{}
	svc := NewSearchService(&stubSearcher{}, embedder, WithSearchLogger(discardLogger()))

	_, err := svc.Query(context.Background(), QueryParams{Text: "  "})

	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.False(t, embedder.called)
}

func TestSearchService_QueryPropagatesErrors(t *testing.T) {
	t.Run("Embedding失敗", func(t *testing.T) {
		cause := errors.New("embedding failed")
		svc := NewSearchService(&stubSearcher{}, &stubEmbedder{err: cause}, WithSearchLogger(discardLogger()))

		_, err := svc.Query(context.Background(), QueryParams{Text: "q"})

		assert.ErrorIs(t, err, cause)
	})

	t.Run("検索失敗", func(t *testing.T) {
		cause := errors.New("db down")
		recorder := &stubRecorder{}
		svc := NewSearchService(&stubSearcher{err: cause}, &stubEmbedder{},
			WithSearchLogger(discardLogger()), WithQueryRecorder(recorder))

		_, err := svc.Query(context.Background(), QueryParams{Text: "q"})

		assert.ErrorIs(t, err, cause)
		assert.Empty(t, recorder.records)
	})
}

func TestSearchService_QueryRecordsHistory(t *testing.T) {
	searcher := &stubSearcher{results: []*Result{{Text: "a", Score: 0.5}, {Text: "b", Score: 0.1}}}
	recorder := &stubRecorder{}
	svc := NewSearchService(searcher, &stubEmbedder{}, WithSearchLogger(discardLogger()), WithQueryRecorder(recorder))

	_, err := svc.Query(context.Background(), QueryParams{Text: "what is rag", TopK: 3})
	require.NoError(t, err)

	require.Len(t, recorder.records, 1)
	rec := recorder.records[0]
	assert.Equal(t, "what is rag", rec.QueryText)
	assert.Equal(t, 3, rec.TopK)
	assert.Equal(t, 2, rec.ResultCount)
	assert.NotEqual(t, uuid.Nil, rec.ID)

	recent, err := svc.RecentQueries(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestSearchService_RecorderFailureIsIgnored(t *testing.T) {
	searcher := &stubSearcher{results: []*Result{{Text: "a"}}}
	recorder := &stubRecorder{err: errors.New("insert failed")}
	svc := NewSearchService(searcher, &stubEmbedder{}, WithSearchLogger(discardLogger()), WithQueryRecorder(recorder))

	results, err := svc.Query(context.Background(), QueryParams{Text: "q"})

	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchService_RecentQueriesWithoutRecorder(t *testing.T) {
	svc := NewSearchService(&stubSearcher{}, &stubEmbedder{})

	recent, err := svc.RecentQueries(context.Background(), 10)

	require.NoError(t, err)
	assert.Empty(t, recent)
}
