package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/chunking"
	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/embedding"
)

// fakeRepo はテスト用のインメモリ Repository。
// XxxFunc が設定されている場合はそちらを優先する。
type fakeRepo struct {
	mu     sync.Mutex
	docs   map[uuid.UUID]*document.Document
	chunks map[uuid.UUID]map[int]*document.Chunk

	UpsertChunksFunc         func(ctx context.Context, documentID uuid.UUID, chunks []document.ChunkInput) error
	UpdateDocumentStatusFunc func(ctx context.Context, documentID uuid.UUID, update StatusUpdate) error

	upsertCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		docs:   make(map[uuid.UUID]*document.Document),
		chunks: make(map[uuid.UUID]map[int]*document.Chunk),
	}
}

func (r *fakeRepo) UpsertDocument(ctx context.Context, doc *document.Document) (*document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.SourceKey == doc.SourceKey {
			d.Name = doc.Name
			d.Status = doc.Status
			d.Tags = doc.Tags
			cp := *d
			return &cp, nil
		}
	}
	cp := *doc
	r.docs[doc.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeRepo) UpsertChunks(ctx context.Context, documentID uuid.UUID, chunks []document.ChunkInput) error {
	r.mu.Lock()
	r.upsertCalls++
	r.mu.Unlock()
	if r.UpsertChunksFunc != nil {
		if err := r.UpsertChunksFunc(ctx, documentID, chunks); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chunks[documentID] == nil {
		r.chunks[documentID] = make(map[int]*document.Chunk)
	}
	for _, c := range chunks {
		r.chunks[documentID][c.Index] = &document.Chunk{
			DocumentID:  documentID,
			Index:       c.Index,
			Text:        c.Text,
			Embedding:   c.Embedding,
			Status:      c.Status,
			ErrorReason: c.ErrorReason,
			Metadata:    c.Metadata,
		}
	}
	return nil
}

func (r *fakeRepo) DeleteChunksFrom(ctx context.Context, documentID uuid.UUID, fromIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for idx := range r.chunks[documentID] {
		if idx >= fromIndex {
			delete(r.chunks[documentID], idx)
		}
	}
	return nil
}

func (r *fakeRepo) sortedChunks(pred func(*document.Chunk) bool) []*document.Chunk {
	var out []*document.Chunk
	for _, byIdx := range r.chunks {
		for _, c := range byIdx {
			if pred(c) {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID.String() < out[j].DocumentID.String()
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func (r *fakeRepo) FetchCompletedChunks(ctx context.Context, filter document.Filter) ([]*document.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedChunks(func(c *document.Chunk) bool {
		doc := r.docs[c.DocumentID]
		return c.Status == document.ChunkStatusCompleted &&
			doc.Status != document.StatusFailed &&
			filter.Matches(c.DocumentID, doc.Tags)
	}), nil
}

func (r *fakeRepo) ListFailedChunks(ctx context.Context, documentID uuid.UUID) ([]*document.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedChunks(func(c *document.Chunk) bool {
		return c.DocumentID == documentID && c.Status == document.ChunkStatusFailed
	}), nil
}

func (r *fakeRepo) CountFailedChunks(ctx context.Context, documentID uuid.UUID) (int, error) {
	failed, _ := r.ListFailedChunks(ctx, documentID)
	return len(failed), nil
}

func (r *fakeRepo) UpdateDocumentStatus(ctx context.Context, documentID uuid.UUID, update StatusUpdate) error {
	if r.UpdateDocumentStatusFunc != nil {
		return r.UpdateDocumentStatusFunc(ctx, documentID, update)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[documentID]
	if !ok {
		return fmt.Errorf("document not found: %s", documentID)
	}
	if status, ok := update.Status.Get(); ok {
		d.Status = status
	}
	if update.ClearError {
		d.ErrorMessage = nil
	}
	if msg, ok := update.ErrorMessage.Get(); ok {
		d.ErrorMessage = &msg
	}
	if n, ok := update.ChunkCount.Get(); ok {
		d.ChunkCount = n
	}
	if job, ok := update.SyncJobID.Get(); ok {
		d.SyncJobID = &job
	}
	return nil
}

func (r *fakeRepo) GetDocument(ctx context.Context, id uuid.UUID) (mo.Option[*document.Document], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return mo.None[*document.Document](), nil
	}
	cp := *d
	return mo.Some(&cp), nil
}

func (r *fakeRepo) GetDocumentBySourceKey(ctx context.Context, sourceKey string) (mo.Option[*document.Document], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.SourceKey == sourceKey {
			cp := *d
			return mo.Some(&cp), nil
		}
	}
	return mo.None[*document.Document](), nil
}

func (r *fakeRepo) ListDocumentsByStatus(ctx context.Context, status document.Status, filter document.Filter, limit int) ([]*document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*document.Document
	for _, d := range r.docs {
		if d.Status == status && filter.Matches(d.ID, d.Tags) {
			cp := *d
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) doc(t *testing.T, id uuid.UUID) *document.Document {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	require.True(t, ok)
	cp := *d
	return &cp
}

// stubEmbedder は failTexts に含まれるテキストだけ失敗させる
type stubEmbedder struct {
	mu        sync.Mutex
	failTexts map[string]bool
	calls     int
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) []embedding.Outcome {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	out := make([]embedding.Outcome, len(texts))
	for i, t := range texts {
		if e.failTexts[t] {
			out[i].Err = &embedding.EmbeddingError{Attempts: 3, Err: errors.New("model throttled")}
			continue
		}
		out[i].Vector = []float32{float32(len(t)), 1}
	}
	return out
}

func (e *stubEmbedder) MaxBatchSize() int { return 100 }

type stubSyncer struct {
	mu              sync.Mutex
	calls           int
	TriggerSyncFunc func(ctx context.Context) (string, error)
}

func (s *stubSyncer) TriggerSync(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.TriggerSyncFunc != nil {
		return s.TriggerSyncFunc(ctx)
	}
	return "job-1", nil
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newTestService(t *testing.T, repo Repository, emb Embedder, chunkSize, overlap int, opts ...IngestionOption) *IngestionService {
	t.Helper()
	chunker, err := chunking.New(chunkSize, overlap)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []IngestionOption{
		WithIngestionLogger(logger),
		WithIngestionSleeper(noSleep),
	}
	svc, err := NewIngestionService(repo, chunker, emb, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func TestIngestDocument_QuickBrownFox(t *testing.T) {
	// Setup
	repo := newFakeRepo()
	svc := newTestService(t, repo, &stubEmbedder{}, 4, 1)

	// Execute
	res, err := svc.IngestDocument(context.Background(), IngestRequest{
		SourceKey: "uploads/fox.txt",
		Text:      "The quick brown fox jumps over the lazy dog",
		Tags:      document.Tags{TenantID: "t1"},
		Metadata:  map[string]any{"lang": "en"},
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, document.StatusCompleted, res.Status)
	assert.Equal(t, 3, res.ChunkCount)
	assert.Zero(t, res.FailedChunks)
	assert.Equal(t, document.IDFromSourceKey("uploads/fox.txt"), res.DocumentID)

	doc := repo.doc(t, res.DocumentID)
	assert.Equal(t, document.StatusCompleted, doc.Status)
	assert.Equal(t, 3, doc.ChunkCount)
	assert.Equal(t, "fox.txt", doc.Name)
	assert.Nil(t, doc.ErrorMessage)

	chunks, err := repo.FetchCompletedChunks(context.Background(), document.Filter{})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "The quick brown fox", chunks[0].Text)
	assert.Equal(t, "fox jumps over the", chunks[1].Text)
	assert.Equal(t, "the lazy dog", chunks[2].Text)
	assert.Equal(t, 2, chunks[2].Metadata["chunk_index"])
	assert.Equal(t, "t1", chunks[2].Metadata["tenant_id"])
	assert.Equal(t, "en", chunks[2].Metadata["lang"])
	assert.Equal(t, "uploads/fox.txt", chunks[2].Metadata["source_key"])
	for _, c := range chunks {
		assert.Len(t, c.Embedding, 2)
	}
}

func TestIngestDocument_PartialEmbeddingFailure(t *testing.T) {
	// Setup: 5チャンクのうちインデックス2と4が失敗する
	repo := newFakeRepo()
	emb := &stubEmbedder{failTexts: map[string]bool{"c": true, "e": true}}
	svc := newTestService(t, repo, emb, 1, 0)

	// Execute
	res, err := svc.IngestDocument(context.Background(), IngestRequest{
		SourceKey: "docs/letters.txt",
		Text:      "a b c d e",
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, document.StatusCompleted, res.Status)
	assert.Equal(t, 3, res.ChunkCount)
	assert.Equal(t, 2, res.FailedChunks)

	failed, err := svc.ListFailedChunks(context.Background(), res.DocumentID)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, 2, failed[0].Index)
	assert.Equal(t, 4, failed[1].Index)
	require.NotNil(t, failed[0].ErrorReason)
	assert.Contains(t, *failed[0].ErrorReason, "model throttled")
	assert.Nil(t, failed[0].Embedding)

	status, err := svc.GetDocumentStatus(context.Background(), ByID(res.DocumentID))
	require.NoError(t, err)
	st, ok := status.Get()
	require.True(t, ok)
	assert.Equal(t, document.StatusCompleted, st.Document.Status)
	assert.Equal(t, 3, st.Document.ChunkCount)
	assert.Equal(t, 2, st.FailedChunkCount)

	completed, err := repo.FetchCompletedChunks(context.Background(), document.Filter{})
	require.NoError(t, err)
	assert.Len(t, completed, 3)
}

func TestIngestDocument_EmptyTextFails(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &stubEmbedder{}, 4, 1)

	res, err := svc.IngestDocument(context.Background(), IngestRequest{SourceKey: "empty.pdf", Text: "   \n "})

	assert.ErrorIs(t, err, ErrExtractionEmpty)
	require.NotNil(t, res)
	assert.Equal(t, document.StatusFailed, res.Status)

	doc := repo.doc(t, res.DocumentID)
	assert.Equal(t, document.StatusFailed, doc.Status)
	require.NotNil(t, doc.ErrorMessage)
	assert.Equal(t, ErrExtractionEmpty.Error(), *doc.ErrorMessage)
	assert.Zero(t, repo.upsertCalls)
}

func TestIngestDocument_AllEmbeddingsFail(t *testing.T) {
	repo := newFakeRepo()
	emb := &stubEmbedder{failTexts: map[string]bool{"a": true, "b": true}}
	svc := newTestService(t, repo, emb, 1, 0)

	res, err := svc.IngestDocument(context.Background(), IngestRequest{SourceKey: "ab.txt", Text: "a b"})

	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Equal(t, document.StatusFailed, res.Status)
	assert.Equal(t, 2, res.FailedChunks)

	failed, err := svc.ListFailedChunks(context.Background(), res.DocumentID)
	require.NoError(t, err)
	assert.Len(t, failed, 2)
}

func TestIngestDocument_StoreRetryThenSuccess(t *testing.T) {
	// Setup: 2番目のバッチが1回だけ失敗する
	repo := newFakeRepo()
	var seen sync.Map
	repo.UpsertChunksFunc = func(ctx context.Context, documentID uuid.UUID, chunks []document.ChunkInput) error {
		first := chunks[0].Index
		if first == 2 {
			if _, loaded := seen.LoadOrStore(first, true); !loaded {
				return errors.New("connection reset")
			}
		}
		return nil
	}
	cfg := DefaultCoordinatorConfig()
	cfg.StoreBatchSize = 2
	svc := newTestService(t, repo, &stubEmbedder{}, 1, 0, WithIngestionConfig(cfg))

	// Execute
	res, err := svc.IngestDocument(context.Background(), IngestRequest{SourceKey: "five.txt", Text: "a b c d e"})

	// Assert: 3バッチ + 再試行1回
	require.NoError(t, err)
	assert.Equal(t, 5, res.ChunkCount)
	assert.Equal(t, 4, repo.upsertCalls)
}

func TestIngestDocument_StoreFailureEscalates(t *testing.T) {
	repo := newFakeRepo()
	repo.UpsertChunksFunc = func(ctx context.Context, documentID uuid.UUID, chunks []document.ChunkInput) error {
		if chunks[0].Index >= 2 {
			return errors.New("disk full")
		}
		return nil
	}
	cfg := DefaultCoordinatorConfig()
	cfg.StoreBatchSize = 2
	cfg.StoreMaxAttempts = 3
	svc := newTestService(t, repo, &stubEmbedder{}, 1, 0, WithIngestionConfig(cfg))

	res, err := svc.IngestDocument(context.Background(), IngestRequest{SourceKey: "five.txt", Text: "a b c d e"})

	var writeErr *StoreWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, []int{2, 3}, writeErr.Indices)
	assert.Equal(t, document.StatusFailed, res.Status)
	// 1バッチ目 + 2バッチ目3回
	assert.Equal(t, 4, repo.upsertCalls)

	doc := repo.doc(t, res.DocumentID)
	assert.Equal(t, document.StatusFailed, doc.Status)
	assert.Zero(t, doc.ChunkCount)
	require.NotNil(t, doc.ErrorMessage)
	assert.Contains(t, *doc.ErrorMessage, "disk full")

	// コミット済みの1バッチ目も failed ドキュメントとして検索対象から外れる
	completed, err := repo.FetchCompletedChunks(context.Background(), document.Filter{})
	require.NoError(t, err)
	assert.Empty(t, completed)
}

func TestIngestDocument_ReingestIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &stubEmbedder{}, 2, 0)
	ctx := context.Background()

	first, err := svc.IngestDocument(ctx, IngestRequest{SourceKey: "k", Text: "a b c d e f"})
	require.NoError(t, err)
	second, err := svc.IngestDocument(ctx, IngestRequest{SourceKey: "k", Text: "a b c d e f"})
	require.NoError(t, err)

	assert.Equal(t, first.DocumentID, second.DocumentID)
	chunks, err := repo.FetchCompletedChunks(ctx, document.Filter{})
	require.NoError(t, err)
	assert.Len(t, chunks, 3)

	// 短いテキストで再取り込みすると古い末尾は削除される
	third, err := svc.IngestDocument(ctx, IngestRequest{SourceKey: "k", Text: "a b"})
	require.NoError(t, err)
	assert.Equal(t, 1, third.ChunkCount)
	chunks, err = repo.FetchCompletedChunks(ctx, document.Filter{})
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestIngestDocument_RequiresSourceKey(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &stubEmbedder{}, 4, 1)

	res, err := svc.IngestDocument(context.Background(), IngestRequest{Text: "hello"})

	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestIngestDocument_SyncFailureIsNotFatal(t *testing.T) {
	repo := newFakeRepo()
	syncer := &stubSyncer{TriggerSyncFunc: func(ctx context.Context) (string, error) {
		return "", errors.New("max retries exceeded")
	}}
	cfg := DefaultCoordinatorConfig()
	cfg.SyncMode = SyncModeBlocking
	svc := newTestService(t, repo, &stubEmbedder{}, 4, 1, WithIngestionConfig(cfg), WithSyncer(syncer))

	res, err := svc.IngestDocument(context.Background(), IngestRequest{SourceKey: "a.txt", Text: "one two three"})

	require.NoError(t, err)
	assert.Equal(t, document.StatusCompleted, res.Status)
	assert.Empty(t, res.SyncJobID)
	assert.Equal(t, 1, syncer.calls)
}

func TestIngestDocument_BlockingSyncRecordsJobID(t *testing.T) {
	repo := newFakeRepo()
	syncer := &stubSyncer{}
	cfg := DefaultCoordinatorConfig()
	cfg.SyncMode = SyncModeBlocking
	svc := newTestService(t, repo, &stubEmbedder{}, 4, 1, WithIngestionConfig(cfg), WithSyncer(syncer))

	res, err := svc.IngestDocument(context.Background(), IngestRequest{SourceKey: "a.txt", Text: "one two three"})

	require.NoError(t, err)
	assert.Equal(t, "job-1", res.SyncJobID)
	doc := repo.doc(t, res.DocumentID)
	require.NotNil(t, doc.SyncJobID)
	assert.Equal(t, "job-1", *doc.SyncJobID)
	assert.Equal(t, document.StatusCompleted, doc.Status)
}

func TestIngestDocuments_AsyncSyncIsCoalesced(t *testing.T) {
	// Setup: 最初の同期呼び出しを止めておき、その間に残りのドキュメントを完了させる
	repo := newFakeRepo()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	syncer := &stubSyncer{TriggerSyncFunc: func(ctx context.Context) (string, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return "job-x", nil
	}}
	svc := newTestService(t, repo, &stubEmbedder{}, 4, 1, WithSyncer(syncer))
	ctx := context.Background()

	_, err := svc.IngestDocument(ctx, IngestRequest{SourceKey: "first", Text: "alpha"})
	require.NoError(t, err)
	<-started

	reqs := make([]IngestRequest, 5)
	for i := range reqs {
		reqs[i] = IngestRequest{SourceKey: fmt.Sprintf("doc-%d", i), Text: "beta gamma"}
	}

	// Execute
	items := svc.IngestDocuments(ctx, reqs)
	close(release)
	svc.WaitForSync()

	// Assert
	require.Len(t, items, 5)
	for i, item := range items {
		require.NoError(t, item.Err)
		assert.Equal(t, fmt.Sprintf("doc-%d", i), item.SourceKey)
		assert.Equal(t, document.StatusCompleted, item.Result.Status)
		doc := repo.doc(t, item.Result.DocumentID)
		require.NotNil(t, doc.SyncJobID)
		assert.Equal(t, "job-x", *doc.SyncJobID)
	}
	assert.Equal(t, 2, syncer.calls)
}

func TestIngestDocument_AsyncSyncKeepsLaterFailure(t *testing.T) {
	// Setup: 同期ジョブの開始を止めている間に同じソースを空テキストで再取り込みする
	repo := newFakeRepo()
	release := make(chan struct{})
	started := make(chan struct{})
	syncer := &stubSyncer{TriggerSyncFunc: func(ctx context.Context) (string, error) {
		close(started)
		<-release
		return "job-late", nil
	}}
	svc := newTestService(t, repo, &stubEmbedder{}, 4, 1, WithSyncer(syncer))
	ctx := context.Background()

	first, err := svc.IngestDocument(ctx, IngestRequest{SourceKey: "race.txt", Text: "one two three four five"})
	require.NoError(t, err)
	<-started

	// Execute
	_, err = svc.IngestDocument(ctx, IngestRequest{SourceKey: "race.txt", Text: "   "})
	require.ErrorIs(t, err, ErrExtractionEmpty)
	close(release)
	svc.WaitForSync()

	// Assert: 同期ジョブIDだけが記録され、failed は維持される
	doc := repo.doc(t, first.DocumentID)
	assert.Equal(t, document.StatusFailed, doc.Status)
	assert.Zero(t, doc.ChunkCount)
	require.NotNil(t, doc.ErrorMessage)
	assert.Equal(t, ErrExtractionEmpty.Error(), *doc.ErrorMessage)
	require.NotNil(t, doc.SyncJobID)
	assert.Equal(t, "job-late", *doc.SyncJobID)
	assert.Equal(t, 1, syncer.calls)
}

func TestGetDocumentStatus_NotFound(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &stubEmbedder{}, 4, 1)

	byID, err := svc.GetDocumentStatus(context.Background(), ByID(uuid.New()))
	require.NoError(t, err)
	assert.True(t, byID.IsAbsent())

	byKey, err := svc.GetDocumentStatus(context.Background(), BySourceKey("missing"))
	require.NoError(t, err)
	assert.True(t, byKey.IsAbsent())
}

func TestGetDocumentStatus_BySourceKey(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &stubEmbedder{}, 4, 1)
	_, err := svc.IngestDocument(context.Background(), IngestRequest{SourceKey: "s3://b/k.pdf", Text: "x y z"})
	require.NoError(t, err)

	got, err := svc.GetDocumentStatus(context.Background(), BySourceKey("s3://b/k.pdf"))
	require.NoError(t, err)
	st, ok := got.Get()
	require.True(t, ok)
	assert.Equal(t, "k.pdf", st.Document.Name)
	assert.Equal(t, 1, st.Document.ChunkCount)
}

func TestListDocuments_RejectsUnknownStatus(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &stubEmbedder{}, 4, 1)

	_, err := svc.ListDocuments(context.Background(), document.Status("archived"), document.Filter{}, 10)

	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestListDocuments_FiltersByStatusAndTenant(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &stubEmbedder{}, 4, 1)
	ctx := context.Background()
	_, err := svc.IngestDocument(ctx, IngestRequest{SourceKey: "a", Text: "x", Tags: document.Tags{TenantID: "t1"}})
	require.NoError(t, err)
	_, err = svc.IngestDocument(ctx, IngestRequest{SourceKey: "b", Text: "y", Tags: document.Tags{TenantID: "t2"}})
	require.NoError(t, err)
	_, _ = svc.IngestDocument(ctx, IngestRequest{SourceKey: "c", Text: ""})

	docs, err := svc.ListDocuments(ctx, document.StatusCompleted, document.Filter{TenantID: mo.Some("t1")}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].SourceKey)

	failed, err := svc.ListDocuments(ctx, document.StatusFailed, document.Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "c", failed[0].SourceKey)
}

func TestExportChunks_WritesJSONLines(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &stubEmbedder{}, 2, 0)
	ctx := context.Background()
	res, err := svc.IngestDocument(ctx, IngestRequest{SourceKey: "e.txt", Text: "a b c d"})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := svc.ExportChunks(ctx, document.Filter{DocumentIDs: []uuid.UUID{res.DocumentID}}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	scanner := bufio.NewScanner(strings.NewReader(buf.String()))
	var records []ExportRecord
	for scanner.Scan() {
		var rec ExportRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 2)
	assert.Equal(t, res.DocumentID.String()+"_0", records[0].ChunkID)
	assert.Equal(t, "c d", records[1].Text)
	assert.Equal(t, "e.txt", records[1].Metadata["source_key"])
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := newKeyedMutex()
	key := uuid.New()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(key)
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, km.size())
}
