// Package memory はプロセス内で完結するチャンクストアを提供する。
// ローカル実行とテスト用で、プロセス終了とともに内容は失われる。
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/core/search"
)

// ErrDocumentNotFound は状態更新対象のドキュメントが存在しない場合のエラー
var ErrDocumentNotFound = errors.New("document not found")

type chunkKey struct {
	documentID uuid.UUID
	index      int
}

// Store は ingestion.Repository と search.ChunkSource をメモリ上で実装する
type Store struct {
	mu       sync.RWMutex
	docs     map[uuid.UUID]*document.Document
	bySource map[string]uuid.UUID
	chunks   map[chunkKey]*document.Chunk
	now      func() time.Time
}

// NewStore は空の Store を返す
func NewStore() *Store {
	return &Store{
		docs:     make(map[uuid.UUID]*document.Document),
		bySource: make(map[string]uuid.UUID),
		chunks:   make(map[chunkKey]*document.Chunk),
		now:      time.Now,
	}
}

var (
	_ ingestion.Repository = (*Store)(nil)
	_ search.ChunkSource   = (*Store)(nil)
)

func (s *Store) UpsertDocument(ctx context.Context, doc *document.Document) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, ok := s.bySource[doc.SourceKey]; ok {
		existing := s.docs[id]
		existing.Name = doc.Name
		existing.Status = doc.Status
		existing.Tags = doc.Tags
		existing.UpdatedAt = now
		return copyDocument(existing), nil
	}

	stored := copyDocument(doc)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.docs[stored.ID] = stored
	s.bySource[stored.SourceKey] = stored.ID
	return copyDocument(stored), nil
}

func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (mo.Option[*document.Document], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return mo.None[*document.Document](), nil
	}
	return mo.Some(copyDocument(doc)), nil
}

func (s *Store) GetDocumentBySourceKey(ctx context.Context, sourceKey string) (mo.Option[*document.Document], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySource[sourceKey]
	if !ok {
		return mo.None[*document.Document](), nil
	}
	return mo.Some(copyDocument(s.docs[id])), nil
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, documentID uuid.UUID, update ingestion.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	if status, ok := update.Status.Get(); ok {
		doc.Status = status
	}
	if update.ClearError {
		doc.ErrorMessage = nil
	}
	if msg, ok := update.ErrorMessage.Get(); ok {
		doc.ErrorMessage = &msg
	}
	if n, ok := update.ChunkCount.Get(); ok {
		doc.ChunkCount = n
	}
	if jobID, ok := update.SyncJobID.Get(); ok {
		doc.SyncJobID = &jobID
	}
	doc.UpdatedAt = s.now()
	return nil
}

func (s *Store) ListDocumentsByStatus(ctx context.Context, status document.Status, filter document.Filter, limit int) ([]*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*document.Document, 0)
	for _, doc := range s.docs {
		if doc.Status != status || !filter.Matches(doc.ID, doc.Tags) {
			continue
		}
		docs = append(docs, copyDocument(doc))
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return bytes.Compare(docs[i].ID[:], docs[j].ID[:]) < 0
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// UpsertChunks はバッチ全体を検証してから書き込むため、失敗時は何も反映されない
func (s *Store) UpsertChunks(ctx context.Context, documentID uuid.UUID, chunks []document.ChunkInput) error {
	if err := ctx.Err(); err != nil {
		return newStoreWriteError(documentID, chunks, err)
	}
	for _, c := range chunks {
		if err := validateChunk(c); err != nil {
			return newStoreWriteError(documentID, chunks, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[documentID]; !ok {
		return newStoreWriteError(documentID, chunks, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID))
	}

	now := s.now()
	for _, c := range chunks {
		key := chunkKey{documentID: documentID, index: c.Index}
		createdAt := now
		if existing, ok := s.chunks[key]; ok {
			createdAt = existing.CreatedAt
		}

		chunk := &document.Chunk{
			DocumentID: documentID,
			Index:      c.Index,
			Text:       c.Text,
			Status:     c.Status,
			Metadata:   copyMetadata(c.Metadata),
			CreatedAt:  createdAt,
			UpdatedAt:  now,
		}
		switch c.Status {
		case document.ChunkStatusCompleted:
			chunk.Embedding = append([]float32(nil), c.Embedding...)
		case document.ChunkStatusFailed:
			chunk.ErrorReason = c.ErrorReason
		}
		s.chunks[key] = chunk
	}
	return nil
}

func (s *Store) DeleteChunksFrom(ctx context.Context, documentID uuid.UUID, fromIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.chunks {
		if key.documentID == documentID && key.index >= fromIndex {
			delete(s.chunks, key)
		}
	}
	return nil
}

// FetchCompletedChunks は呼び出しごとに現在の内容を走査する
func (s *Store) FetchCompletedChunks(ctx context.Context, filter document.Filter) ([]*document.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(c *document.Chunk) bool {
		if c.Status != document.ChunkStatusCompleted {
			return false
		}
		doc, ok := s.docs[c.DocumentID]
		return ok && doc.Status != document.StatusFailed && filter.Matches(doc.ID, doc.Tags)
	}), nil
}

func (s *Store) ListFailedChunks(ctx context.Context, documentID uuid.UUID) ([]*document.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(c *document.Chunk) bool {
		return c.DocumentID == documentID && c.Status == document.ChunkStatusFailed
	}), nil
}

func (s *Store) CountFailedChunks(ctx context.Context, documentID uuid.UUID) (int, error) {
	failed, err := s.ListFailedChunks(ctx, documentID)
	if err != nil {
		return 0, err
	}
	return len(failed), nil
}

// collect は条件に合うチャンクのコピーを (document_id, chunk_index) 順で返す
func (s *Store) collect(pred func(*document.Chunk) bool) []*document.Chunk {
	out := make([]*document.Chunk, 0)
	for _, c := range s.chunks {
		if pred(c) {
			out = append(out, copyChunk(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := bytes.Compare(out[i].DocumentID[:], out[j].DocumentID[:]); cmp != 0 {
			return cmp < 0
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func validateChunk(c document.ChunkInput) error {
	if c.Index < 0 {
		return fmt.Errorf("chunk index must not be negative: %d", c.Index)
	}
	switch c.Status {
	case document.ChunkStatusCompleted:
		if len(c.Embedding) == 0 {
			return fmt.Errorf("completed chunk %d has no embedding", c.Index)
		}
	case document.ChunkStatusFailed, document.ChunkStatusPending:
	default:
		return fmt.Errorf("unknown chunk status %q", c.Status)
	}
	return nil
}

func newStoreWriteError(documentID uuid.UUID, chunks []document.ChunkInput, err error) *ingestion.StoreWriteError {
	indices := make([]int, len(chunks))
	for i, c := range chunks {
		indices[i] = c.Index
	}
	return &ingestion.StoreWriteError{DocumentID: documentID, Indices: indices, Err: err}
}

func copyDocument(d *document.Document) *document.Document {
	cp := *d
	if d.ErrorMessage != nil {
		msg := *d.ErrorMessage
		cp.ErrorMessage = &msg
	}
	if d.SyncJobID != nil {
		jobID := *d.SyncJobID
		cp.SyncJobID = &jobID
	}
	return &cp
}

func copyChunk(c *document.Chunk) *document.Chunk {
	cp := *c
	cp.Embedding = append([]float32(nil), c.Embedding...)
	cp.Metadata = copyMetadata(c.Metadata)
	return &cp
}

func copyMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
