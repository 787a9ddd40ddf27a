package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/samber/mo"

	"github.com/jinford/doc-rag/internal/core/chunking"
	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/embedding"
	"github.com/jinford/doc-rag/internal/shared/clock"
)

// Embedder はチャンクの Embedding を1件ずつの結果付きで生成する
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) []embedding.Outcome
	MaxBatchSize() int
}

// Syncer は外部のマネージドインデックス同期を開始する
type Syncer interface {
	TriggerSync(ctx context.Context) (string, error)
}

// SyncMode は取り込み完了後の同期起動方法
type SyncMode string

const (
	// SyncModeAsync は同期をバックグラウンドで起動し、完了を待たない
	SyncModeAsync SyncMode = "async"
	// SyncModeBlocking は同期ジョブの開始まで待ち、ジョブIDを記録する
	SyncModeBlocking SyncMode = "blocking"
)

const (
	DefaultEmbedWorkers     = 4
	DefaultEmbedBatchSize   = 20
	DefaultDocumentWorkers  = 4
	DefaultStoreBatchSize   = 20
	DefaultStoreMaxAttempts = 3
	DefaultStoreRetryBase   = time.Second
	DefaultListLimit        = 100
)

// CoordinatorConfig は取り込み処理の設定
type CoordinatorConfig struct {
	// EmbedWorkers はチャンクEmbeddingの並列数（全ドキュメント共通）
	EmbedWorkers int
	// EmbedBatchSize は1回の Embedding 呼び出しに含めるチャンク数
	EmbedBatchSize int
	// DocumentWorkers は IngestDocuments の並列ドキュメント数
	DocumentWorkers int
	// StoreBatchSize は1トランザクションで upsert するチャンク数
	StoreBatchSize int
	// StoreMaxAttempts はバッチ書き込みの最大試行回数
	StoreMaxAttempts int
	// StoreRetryBase はバッチ書き込み再試行の線形バックオフ基準時間
	StoreRetryBase time.Duration
	SyncMode       SyncMode
}

// DefaultCoordinatorConfig はデフォルト設定を返す
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		EmbedWorkers:     DefaultEmbedWorkers,
		EmbedBatchSize:   DefaultEmbedBatchSize,
		DocumentWorkers:  DefaultDocumentWorkers,
		StoreBatchSize:   DefaultStoreBatchSize,
		StoreMaxAttempts: DefaultStoreMaxAttempts,
		StoreRetryBase:   DefaultStoreRetryBase,
		SyncMode:         SyncModeAsync,
	}
}

func (c *CoordinatorConfig) normalize() {
	if c.EmbedWorkers <= 0 {
		c.EmbedWorkers = DefaultEmbedWorkers
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if c.DocumentWorkers <= 0 {
		c.DocumentWorkers = DefaultDocumentWorkers
	}
	if c.StoreBatchSize <= 0 {
		c.StoreBatchSize = DefaultStoreBatchSize
	}
	if c.StoreMaxAttempts <= 0 {
		c.StoreMaxAttempts = DefaultStoreMaxAttempts
	}
	if c.StoreRetryBase < 0 {
		c.StoreRetryBase = 0
	}
	if c.SyncMode != SyncModeBlocking {
		c.SyncMode = SyncModeAsync
	}
}

// IngestionService はドキュメント取り込みのユースケースを提供する。
// ドキュメント状態の遷移を書き込むのはこのサービスだけである。
type IngestionService struct {
	repo     Repository
	chunker  *chunking.Chunker
	embedder Embedder
	syncer   Syncer
	config   *CoordinatorConfig
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	embedPool *ants.Pool
	docPool   *ants.Pool
	locks     *keyedMutex

	syncMu      sync.Mutex
	syncRunning bool
	syncQueue   []uuid.UUID
	syncWG      sync.WaitGroup
}

type ingestionOptions struct {
	syncer Syncer
	config *CoordinatorConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// IngestionOption は IngestionService のオプション設定
type IngestionOption func(*ingestionOptions)

// WithIngestionLogger はロガーを設定する
func WithIngestionLogger(logger *slog.Logger) IngestionOption {
	return func(o *ingestionOptions) {
		o.logger = logger
	}
}

// WithIngestionConfig は設定を上書きする
func WithIngestionConfig(cfg *CoordinatorConfig) IngestionOption {
	return func(o *ingestionOptions) {
		o.config = cfg
	}
}

// WithSyncer は同期トリガーを設定する。未設定の場合は同期を行わない
func WithSyncer(syncer Syncer) IngestionOption {
	return func(o *ingestionOptions) {
		o.syncer = syncer
	}
}

// WithIngestionSleeper は待機関数を差し替える（テスト用）
func WithIngestionSleeper(sleep func(ctx context.Context, d time.Duration) error) IngestionOption {
	return func(o *ingestionOptions) {
		o.sleep = sleep
	}
}

// NewIngestionService は新しい IngestionService を作成する
func NewIngestionService(repo Repository, chunker *chunking.Chunker, embedder Embedder, opts ...IngestionOption) (*IngestionService, error) {
	options := ingestionOptions{
		config: DefaultCoordinatorConfig(),
		logger: slog.Default(),
		sleep:  clock.Sleep,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.config == nil {
		options.config = DefaultCoordinatorConfig()
	}
	cfg := *options.config
	cfg.normalize()

	embedPool, err := ants.NewPool(cfg.EmbedWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding worker pool: %w", err)
	}
	docPool, err := ants.NewPool(cfg.DocumentWorkers)
	if err != nil {
		embedPool.Release()
		return nil, fmt.Errorf("failed to create document worker pool: %w", err)
	}

	return &IngestionService{
		repo:      repo,
		chunker:   chunker,
		embedder:  embedder,
		syncer:    options.syncer,
		config:    &cfg,
		logger:    options.logger,
		sleep:     options.sleep,
		embedPool: embedPool,
		docPool:   docPool,
		locks:     newKeyedMutex(),
	}, nil
}

// Close はバックグラウンドの同期処理を待ってからワーカープールを解放する
func (s *IngestionService) Close() {
	s.WaitForSync()
	s.embedPool.Release()
	s.docPool.Release()
}

// WaitForSync は非同期モードで起動した同期処理の終了を待つ
func (s *IngestionService) WaitForSync() {
	s.syncWG.Wait()
}

// IngestDocument は抽出済みテキストをチャンク化・Embedding・保存し、同期を起動する。
// ドキュメントが failed になった場合は結果とエラーの両方を返す。
func (s *IngestionService) IngestDocument(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	sourceKey := strings.TrimSpace(req.SourceKey)
	if sourceKey == "" {
		return nil, fmt.Errorf("%w: source key is required", ErrInvalidRequest)
	}
	name := req.Name
	if name == "" {
		name = path.Base(sourceKey)
	}

	docID := document.IDFromSourceKey(sourceKey)
	unlock := s.locks.Lock(docID)
	defer unlock()

	startTime := time.Now()
	doc, err := s.repo.UpsertDocument(ctx, &document.Document{
		ID:        docID,
		Name:      name,
		SourceKey: sourceKey,
		Status:    document.StatusProcessing,
		Tags:      req.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert document: %w", err)
	}

	logger := s.logger.With("document_id", doc.ID, "source_key", sourceKey)
	logger.Info("ドキュメント取り込みを開始")

	result := &IngestResult{
		DocumentID: doc.ID,
		SourceKey:  sourceKey,
		Status:     document.StatusProcessing,
	}

	chunks := s.chunker.Chunk(req.Text)
	if len(chunks) == 0 {
		// 以前の取り込み結果が検索対象に残らないようにする
		if err := s.repo.DeleteChunksFrom(ctx, doc.ID, 0); err != nil {
			logger.Warn("既存チャンクの削除に失敗", "error", err)
		}
		return s.fail(ctx, logger, result, ErrExtractionEmpty)
	}

	outcomes := s.embedChunks(ctx, chunks)
	if err := ctx.Err(); err != nil {
		return s.fail(ctx, logger, result, fmt.Errorf("embedding interrupted: %w", err))
	}

	inputs := make([]document.ChunkInput, len(chunks))
	succeeded := 0
	for i, c := range chunks {
		input := document.ChunkInput{
			Index:    c.Index,
			Text:     c.Text,
			Metadata: chunkMetadata(doc, req.Metadata, c),
		}
		if outcome := outcomes[i]; outcome.Err != nil {
			reason := outcome.Err.Error()
			input.Status = document.ChunkStatusFailed
			input.ErrorReason = &reason
			logger.Warn("チャンクのEmbedding生成に失敗", "chunk_index", c.Index, "error", outcome.Err)
		} else {
			input.Status = document.ChunkStatusCompleted
			input.Embedding = outcome.Vector
			succeeded++
		}
		inputs[i] = input
	}
	result.FailedChunks = len(chunks) - succeeded

	if err := s.writeChunks(ctx, logger, doc.ID, inputs); err != nil {
		return s.fail(ctx, logger, result, err)
	}
	// 再取り込みでチャンク数が減った場合の古い末尾を削除
	if err := s.repo.DeleteChunksFrom(ctx, doc.ID, len(chunks)); err != nil {
		return s.fail(ctx, logger, result, fmt.Errorf("failed to prune stale chunks: %w", err))
	}

	if succeeded == 0 {
		return s.fail(ctx, logger, result, fmt.Errorf("%w (%d chunk(s))", ErrEmbeddingFailed, len(chunks)))
	}

	if err := s.repo.UpdateDocumentStatus(ctx, doc.ID, StatusUpdate{
		Status:     mo.Some(document.StatusCompleted),
		ChunkCount: mo.Some(succeeded),
		ClearError: true,
	}); err != nil {
		return s.fail(ctx, logger, result, fmt.Errorf("failed to mark document completed: %w", err))
	}

	result.Status = document.StatusCompleted
	result.ChunkCount = succeeded

	logger.Info("ドキュメント取り込みが完了",
		"chunks", succeeded,
		"failed_chunks", result.FailedChunks,
		"duration", time.Since(startTime),
	)

	s.triggerSync(ctx, logger, result)
	return result, nil
}

// IngestDocuments は複数ドキュメントを並列に取り込み、入力と同じ順序で結果を返す
func (s *IngestionService) IngestDocuments(ctx context.Context, reqs []IngestRequest) []BatchItem {
	items := make([]BatchItem, len(reqs))
	var wg sync.WaitGroup

	for i, req := range reqs {
		items[i].SourceKey = req.SourceKey
		wg.Add(1)
		task := func() {
			defer wg.Done()
			res, err := s.IngestDocument(ctx, req)
			items[i].Result = res
			items[i].Err = err
		}
		if err := s.docPool.Submit(task); err != nil {
			wg.Done()
			items[i].Err = fmt.Errorf("failed to submit document task: %w", err)
		}
	}

	wg.Wait()
	return items
}

// GetDocumentStatus はドキュメントの状態と失敗チャンク数を返す
func (s *IngestionService) GetDocumentStatus(ctx context.Context, ref DocumentRef) (mo.Option[*DocumentStatus], error) {
	var (
		found mo.Option[*document.Document]
		err   error
	)
	if ref.sourceKey != "" {
		found, err = s.repo.GetDocumentBySourceKey(ctx, ref.sourceKey)
	} else {
		found, err = s.repo.GetDocument(ctx, ref.id)
	}
	if err != nil {
		return mo.None[*DocumentStatus](), fmt.Errorf("failed to get document: %w", err)
	}

	doc, ok := found.Get()
	if !ok {
		return mo.None[*DocumentStatus](), nil
	}

	failed, err := s.repo.CountFailedChunks(ctx, doc.ID)
	if err != nil {
		return mo.None[*DocumentStatus](), fmt.Errorf("failed to count failed chunks: %w", err)
	}

	return mo.Some(&DocumentStatus{Document: doc, FailedChunkCount: failed}), nil
}

// ListDocuments は指定状態のドキュメントを新しい順に返す
func (s *IngestionService) ListDocuments(ctx context.Context, status document.Status, filter document.Filter, limit int) ([]*document.Document, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	docs, err := s.repo.ListDocumentsByStatus(ctx, status, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// ListFailedChunks は Embedding に失敗したチャンクを返す
func (s *IngestionService) ListFailedChunks(ctx context.Context, documentID uuid.UUID) ([]*document.Chunk, error) {
	chunks, err := s.repo.ListFailedChunks(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed chunks: %w", err)
	}
	return chunks, nil
}

// ExportChunks は completed チャンクを JSON Lines で書き出し、件数を返す
func (s *IngestionService) ExportChunks(ctx context.Context, filter document.Filter, w io.Writer) (int, error) {
	chunks, err := s.repo.FetchCompletedChunks(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch chunks: %w", err)
	}

	enc := json.NewEncoder(w)
	for i, c := range chunks {
		record := ExportRecord{
			DocumentID: c.DocumentID.String(),
			ChunkID:    fmt.Sprintf("%s_%d", c.DocumentID, c.Index),
			Text:       c.Text,
			Metadata:   c.Metadata,
		}
		if err := enc.Encode(record); err != nil {
			return i, fmt.Errorf("failed to write export record: %w", err)
		}
	}
	return len(chunks), nil
}

// embedChunks はチャンクをバッチに分けてワーカープールで Embedding する。
// 結果はチャンクのインデックス順に並ぶ。
func (s *IngestionService) embedChunks(ctx context.Context, chunks []chunking.Chunk) []embedding.Outcome {
	outcomes := make([]embedding.Outcome, len(chunks))

	batchSize := s.config.EmbedBatchSize
	if maxBatch := s.embedder.MaxBatchSize(); maxBatch > 0 && batchSize > maxBatch {
		batchSize = maxBatch
	}

	var wg sync.WaitGroup
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		wg.Add(1)
		err := s.embedPool.Submit(func() {
			defer wg.Done()
			copy(outcomes[start:end], s.embedder.EmbedBatch(ctx, texts))
		})
		if err != nil {
			wg.Done()
			for i := start; i < end; i++ {
				outcomes[i] = embedding.Outcome{Err: fmt.Errorf("failed to submit embedding task: %w", err)}
			}
		}
	}

	wg.Wait()
	return outcomes
}

// writeChunks はバッチ単位で upsert し、失敗したバッチだけを再試行する
func (s *IngestionService) writeChunks(ctx context.Context, logger *slog.Logger, documentID uuid.UUID, inputs []document.ChunkInput) error {
	for start := 0; start < len(inputs); start += s.config.StoreBatchSize {
		end := min(start+s.config.StoreBatchSize, len(inputs))
		batch := inputs[start:end]

		var lastErr error
		for attempt := 1; attempt <= s.config.StoreMaxAttempts; attempt++ {
			lastErr = s.repo.UpsertChunks(ctx, documentID, batch)
			if lastErr == nil || ctx.Err() != nil {
				break
			}
			if attempt == s.config.StoreMaxAttempts {
				break
			}

			delay := s.config.StoreRetryBase * time.Duration(attempt)
			logger.Warn("チャンクのバッチ書き込みに失敗、再試行します",
				"batch_start", start,
				"batch_size", len(batch),
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			if err := s.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		if lastErr != nil {
			var writeErr *StoreWriteError
			if errors.As(lastErr, &writeErr) {
				return writeErr
			}
			indices := make([]int, len(batch))
			for i, c := range batch {
				indices[i] = c.Index
			}
			return &StoreWriteError{DocumentID: documentID, Indices: indices, Err: lastErr}
		}
	}
	return nil
}

// fail はドキュメントを failed に遷移させる。
// 呼び出し元のコンテキストがキャンセルされていても状態を書き込む。
func (s *IngestionService) fail(ctx context.Context, logger *slog.Logger, result *IngestResult, cause error) (*IngestResult, error) {
	msg := cause.Error()
	result.Status = document.StatusFailed
	result.ErrorMessage = msg

	if err := s.repo.UpdateDocumentStatus(context.WithoutCancel(ctx), result.DocumentID, StatusUpdate{
		Status:       mo.Some(document.StatusFailed),
		ErrorMessage: mo.Some(msg),
		ChunkCount:   mo.Some(0),
	}); err != nil {
		logger.Error("ドキュメントの失敗状態の記録に失敗", "error", err, "cause", cause)
		return result, errors.Join(cause, fmt.Errorf("failed to record failed status: %w", err))
	}

	logger.Error("ドキュメント取り込みに失敗", "error", cause)
	return result, cause
}

// triggerSync はマネージドインデックスの同期をベストエフォートで起動する。
// 失敗は警告として記録し、取り込み結果には影響させない。
func (s *IngestionService) triggerSync(ctx context.Context, logger *slog.Logger, result *IngestResult) {
	if s.syncer == nil {
		return
	}

	if s.config.SyncMode == SyncModeBlocking {
		jobID, err := s.syncer.TriggerSync(ctx)
		if err != nil {
			logger.Warn("インデックス同期の起動に失敗（取り込みは成功扱い）", "error", err)
			return
		}
		result.SyncJobID = jobID
		s.recordSyncJob(ctx, logger, []uuid.UUID{result.DocumentID}, jobID)
		return
	}

	s.enqueueSync(context.WithoutCancel(ctx), result.DocumentID)
}

// enqueueSync は非同期同期のキューにドキュメントを積む。
// 実行中の同期があればその完了後に1回だけ再実行し、待機中のドキュメントをまとめて扱う。
func (s *IngestionService) enqueueSync(ctx context.Context, documentID uuid.UUID) {
	s.syncMu.Lock()
	s.syncQueue = append(s.syncQueue, documentID)
	if s.syncRunning {
		s.syncMu.Unlock()
		return
	}
	s.syncRunning = true
	s.syncWG.Add(1)
	s.syncMu.Unlock()

	go func() {
		defer s.syncWG.Done()
		for {
			s.syncMu.Lock()
			if len(s.syncQueue) == 0 {
				s.syncRunning = false
				s.syncMu.Unlock()
				return
			}
			docs := s.syncQueue
			s.syncQueue = nil
			s.syncMu.Unlock()

			jobID, err := s.syncer.TriggerSync(ctx)
			if err != nil {
				s.logger.Warn("インデックス同期の起動に失敗（取り込みは成功扱い）",
					"documents", len(docs),
					"error", err,
				)
				continue
			}
			s.recordSyncJob(ctx, s.logger, docs, jobID)
		}
	}()
}

func (s *IngestionService) recordSyncJob(ctx context.Context, logger *slog.Logger, documentIDs []uuid.UUID, jobID string) {
	for _, id := range documentIDs {
		// 同期経路ではジョブIDだけを記録し、状態は変更しない
		if err := s.repo.UpdateDocumentStatus(ctx, id, StatusUpdate{
			SyncJobID: mo.Some(jobID),
		}); err != nil {
			logger.Warn("同期ジョブIDの記録に失敗", "document_id", id, "job_id", jobID, "error", err)
		}
	}
	logger.Info("インデックス同期を起動", "job_id", jobID, "documents", len(documentIDs))
}

// chunkMetadata はドキュメントのタグと呼び出し元のメタデータをチャンクに複製する
func chunkMetadata(doc *document.Document, extra map[string]any, c chunking.Chunk) map[string]any {
	meta := make(map[string]any, len(extra)+8)
	for k, v := range extra {
		meta[k] = v
	}
	meta["document_id"] = doc.ID.String()
	meta["document_name"] = doc.Name
	meta["source_key"] = doc.SourceKey
	meta["chunk_index"] = c.Index
	if c.Tokens > 0 {
		meta["token_count"] = c.Tokens
	}

	tags := map[string]string{
		"tenant_id":  doc.Tags.TenantID,
		"user_id":    doc.Tags.UserID,
		"project_id": doc.Tags.ProjectID,
		"thread_id":  doc.Tags.ThreadID,
	}
	for k, v := range tags {
		if v != "" {
			meta[k] = v
		}
	}
	return meta
}
