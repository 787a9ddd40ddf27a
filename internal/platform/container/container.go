package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jinford/doc-rag/internal/core/chunking"
	"github.com/jinford/doc-rag/internal/core/embedding"
	"github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/core/kbsync"
	"github.com/jinford/doc-rag/internal/core/search"
	"github.com/jinford/doc-rag/internal/infra/kbapi"
	"github.com/jinford/doc-rag/internal/infra/memory"
	"github.com/jinford/doc-rag/internal/infra/openai"
	"github.com/jinford/doc-rag/internal/infra/postgres"
	"github.com/jinford/doc-rag/internal/infra/postgres/sqlc"
	"github.com/jinford/doc-rag/internal/platform/config"
	"github.com/jinford/doc-rag/internal/platform/database"
)

// queryHistoryCapacity はメモリストア使用時に保持するクエリ履歴の件数
const queryHistoryCapacity = 1000

// Container はアプリケーションの依存関係を保持する。
type Container struct {
	IngestionService *ingestion.IngestionService
	SearchService    *search.SearchService
	// SyncTrigger は KB_API_URL が未設定の場合 nil
	SyncTrigger *kbsync.Trigger
	Store       ingestion.Repository

	config   *config.Config
	logger   *slog.Logger
	database *database.Database
	ownsDB   bool
}

type containerOptions struct {
	database      *database.Database
	provider      embedding.Provider
	jobController kbsync.JobController
	tokenCounter  chunking.TokenCounter
	store         ingestion.Repository
}

// Option はコンテナ生成時に依存関係を差し替える
type Option func(*containerOptions)

// WithDatabase は既存の Database を使う。Close 時に閉じない。
func WithDatabase(db *database.Database) Option {
	return func(o *containerOptions) {
		o.database = db
	}
}

// WithEmbeddingProvider は Embedding サービスを差し替える
func WithEmbeddingProvider(p embedding.Provider) Option {
	return func(o *containerOptions) {
		o.provider = p
	}
}

// WithJobController はマネージドインデックスのジョブ制御APIを差し替える
func WithJobController(c kbsync.JobController) Option {
	return func(o *containerOptions) {
		o.jobController = c
	}
}

// WithTokenCounter はチャンクのトークン数計測を差し替える
func WithTokenCounter(tc chunking.TokenCounter) Option {
	return func(o *containerOptions) {
		o.tokenCounter = tc
	}
}

// WithStore はチャンクストアを差し替える
func WithStore(store ingestion.Repository) Option {
	return func(o *containerOptions) {
		o.store = store
	}
}

// New は設定とロガーからコンテナを生成する。
func New(ctx context.Context, logger *slog.Logger, cfg *config.Config, opts ...Option) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}

	var o containerOptions
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{config: cfg, logger: logger}

	// Embedder (OpenAI)
	provider := o.provider
	if provider == nil {
		p, err := openai.NewEmbedder(cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
			openai.WithTimeout(cfg.OpenAI.Timeout),
			openai.WithBaseURL(cfg.OpenAI.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("Embedder 初期化に失敗しました: %w", err)
		}
		provider = p
	}
	embedder := embedding.NewEmbedder(provider,
		embedding.WithMaxAttempts(cfg.Embedding.MaxAttempts),
		embedding.WithRetryBase(cfg.Embedding.RetryBase),
		embedding.WithRateLimit(cfg.Embedding.RateLimit),
		embedding.WithEmbedderLogger(logger),
	)

	// Chunker / TokenCounter
	tokenCounter := o.tokenCounter
	if tokenCounter == nil {
		tc, err := chunking.NewTiktokenCounter()
		if err != nil {
			// トークン数はメタデータ用のため、取得できなくても取り込みは継続する
			logger.Warn("TokenCounter を初期化できませんでした", "error", err)
		} else {
			tokenCounter = tc
		}
	}
	var chunkerOpts []chunking.Option
	if tokenCounter != nil {
		chunkerOpts = append(chunkerOpts, chunking.WithTokenCounter(tokenCounter))
	}
	chunker, err := chunking.New(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap, chunkerOpts...)
	if err != nil {
		return nil, fmt.Errorf("Chunker 初期化に失敗しました: %w", err)
	}

	// Chunk Store / Searcher / QueryRecorder
	var (
		searcher search.Searcher
		recorder search.QueryRecorder
	)
	switch {
	case o.store != nil:
		c.Store = o.store
		searcher = search.NewBruteForceSearcher(o.store)
		recorder = memory.NewQueryHistory(queryHistoryCapacity)
	case cfg.StoreBackend == config.StoreBackendMemory:
		store := memory.NewStore()
		c.Store = store
		searcher = search.NewBruteForceSearcher(store)
		recorder = memory.NewQueryHistory(queryHistoryCapacity)
	default:
		db := o.database
		if db == nil {
			db, err = database.New(ctx, database.ConnectionParams{
				Host:     cfg.Database.Host,
				Port:     cfg.Database.Port,
				User:     cfg.Database.User,
				Password: cfg.Database.Password,
				DBName:   cfg.Database.DBName,
				SSLMode:  cfg.Database.SSLMode,
				MaxConns: int32(cfg.Database.MaxConns),
			})
			if err != nil {
				return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
			}
			c.ownsDB = true
		}
		c.database = db

		queries := sqlc.New(db.Pool)
		txProvider := database.NewTransactionProvider(db.Pool)
		store := postgres.NewChunkStore(queries, txProvider)
		c.Store = store
		recorder = postgres.NewQueryHistoryRepository(queries, txProvider)
		if cfg.Search.Backend == config.SearchBackendPgvector {
			searcher = postgres.NewVectorSearcher(queries)
		} else {
			searcher = search.NewBruteForceSearcher(store)
		}
	}

	// Sync Trigger
	controller := o.jobController
	if controller == nil && cfg.KnowledgeBase.Enabled() {
		client, err := kbapi.NewClient(cfg.KnowledgeBase.APIURL, kbapi.WithToken(cfg.KnowledgeBase.APIToken))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("KB クライアント初期化に失敗しました: %w", err)
		}
		controller = client
	}
	if controller != nil {
		c.SyncTrigger = kbsync.NewTrigger(controller, kbsync.Config{
			IndexID:      cfg.KnowledgeBase.IndexID,
			SourceID:     cfg.KnowledgeBase.SourceID,
			MaxAttempts:  cfg.KnowledgeBase.MaxAttempts,
			BackoffBase:  cfg.KnowledgeBase.BackoffBase,
			MaxJitter:    cfg.KnowledgeBase.MaxJitter,
			WaitTimeout:  cfg.KnowledgeBase.WaitTimeout,
			PollInterval: cfg.KnowledgeBase.PollInterval,
			JobTimeout:   cfg.KnowledgeBase.JobTimeout,
		}, kbsync.WithLogger(logger))
	}

	// IngestionService
	ingestionOpts := []ingestion.IngestionOption{
		ingestion.WithIngestionLogger(logger),
		ingestion.WithIngestionConfig(&ingestion.CoordinatorConfig{
			EmbedWorkers:     cfg.Ingestion.EmbedWorkers,
			EmbedBatchSize:   cfg.Embedding.BatchSize,
			DocumentWorkers:  cfg.Ingestion.DocumentWorkers,
			StoreBatchSize:   cfg.Ingestion.StoreBatchSize,
			StoreMaxAttempts: cfg.Ingestion.StoreMaxAttempts,
			StoreRetryBase:   ingestion.DefaultStoreRetryBase,
			SyncMode:         ingestion.SyncMode(cfg.Ingestion.SyncMode),
		}),
	}
	if c.SyncTrigger != nil {
		ingestionOpts = append(ingestionOpts, ingestion.WithSyncer(c.SyncTrigger))
	}
	c.IngestionService, err = ingestion.NewIngestionService(c.Store, chunker, embedder, ingestionOpts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("IngestionService 初期化に失敗しました: %w", err)
	}

	// SearchService
	c.SearchService = search.NewSearchService(searcher, embedder,
		search.WithSearchLogger(logger),
		search.WithQueryRecorder(recorder),
		search.WithDefaultTopK(cfg.Search.TopK),
	)

	return c, nil
}

// ErrSyncDisabled は同期先が設定されていない場合のエラー
var ErrSyncDisabled = errors.New("managed index sync is not configured: set KB_API_URL")

// Trigger は同期トリガーを返す。未設定の場合は ErrSyncDisabled。
func (c *Container) Trigger() (*kbsync.Trigger, error) {
	if c.SyncTrigger == nil {
		return nil, ErrSyncDisabled
	}
	return c.SyncTrigger, nil
}

// Close は内部リソースを解放する。
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.IngestionService != nil {
		c.IngestionService.Close()
	}
	if c.ownsDB && c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す。
func (c *Container) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Config は設定を返す。
func (c *Container) Config() *config.Config {
	return c.config
}

// Database はデータベースを返す。メモリストア使用時は nil。
func (c *Container) Database() *database.Database {
	if c == nil {
		return nil
	}
	return c.database
}
