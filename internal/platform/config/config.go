package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jinford/doc-rag/internal/core/chunking"
	"github.com/jinford/doc-rag/internal/core/kbsync"
)

// StoreBackend はチャンクストアの実装
type StoreBackend string

const (
	StoreBackendPostgres StoreBackend = "postgres"
	StoreBackendMemory   StoreBackend = "memory"
)

// SearchBackend は類似検索の実装
type SearchBackend string

const (
	// SearchBackendBruteForce は completed チャンク全件のコサイン類似度で順位付けする
	SearchBackendBruteForce SearchBackend = "bruteforce"
	// SearchBackendPgvector は pgvector の HNSW インデックスを使う近似検索
	SearchBackendPgvector SearchBackend = "pgvector"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	Database      DatabaseConfig
	OpenAI        OpenAIConfig
	Chunking      ChunkingConfig
	Embedding     EmbeddingConfig
	Ingestion     IngestionConfig
	Search        SearchConfig
	KnowledgeBase KnowledgeBaseConfig
	Log           LogConfig

	StoreBackend StoreBackend
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// OpenAIConfig はOpenAI API設定（Embeddings用）
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	EmbeddingModel     string
	EmbeddingDimension int
	Timeout            time.Duration
}

// ChunkingConfig は単語ウィンドウ分割の設定
type ChunkingConfig struct {
	ChunkSize int
	Overlap   int
}

// EmbeddingConfig は Embedding 呼び出しのリトライと流量制御の設定
type EmbeddingConfig struct {
	MaxAttempts int
	RetryBase   time.Duration
	BatchSize   int
	RateLimit   float64 // 毎秒のリクエスト数。0 で無制限
}

// IngestionConfig は取り込み処理の設定
type IngestionConfig struct {
	DocumentWorkers  int
	EmbedWorkers     int
	StoreBatchSize   int
	StoreMaxAttempts int
	SyncMode         string // "async" or "blocking"
}

// SearchConfig は検索の設定
type SearchConfig struct {
	Backend SearchBackend
	TopK    int
}

// KnowledgeBaseConfig はマネージドインデックス同期の設定。
// APIURL が空の場合は同期を行わない。
type KnowledgeBaseConfig struct {
	APIURL       string
	APIToken     string
	IndexID      string
	SourceID     string
	MaxAttempts  int
	BackoffBase  time.Duration
	MaxJitter    time.Duration
	WaitTimeout  time.Duration
	PollInterval time.Duration
	JobTimeout   time.Duration
}

// Enabled は同期先が設定されているかを返す
func (c KnowledgeBaseConfig) Enabled() bool {
	return c.APIURL != ""
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "docrag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "docrag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			Timeout:            getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
		},
		Chunking: ChunkingConfig{
			ChunkSize: getEnvAsInt("CHUNK_SIZE", chunking.DefaultChunkSize),
			Overlap:   getEnvAsInt("CHUNK_OVERLAP", chunking.DefaultOverlap),
		},
		Embedding: EmbeddingConfig{
			MaxAttempts: getEnvAsInt("EMBED_RETRIES", 3),
			RetryBase:   getEnvAsSeconds("EMBED_RETRY_SECONDS", 2*time.Second),
			BatchSize:   getEnvAsInt("EMBED_BATCH_SIZE", 20),
			RateLimit:   getEnvAsFloat("EMBED_RATE_LIMIT", 0),
		},
		Ingestion: IngestionConfig{
			DocumentWorkers:  getEnvAsInt("MAX_WORKERS", 4),
			EmbedWorkers:     getEnvAsInt("EMBED_WORKERS", 4),
			StoreBatchSize:   getEnvAsInt("BATCH_SIZE", 20),
			StoreMaxAttempts: getEnvAsInt("STORE_RETRIES", 3),
			SyncMode:         getEnv("SYNC_MODE", "async"),
		},
		Search: SearchConfig{
			Backend: SearchBackend(strings.ToLower(getEnv("SEARCH_BACKEND", string(SearchBackendBruteForce)))),
			TopK:    getEnvAsInt("TOP_K", 5),
		},
		KnowledgeBase: KnowledgeBaseConfig{
			APIURL:       getEnv("KB_API_URL", ""),
			APIToken:     getEnv("KB_API_TOKEN", ""),
			IndexID:      getEnv("KB_INDEX_ID", ""),
			SourceID:     getEnv("KB_SOURCE_ID", ""),
			MaxAttempts:  getEnvAsInt("MAX_INGEST_RETRIES", 8),
			BackoffBase:  getEnvAsSeconds("INGEST_BACKOFF_SECONDS", 5*time.Second),
			MaxJitter:    getEnvAsSeconds("INGEST_JITTER_SECONDS", 3*time.Second),
			WaitTimeout:  getEnvAsDuration("INGEST_WAIT_TIMEOUT", 60*time.Second),
			PollInterval: getEnvAsDuration("INGEST_POLL_INTERVAL", 5*time.Second),
			JobTimeout:   getEnvAsDuration("KB_JOB_TIMEOUT", 120*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		StoreBackend: StoreBackend(strings.ToLower(getEnv("STORE_BACKEND", string(StoreBackendPostgres)))),
	}

	return cfg, nil
}

// Validate は起動前に検出できる設定の誤りを返します
func (c *Config) Validate() error {
	var errs []error

	if err := chunking.Validate(c.Chunking.ChunkSize, c.Chunking.Overlap); err != nil {
		errs = append(errs, err)
	}

	switch c.StoreBackend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.Search.Backend {
	case SearchBackendBruteForce:
	case SearchBackendPgvector:
		if c.StoreBackend != StoreBackendPostgres {
			errs = append(errs, errors.New("SEARCH_BACKEND=pgvector requires STORE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SEARCH_BACKEND %q", c.Search.Backend))
	}

	if c.OpenAI.EmbeddingDimension <= 0 {
		errs = append(errs, fmt.Errorf("OPENAI_EMBEDDING_DIMENSION must be positive: %d", c.OpenAI.EmbeddingDimension))
	}

	switch c.Ingestion.SyncMode {
	case "async", "blocking":
	default:
		errs = append(errs, fmt.Errorf("unknown SYNC_MODE %q", c.Ingestion.SyncMode))
	}

	if c.KnowledgeBase.Enabled() && (c.KnowledgeBase.IndexID == "" || c.KnowledgeBase.SourceID == "") {
		errs = append(errs, errors.New("KB_INDEX_ID and KB_SOURCE_ID are required when KB_API_URL is set"))
	}

	if n := c.KnowledgeBase.MaxAttempts; n > kbsync.MaxAttemptsLimit {
		errs = append(errs, fmt.Errorf("MAX_INGEST_RETRIES must be at most %d: %d", kbsync.MaxAttemptsLimit, n))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ParseLevel はログレベル文字列を slog.Level に変換します
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は "30s" 形式、または単位なしの秒数として取得します
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	return getEnvAsSeconds(key, defaultValue)
}

// getEnvAsSeconds は秒数（小数可）として取得します
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	seconds, err := strconv.ParseFloat(valueStr, 64)
	if err != nil || seconds < 0 {
		return defaultValue
	}
	return time.Duration(seconds * float64(time.Second))
}
