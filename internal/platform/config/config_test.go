package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/chunking"
)

// unsetEnv は環境変数を削除し、テスト終了時に元の値へ戻す
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Setup
	unsetEnv(t, "CHUNK_SIZE", "CHUNK_OVERLAP", "STORE_BACKEND", "SEARCH_BACKEND", "KB_API_URL",
		"MAX_INGEST_RETRIES", "INGEST_BACKOFF_SECONDS", "SYNC_MODE", "LOG_LEVEL", "OPENAI_EMBEDDING_DIMENSION")

	// Execute
	cfg, err := Load("")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, chunking.DefaultChunkSize, cfg.Chunking.ChunkSize)
	assert.Equal(t, chunking.DefaultOverlap, cfg.Chunking.Overlap)
	assert.Equal(t, StoreBackendPostgres, cfg.StoreBackend)
	assert.Equal(t, SearchBackendBruteForce, cfg.Search.Backend)
	assert.Equal(t, 8, cfg.KnowledgeBase.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.KnowledgeBase.BackoffBase)
	assert.False(t, cfg.KnowledgeBase.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvFile(t *testing.T) {
	unsetEnv(t, "CHUNK_SIZE", "INGEST_BACKOFF_SECONDS", "INGEST_WAIT_TIMEOUT", "STORE_BACKEND")
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"CHUNK_SIZE=4\nINGEST_BACKOFF_SECONDS=0.5\nINGEST_WAIT_TIMEOUT=90s\nSTORE_BACKEND=Memory\n"), 0o644))

	cfg, err := Load(envFile)

	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Chunking.ChunkSize)
	assert.Equal(t, 500*time.Millisecond, cfg.KnowledgeBase.BackoffBase)
	assert.Equal(t, 90*time.Second, cfg.KnowledgeBase.WaitTimeout)
	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))

	assert.NoError(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			OpenAI:        OpenAIConfig{EmbeddingDimension: 1536},
			Chunking:      ChunkingConfig{ChunkSize: 300, Overlap: 50},
			Ingestion:     IngestionConfig{SyncMode: "async"},
			Search:        SearchConfig{Backend: SearchBackendBruteForce},
			Log:           LogConfig{Level: "info"},
			KnowledgeBase: KnowledgeBaseConfig{MaxAttempts: 8},
			StoreBackend:  StoreBackendMemory,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "正常", mutate: func(c *Config) {}},
		{name: "overlapがchunk size以上", mutate: func(c *Config) { c.Chunking.Overlap = 300 }, wantErr: true},
		{name: "chunk sizeが0", mutate: func(c *Config) { c.Chunking.ChunkSize = 0 }, wantErr: true},
		{name: "不明なストア", mutate: func(c *Config) { c.StoreBackend = "redis" }, wantErr: true},
		{name: "pgvectorはpostgres必須", mutate: func(c *Config) { c.Search.Backend = SearchBackendPgvector }, wantErr: true},
		{name: "pgvectorとpostgres", mutate: func(c *Config) {
			c.Search.Backend = SearchBackendPgvector
			c.StoreBackend = StoreBackendPostgres
		}},
		{name: "不明な同期モード", mutate: func(c *Config) { c.Ingestion.SyncMode = "later" }, wantErr: true},
		{name: "KB設定の不足", mutate: func(c *Config) { c.KnowledgeBase.APIURL = "http://kb" }, wantErr: true},
		{name: "不正なログレベル", mutate: func(c *Config) { c.Log.Level = "verbose" }, wantErr: true},
		{name: "同期の再試行回数が上限超過", mutate: func(c *Config) { c.KnowledgeBase.MaxAttempts = 100 }, wantErr: true},
		{name: "同期の再試行回数が上限ちょうど", mutate: func(c *Config) { c.KnowledgeBase.MaxAttempts = 32 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
