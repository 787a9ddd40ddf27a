package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRequest struct {
	Input      json.RawMessage `json:"input"`
	Model      string          `json:"model"`
	Dimensions int             `json:"dimensions"`
}

func embeddingResponse(t *testing.T, w http.ResponseWriter, vectors map[int][]float64, order []int) {
	t.Helper()
	data := make([]map[string]any, 0, len(order))
	for _, idx := range order {
		data = append(data, map[string]any{
			"object":    "embedding",
			"index":     idx,
			"embedding": vectors[idx],
		})
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   data,
		"model":  "text-embedding-3-small",
		"usage":  map[string]any{"prompt_tokens": 3, "total_tokens": 3},
	}))
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestNewEmbedderOptionsOverrideDefaults(t *testing.T) {
	embedder, err := NewEmbedder("dummy-key",
		WithEmbeddingModel("custom-model"),
		WithEmbeddingDimension(42),
	)
	require.NoError(t, err)

	assert.Equal(t, "custom-model", embedder.ModelName())
	assert.Equal(t, 42, embedder.Dimension())
	assert.Equal(t, MaxBatchSize, embedder.MaxBatchSize())
}

func TestNewEmbedderRequiresAPIKey(t *testing.T) {
	_, err := NewEmbedder("")

	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestEmbedder_BatchEmbedRestoresInputOrder(t *testing.T) {
	// Setup: サーバーはインデックスを逆順で返す
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.Dimensions)

		embeddingResponse(t, w, map[int][]float64{
			0: {1, 0},
			1: {0, 1},
			2: {1, 1},
		}, []int{2, 0, 1})
	}))
	defer server.Close()

	embedder, err := NewEmbedder("test-key",
		WithBaseURL(server.URL+"/v1/"),
		WithEmbeddingDimension(2),
	)
	require.NoError(t, err)

	// Execute
	vectors, err := embedder.BatchEmbed(context.Background(), []string{"a", "b", "c"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}, {1, 1}}, vectors)
}

func TestEmbedder_EmbedSingle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		embeddingResponse(t, w, map[int][]float64{0: {0.5, 0.25}}, []int{0})
	}))
	defer server.Close()

	embedder, err := NewEmbedder("test-key", WithBaseURL(server.URL+"/v1/"), WithEmbeddingDimension(2))
	require.NoError(t, err)

	vector, err := embedder.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vector)
}

func TestEmbedder_RetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests","code":"rate_limit_exceeded"}}`))
			return
		}
		embeddingResponse(t, w, map[int][]float64{0: {1}}, []int{0})
	}))
	defer server.Close()

	var delays []time.Duration
	embedder, err := NewEmbedder("test-key",
		WithBaseURL(server.URL+"/v1/"),
		WithEmbeddingDimension(1),
		WithBackoffSleeper(func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}),
	)
	require.NoError(t, err)

	vector, err := embedder.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vector)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{BaseBackoff}, delays)
}

func TestEmbedder_DoesNotRetryOtherErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad input","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	embedder, err := NewEmbedder("test-key", WithBaseURL(server.URL+"/v1/"), WithBackoffSleeper(noSleep))
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), "hello")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedder_BatchEmbedValidation(t *testing.T) {
	embedder, err := NewEmbedder("test-key")
	require.NoError(t, err)

	_, err = embedder.BatchEmbed(context.Background(), nil)
	assert.Error(t, err)

	_, err = embedder.BatchEmbed(context.Background(), make([]string, MaxBatchSize+1))
	assert.Error(t, err)
}
