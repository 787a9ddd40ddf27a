package search

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/jinford/doc-rag/internal/core/document"
)

// CosineSimilarity はコサイン類似度を返す。
// どちらかのノルムが 0 の場合や次元が異なる場合は 0 を返す。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) {
		return 0
	}
	return sim
}

// BruteForceSearcher は呼び出しのたびに completed チャンクを読み直し、全件のコサイン類似度で順位付けする
type BruteForceSearcher struct {
	source ChunkSource
}

// NewBruteForceSearcher は新しい BruteForceSearcher を作成する
func NewBruteForceSearcher(source ChunkSource) *BruteForceSearcher {
	return &BruteForceSearcher{source: source}
}

// TopK は上位 k 件を返す
func (s *BruteForceSearcher) TopK(ctx context.Context, queryVector []float32, k int, filter document.Filter) ([]*Result, error) {
	if k <= 0 {
		return []*Result{}, nil
	}

	chunks, err := s.source.FetchCompletedChunks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch completed chunks: %w", err)
	}

	return RankChunks(queryVector, chunks, k), nil
}

// RankChunks は走査順を保ったままスコアの降順に並べ、k 件に切り詰める
func RankChunks(queryVector []float32, chunks []*document.Chunk, k int) []*Result {
	results := make([]*Result, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, &Result{
			DocumentID: c.DocumentID,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Metadata:   c.Metadata,
			Score:      CosineSimilarity(queryVector, c.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}
