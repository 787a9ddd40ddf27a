package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_QuickBrownFox(t *testing.T) {
	chunks, err := Split("The quick brown fox jumps over the lazy dog", 4, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"The quick brown fox",
		"fox jumps over the",
		"the lazy dog",
	}, chunks)
}

func TestSplit_EdgeCases(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		chunkSize int
		overlap   int
		want      []string
	}{
		{name: "空文字列", text: "", chunkSize: 3, overlap: 1, want: nil},
		{name: "空白のみ", text: " \n\t  ", chunkSize: 3, overlap: 1, want: nil},
		{name: "chunkSize 未満の単語数", text: "a b", chunkSize: 3, overlap: 1, want: []string{"a b"}},
		{name: "ちょうど chunkSize", text: "a b c", chunkSize: 3, overlap: 1, want: []string{"a b c"}},
		{name: "重複なし", text: "a b c d e f", chunkSize: 2, overlap: 0, want: []string{"a b", "c d", "e f"}},
		{name: "末尾の短いウィンドウは一度だけ", text: "a b c d e", chunkSize: 3, overlap: 1, want: []string{"a b c", "c d e"}},
		{name: "連続空白と改行は単語区切り", text: "a\n\nb   c\td", chunkSize: 2, overlap: 1, want: []string{"a b", "b c", "c d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Split(tt.text, tt.chunkSize, tt.overlap)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplit_InvalidConfig(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
		wantErr   error
	}{
		{name: "chunkSize が0", chunkSize: 0, overlap: 0, wantErr: ErrInvalidChunkSize},
		{name: "chunkSize が負", chunkSize: -1, overlap: 0, wantErr: ErrInvalidChunkSize},
		{name: "overlap が chunkSize と同じ", chunkSize: 3, overlap: 3, wantErr: ErrInvalidOverlap},
		{name: "overlap が chunkSize 超過", chunkSize: 3, overlap: 5, wantErr: ErrInvalidOverlap},
		{name: "overlap が負", chunkSize: 3, overlap: -1, wantErr: ErrInvalidOverlap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split("a b c d", tt.chunkSize, tt.overlap)
			assert.ErrorIs(t, err, tt.wantErr)

			_, err = New(tt.chunkSize, tt.overlap)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet consectetur ", 40)

	for _, cfg := range [][2]int{{5, 0}, {5, 2}, {7, 6}, {300, 50}} {
		first, err := Split(text, cfg[0], cfg[1])
		require.NoError(t, err)
		second, err := Split(text, cfg[0], cfg[1])
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

// 各チャンクの非重複部分を連結すると元の単語列に戻ることを確認する
func TestSplit_Coverage(t *testing.T) {
	words := make([]string, 0, 103)
	for i := range 103 {
		words = append(words, fmt.Sprintf("w%d", i))
	}
	text := strings.Join(words, " ")

	for _, cfg := range [][2]int{{1, 0}, {4, 1}, {10, 3}, {10, 9}, {103, 5}, {200, 50}} {
		chunkSize, overlap := cfg[0], cfg[1]
		t.Run(fmt.Sprintf("size=%d/overlap=%d", chunkSize, overlap), func(t *testing.T) {
			chunks, err := Split(text, chunkSize, overlap)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			var rebuilt []string
			for i, c := range chunks {
				cw := strings.Fields(c)
				if i == 0 {
					rebuilt = append(rebuilt, cw...)
					continue
				}
				require.Greater(t, len(cw), overlap)
				rebuilt = append(rebuilt, cw[overlap:]...)
			}
			assert.Equal(t, words, rebuilt)
		})
	}
}

type stubCounter struct{}

func (stubCounter) CountTokens(text string) int { return len(strings.Fields(text)) * 2 }

func TestChunker_Chunk(t *testing.T) {
	// Setup
	c, err := New(4, 1, WithTokenCounter(stubCounter{}))
	require.NoError(t, err)

	// Execute
	chunks := c.Chunk("The quick brown fox jumps over the lazy dog")

	// Assert
	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
	}
	assert.Equal(t, "the lazy dog", chunks[2].Text)
	assert.Equal(t, 6, chunks[2].Tokens)
	assert.Equal(t, 4, c.ChunkSize())
	assert.Equal(t, 1, c.Overlap())
}

func TestChunker_ChunkWithoutCounter(t *testing.T) {
	c, err := New(DefaultChunkSize, DefaultOverlap)
	require.NoError(t, err)

	chunks := c.Chunk("short text")
	require.Len(t, chunks, 1)
	assert.Zero(t, chunks[0].Tokens)
	assert.Empty(t, c.Chunk(""))
}
