package chunking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultChunkSize はチャンクあたりのデフォルト単語数
	DefaultChunkSize = 300
	// DefaultOverlap は隣接チャンク間で重複させるデフォルト単語数
	DefaultOverlap = 50
)

var (
	// ErrInvalidChunkSize は chunkSize が正でない場合に返されます
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	// ErrInvalidOverlap は overlap が負、または chunkSize 以上の場合に返されます
	ErrInvalidOverlap = errors.New("overlap must be in [0, chunk size)")
)

// Validate は分割パラメータを検証します
func Validate(chunkSize, overlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidChunkSize, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return fmt.Errorf("%w: overlap=%d, chunk_size=%d", ErrInvalidOverlap, overlap, chunkSize)
	}
	return nil
}

// Split は空白区切りの単語列を chunkSize 語のウィンドウに分割し、
// chunkSize-overlap 語ずつ進めます。最後のウィンドウは短くてもよく、一度だけ含まれます。
// 同じ入力に対しては常に同じ結果を返します。
func Split(text string, chunkSize, overlap int) ([]string, error) {
	if err := Validate(chunkSize, overlap); err != nil {
		return nil, err
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	step := chunkSize - overlap
	chunks := make([]string, 0, len(words)/step+1)
	for start := 0; start < len(words); start += step {
		end := min(start+chunkSize, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}

	return chunks, nil
}

// TokenCounter はチャンクのトークン数を数えます
type TokenCounter interface {
	CountTokens(text string) int
}

// Chunk は分割結果の1要素
type Chunk struct {
	Index  int
	Text   string
	Tokens int
}

// Chunker は検証済みの設定で Split を実行します
type Chunker struct {
	chunkSize int
	overlap   int
	counter   TokenCounter
}

// Option は Chunker のオプション設定
type Option func(*Chunker)

// WithTokenCounter はトークン数の計測に使うカウンタを設定する
func WithTokenCounter(counter TokenCounter) Option {
	return func(c *Chunker) {
		c.counter = counter
	}
}

// New は設定を検証して Chunker を作成します。
// 不正な設定はここで即座にエラーになります。
func New(chunkSize, overlap int, opts ...Option) (*Chunker, error) {
	if err := Validate(chunkSize, overlap); err != nil {
		return nil, err
	}

	c := &Chunker{
		chunkSize: chunkSize,
		overlap:   overlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ChunkSize はチャンクあたりの単語数を返す
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap は重複単語数を返す
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk はテキストを分割し、インデックスとトークン数を付与します
func (c *Chunker) Chunk(text string) []Chunk {
	// 設定は New で検証済み
	texts, _ := Split(text, c.chunkSize, c.overlap)

	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{Index: i, Text: t}
		if c.counter != nil {
			chunks[i].Tokens = c.counter.CountTokens(t)
		}
	}
	return chunks
}

// TiktokenCounter は tiktoken を利用した TokenCounter 実装
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter は cl100k_base エンコーディングのカウンタを作成する
// （OpenAI の text-embedding-3 系と互換）
func NewTiktokenCounter() (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	return &TiktokenCounter{encoding: enc}, nil
}

// CountTokens はテキストのトークン数を返す
func (t *TiktokenCounter) CountTokens(text string) int {
	if t == nil || t.encoding == nil {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}
