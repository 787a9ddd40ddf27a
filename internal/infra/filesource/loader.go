// Package filesource はディレクトリ配下の抽出済みテキストファイルを取り込み要求に変換する。
package filesource

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/ingestion"
)

// DefaultMaxFileSize は読み込むファイルサイズの上限
const DefaultMaxFileSize int64 = 10 << 20

// Loader はディレクトリを走査して ingestion.IngestRequest を生成する
type Loader struct {
	root          string
	sourcePrefix  string
	tags          document.Tags
	maxFileSize   int64
	extraPatterns []string
	logger        *slog.Logger
}

// Option は Loader の設定オプション
type Option func(*Loader)

// WithSourcePrefix は SourceKey の先頭に付与する文字列を設定する (例: "s3://bucket/docs")
func WithSourcePrefix(prefix string) Option {
	return func(l *Loader) {
		l.sourcePrefix = strings.TrimRight(prefix, "/")
	}
}

// WithTags は全ドキュメントに付与するタグを設定する
func WithTags(tags document.Tags) Option {
	return func(l *Loader) {
		l.tags = tags
	}
}

// WithMaxFileSize はファイルサイズの上限を設定する
func WithMaxFileSize(n int64) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxFileSize = n
		}
	}
}

// WithIgnorePatterns は追加の除外パターンを設定する
func WithIgnorePatterns(patterns ...string) Option {
	return func(l *Loader) {
		l.extraPatterns = append(l.extraPatterns, patterns...)
	}
}

// WithLoaderLogger はロガーを設定する
func WithLoaderLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader は root を走査する Loader を作成する
func NewLoader(root string, opts ...Option) *Loader {
	l := &Loader{
		root:        root,
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load はテキストファイルを相対パス順に読み込む。
// 除外パターン・vendor・バイナリ・サイズ超過のファイルはスキップする。
func (l *Loader) Load(ctx context.Context) ([]ingestion.IngestRequest, error) {
	info, err := os.Stat(l.root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", l.root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", l.root)
	}

	filter, err := newIgnoreFilter(l.root, l.extraPatterns)
	if err != nil {
		return nil, err
	}

	var reqs []ingestion.IngestRequest
	err = filepath.WalkDir(l.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if filter.ShouldIgnore(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if enry.IsVendor(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		req, ok, err := l.loadFile(p, rel, d)
		if err != nil {
			return err
		}
		if ok {
			reqs = append(reqs, req)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", l.root, err)
	}

	l.logger.Info("ファイルを読み込みました", "root", l.root, "files", len(reqs))
	return reqs, nil
}

func (l *Loader) loadFile(p, rel string, d fs.DirEntry) (ingestion.IngestRequest, bool, error) {
	info, err := d.Info()
	if err != nil {
		return ingestion.IngestRequest{}, false, err
	}
	if info.Size() > l.maxFileSize {
		l.logger.Warn("サイズ上限を超えるファイルをスキップします", "path", rel, "size", info.Size())
		return ingestion.IngestRequest{}, false, nil
	}

	content, err := os.ReadFile(p)
	if err != nil {
		return ingestion.IngestRequest{}, false, fmt.Errorf("failed to read %s: %w", rel, err)
	}
	if enry.IsBinary(content) {
		l.logger.Debug("バイナリファイルをスキップします", "path", rel)
		return ingestion.IngestRequest{}, false, nil
	}
	if enry.IsGenerated(rel, content) {
		l.logger.Debug("生成ファイルをスキップします", "path", rel)
		return ingestion.IngestRequest{}, false, nil
	}

	language := enry.GetLanguage(path.Base(rel), content)
	metadata := map[string]any{
		"path":         rel,
		"content_type": detectContentType(language, content),
	}
	if language != "" {
		metadata["language"] = language
	}

	return ingestion.IngestRequest{
		SourceKey: l.sourceKey(rel),
		Name:      path.Base(rel),
		Text:      string(content),
		Tags:      l.tags,
		Metadata:  metadata,
	}, true, nil
}

func (l *Loader) sourceKey(rel string) string {
	if l.sourcePrefix == "" {
		return rel
	}
	return l.sourcePrefix + "/" + rel
}

// detectContentType は言語名と内容からMIMEタイプを判定する
func detectContentType(language string, content []byte) string {
	if mime, ok := languageMimeTypes[language]; ok {
		return mime
	}
	if len(content) == 0 {
		return "text/plain"
	}
	detected := http.DetectContentType(content)
	if idx := strings.Index(detected, ";"); idx != -1 {
		detected = detected[:idx]
	}
	return strings.TrimSpace(detected)
}

var languageMimeTypes = map[string]string{
	"Markdown":         "text/markdown",
	"Text":             "text/plain",
	"HTML":             "text/html",
	"JSON":             "application/json",
	"YAML":             "text/x-yaml",
	"XML":              "text/xml",
	"CSV":              "text/csv",
	"TSV":              "text/tab-separated-values",
	"reStructuredText": "text/x-rst",
	"AsciiDoc":         "text/asciidoc",
	"Go":               "text/x-go",
	"Python":           "text/x-python",
	"SQL":              "text/x-sql",
}
