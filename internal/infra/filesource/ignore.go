package filesource

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// ignoreFileNames はルート直下から読み込む除外パターンファイル
var ignoreFileNames = []string{".gitignore", ".ragignore"}

// ignoreFilter は .gitignore と .ragignore のパターンマッチングを提供する
type ignoreFilter struct {
	matcher *gitignore.GitIgnore
}

// newIgnoreFilter は root 配下の除外パターンファイルとデフォルトパターンからフィルタを作成する
func newIgnoreFilter(root string, extra []string) (*ignoreFilter, error) {
	var patterns []string
	for _, name := range ignoreFileNames {
		path := filepath.Join(root, name)
		content, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		patterns = append(patterns, parseIgnoreLines(content)...)
	}

	patterns = append(patterns, defaultIgnorePatterns...)
	patterns = append(patterns, extra...)

	return &ignoreFilter{matcher: gitignore.CompileIgnoreLines(patterns...)}, nil
}

// ShouldIgnore は root からの相対パスが除外対象かを判定する
func (f *ignoreFilter) ShouldIgnore(relPath string) bool {
	return f.matcher.MatchesPath(filepath.ToSlash(relPath))
}

func parseIgnoreLines(content []byte) []string {
	var patterns []string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// 空行とコメント行をスキップ
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

// defaultIgnorePatterns は抽出済みテキストとして扱わないファイル
var defaultIgnorePatterns = []string{
	".git",
	".gitignore",
	".ragignore",
	".env",
	".env.*",
	".DS_Store",
	"node_modules",
	"vendor",
	"*.swp",
	"*~",
	"*.tmp",
	"*.log",

	// 機密情報
	"*.pem",
	"*.key",

	// バイナリ・メディア
	"*.zip",
	"*.gz",
	"*.tar",
	"*.png",
	"*.jpg",
	"*.jpeg",
	"*.gif",
	"*.pdf",
	"*.mp3",
	"*.mp4",
	"*.db",
	"*.sqlite",
}
