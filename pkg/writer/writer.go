package writer

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// headerFormat は各ファイルの先頭に付与する出典行です。
const headerFormat = "# Crawled Content from %s\n\n"

// Writer はクロール結果を Markdown ファイルとして出力ディレクトリに保存します。
type Writer struct {
	fs  afero.Fs
	dir string
}

// New は出力ディレクトリを作成し、Writer を返します。
// ディレクトリを作成できない場合はエラーを返します。
func New(fs afero.Fs, dir string) (*Writer, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("出力ディレクトリの作成に失敗しました (%s): %w", dir, err)
	}
	return &Writer{fs: fs, dir: dir}, nil
}

// Dir は出力ディレクトリを返します。
func (w *Writer) Dir() string {
	return w.dir
}

// Path は url に対応する出力ファイルのパスを返します。
func (w *Writer) Path(url string) string {
	return filepath.Join(w.dir, SafeName(url)+".md")
}

// Save は出典行に続けて content を書き込みます。同名のファイルは上書きされます。
func (w *Writer) Save(url, content string) error {
	path := w.Path(url)
	data := fmt.Sprintf(headerFormat, url) + content
	if err := afero.WriteFile(w.fs, path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("ファイルの書き込みに失敗しました (%s): %w", path, err)
	}
	return nil
}
