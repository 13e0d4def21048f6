package converter

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRenderer は HTML をそのまま PDF の代わりに返します。
// failOn に含まれる文字列を含む HTML の場合はエラーを返します。
type fakeRenderer struct {
	failOn  string
	renders []string
	closed  bool
}

func (f *fakeRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	f.renders = append(f.renders, html)
	if f.failOn != "" && strings.Contains(html, f.failOn) {
		return nil, errors.New("render failed")
	}
	return []byte("%PDF-fake\n" + html), nil
}

func (f *fakeRenderer) Close() error {
	f.closed = true
	return nil
}

func writeFile(t *testing.T, fs afero.Fs, name, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
}

func TestRenderHTML(t *testing.T) {
	md := "# Title\n\n## Section One\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n```go\nfunc main() {}\n```\n\nline one\nline two\n"

	out, err := RenderHTML([]byte(md))
	require.NoError(t, err)
	html := string(out)

	assert.Contains(t, html, `<h2 id="section-one">Section One</h2>`, "見出しアンカー")
	assert.Contains(t, html, "<table>", "テーブル")
	assert.Contains(t, html, "<td>1</td>")
	assert.Contains(t, html, "<pre", "フェンス付きコード")
	assert.Contains(t, html, "style=", "シンタックスハイライト")
	assert.Contains(t, html, "<br", "改行の <br> 変換")
}

func TestDocument(t *testing.T) {
	doc, err := Document("doc.md", []byte("<p>hello</p>"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(doc, "<!DOCTYPE html>"))
	assert.Contains(t, doc, "<title>doc.md</title>")
	assert.Contains(t, doc, `<meta charset="utf-8">`)
	assert.Contains(t, doc, "border-collapse: collapse;")
	assert.Contains(t, doc, "<p>hello</p>")
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		input, outputDir, expected string
	}{
		{"doc.md", "", "doc.pdf"},
		{filepath.Join("docs", "guide.md"), "", filepath.Join("docs", "guide.pdf")},
		{filepath.Join("docs", "guide.md"), "out", filepath.Join("out", "guide.pdf")},
		{filepath.Join("dir.v2", "README"), "", filepath.Join("dir.v2", "README.pdf")},
		{"notes.tar.md", "pdfs", filepath.Join("pdfs", "notes.tar.pdf")},
	}
	for _, tt := range tests {
		t.Run(tt.input+"->"+tt.outputDir, func(t *testing.T) {
			assert.Equal(t, tt.expected, OutputPath(tt.input, tt.outputDir))
		})
	}
}

func TestConvertFile_SingleWithoutOutputDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, filepath.Join("docs", "doc.md"), "# Doc\n")
	renderer := &fakeRenderer{}
	var out bytes.Buffer

	output, err := New(fs, renderer, WithOutput(&out)).ConvertFile(context.Background(), filepath.Join("docs", "doc.md"), "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("docs", "doc.pdf"), output)

	data, err := afero.ReadFile(fs, output)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-fake")))
	assert.Contains(t, string(data), `<h1 id="doc">Doc</h1>`)
	assert.Contains(t, out.String(), "doc.pdf")
}

func TestConvertFile_WithOutputDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, filepath.Join("docs", "doc.md"), "text")

	output, err := New(fs, &fakeRenderer{}, WithOutput(&bytes.Buffer{})).
		ConvertFile(context.Background(), filepath.Join("docs", "doc.md"), filepath.Join("build", "pdf"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("build", "pdf", "doc.pdf"), output)

	exists, err := afero.Exists(fs, output)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestConvertFile_MissingInput(t *testing.T) {
	_, err := New(afero.NewMemMapFs(), &fakeRenderer{}, WithOutput(&bytes.Buffer{})).
		ConvertFile(context.Background(), "missing.md", "")
	assert.Error(t, err)
}

func TestConvertGlob_NoMatches(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, filepath.Join("docs", "readme.txt"), "not markdown")
	renderer := &fakeRenderer{}
	var out bytes.Buffer

	summary, err := New(fs, renderer, WithOutput(&out)).ConvertGlob(context.Background(), "docs/*.md", "")
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	assert.Contains(t, out.String(), "見つかりません: docs/*.md")
	assert.Empty(t, renderer.renders)

	pdfs, err := afero.Glob(fs, filepath.Join("docs", "*.pdf"))
	require.NoError(t, err)
	assert.Empty(t, pdfs, "何も書き込まれないこと")
}

func TestConvertGlob_IsolatesFailures(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, filepath.Join("docs", "a.md"), "# A")
	writeFile(t, fs, filepath.Join("docs", "b.md"), "# BROKEN")
	writeFile(t, fs, filepath.Join("docs", "c.md"), "# C")
	var out bytes.Buffer

	summary, err := New(fs, &fakeRenderer{failOn: "BROKEN"}, WithOutput(&out)).
		ConvertGlob(context.Background(), "docs/*.md", "out")
	require.NoError(t, err)
	assert.Equal(t, Summary{Matched: 3, Converted: 2, Failed: 1}, summary)
	assert.Contains(t, out.String(), "変換エラー")

	for name, want := range map[string]bool{"a.pdf": true, "b.pdf": false, "c.pdf": true} {
		exists, err := afero.Exists(fs, filepath.Join("out", name))
		require.NoError(t, err)
		assert.Equal(t, want, exists, name)
	}
}

func TestMatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, filepath.Join("docs", "a.md"), "")
	writeFile(t, fs, filepath.Join("docs", "b.txt"), "")
	writeFile(t, fs, filepath.Join("docs", "sub", "c.md"), "")
	writeFile(t, fs, filepath.Join("docs", "sub", "deep", "d.md"), "")
	writeFile(t, fs, filepath.Join("docs", ".draft.md"), "")
	writeFile(t, fs, filepath.Join("docs", ".hidden", "e.md"), "")

	tests := []struct {
		name     string
		pattern  string
		expected []string
	}{
		{
			name:     "単一階層",
			pattern:  "docs/*.md",
			expected: []string{filepath.Join("docs", "a.md")},
		},
		{
			name:    "再帰",
			pattern: "docs/**/*.md",
			expected: []string{
				filepath.Join("docs", "a.md"),
				filepath.Join("docs", "sub", "c.md"),
				filepath.Join("docs", "sub", "deep", "d.md"),
			},
		},
		{
			name:     "ディレクトリ部分のワイルドカード",
			pattern:  "docs/*/c.md",
			expected: []string{filepath.Join("docs", "sub", "c.md")},
		},
		{
			name:     "ドットで始まるパターンは隠しファイルに一致",
			pattern:  "docs/.*.md",
			expected: []string{filepath.Join("docs", ".draft.md")},
		},
		{
			name:     "隠しディレクトリを明示",
			pattern:  "docs/.hidden/*.md",
			expected: []string{filepath.Join("docs", ".hidden", "e.md")},
		},
		{
			name:     "ワイルドカードなし_存在する",
			pattern:  filepath.Join("docs", "a.md"),
			expected: []string{filepath.Join("docs", "a.md")},
		},
		{
			name:     "ワイルドカードなし_存在しない",
			pattern:  filepath.Join("docs", "zzz.md"),
			expected: nil,
		},
		{
			name:     "存在しないディレクトリ",
			pattern:  "nowhere/*.md",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, err := Match(fs, tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, matches)
		})
	}
}

// lockedDirFs は指定したディレクトリの読み込みを常に失敗させます。
type lockedDirFs struct {
	afero.Fs
	locked string
}

func (l lockedDirFs) Open(name string) (afero.File, error) {
	if filepath.Clean(name) == l.locked {
		return nil, os.ErrPermission
	}
	return l.Fs.Open(name)
}

func TestMatch_SkipsUnreadableDirectories(t *testing.T) {
	base := afero.NewMemMapFs()
	writeFile(t, base, filepath.Join("docs", "a.md"), "")
	writeFile(t, base, filepath.Join("docs", "locked", "b.md"), "")
	writeFile(t, base, filepath.Join("docs", "open", "c.md"), "")
	fs := lockedDirFs{Fs: base, locked: filepath.Join("docs", "locked")}

	matches, err := Match(fs, "docs/**/*.md")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("docs", "a.md"),
		filepath.Join("docs", "open", "c.md"),
	}, matches)
}
