package converter

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// highlightStyle はコードブロックのハイライトに使用する chroma のスタイル名です。
const highlightStyle = "github"

var (
	//go:embed style.css
	stylesheet string

	//go:embed document.html
	documentTemplate string

	documentTmpl = template.Must(template.New("document").Parse(documentTemplate))
)

// markdownEngine はテーブル、フェンス付きコード、シンタックスハイライト、
// 見出しアンカー (目次用)、改行の <br> 変換を有効にした goldmark です。
var markdownEngine = goldmark.New(
	goldmark.WithExtensions(
		extension.Table,
		highlighting.NewHighlighting(highlighting.WithStyle(highlightStyle)),
	),
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
		html.WithUnsafe(),
	),
)

// RenderHTML は Markdown を HTML の断片に変換します。
func RenderHTML(markdown []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := markdownEngine.Convert(markdown, &buf); err != nil {
		return nil, fmt.Errorf("Markdownの変換に失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}

// Document は HTML の断片を固定テンプレートとスタイルシートに埋め込み、完全な HTML 文書を返します。
func Document(title string, body []byte) (string, error) {
	var buf bytes.Buffer
	err := documentTmpl.Execute(&buf, struct {
		Title string
		CSS   template.CSS
		Body  template.HTML
	}{
		Title: title,
		CSS:   template.CSS(stylesheet),
		Body:  template.HTML(body),
	})
	if err != nil {
		return "", fmt.Errorf("HTMLテンプレートの適用に失敗しました: %w", err)
	}
	return buf.String(), nil
}
