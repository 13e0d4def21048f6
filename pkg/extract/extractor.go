package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	textUtils "github.com/shouni/go-utils/text"
)

// ErrNothingExtracted は、ページから何も抽出できなかった場合に返されます。
var ErrNothingExtracted = errors.New("webページから何も抽出できませんでした")

// Extractor は、Fetcher を使ってコンテンツ抽出プロセスを管理します。
type Extractor struct {
	fetcher Fetcher
}

// NewExtractor は、新しいExtractorのインスタンスを生成します。
func NewExtractor(fetcher Fetcher) (*Extractor, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("extract.NewExtractor: Fetcher cannot be nil")
	}
	return &Extractor{
		fetcher: fetcher,
	}, nil
}

// ----------------------------------------------------------------------
// 定数定義 (解析関連のみ)
// ----------------------------------------------------------------------
const (
	MinParagraphLength   = 20
	MinHeadingLength     = 3
	mainContentSelectors = "article, main, div[role='main'], #main, #content, .post-content, .article-body, .entry-content, .markdown-body, .readme"
	noiseSelectors       = ".related-posts, .social-share, .comments, .ad-banner, .advertisement, script, style, noscript"

	// textExtractionTags は本文抽出に使用するHTMLタグを定義します。
	textExtractionTags = "p, h1, h2, h3, h4, h5, h6, li, blockquote"

	titlePrefix = "# "
)

// ----------------------------------------------------------------------
// メイン関数 (メソッド化)
// ----------------------------------------------------------------------

// FetchAndExtractText は指定されたURLからコンテンツを取得し、Markdown に整形したテキストを抽出します。
// hasBodyFound が false の場合、text にはページタイトルのみが含まれます。
func (e *Extractor) FetchAndExtractText(ctx context.Context, pageURL string) (text string, hasBodyFound bool, err error) {
	// 1. Fetcherから生のバイト配列を取得 (通信の責務)
	htmlBytes, err := e.fetcher.FetchBytes(ctx, pageURL)
	if err != nil {
		return "", false, err
	}

	// 2. 解析の責務
	return ExtractFromHTML(pageURL, htmlBytes)
}

// ExtractFromHTML は取得済みのHTMLから本文を抽出します。
// セレクタベースの抽出でタイトルしか得られない場合は、readability による抽出にフォールバックします。
func ExtractFromHTML(pageURL string, htmlBytes []byte) (text string, hasBodyFound bool, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		return "", false, fmt.Errorf("HTML解析に失敗しました: %w", err)
	}

	// 1. ページタイトルを抽出
	var parts []string
	pageTitle := strings.TrimSpace(doc.Find("title").First().Text())
	if pageTitle != "" {
		parts = append(parts, titlePrefix+pageTitle)
	}

	// 2. セレクタベースの本文抽出
	body := extractBodyParts(findMainContent(doc))

	// 3. 本文が見つからない場合のみ readability にフォールバック
	if len(body) == 0 {
		body = readabilityFallback(pageURL, htmlBytes)
	}
	parts = append(parts, body...)

	// 4. 抽出結果の検証
	return validateAndFormatResult(parts, len(body) > 0)
}

// findMainContent はメインコンテントを取得
func findMainContent(doc *goquery.Document) *goquery.Selection {
	mainContent := doc.Find(mainContentSelectors).First()
	if mainContent.Length() == 0 {
		mainContent = doc.Find("body")
		mainContent.Find("header, footer, nav, aside, .sidebar, form").Remove()
	}
	return mainContent
}

// extractBodyParts はメインコンテンツから Markdown の断片を DOM の出現順に生成します。
func extractBodyParts(mainContent *goquery.Selection) []string {
	var parts []string

	// ノイズ要素の除去
	mainContent.Find(noiseSelectors).Remove()

	contentSelectors := textExtractionTags + ", table, pre"
	mainContent.Find(contentSelectors).Each(func(i int, s *goquery.Selection) {
		var content string

		switch {
		case s.Is("table"):
			content = processTable(s)
		case s.Is("pre"):
			preText := strings.TrimSpace(s.Text())
			if preText != "" {
				content = "```\n" + preText + "\n```"
			}
		default:
			// p, h*, li, blockquote 内の pre/table は個別に処理されるため、親要素でも重複させない
			if s.ParentsFiltered("table").Length() > 0 {
				return
			}
			content = processGeneralElement(s)
		}

		if content != "" {
			parts = append(parts, content)
		}
	})
	return parts
}

// processGeneralElement は見出し・段落・リスト・引用を Markdown に変換します。
func processGeneralElement(s *goquery.Selection) string {
	tempSelection := s.Clone()
	tempSelection.Find("pre, table").Remove()

	text := textUtils.NormalizeText(tempSelection.Text())
	if text == "" {
		return ""
	}

	switch {
	case s.Is("h1, h2, h3, h4, h5, h6"):
		if len(text) > MinHeadingLength {
			return headingMarker(goquery.NodeName(s)) + " " + text
		}
	case s.Is("li"):
		return "- " + text
	case s.Is("blockquote"):
		if len(text) > MinParagraphLength {
			return "> " + text
		}
	default:
		if len(text) > MinParagraphLength {
			return text
		}
	}
	return ""
}

// headingMarker は h1..h6 を "##".."######" に対応させます。"#" はページタイトルに予約されています。
func headingMarker(nodeName string) string {
	level := 2
	if len(nodeName) == 2 {
		level = int(nodeName[1]-'0') + 1
	}
	if level > 6 {
		level = 6
	}
	return strings.Repeat("#", level)
}

// processTable は goquery.Selection からテーブルの内容を抽出し、Markdown のテーブルに整形します。
func processTable(s *goquery.Selection) string {
	var tableContent []string
	captionText := textUtils.NormalizeText(s.Find("caption").First().Text())
	if captionText != "" {
		tableContent = append(tableContent, "**"+captionText+"**", "")
	}

	rows := 0
	s.Find("tr").Each(func(rowIndex int, row *goquery.Selection) {
		var rowTexts []string
		row.Find("th, td").Each(func(cellIndex int, cell *goquery.Selection) {
			rowTexts = append(rowTexts, textUtils.NormalizeText(cell.Text()))
		})
		if len(rowTexts) == 0 {
			return
		}
		tableContent = append(tableContent, "| "+strings.Join(rowTexts, " | ")+" |")
		if rows == 0 {
			tableContent = append(tableContent, "|"+strings.Repeat(" --- |", len(rowTexts)))
		}
		rows++
	})
	if rows == 0 {
		return ""
	}
	return strings.Join(tableContent, "\n")
}

// readabilityFallback は readability で本文を抽出し、同じ Markdown 変換を適用します。
// 失敗した場合は nil を返します。
func readabilityFallback(pageURL string, htmlBytes []byte) []string {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	article, err := readability.FromReader(bytes.NewReader(htmlBytes), parsedURL)
	if err != nil {
		return nil
	}
	content := strings.TrimSpace(article.Content)
	if content == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil
	}
	return extractBodyParts(doc.Selection)
}

// validateAndFormatResult はフォーマットを確認
func validateAndFormatResult(parts []string, hasBody bool) (text string, hasBodyFound bool, err error) {
	if len(parts) == 0 {
		return "", false, ErrNothingExtracted
	}
	return strings.Join(parts, "\n\n"), hasBody, nil
}
