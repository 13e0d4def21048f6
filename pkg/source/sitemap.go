package source

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html/charset"
)

// SitemapNamespace は sitemaps.org の標準名前空間です。
const SitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// SitemapSource はサイトマップXMLから loc 要素のURLを取得します。
type SitemapSource struct {
	fetcher Fetcher
}

// NewSitemapSource は SitemapSource を初期化します。
func NewSitemapSource(fetcher Fetcher) *SitemapSource {
	return &SitemapSource{fetcher: fetcher}
}

// URLs はサイトマップを取得し、すべての loc 要素のテキストを返します。
// 取得エラー・XMLエラーはリトライせずにそのまま返します。
func (s *SitemapSource) URLs(ctx context.Context, sitemapURL string) ([]string, error) {
	body, err := s.fetcher.FetchBytes(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("サイトマップの取得失敗 (URL: %s): %w", sitemapURL, err)
	}

	urls, err := ParseSitemap(body)
	if err != nil {
		return nil, fmt.Errorf("サイトマップのパース失敗 (URL: %s): %w", sitemapURL, err)
	}
	return urls, nil
}

// ParseSitemap は、標準名前空間に属する loc 要素を深さを問わずドキュメント順に抽出します。
// テキストは加工せずにそのまま返します。サイトマップインデックスの場合は子サイトマップのURLになります。
func ParseSitemap(body []byte) ([]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	// ISO-8859-1 や Shift_JIS など、XML宣言で指定された文字コードを UTF-8 に変換する
	decoder.CharsetReader = charset.NewReaderLabel

	urls := []string{}
	sawRoot := false
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true
		if start.Name.Space != SitemapNamespace || start.Name.Local != "loc" {
			continue
		}

		var loc string
		if err := decoder.DecodeElement(&loc, &start); err != nil {
			return nil, err
		}
		urls = append(urls, loc)
	}

	if !sawRoot {
		return nil, fmt.Errorf("XMLのルート要素がありません")
	}
	return urls, nil
}
