package source

import (
	"context"
	"fmt"
)

// Source の種別
const (
	KindSitemap = "sitemap"
	KindFeed    = "feed"
)

// Fetcher は、ドキュメントの生バイト配列を取得する機能のインターフェースです。
// *httpkit.Client はこのインターフェースを満たします。
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// Source は、クロール対象のURLリストを提供します。
// 返されるリストはドキュメント内の出現順を保持します。
type Source interface {
	URLs(ctx context.Context, location string) ([]string, error)
}

// New は kind に応じた Source を生成します。
func New(kind string, fetcher Fetcher) (Source, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("source.New: Fetcher cannot be nil")
	}
	switch kind {
	case "", KindSitemap:
		return NewSitemapSource(fetcher), nil
	case KindFeed:
		return NewFeedSource(fetcher), nil
	default:
		return nil, fmt.Errorf("未対応のソース種別です: %q (sitemap または feed を指定してください)", kind)
	}
}
