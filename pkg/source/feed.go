package source

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"
)

// FeedAdapter は gofeed.Feed からリンクのリストを取り出すアダプターです。
type FeedAdapter struct {
	*gofeed.Feed
}

// NewFeedAdapter は gofeed.Feed から新しいアダプターを作成します。
func NewFeedAdapter(feed *gofeed.Feed) *FeedAdapter {
	return &FeedAdapter{Feed: feed}
}

// GetLinks は gofeed.Feed のアイテム順にリンクを返します。空のリンクは無視します。
func (a *FeedAdapter) GetLinks() []string {
	if a.Feed == nil || len(a.Items) == 0 {
		return []string{}
	}

	urls := make([]string, 0, len(a.Items))
	for _, item := range a.Items {
		if item.Link != "" {
			urls = append(urls, item.Link)
		}
	}
	return urls
}

// FeedSource は RSS/Atom フィードの記事リンクをクロール対象とします。
type FeedSource struct {
	fetcher Fetcher
}

// NewFeedSource は FeedSource を初期化します。
func NewFeedSource(fetcher Fetcher) *FeedSource {
	return &FeedSource{fetcher: fetcher}
}

// URLs はフィードを取得・パースし、記事のリンクを返します。
func (f *FeedSource) URLs(ctx context.Context, feedURL string) ([]string, error) {
	body, err := f.fetcher.FetchBytes(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得失敗 (URL: %s): %w", feedURL, err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパース失敗 (URL: %s): %w", feedURL, err)
	}
	return NewFeedAdapter(feed).GetLinks(), nil
}
