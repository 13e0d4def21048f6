package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/shouni/go-web-crawl/pkg/browser"
	"github.com/shouni/go-web-crawl/pkg/extract"
	"github.com/shouni/go-web-crawl/pkg/types"
)

// PageLoader はブラウザでページを描画し、JavaScript 実行後の HTML を返します。
type PageLoader interface {
	Launch(ctx context.Context) error
	Load(ctx context.Context, sessionID, url string) (string, error)
	Close() error
}

// BrowserEngine はヘッドレスブラウザで描画したページから本文を抽出する Engine の実装です。
// ブラウザは Start で1度だけ起動し、全バッチで共有します。
type BrowserEngine struct {
	lifecycle
	loader PageLoader
	logger *zap.Logger
}

// NewBrowserEngine は BrowserEngine を初期化します。この時点ではブラウザを起動しません。
func NewBrowserEngine(loader PageLoader, logger *zap.Logger) *BrowserEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrowserEngine{
		lifecycle: lifecycle{sessions: make(map[string]struct{})},
		loader:    loader,
		logger:    logger,
	}
}

// Start はブラウザを起動します。起動済みの場合は何もしません。終了済みのエンジンは再開できません。
func (e *BrowserEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.closed:
		return ErrClosed
	case e.started:
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.loader.Launch(ctx); err != nil {
		return err
	}
	e.started = true
	e.logger.Debug("クロールエンジンを開始しました", zap.String("engine", KindBrowser))
	return nil
}

// Fetch は url をセッション専用のタブで描画し、本文を抽出します。
func (e *BrowserEngine) Fetch(ctx context.Context, url, sessionID string) (*types.CrawlResult, error) {
	if err := e.acquire(sessionID); err != nil {
		return nil, err
	}
	defer e.release(sessionID)

	e.logger.Debug("フェッチ開始", zap.String("url", url), zap.String("session_id", sessionID))

	html, err := e.loader.Load(ctx, sessionID, url)
	if err != nil {
		return nil, fmt.Errorf("ページの描画に失敗しました (URL: %s): %w", url, err)
	}
	text, hasBody, err := extract.ExtractFromHTML(url, []byte(html))
	if err != nil {
		return nil, fmt.Errorf("コンテンツの抽出に失敗しました (URL: %s): %w", url, err)
	}
	return newResult(url, sessionID, text, hasBody), nil
}

// Close はブラウザを終了します。複数回呼び出しても安全です。
func (e *BrowserEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.logger.Debug("クロールエンジンを終了しました", zap.Int("active_sessions", len(e.sessions)))
	if !e.started {
		return nil
	}
	return e.loader.Close()
}

// RodLoader は go-rod で Chromium を操作する PageLoader です。
// タブはセッションごとに作成し、読み込みが終わると閉じます。
type RodLoader struct {
	timeout time.Duration

	mu      sync.Mutex
	browser *browser.Browser
}

// NewRodLoader は RodLoader を生成します。timeout が 0 の場合、ページの読み込みを無制限に待ちます。
func NewRodLoader(timeout time.Duration) *RodLoader {
	return &RodLoader{timeout: timeout}
}

// Launch は Chromium を起動します。
func (l *RodLoader) Launch(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browser != nil {
		return nil
	}
	b, err := browser.Launch(ctx)
	if err != nil {
		return err
	}
	l.browser = b
	return nil
}

// Load は新しいタブで url を開き、load イベントの後の DOM を HTML として返します。
func (l *RodLoader) Load(ctx context.Context, sessionID, url string) (string, error) {
	l.mu.Lock()
	b := l.browser
	l.mu.Unlock()
	if b == nil {
		return "", ErrNotStarted
	}

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", fmt.Errorf("タブの作成に失敗しました (session: %s): %w", sessionID, err)
	}
	defer page.Close()

	if l.timeout > 0 {
		page = page.Timeout(l.timeout)
	}
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("ページの遷移に失敗しました: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("ページの読み込み待機に失敗しました: %w", err)
	}
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("HTMLの取得に失敗しました: %w", err)
	}
	return html, nil
}

// Close は Chromium を終了します。未起動の場合は何もしません。
func (l *RodLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browser == nil {
		return nil
	}
	err := l.browser.Close()
	l.browser = nil
	return err
}
