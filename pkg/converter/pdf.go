package converter

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/shouni/go-web-crawl/pkg/browser"
)

// PDFRenderer は HTML 文書を PDF に変換します。
type PDFRenderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
	Close() error
}

// RodRenderer はヘッドレス Chromium で HTML を印刷して PDF を生成します。
// ブラウザは最初の Render で起動し、Close まで再利用します。
type RodRenderer struct {
	mu      sync.Mutex
	browser *browser.Browser
}

// NewRodRenderer は RodRenderer を生成します。この時点ではブラウザを起動しません。
func NewRodRenderer() *RodRenderer {
	return &RodRenderer{}
}

// Render は html を新しいタブに読み込み、PDF のバイト列を返します。
func (r *RodRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	b, err := r.ensureBrowser(ctx)
	if err != nil {
		return nil, err
	}

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("ページの作成に失敗しました: %w", err)
	}
	defer page.Close()

	if err := page.SetDocumentContent(html); err != nil {
		return nil, fmt.Errorf("HTMLの読み込みに失敗しました: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("ページの読み込み待機に失敗しました: %w", err)
	}

	stream, err := page.PDF(&proto.PagePrintToPDF{PrintBackground: true})
	if err != nil {
		return nil, fmt.Errorf("PDFの生成に失敗しました: %w", err)
	}
	pdf, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("PDFの読み込みに失敗しました: %w", err)
	}
	return pdf, nil
}

// Close は起動済みのブラウザを終了します。未起動の場合は何もしません。
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}

func (r *RodRenderer) ensureBrowser(ctx context.Context) (*browser.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}
	b, err := browser.Launch(ctx)
	if err != nil {
		return nil, err
	}
	r.browser = b
	return b, nil
}
