package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shouni/go-web-crawl/pkg/extract"
	"github.com/shouni/go-web-crawl/pkg/types"
)

// Engine の種別
const (
	KindHTTP    = "http"
	KindBrowser = "browser"
)

var (
	// ErrNotStarted は Start 前に Fetch が呼ばれた場合に返されます。
	ErrNotStarted = errors.New("crawler: エンジンが開始されていません")
	// ErrClosed は Close 後に Fetch が呼ばれた場合に返されます。
	ErrClosed = errors.New("crawler: エンジンは既に終了しています")
	// ErrSessionInUse は同じセッションIDのフェッチが実行中の場合に返されます。
	ErrSessionInUse = errors.New("crawler: セッションIDが使用中です")
)

// Engine はURLを取得して Markdown を返すクロールエンジンのインターフェースです。
// 利用前に Start、利用後に Close を呼び出す必要があります。
type Engine interface {
	Start(ctx context.Context) error
	Fetch(ctx context.Context, url, sessionID string) (*types.CrawlResult, error)
	Close() error
}

// New は kind に応じた Engine を生成します。kind が空の場合は HTTP エンジンです。
// pageTimeout はブラウザエンジンで1ページの読み込みを待つ上限で、0 の場合は無制限です。
func New(kind string, fetcher extract.Fetcher, pageTimeout time.Duration, logger *zap.Logger) (Engine, error) {
	switch kind {
	case "", KindHTTP:
		return NewHTTPEngine(fetcher, logger)
	case KindBrowser:
		return NewBrowserEngine(NewRodLoader(pageTimeout), logger), nil
	default:
		return nil, fmt.Errorf("未対応のエンジン種別です: %q (http または browser を指定してください)", kind)
	}
}

// lifecycle はエンジン共通の開始・終了状態と、実行中のセッションIDを管理します。
type lifecycle struct {
	mu       sync.Mutex
	started  bool
	closed   bool
	sessions map[string]struct{}
}

// acquire は sessionID を実行中として登録します。
func (l *lifecycle) acquire(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.closed:
		return ErrClosed
	case !l.started:
		return ErrNotStarted
	}
	if _, ok := l.sessions[sessionID]; ok {
		return fmt.Errorf("%w: %s", ErrSessionInUse, sessionID)
	}
	l.sessions[sessionID] = struct{}{}
	return nil
}

func (l *lifecycle) release(sessionID string) {
	l.mu.Lock()
	delete(l.sessions, sessionID)
	l.mu.Unlock()
}

// newResult は抽出結果から CrawlResult を組み立てます。本文がない場合は失敗として扱います。
func newResult(url, sessionID, text string, hasBody bool) *types.CrawlResult {
	result := &types.CrawlResult{
		URL:       url,
		SessionID: sessionID,
		Markdown:  text,
		Success:   hasBody,
	}
	if !hasBody {
		result.ErrorMessage = fmt.Sprintf("URL %s から有効な本文を抽出できませんでした", url)
	}
	return result
}

// HTTPEngine は Extractor を用いた Engine の実装です。
// 1つのインスタンスを全バッチで共有します。
type HTTPEngine struct {
	lifecycle
	extractor *extract.Extractor
	logger    *zap.Logger
}

// NewHTTPEngine は HTTPEngine を初期化します。
func NewHTTPEngine(fetcher extract.Fetcher, logger *zap.Logger) (*HTTPEngine, error) {
	extractor, err := extract.NewExtractor(fetcher)
	if err != nil {
		return nil, fmt.Errorf("Extractorの初期化エラー: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPEngine{
		lifecycle: lifecycle{sessions: make(map[string]struct{})},
		extractor: extractor,
		logger:    logger,
	}, nil
}

// Start はエンジンを利用可能な状態にします。終了済みのエンジンは再開できません。
func (e *HTTPEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.started = true
	e.logger.Debug("クロールエンジンを開始しました", zap.String("engine", KindHTTP))
	return nil
}

// Fetch は url を取得して本文を抽出します。
// ネットワークエラーはエラーとして、本文なしは Success=false の結果として返します。
func (e *HTTPEngine) Fetch(ctx context.Context, url, sessionID string) (*types.CrawlResult, error) {
	if err := e.acquire(sessionID); err != nil {
		return nil, err
	}
	defer e.release(sessionID)

	e.logger.Debug("フェッチ開始", zap.String("url", url), zap.String("session_id", sessionID))

	text, hasBody, err := e.extractor.FetchAndExtractText(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("コンテンツの抽出に失敗しました (URL: %s): %w", url, err)
	}
	return newResult(url, sessionID, text, hasBody), nil
}

// Close はエンジンを終了します。複数回呼び出しても安全です。
func (e *HTTPEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed {
		e.closed = true
		e.logger.Debug("クロールエンジンを終了しました", zap.Int("active_sessions", len(e.sessions)))
	}
	return nil
}
