package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/shouni/go-web-crawl/internal/config"
	"github.com/shouni/go-web-crawl/pkg/crawler"
	"github.com/shouni/go-web-crawl/pkg/extract"
	"github.com/shouni/go-web-crawl/pkg/memory"
	"github.com/shouni/go-web-crawl/pkg/scraper"
	"github.com/shouni/go-web-crawl/pkg/source"
	"github.com/shouni/go-web-crawl/pkg/writer"
)

// CrawlPipeline は、URLリストの取得からバッチクロール、ファイル保存までをつなぐ処理パイプラインです。
type CrawlPipeline struct {
	fetcher     extract.Fetcher
	fs          afero.Fs
	out         io.Writer
	logger      *zap.Logger
	sampler     memory.Sampler
	pageTimeout time.Duration
	newEngine   EngineFactory
}

// EngineFactory は種別 kind のクロールエンジンを生成します。
type EngineFactory func(kind string) (crawler.Engine, error)

// Option は CrawlPipeline の設定を行うための関数型です。
type Option func(*CrawlPipeline)

// WithFs は出力先のファイルシステムを設定します。
func WithFs(fs afero.Fs) Option {
	return func(p *CrawlPipeline) {
		p.fs = fs
	}
}

// WithOutput は進捗・集計の出力先を設定します。
func WithOutput(w io.Writer) Option {
	return func(p *CrawlPipeline) {
		p.out = w
	}
}

// WithLogger は診断ログの出力先を設定します。
func WithLogger(logger *zap.Logger) Option {
	return func(p *CrawlPipeline) {
		p.logger = logger
	}
}

// WithSampler はメモリ使用量の計測方法を設定します。
// 指定しない場合は現在のプロセスの RSS を計測します。
func WithSampler(sampler memory.Sampler) Option {
	return func(p *CrawlPipeline) {
		p.sampler = sampler
	}
}

// WithPageTimeout はブラウザエンジンで1ページの読み込みを待つ上限を設定します。
func WithPageTimeout(d time.Duration) Option {
	return func(p *CrawlPipeline) {
		p.pageTimeout = d
	}
}

// WithEngineFactory はクロールエンジンの生成方法を設定します。
// 指定しない場合は crawler.New で HTTP またはブラウザのエンジンを生成します。
func WithEngineFactory(factory EngineFactory) Option {
	return func(p *CrawlPipeline) {
		p.newEngine = factory
	}
}

// NewCrawlPipeline は CrawlPipeline を初期化します。
// fetcher はサイトマップ (またはフィード) とページの両方の取得に使用されます。
func NewCrawlPipeline(fetcher extract.Fetcher, opts ...Option) (*CrawlPipeline, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("pipeline.NewCrawlPipeline: Fetcher cannot be nil")
	}
	p := &CrawlPipeline{
		fetcher: fetcher,
		fs:      afero.NewOsFs(),
		out:     os.Stdout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.newEngine == nil {
		p.newEngine = func(kind string) (crawler.Engine, error) {
			return crawler.New(kind, p.fetcher, p.pageTimeout, p.logger)
		}
	}
	if p.sampler == nil {
		sampler, err := memory.NewProcessSampler()
		if err != nil {
			p.logger.Warn("メモリ使用量の計測を無効にします", zap.Error(err))
		} else {
			p.sampler = sampler
		}
	}
	return p, nil
}

// Run は cfg に従ってクロールを実行し、集計結果を返します。
// URLリストの取得に失敗した場合や空だった場合は、メッセージを出力して何もせずに終了します。
func (p *CrawlPipeline) Run(ctx context.Context, cfg config.CrawlConfig) (scraper.Summary, error) {
	// 1. 出力ディレクトリの準備
	w, err := writer.New(p.fs, cfg.Output)
	if err != nil {
		return scraper.Summary{}, err
	}

	// 2. クロール対象URLの取得
	urls := p.loadURLs(ctx, cfg)
	if len(urls) == 0 {
		fmt.Fprintln(p.out, "クロール対象のURLが見つかりませんでした")
		return scraper.Summary{}, nil
	}
	fmt.Fprintf(p.out, "クロール対象のURLが %d 件見つかりました\n", len(urls))
	fmt.Fprintf(p.out, "出力ディレクトリ: %s\n", w.Dir())

	// 3. 依存性の初期化
	engine, err := p.newEngine(cfg.Engine)
	if err != nil {
		return scraper.Summary{}, fmt.Errorf("クロールエンジンの生成に失敗しました: %w", err)
	}
	opts := []scraper.Option{
		scraper.WithBatchSize(cfg.Concurrent),
		scraper.WithOutput(p.out),
		scraper.WithLogger(p.logger),
	}
	if p.sampler != nil {
		opts = append(opts, scraper.WithSampler(p.sampler))
	}

	// 4. バッチクロールの実行
	return scraper.NewBatchScraper(engine, w, opts...).Run(ctx, urls)
}

// loadURLs は URL ソースからクロール対象を取得します。失敗した場合は空のリストを返します。
func (p *CrawlPipeline) loadURLs(ctx context.Context, cfg config.CrawlConfig) []string {
	src, err := source.New(cfg.Source, p.fetcher)
	if err != nil {
		fmt.Fprintf(p.out, "URLリストの取得エラー: %v\n", err)
		return nil
	}

	urls, err := src.URLs(ctx, cfg.Website)
	if err != nil {
		p.logger.Error("URLリストの取得に失敗しました", zap.String("location", cfg.Website), zap.Error(err))
		fmt.Fprintf(p.out, "URLリストの取得エラー: %v\n", err)
		return nil
	}
	p.logger.Debug("URLリストを取得しました", zap.String("source", cfg.Source), zap.Int("count", len(urls)))
	return urls
}
