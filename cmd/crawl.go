package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shouni/go-web-crawl/internal/config"
	"github.com/shouni/go-web-crawl/internal/pipeline"
	"github.com/shouni/go-web-crawl/pkg/crawler"
	"github.com/shouni/go-web-crawl/pkg/scraper"
	"github.com/shouni/go-web-crawl/pkg/source"
)

const defaultOutputDir = "results"

func newCrawlCmd() *cobra.Command {
	crawlCmd := &cobra.Command{
		Use:   "crawl",
		Short: "サイトマップに列挙されたページを並列でクロールし、Markdown として保存します",
		Long: `--website で指定したサイトマップ (またはフィード) からURLリストを取得し、
--concurrent 件ずつのバッチに分けて並列にクロールします。
抽出した本文はメールアドレス・電話番号・壊れたリンクを含む行を除去してから、URLごとに1つの .md ファイルとして保存します。`,
		Args: cobra.NoArgs,
		RunE: runCrawl,
	}

	crawlCmd.Flags().StringP(config.KeyWebsite, "w", "", "クロール対象のサイトマップURL (必須)")
	crawlCmd.Flags().StringP(config.KeyOutput, "o", defaultOutputDir, "Markdown ファイルの出力ディレクトリ")
	crawlCmd.Flags().IntP(config.KeyConcurrent, "c", scraper.DefaultBatchSize, "1バッチあたりの最大同時クロール数")
	crawlCmd.Flags().String(config.KeySource, source.KindSitemap, "URLリストの取得元 (sitemap または feed)")
	crawlCmd.Flags().String(config.KeyEngine, crawler.KindHTTP, "ページの取得方法 (http: HTTP GET, browser: ヘッドレス Chromium で描画)")
	return crawlCmd
}

// runCrawl は crawl コマンドのメインロジックです。
func runCrawl(cmd *cobra.Command, args []string) error {
	// 1. 設定の読み込みと検証
	cfg, err := config.LoadCrawl(appViper)
	if err != nil {
		return fmt.Errorf("設定エラー: %w", err)
	}

	// 2. URLのスキーム補完とバリデーション
	website, err := ensureScheme(cfg.Website)
	if err != nil {
		return fmt.Errorf("URLスキームの処理エラー: %w", err)
	}
	cfg.Website = website
	globalLogger.Info("クロールを開始します",
		zap.String("website", cfg.Website),
		zap.String("source", cfg.Source),
		zap.String("engine", cfg.Engine),
		zap.String("output", cfg.Output),
		zap.Int("concurrent", cfg.Concurrent),
	)

	// 3. 依存性の初期化
	fetcher := GetGlobalFetcher()
	if fetcher == nil {
		return fmt.Errorf("HTTPクライアントが初期化されていません")
	}
	p, err := pipeline.NewCrawlPipeline(fetcher,
		pipeline.WithOutput(cmd.OutOrStdout()),
		pipeline.WithLogger(globalLogger),
		pipeline.WithPageTimeout(globalConfig.Timeout),
	)
	if err != nil {
		return err
	}

	// 4. メインロジックの実行
	summary, err := p.Run(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("クロールパイプラインの実行エラー: %w", err)
	}
	globalLogger.Debug("クロールが完了しました",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("batches", summary.Batches),
	)
	return nil
}
