package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/shouni/go-web-crawl/internal/config"
	"github.com/shouni/go-web-crawl/internal/logger"
	"github.com/shouni/go-web-crawl/pkg/extract"
)

// --- グローバル定数 ---

const (
	appName           = "web-crawl"
	defaultTimeoutSec = 30 // 秒
)

// --- グローバル変数 ---

var (
	appViper      *viper.Viper
	globalConfig  config.CommonConfig
	globalFetcher extract.Fetcher // source.Fetcher も満たします
	globalLogger  = zap.NewNop()
)

// newRootCmd はルートコマンドとすべてのサブコマンドを生成します。
func newRootCmd() *cobra.Command {
	appViper = config.NewViper()

	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "サイトマップの並列クロールと Markdown の PDF 変換ツール",
		Long: `サイトマップ (またはフィード) に列挙されたページをバッチ単位で並列にクロールして Markdown として保存する crawl と、
Markdown ファイルをスタイル付きの PDF に変換する convert を提供します。
すべてのフラグは WEBCRAWL_ 接頭辞の環境変数でも指定できます (例: WEBCRAWL_CONCURRENT=4)。`,
		SilenceUsage:      true,
		PersistentPreRunE: initAppPreRunE,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = globalLogger.Sync()
		},
	}

	addAppPersistentFlags(rootCmd)
	rootCmd.AddCommand(newCrawlCmd(), newConvertCmd())
	return rootCmd
}

// addAppPersistentFlags は、アプリケーション共通の永続フラグをルートコマンドに追加します。
func addAppPersistentFlags(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().Int(
		config.KeyTimeout,
		defaultTimeoutSec,
		"HTTPリクエストのタイムアウト時間（秒）",
	)
	rootCmd.PersistentFlags().BoolP(
		config.KeyVerbose,
		"v",
		false,
		"詳細なログを出力します",
	)
}

// initAppPreRunE は、サブコマンドの実行前にフラグを設定に結び付け、ロガーと共有フェッチャーを初期化します。
func initAppPreRunE(cmd *cobra.Command, args []string) error {
	// 1. フラグと環境変数の結び付け
	if err := config.Bind(appViper, cmd.Flags()); err != nil {
		return err
	}

	// 2. 共通設定の読み込みとロガーの初期化
	common, err := config.LoadCommon(appViper)
	if err != nil {
		return fmt.Errorf("設定エラー: %w", err)
	}
	globalConfig = common
	globalLogger = logger.New(common.Verbose)

	// 3. 共有フェッチャーの初期化
	globalLogger.Debug("HTTPクライアントを初期化します", zap.Duration("timeout", common.Timeout))
	// 失敗したページは再試行せず、そのまま失敗として集計します
	globalFetcher = httpkit.New(common.Timeout, httpkit.WithMaxRetries(0))
	return nil
}

// GetGlobalFetcher は、初期化されたフェッチャーを返す関数 (DIの代わり)
func GetGlobalFetcher() extract.Fetcher {
	return globalFetcher
}

// --- エントリポイント ---

// Execute は、ルートコマンドを実行するメイン関数です。
// SIGINT/SIGTERM を受け取ると実行中の処理のコンテキストをキャンセルします。
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
