package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shouni/go-web-crawl/internal/config"
	"github.com/shouni/go-web-crawl/pkg/converter"
)

func newConvertCmd() *cobra.Command {
	convertCmd := &cobra.Command{
		Use:   "convert <input>",
		Short: "Markdown ファイルをスタイル付きの PDF に変換します",
		Long: `input に一致する Markdown ファイルを PDF に変換します。
input はグロブパターン (例: "results/*.md", "docs/**/*.md") として扱われ、一致したファイルを順に変換します。
--single を指定すると input を単一のファイルパスとして扱います。
--output-dir を省略した場合、PDF は入力ファイルと同じ場所に作成されます。`,
		Args: cobra.ExactArgs(1),
		RunE: runConvert,
	}

	convertCmd.Flags().StringP(config.KeyOutputDir, "o", "", "PDF の出力ディレクトリ (省略時は入力と同じ場所)")
	convertCmd.Flags().BoolP(config.KeySingle, "s", false, "input をパターンではなく単一のファイルとして扱います")
	return convertCmd
}

// runConvert は convert コマンドのメインロジックです。
func runConvert(cmd *cobra.Command, args []string) error {
	// 1. 設定の読み込み
	cfg, err := config.LoadConvert(appViper, args[0])
	if err != nil {
		return fmt.Errorf("設定エラー: %w", err)
	}

	// 2. 依存性の初期化 (ブラウザは最初の変換時に起動)
	renderer := converter.NewRodRenderer()
	defer func() {
		if closeErr := renderer.Close(); closeErr != nil {
			globalLogger.Warn("ブラウザの終了に失敗しました", zap.Error(closeErr))
		}
	}()
	conv := converter.New(afero.NewOsFs(), renderer,
		converter.WithOutput(cmd.OutOrStdout()),
		converter.WithLogger(globalLogger),
	)

	// 3. 単一ファイルの変換 (失敗はコマンドのエラーになります)
	if cfg.Single {
		if _, err := conv.ConvertFile(cmd.Context(), cfg.Input, cfg.OutputDir); err != nil {
			return fmt.Errorf("変換エラー: %w", err)
		}
		return nil
	}

	// 4. パターンに一致するファイルの一括変換 (個別の失敗は集計のみ)
	summary, err := conv.ConvertGlob(cmd.Context(), cfg.Input, cfg.OutputDir)
	if err != nil {
		return err
	}
	if summary.Matched > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "完了: 成功 %d 件, 失敗 %d 件\n", summary.Converted, summary.Failed)
	}
	return nil
}
