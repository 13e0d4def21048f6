package converter

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Summary はバッチ変換の集計結果です。
type Summary struct {
	Matched   int
	Converted int
	Failed    int
}

// Converter は Markdown ファイルを PDF に変換します。
type Converter struct {
	fs       afero.Fs
	renderer PDFRenderer
	out      io.Writer
	logger   *zap.Logger
}

// Option は Converter の設定を行うための関数型です。
type Option func(*Converter)

// WithOutput は進捗の出力先を設定します。
func WithOutput(w io.Writer) Option {
	return func(c *Converter) {
		c.out = w
	}
}

// WithLogger は診断ログの出力先を設定します。
func WithLogger(logger *zap.Logger) Option {
	return func(c *Converter) {
		c.logger = logger
	}
}

// New は Converter を初期化します。
func New(fs afero.Fs, renderer PDFRenderer, opts ...Option) *Converter {
	c := &Converter{
		fs:       fs,
		renderer: renderer,
		out:      os.Stdout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OutputPath は入力ファイルに対応する PDF のパスを返します。
// outputDir が空の場合は入力と同じ場所に、指定された場合はそのディレクトリに同じベース名で出力します。
func OutputPath(input, outputDir string) string {
	if outputDir == "" {
		return strings.TrimSuffix(input, filepath.Ext(input)) + ".pdf"
	}
	base := filepath.Base(input)
	return filepath.Join(outputDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
}

// ConvertFile は1つの Markdown ファイルを PDF に変換し、出力先のパスを返します。
func (c *Converter) ConvertFile(ctx context.Context, input, outputDir string) (string, error) {
	// 1. 出力先の決定
	if outputDir != "" {
		if err := c.fs.MkdirAll(outputDir, 0o755); err != nil {
			return "", fmt.Errorf("出力ディレクトリの作成に失敗しました (%s): %w", outputDir, err)
		}
	}
	output := OutputPath(input, outputDir)

	// 2. Markdown の読み込みと HTML への変換
	source, err := afero.ReadFile(c.fs, input)
	if err != nil {
		return "", fmt.Errorf("入力ファイルの読み込みに失敗しました (%s): %w", input, err)
	}
	body, err := RenderHTML(source)
	if err != nil {
		return "", err
	}
	doc, err := Document(filepath.Base(input), body)
	if err != nil {
		return "", err
	}

	// 3. PDF の生成と書き込み
	c.logger.Debug("PDFを生成します", zap.String("input", input), zap.String("output", output))
	pdf, err := c.renderer.Render(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("PDFの生成に失敗しました (%s): %w", input, err)
	}
	if err := afero.WriteFile(c.fs, output, pdf, 0o644); err != nil {
		return "", fmt.Errorf("PDFの書き込みに失敗しました (%s): %w", output, err)
	}

	fmt.Fprintf(c.out, "✅ 変換完了: %s -> %s\n", input, output)
	return output, nil
}

// ConvertGlob は pattern に一致するすべてのファイルを順に変換します。
// 1ファイルの失敗は記録されるだけで、残りのファイルの処理は継続します。
func (c *Converter) ConvertGlob(ctx context.Context, pattern, outputDir string) (Summary, error) {
	files, err := Match(c.fs, pattern)
	if err != nil {
		return Summary{}, err
	}
	if len(files) == 0 {
		fmt.Fprintf(c.out, "パターンに一致するファイルが見つかりません: %s\n", pattern)
		return Summary{}, nil
	}

	summary := Summary{Matched: len(files)}
	for _, input := range files {
		if _, err := c.ConvertFile(ctx, input, outputDir); err != nil {
			summary.Failed++
			fmt.Fprintf(c.out, "❌ 変換エラー %s: %v\n", input, err)
			c.logger.Debug("変換に失敗しました", zap.String("input", input), zap.Error(err))
			continue
		}
		summary.Converted++
	}
	return summary, nil
}
