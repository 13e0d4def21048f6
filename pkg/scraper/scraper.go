package scraper

import (
	"context"
	"fmt"
	"errors"
	"io"
	"os"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shouni/go-web-crawl/pkg/crawler"
	"github.com/shouni/go-web-crawl/pkg/memory"
	"github.com/shouni/go-web-crawl/pkg/sanitize"
	"github.com/shouni/go-web-crawl/pkg/types"
)

const (
	// DefaultBatchSize は、1バッチあたりのデフォルトの同時フェッチ数です。
	DefaultBatchSize = 10
	// sessionIDPrefix はフェッチごとのセッション識別子の接頭辞です。
	sessionIDPrefix = "parallel_session_"
)

// ErrFetchPanic は、フェッチ中にパニックが発生したURLの結果に設定されます。
var ErrFetchPanic = errors.New("フェッチ中にパニックが発生しました")

// Saver は、サニタイズ済みのコンテンツを保存する機能のインターフェースです。
type Saver interface {
	Save(url, content string) error
}

// Summary は1回の実行の集計結果です。
type Summary struct {
	Succeeded  int
	Failed     int
	Batches    int
	PeakMemory uint64 // バイト
}

// BatchScraper は URL リストを固定サイズのバッチに分割し、
// バッチごとに全件を並列でフェッチしてから次のバッチへ進みます。
type BatchScraper struct {
	engine    crawler.Engine
	saver     Saver
	batchSize int
	sampler   memory.Sampler
	sanitizer *sanitize.Sanitizer
	out       io.Writer
	logger    *zap.Logger
}

// Option は BatchScraper の設定を行うための関数型です。
type Option func(*BatchScraper)

// WithBatchSize は1バッチあたりの最大URL数を設定します。0以下の場合は無視します。
func WithBatchSize(n int) Option {
	return func(s *BatchScraper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithSampler はメモリ使用量の計測方法を設定します。
func WithSampler(sampler memory.Sampler) Option {
	return func(s *BatchScraper) {
		s.sampler = sampler
	}
}

// WithSanitizer は本文に適用するフィルタを設定します。
func WithSanitizer(sanitizer *sanitize.Sanitizer) Option {
	return func(s *BatchScraper) {
		s.sanitizer = sanitizer
	}
}

// WithOutput は進捗・集計の出力先を設定します。
func WithOutput(w io.Writer) Option {
	return func(s *BatchScraper) {
		s.out = w
	}
}

// WithLogger は診断ログの出力先を設定します。
func WithLogger(logger *zap.Logger) Option {
	return func(s *BatchScraper) {
		s.logger = logger
	}
}

// NewBatchScraper は BatchScraper を初期化します。
// sampler を指定しない場合、メモリは計測されず 0 として扱われます。
func NewBatchScraper(engine crawler.Engine, saver Saver, opts ...Option) *BatchScraper {
	s := &BatchScraper{
		engine:    engine,
		saver:     saver,
		batchSize: DefaultBatchSize,
		sanitizer: sanitize.New(),
		out:       os.Stdout,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Batches は urls を先頭から size 件ずつの連続したグループに分割します。
func Batches(urls []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]string, 0, (len(urls)+size-1)/size)
	for start := 0; start < len(urls); start += size {
		end := min(start+size, len(urls))
		batches = append(batches, urls[start:end])
	}
	return batches
}

// SessionID は元のリストにおける絶対位置からセッション識別子を生成します。
func SessionID(index int) string {
	return fmt.Sprintf("%s%d", sessionIDPrefix, index)
}

// Run はエンジンを開始し、すべてのバッチを順番に処理します。
// 個々のフェッチの失敗は集計されるだけで処理を止めません。保存エラーは実行を中断して返されます。
// エンジンはどの経路で終了しても Close されます。
func (s *BatchScraper) Run(ctx context.Context, urls []string) (summary Summary, err error) {
	fmt.Fprintf(s.out, "\n=== バッチ並列クロール (最大同時実行数: %d) ===\n", s.batchSize)

	// 1. 実行ごとのピークメモリ累積器
	peak := &memory.Peak{}

	// 2. エンジンの開始と、全経路での終了保証
	if err := s.engine.Start(ctx); err != nil {
		return summary, fmt.Errorf("クロールエンジンの開始に失敗しました: %w", err)
	}
	defer func() {
		fmt.Fprintln(s.out, "\nクロールエンジンを終了しています...")
		if closeErr := s.engine.Close(); closeErr != nil {
			s.logger.Warn("クロールエンジンの終了に失敗しました", zap.Error(closeErr))
		}
		s.logMemory(ctx, peak, "最終: ")
		summary.PeakMemory = peak.Value()
		fmt.Fprintf(s.out, "\nピークメモリ使用量 (MB): %d\n", memory.MB(summary.PeakMemory))
	}()

	// 3. バッチを順番に処理
	for batchIndex, batch := range Batches(urls, s.batchSize) {
		offset := batchIndex * s.batchSize
		label := batchIndex + 1

		s.logMemory(ctx, peak, fmt.Sprintf("バッチ %d 開始前: ", label))
		results := s.fetchBatch(ctx, batch, offset)
		s.logMemory(ctx, peak, fmt.Sprintf("バッチ %d 完了後: ", label))

		summary.Batches++
		if err := s.triage(results, &summary); err != nil {
			return summary, err
		}
	}

	// 4. 集計結果の出力
	fmt.Fprintln(s.out, "\n集計:")
	fmt.Fprintf(s.out, "  - 成功: %d\n", summary.Succeeded)
	fmt.Fprintf(s.out, "  - 失敗: %d\n", summary.Failed)
	return summary, nil
}

// fetchBatch はバッチ内の全URLのフェッチを起動し、すべての完了を待ちます。
// 結果はバッチ内の入力順に並びます。
func (s *BatchScraper) fetchBatch(ctx context.Context, batch []string, offset int) []types.URLResult {
	results := make([]types.URLResult, len(batch))

	var g errgroup.Group
	for j, url := range batch {
		g.Go(func() error {
			// フェッチ中のパニックはそのURLの失敗として記録する
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("フェッチ中にパニックが発生しました", zap.String("url", url), zap.Any("panic", r))
					results[j] = types.URLResult{URL: url, Error: fmt.Errorf("%w: %v", ErrFetchPanic, r)}
				}
			}()
			res, err := s.engine.Fetch(ctx, url, SessionID(offset+j))
			results[j] = types.URLResult{URL: url, Result: res, Error: err}
			// 個々の失敗でバッチを止めないため、常に nil を返す
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// triage はバッチの結果を入力順に評価し、成功分をサニタイズして保存します。
func (s *BatchScraper) triage(results []types.URLResult, summary *Summary) error {
	for _, r := range results {
		switch {
		case r.Error != nil:
			summary.Failed++
			fmt.Fprintf(s.out, "❌ クロール失敗: %s: %v\n", r.URL, r.Error)
			s.logger.Debug("フェッチエラー", zap.String("url", r.URL), zap.Error(r.Error))

		case r.Result == nil || !r.Result.Success:
			summary.Failed++
			reason := "不明な理由"
			if r.Result != nil && r.Result.ErrorMessage != "" {
				reason = r.Result.ErrorMessage
			}
			fmt.Fprintf(s.out, "❌ クロール失敗: %s: %s\n", r.URL, reason)

		default:
			summary.Succeeded++
			fmt.Fprintf(s.out, "✅ クロール成功: %s\n", r.URL)
			fmt.Fprintf(s.out, "     Markdownの長さ: %d\n", utf8.RuneCountInString(r.Result.Markdown))

			if err := s.saver.Save(r.URL, s.sanitizer.Sanitize(r.Result.Markdown)); err != nil {
				return fmt.Errorf("クロール結果の保存に失敗しました (URL: %s): %w", r.URL, err)
			}
		}
	}
	return nil
}

// logMemory は現在のメモリ使用量を計測し、ピークを更新して出力します。
func (s *BatchScraper) logMemory(ctx context.Context, peak *memory.Peak, prefix string) {
	var current uint64
	if s.sampler != nil {
		sample, err := s.sampler.Sample(ctx)
		if err != nil {
			s.logger.Warn("メモリ使用量を計測できませんでした", zap.Error(err))
		} else {
			current = sample
		}
	}
	highest := peak.Observe(current)
	fmt.Fprintf(s.out, "%s 現在のメモリ: %d MB, ピーク: %d MB\n", prefix, memory.MB(current), memory.MB(highest))
}
