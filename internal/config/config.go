// Package config はコマンドラインフラグと環境変数からコマンドの設定を組み立てます。
// 優先順位は、明示的に指定されたフラグ、WEBCRAWL_ 接頭辞の環境変数、フラグのデフォルト値の順です。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shouni/go-web-crawl/pkg/crawler"
	"github.com/shouni/go-web-crawl/pkg/source"
)

// EnvPrefix は環境変数の接頭辞です (例: WEBCRAWL_CONCURRENT)。
const EnvPrefix = "WEBCRAWL"

// 設定キー (フラグ名と同一)
const (
	KeyWebsite    = "website"
	KeyOutput     = "output"
	KeyConcurrent = "concurrent"
	KeySource     = "source"
	KeyEngine     = "engine"
	KeyTimeout    = "timeout"
	KeyVerbose    = "verbose"
	KeyOutputDir  = "output-dir"
	KeySingle     = "single"
)

var (
	ErrWebsiteRequired    = errors.New("サイトマップのURLが指定されていません")
	ErrInvalidConcurrency = errors.New("同時実行数は1以上である必要があります")
	ErrInvalidTimeout     = errors.New("タイムアウトは0以上である必要があります")
	ErrUnknownSource      = errors.New("不明なURLソースです")
	ErrUnknownEngine      = errors.New("不明なクロールエンジンです")
	ErrInputRequired      = errors.New("入力ファイルまたはパターンが指定されていません")
)

// CommonConfig はすべてのコマンドに共通する永続フラグの設定です。
type CommonConfig struct {
	Timeout time.Duration // HTTPリクエストのタイムアウト
	Verbose bool
}

// CrawlConfig は crawl コマンドの設定です。
type CrawlConfig struct {
	Website    string
	Output     string
	Concurrent int
	Source     string
	Engine     string
}

// ConvertConfig は convert コマンドの設定です。
type ConvertConfig struct {
	Input     string
	OutputDir string
	Single    bool
}

// NewViper は環境変数を自動で参照する viper インスタンスを返します。
// フラグ名のハイフンは環境変数ではアンダースコアになります (output-dir -> WEBCRAWL_OUTPUT_DIR)。
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Bind は flags のすべてのフラグを v に結び付けます。
func Bind(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return fmt.Errorf("フラグの設定への結び付けに失敗しました: %w", err)
	}
	return nil
}

// LoadCommon は v から CommonConfig を読み込み、検証します。
func LoadCommon(v *viper.Viper) (CommonConfig, error) {
	cfg := CommonConfig{
		Timeout: time.Duration(v.GetInt(KeyTimeout)) * time.Second,
		Verbose: v.GetBool(KeyVerbose),
	}
	if cfg.Timeout < 0 {
		return CommonConfig{}, fmt.Errorf("%w: %s", ErrInvalidTimeout, cfg.Timeout)
	}
	return cfg, nil
}

// LoadCrawl は v から CrawlConfig を読み込み、検証します。
func LoadCrawl(v *viper.Viper) (CrawlConfig, error) {
	cfg := CrawlConfig{
		Website:    strings.TrimSpace(v.GetString(KeyWebsite)),
		Output:     v.GetString(KeyOutput),
		Concurrent: v.GetInt(KeyConcurrent),
		Source:     v.GetString(KeySource),
		Engine:     v.GetString(KeyEngine),
	}
	if err := cfg.Validate(); err != nil {
		return CrawlConfig{}, err
	}
	return cfg, nil
}

// Validate は CrawlConfig の値を検証します。
func (c CrawlConfig) Validate() error {
	if c.Website == "" {
		return ErrWebsiteRequired
	}
	if c.Concurrent < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidConcurrency, c.Concurrent)
	}
	switch c.Source {
	case "", source.KindSitemap, source.KindFeed:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSource, c.Source)
	}
	switch c.Engine {
	case "", crawler.KindHTTP, crawler.KindBrowser:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEngine, c.Engine)
	}
	return nil
}

// LoadConvert は v と位置引数 input から ConvertConfig を読み込みます。
func LoadConvert(v *viper.Viper, input string) (ConvertConfig, error) {
	if strings.TrimSpace(input) == "" {
		return ConvertConfig{}, ErrInputRequired
	}
	return ConvertConfig{
		Input:     input,
		OutputDir: v.GetString(KeyOutputDir),
		Single:    v.GetBool(KeySingle),
	}, nil
}
