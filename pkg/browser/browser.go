// Package browser はヘッドレス Chromium の起動と終了を扱います。
package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
)

// Flags はコンテナ環境でも起動できるように Chromium に渡す追加フラグです。
var Flags = []string{"disable-gpu", "disable-dev-shm-usage"}

// Browser は起動した Chromium への接続と、そのプロセスを管理する launcher をまとめたものです。
type Browser struct {
	*rod.Browser
	launcher *launcher.Launcher
}

// Launch はヘッドレス・サンドボックスなしで Chromium を起動し、接続済みの Browser を返します。
// ctx は起動処理にのみ使用され、起動後のブラウザの寿命には影響しません。
func Launch(ctx context.Context) (*Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := launcher.New().
		Headless(true).
		NoSandbox(true)
	for _, flag := range Flags {
		l = l.Set(flags.Flag(flag))
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("ブラウザの起動に失敗しました: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("ブラウザへの接続に失敗しました: %w", err)
	}
	return &Browser{Browser: b, launcher: l}, nil
}

// Available は Chromium の実行ファイルがローカルに見つかるかどうかを返します。
func Available() bool {
	_, found := launcher.LookPath()
	return found
}

// Close はブラウザを終了し、launcher の一時ディレクトリを削除します。
func (b *Browser) Close() error {
	err := b.Browser.Close()
	b.launcher.Cleanup()
	if err != nil {
		return fmt.Errorf("ブラウザの終了に失敗しました: %w", err)
	}
	return nil
}
