package writer

import (
	"regexp"
	"strings"
)

// MaxNameLength はファイル名 (拡張子を除く) の最大文字数です。
const MaxNameLength = 200

var (
	reservedChars = regexp.MustCompile(`[\\/*?:"<>|]`)
	slashDotRuns  = regexp.MustCompile(`[/.]+`)
)

// SafeName はURLからファイル名として安全なベース名を生成します。
// 異なるURLが同じ名前になることがありますが、衝突は検出しません。
func SafeName(url string) string {
	// 1. プロトコルと "www." を除去
	name := strings.ReplaceAll(url, "https://", "")
	name = strings.ReplaceAll(name, "http://", "")
	name = strings.ReplaceAll(name, "www.", "")

	// 2. 予約文字を置換し、連続するスラッシュとドットを1つのアンダースコアにまとめる
	name = reservedChars.ReplaceAllString(name, "_")
	name = slashDotRuns.ReplaceAllString(name, "_")

	// 3. 長さを制限 (文字単位)
	if runes := []rune(name); len(runes) > MaxNameLength {
		name = string(runes[:MaxNameLength])
	}
	return name
}
