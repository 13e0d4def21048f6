package sanitize

import (
	"regexp"
	"strings"
)

// Rule は、一致した行を丸ごと削除するパターンです。
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// Rules は既定の削除ルールです。誤検出・検出漏れを許容するヒューリスティックなフィルタであり、
// パターンは変更しないでください。
var Rules = []Rule{
	// 例: [ Instagram ](https://example.com/page/<https:/www.instagram.com/x/>)
	{Name: "malformed-link", Pattern: regexp.MustCompile(`<https:/[^>]*>`)},
	{Name: "email", Pattern: regexp.MustCompile(`\S+@\S+\.\S+`)},
	{Name: "phone", Pattern: regexp.MustCompile(`\d{3}[.\-]?\d{3}[.\-]?\d{4}`)},
}

// Sanitizer は行単位でルールを適用するフィルタです。
type Sanitizer struct {
	rules []Rule
}

// New は rules を適用する Sanitizer を生成します。rules が空の場合は既定の Rules を使用します。
func New(rules ...Rule) *Sanitizer {
	if len(rules) == 0 {
		rules = Rules
	}
	return &Sanitizer{rules: rules}
}

// Sanitize は既定のルールで content をフィルタします。
func Sanitize(content string) string {
	return New().Sanitize(content)
}

// Sanitize は、いずれかのルールに一致する行と、空白のみの行を削除します。
// 入力が改行で終わる場合、残った行があれば末尾の改行を保持します。
// 何度適用しても結果は変わりません。
func (s *Sanitizer) Sanitize(content string) string {
	trailingNewline := strings.HasSuffix(content, "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")

	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if s.drop(line) {
			continue
		}
		kept = append(kept, line)
	}

	if len(kept) == 0 {
		return ""
	}
	out := strings.Join(kept, "\n")
	if trailingNewline {
		out += "\n"
	}
	return out
}

// Match は line に一致した最初のルール名を返します。
func (s *Sanitizer) Match(line string) (string, bool) {
	for _, r := range s.rules {
		if r.Pattern.MatchString(line) {
			return r.Name, true
		}
	}
	return "", false
}

func (s *Sanitizer) drop(line string) bool {
	if strings.TrimSpace(line) == "" {
		return true
	}
	_, matched := s.Match(line)
	return matched
}
