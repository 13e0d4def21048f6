package converter

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"
)

// globMeta はパターン中でワイルドカードとして扱う文字です。
const globMeta = "*?[{"

// Match は pattern に一致するファイルをソートして返します。
// "*" はディレクトリ区切りをまたがず、"**" は0個以上のディレクトリに一致します。
// ワイルドカードを含まないパターンは、ファイルが存在する場合のみそのまま返します。
func Match(fsys afero.Fs, pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, globMeta) {
		info, err := fsys.Stat(pattern)
		if err != nil || info.IsDir() {
			return nil, nil
		}
		return []string{pattern}, nil
	}

	slashed := path.Clean(filepath.ToSlash(pattern))
	matchers, err := compilePattern(slashed)
	if err != nil {
		return nil, fmt.Errorf("不正なパターンです (%s): %w", pattern, err)
	}

	root := filepath.FromSlash(staticRoot(slashed))
	allowHidden := hasHiddenSegment(slashed)
	var matches []string
	walkErr := afero.Walk(fsys, root, func(name string, info fs.FileInfo, err error) error {
		if err != nil {
			// 起点以外で読めないエントリは無視して走査を続ける
			if name == root {
				return err
			}
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		// ドットで始まるエントリは、パターン側にもドットで始まる要素がある場合のみ対象とする
		if name != root && !allowHidden && strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		candidate := filepath.ToSlash(name)
		for _, m := range matchers {
			if m.Match(candidate) {
				matches = append(matches, name)
				break
			}
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, os.ErrNotExist) {
		return nil, fmt.Errorf("ファイルの検索に失敗しました (%s): %w", pattern, walkErr)
	}

	sort.Strings(matches)
	return matches, nil
}

// hasHiddenSegment は pattern にドットで始まる要素 (".git" や ".*.md") が含まれるかを返します。
func hasHiddenSegment(pattern string) bool {
	for _, seg := range strings.Split(pattern, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return true
		}
	}
	return false
}

// compilePattern は pattern と、"**/" が空のディレクトリ列に一致する場合の変形をコンパイルします。
func compilePattern(pattern string) ([]glob.Glob, error) {
	variants := []string{pattern}
	if strings.Contains(pattern, "/**/") {
		variants = append(variants, strings.ReplaceAll(pattern, "/**/", "/"))
	}
	if strings.HasPrefix(pattern, "**/") {
		variants = append(variants, strings.TrimPrefix(pattern, "**/"))
	}

	matchers := make([]glob.Glob, 0, len(variants))
	for _, v := range variants {
		g, err := glob.Compile(v, '/')
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, g)
	}
	return matchers, nil
}

// staticRoot はワイルドカードを含まない先頭のディレクトリ部分を返します。
func staticRoot(pattern string) string {
	segments := strings.Split(pattern, "/")
	var static []string
	for _, seg := range segments[:len(segments)-1] {
		if strings.ContainsAny(seg, globMeta) {
			break
		}
		static = append(static, seg)
	}

	root := strings.Join(static, "/")
	switch {
	case root == "" && strings.HasPrefix(pattern, "/"):
		return "/"
	case root == "":
		return "."
	}
	return root
}
