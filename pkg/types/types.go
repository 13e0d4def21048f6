package types

// URLResult は、特定のURLに対するフェッチ結果、またはその処理中に発生したエラーを保持します。
// これは、BatchScraper のバッチ内集計で利用されます。
type URLResult struct {
	URL    string       // 処理対象のURL
	Result *CrawlResult // エンジンが返した結果 (エラー時は nil)
	Error  error        // フェッチ中に発生した例外的なエラー
}

// CrawlResult は、クロールエンジンが1件のURLに対して返す結果です。
// Success が false の場合、ErrorMessage に失敗理由が入ります。
type CrawlResult struct {
	URL          string // 処理対象のURL
	SessionID    string // フェッチに使用したセッション識別子
	Markdown     string // 抽出された本文 (Markdown)
	Success      bool   // 本文の抽出に成功したかどうか
	ErrorMessage string // 失敗理由
}
