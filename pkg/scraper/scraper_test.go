package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/go-web-crawl/pkg/types"
	"github.com/shouni/go-web-crawl/pkg/writer"
)

// ======================================================================
// フェイクの定義
// ======================================================================

// eventLog はエンジンとサンプラーの呼び出し順を記録します。
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// fakeEngine は URL ごとに決められた結果を返す crawler.Engine の実装です。
type fakeEngine struct {
	log        *eventLog
	failErr    map[string]error
	unsuccess  map[string]bool
	panicOn    string
	markdown   map[string]string
	startErr   error
	mu         sync.Mutex
	sessions   map[string]string
	started    bool
	closeCalls int
}

func newFakeEngine(log *eventLog) *fakeEngine {
	return &fakeEngine{
		log:       log,
		failErr:   map[string]error{},
		unsuccess: map[string]bool{},
		sessions:  map[string]string{},
	}
}

func (f *fakeEngine) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeEngine) Fetch(ctx context.Context, url, sessionID string) (*types.CrawlResult, error) {
	f.mu.Lock()
	f.sessions[url] = sessionID
	f.mu.Unlock()
	if f.log != nil {
		f.log.add("fetch:" + url)
	}

	if url == f.panicOn {
		var m map[string]int
		m[url] = 1
	}
	if err, ok := f.failErr[url]; ok {
		return nil, err
	}
	if f.unsuccess[url] {
		return &types.CrawlResult{URL: url, SessionID: sessionID, ErrorMessage: "no body"}, nil
	}
	if md, ok := f.markdown[url]; ok {
		return &types.CrawlResult{URL: url, SessionID: sessionID, Markdown: md, Success: true}, nil
	}
	return &types.CrawlResult{
		URL:       url,
		SessionID: sessionID,
		Markdown:  "# " + url + "\n\nbody of " + url + "\ncontact: someone@example.com\n",
		Success:   true,
	}, nil
}

func (f *fakeEngine) Close() error {
	f.closeCalls++
	return nil
}

// fakeSampler は決められた値を順に返し、呼び出しを記録します。
type fakeSampler struct {
	log     *eventLog
	values  []uint64
	calls   int
	failErr error
}

func (s *fakeSampler) Sample(ctx context.Context) (uint64, error) {
	if s.log != nil {
		s.log.add("sample")
	}
	if s.failErr != nil {
		return 0, s.failErr
	}
	v := s.values[min(s.calls, len(s.values)-1)]
	s.calls++
	return v, nil
}

// failingSaver は常に保存に失敗します。
type failingSaver struct{}

func (failingSaver) Save(url, content string) error {
	return errors.New("disk full")
}

// ======================================================================
// テスト関数
// ======================================================================

func TestBatches(t *testing.T) {
	for l := 0; l <= 23; l++ {
		for n := 1; n <= 7; n++ {
			urls := make([]string, l)
			for i := range urls {
				urls[i] = fmt.Sprintf("u%d", i)
			}

			batches := Batches(urls, n)

			require.Len(t, batches, (l+n-1)/n, "L=%d N=%d", l, n)
			var joined []string
			for _, b := range batches {
				assert.LessOrEqual(t, len(b), n)
				assert.NotEmpty(t, b)
				joined = append(joined, b...)
			}
			if l == 0 {
				assert.Empty(t, joined)
			} else {
				assert.Equal(t, urls, joined)
			}
		}
	}
}

func TestBatches_NonPositiveSizeFallsBackToDefault(t *testing.T) {
	urls := make([]string, 25)
	assert.Len(t, Batches(urls, 0), 3)
	assert.Len(t, Batches(urls, -1), 3)
}

func TestSessionID(t *testing.T) {
	assert.Equal(t, "parallel_session_0", SessionID(0))
	assert.Equal(t, "parallel_session_12", SessionID(12))
}

func TestRun_ScenarioWithOneFailure(t *testing.T) {
	log := &eventLog{}
	engine := newFakeEngine(log)
	engine.failErr["https://example.com/b"] = errors.New("timeout")

	fs := afero.NewMemMapFs()
	w, err := writer.New(fs, "results")
	require.NoError(t, err)

	var out bytes.Buffer
	s := NewBatchScraper(engine, w,
		WithBatchSize(2),
		WithSampler(&fakeSampler{log: log, values: []uint64{1 << 20}}),
		WithOutput(&out),
	)

	urls := []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"}
	summary, err := s.Run(context.Background(), urls)
	require.NoError(t, err)

	// 1. 集計
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Batches)

	// 2. バッチ境界: [A,B] の完了を待ってから [C] を開始する
	events := log.snapshot()
	require.Len(t, events, 8)
	assert.Equal(t, "sample", events[0])
	first := []string{events[1], events[2]}
	sort.Strings(first)
	assert.Equal(t, []string{"fetch:https://example.com/a", "fetch:https://example.com/b"}, first)
	assert.Equal(t, []string{"sample", "sample", "fetch:https://example.com/c", "sample", "sample"}, events[3:])

	// 3. セッションIDは絶対位置に基づく
	assert.Equal(t, map[string]string{
		"https://example.com/a": "parallel_session_0",
		"https://example.com/b": "parallel_session_1",
		"https://example.com/c": "parallel_session_2",
	}, engine.sessions)

	// 4. 出力ファイルは A と C のみ
	files, err := afero.ReadDir(fs, "results")
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	assert.ElementsMatch(t, []string{"example_com_a.md", "example_com_c.md"}, names)

	// 5. 保存内容はサニタイズ済みで、出典行が付く
	data, err := afero.ReadFile(fs, filepath.Join("results", "example_com_a.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Crawled Content from https://example.com/a\n\n# https://example.com/a\nbody of https://example.com/a\n", string(data))

	// 6. エンジンは1回だけ終了される
	assert.Equal(t, 1, engine.closeCalls)
	assert.Contains(t, out.String(), "https://example.com/b: ")
	assert.Contains(t, out.String(), "成功: 2")
	assert.Contains(t, out.String(), "失敗: 1")
}

func TestRun_PanicInFetchIsCountedAsFailure(t *testing.T) {
	engine := newFakeEngine(nil)
	engine.panicOn = "B"
	saver := &memSaver{}
	var out bytes.Buffer

	summary, err := NewBatchScraper(engine, saver, WithBatchSize(2), WithOutput(&out)).
		Run(context.Background(), []string{"A", "B", "C"})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Batches, "後続のバッチも処理される")
	assert.Equal(t, 1, engine.closeCalls)
	assert.Contains(t, saver.saved, "A")
	assert.Contains(t, saver.saved, "C")
	assert.NotContains(t, saver.saved, "B")
	assert.Contains(t, out.String(), "❌ クロール失敗: B: "+ErrFetchPanic.Error())
	assert.Contains(t, out.String(), "ピークメモリ使用量")
}

func TestRun_MarkdownLengthCountsCharacters(t *testing.T) {
	engine := newFakeEngine(nil)
	engine.markdown = map[string]string{"ja": "日本語のページ"}
	var out bytes.Buffer

	_, err := NewBatchScraper(engine, &memSaver{}, WithOutput(&out)).
		Run(context.Background(), []string{"ja"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Markdownの長さ: 7\n")
}

func TestRun_UnsuccessfulResultIsCountedAsFailure(t *testing.T) {
	engine := newFakeEngine(nil)
	engine.unsuccess["https://example.com/empty"] = true

	fs := afero.NewMemMapFs()
	w, err := writer.New(fs, "out")
	require.NoError(t, err)

	var out bytes.Buffer
	summary, err := NewBatchScraper(engine, w, WithOutput(&out)).
		Run(context.Background(), []string{"https://example.com/empty", "https://example.com/ok"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Batches)
	assert.Contains(t, out.String(), "no body")

	exists, err := afero.Exists(fs, filepath.Join("out", "example_com_empty.md"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRun_PeakMemoryIsMonotonic(t *testing.T) {
	const mb = 1 << 20
	engine := newFakeEngine(nil)
	sampler := &fakeSampler{values: []uint64{10 * mb, 50 * mb, 20 * mb, 30 * mb, 5 * mb}}

	var out bytes.Buffer
	urls := []string{"a", "b", "c", "d"}
	summary, err := NewBatchScraper(engine, &memSaver{}, WithBatchSize(2), WithSampler(sampler), WithOutput(&out)).
		Run(context.Background(), urls)
	require.NoError(t, err)

	assert.Equal(t, uint64(50*mb), summary.PeakMemory)
	assert.Equal(t, 5, sampler.calls, "バッチごとに前後2回 + 最終1回")
	assert.Contains(t, out.String(), "ピークメモリ使用量 (MB): 50")
}

func TestRun_SamplerErrorDoesNotAbort(t *testing.T) {
	engine := newFakeEngine(nil)
	var out bytes.Buffer
	summary, err := NewBatchScraper(engine, &memSaver{},
		WithSampler(&fakeSampler{failErr: errors.New("no proc")}),
		WithOutput(&out),
	).Run(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, uint64(0), summary.PeakMemory)
}

func TestRun_SaveErrorAbortsAndClosesEngine(t *testing.T) {
	engine := newFakeEngine(nil)
	var out bytes.Buffer

	summary, err := NewBatchScraper(engine, failingSaver{}, WithBatchSize(1), WithOutput(&out)).
		Run(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, summary.Batches, "最初のバッチで中断される")
	assert.Equal(t, 1, engine.closeCalls)
	assert.Contains(t, out.String(), "ピークメモリ使用量")
}

func TestRun_StartErrorIsReturned(t *testing.T) {
	engine := newFakeEngine(nil)
	engine.startErr = errors.New("browser missing")

	_, err := NewBatchScraper(engine, &memSaver{}, WithOutput(&bytes.Buffer{})).
		Run(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Equal(t, 0, engine.closeCalls)
}

func TestRun_AllBatchFetchesRunConcurrently(t *testing.T) {
	engine := &blockingEngine{release: make(chan struct{}), size: 3}
	done := make(chan Summary, 1)
	go func() {
		summary, _ := NewBatchScraper(engine, &memSaver{}, WithBatchSize(3), WithOutput(&bytes.Buffer{})).
			Run(context.Background(), []string{"a", "b", "c"})
		done <- summary
	}()

	// 3件すべてが同時に実行中になった時点で解放される
	summary := <-done
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 3, engine.maxInFlight)
}

// memSaver は保存内容をメモリに保持します。
type memSaver struct {
	mu    sync.Mutex
	saved map[string]string
}

func (m *memSaver) Save(url, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]string{}
	}
	m.saved[url] = content
	return nil
}

// blockingEngine は size 件のフェッチが同時に実行中になるまで全件をブロックします。
type blockingEngine struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	size        int
	release     chan struct{}
}

func (b *blockingEngine) Start(ctx context.Context) error { return nil }
func (b *blockingEngine) Close() error                    { return nil }

func (b *blockingEngine) Fetch(ctx context.Context, url, sessionID string) (*types.CrawlResult, error) {
	b.mu.Lock()
	b.inFlight++
	b.maxInFlight = max(b.maxInFlight, b.inFlight)
	if b.inFlight == b.size {
		close(b.release)
	}
	b.mu.Unlock()

	<-b.release
	return &types.CrawlResult{URL: url, Markdown: strings.Repeat("x", 10), Success: true}, nil
}
