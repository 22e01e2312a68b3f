package runner

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bandshort/backtest"
	"bandshort/feed"
	"bandshort/lock"
	"bandshort/metrics"
)

var ist = time.FixedZone("IST", 5*3600+1800)

// mockCandles 生成一个交易日的分钟K线
func mockCandles(symbol string, seed int64) []feed.Candle {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2023, 7, 28, 9, 15, 0, 0, ist)
	price := 500.0
	candles := make([]feed.Candle, 0, 376)
	for i := 0; i < 376; i++ {
		open := price
		close := open * (1 + (rng.Float64()-0.5)*0.004)
		high := max(open, close) * (1 + rng.Float64()*0.001)
		low := min(open, close) * (1 - rng.Float64()*0.001)
		candles = append(candles, feed.Candle{
			Symbol: symbol,
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   open, High: high, Low: low, Close: close,
		})
		price = close
	}
	return candles
}

func paramsFor(symbols ...string) []backtest.Params {
	out := make([]backtest.Params, 0, len(symbols))
	for _, s := range symbols {
		p := backtest.DefaultParams()
		p.Symbol = s
		out = append(out, p)
	}
	return out
}

type stubSource struct {
	inner Source
	fail  map[string]error
	panic map[string]bool
}

func (s *stubSource) Bars(ctx context.Context, p backtest.Params) ([]backtest.Bar, error) {
	if s.panic[p.Symbol] {
		panic("corrupt feed")
	}
	if err := s.fail[p.Symbol]; err != nil {
		return nil, err
	}
	return s.inner.Bars(ctx, p)
}

type recordingSink struct {
	mu    sync.Mutex
	saved map[string]string
}

func (s *recordingSink) Save(_ context.Context, runID string, l *backtest.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[l.Symbol] = runID
	return nil
}

// claimedLock 指定标的始终被占用
type claimedLock struct {
	held string
}

func (l claimedLock) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	return !strings.HasPrefix(key, l.held+":"), nil
}
func (claimedLock) Unlock(context.Context, string) error { return nil }
func (claimedLock) Close() error                         { return nil }

func TestRunnerRunsEveryInstrument(t *testing.T) {
	candles := map[string][]feed.Candle{
		"SBIN":     mockCandles("SBIN", 1),
		"HDFCBANK": mockCandles("HDFCBANK", 2),
		"INFY":     mockCandles("INFY", 3),
	}
	src := NewCandleSource(candles, false, feed.DefaultBandOptions())
	sink := &recordingSink{saved: map[string]string{}}

	report := New(src, WithWorkers(2), WithSink(sink)).Run(context.Background(), paramsFor("SBIN", "HDFCBANK", "INFY"))

	require.NotEmpty(t, report.RunID)
	require.Len(t, report.Results, 3)
	for sym, res := range report.Results {
		require.NoError(t, res.Err, sym)
		require.NotNil(t, res.Ledger)
		assert.Equal(t, sym, res.Ledger.Symbol)
		assert.Equal(t, 376, res.Ledger.BarsProcessed)
		assert.Equal(t, report.RunID, sink.saved[sym])
	}

	s := report.Summary()
	assert.Equal(t, 3, s.Succeeded)
	assert.Equal(t, 0, s.Failed)
	assert.InDelta(t, s.FinalCapital-s.InitialCapital, s.TotalPnL, 1e-6)
	assert.False(t, report.AllFailed())
}

func TestRunnerMatchesSequentialReplay(t *testing.T) {
	candles := map[string][]feed.Candle{"SBIN": mockCandles("SBIN", 7)}
	src := NewCandleSource(candles, false, feed.DefaultBandOptions())
	p := paramsFor("SBIN")[0]

	bars, err := src.Bars(context.Background(), p)
	require.NoError(t, err)
	want, err := backtest.Replay(p, bars, nil)
	require.NoError(t, err)

	got := New(src, WithWorkers(4)).Run(context.Background(), []backtest.Params{p}).Results["SBIN"]
	require.NoError(t, got.Err)
	assert.Equal(t, want.Orders, got.Ledger.Orders)
	assert.Equal(t, want.FinalCapital, got.Ledger.FinalCapital)
}

func TestRunnerIsolatesFailures(t *testing.T) {
	candles := map[string][]feed.Candle{
		"SBIN": mockCandles("SBIN", 1),
		"TCS":  mockCandles("TCS", 4),
	}
	loadErr := errors.New("disk gone")
	src := &stubSource{
		inner: NewCandleSource(candles, false, feed.DefaultBandOptions()),
		fail:  map[string]error{"WIPRO": loadErr},
		panic: map[string]bool{"ITC": true},
	}

	report := New(src, WithLock(claimedLock{held: "TCS"}, 0), WithMetrics(metrics.GetPrometheusMetrics())).
		Run(context.Background(), paramsFor("SBIN", "TCS", "WIPRO", "ITC", "EMPTY"))

	require.Len(t, report.Results, 5)
	assert.True(t, report.Results["SBIN"].OK())
	assert.ErrorIs(t, report.Results["TCS"].Err, ErrClaimed)
	assert.ErrorIs(t, report.Results["WIPRO"].Err, loadErr)
	assert.Contains(t, report.Results["ITC"].Error, "panic")
	assert.ErrorIs(t, report.Results["EMPTY"].Err, backtest.ErrEmptyFeed)

	s := report.Summary()
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, []string{"EMPTY", "ITC", "TCS", "WIPRO"}, s.FailedSymbols)
}

func TestRunnerInvalidParams(t *testing.T) {
	src := NewCandleSource(map[string][]feed.Candle{"SBIN": mockCandles("SBIN", 1)}, false, feed.DefaultBandOptions())
	p := paramsFor("SBIN")[0]
	p.Quantity = 0

	report := New(src).Run(context.Background(), []backtest.Params{p})
	assert.ErrorIs(t, report.Results["SBIN"].Err, backtest.ErrConfiguration)
	assert.True(t, report.AllFailed())
}

func TestRunnerCancelledContext(t *testing.T) {
	src := NewCandleSource(map[string][]feed.Candle{}, false, feed.DefaultBandOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := New(src, WithWorkers(1)).Run(ctx, paramsFor("A", "B", "C"))
	require.Len(t, report.Results, 3)
	for _, res := range report.Results {
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
}

// gateSource 第一次取数时通知并阻塞，直到 release 关闭
type gateSource struct {
	inner   Source
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *gateSource) Bars(ctx context.Context, p backtest.Params) ([]backtest.Bar, error) {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	return s.inner.Bars(ctx, p)
}

func TestConcurrentRunsContendForSameWindow(t *testing.T) {
	candles := map[string][]feed.Candle{"SBIN": mockCandles("SBIN", 4)}
	gate := &gateSource{
		inner:   NewCandleSource(candles, false, feed.DefaultBandOptions()),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	shared := lock.NewMemoryLock()
	r := New(gate, WithLock(shared, time.Minute))

	first := make(chan *Report, 1)
	go func() { first <- r.Run(context.Background(), paramsFor("SBIN")) }()
	<-gate.started

	second := r.Run(context.Background(), paramsFor("SBIN"))
	assert.ErrorIs(t, second.Results["SBIN"].Err, ErrClaimed)

	// 不同时间窗口不冲突
	other := paramsFor("SBIN")
	other[0].StartDate = time.Date(2023, 7, 28, 0, 0, 0, 0, ist)
	other[0].EndDate = time.Date(2023, 7, 29, 0, 0, 0, 0, ist)
	assert.True(t, r.Run(context.Background(), other).Results["SBIN"].OK())

	close(gate.release)
	assert.True(t, (<-first).Results["SBIN"].OK())

	// 释放后可再次认领
	assert.True(t, r.Run(context.Background(), paramsFor("SBIN")).Results["SBIN"].OK())
}

func TestClaimKey(t *testing.T) {
	p := paramsFor("SBIN")[0]
	assert.Equal(t, "SBIN:all:all", ClaimKey(p))
	p.StartDate = time.Date(2023, 7, 28, 9, 15, 0, 0, ist)
	p.EndDate = time.Date(2023, 7, 28, 15, 30, 0, 0, ist)
	assert.Equal(t, "SBIN:20230728T034500:20230728T100000", ClaimKey(p))
}

func TestFileSourceUsesCache(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/candles.csv"
	require.NoError(t, writeCandleCSV(path, mockCandles("SBIN", 9)[:60]))

	cache := feed.NewCache(dir + "/cache")
	src := NewFileSource(path, false, feed.DefaultBandOptions(), cache)
	p := paramsFor("SBIN")[0]

	first, err := src.Bars(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, first, 60)

	infos, err := cache.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)

	// 第二次读取走缓存，与构建结果一致
	second, err := NewFileSource(dir+"/missing.csv", false, feed.DefaultBandOptions(), cache).Bars(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	assert.True(t, first[30].Time.Equal(second[30].Time))
	assert.InDelta(t, first[30].UpperBand, second[30].UpperBand, 1e-9)
}

func TestFileSourceCacheSeparatesSessions(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/candles.csv"
	require.NoError(t, writeCandleCSV(path, mockCandles("SBIN", 9)[:60]))

	cache := feed.NewCache(dir + "/cache")
	src := NewFileSource(path, false, feed.DefaultBandOptions(), cache)

	full := paramsFor("SBIN")[0]
	wide, err := src.Bars(context.Background(), full)
	require.NoError(t, err)
	require.Len(t, wide, 60)

	late := full
	late.SessionStart = backtest.NewTimeOfDay(9, 45)
	narrow, err := src.Bars(context.Background(), late)
	require.NoError(t, err)
	require.Len(t, narrow, 30)
	assert.Equal(t, 9, narrow[0].Time.Hour())
	assert.Equal(t, 45, narrow[0].Time.Minute())

	// 两组参数各自落盘，再次读取仍然互不干扰
	infos, err := cache.List()
	require.NoError(t, err)
	assert.Len(t, infos, 2)

	again, err := NewFileSource(dir+"/missing.csv", false, feed.DefaultBandOptions(), cache).Bars(context.Background(), late)
	require.NoError(t, err)
	assert.Len(t, again, 30)
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(t.TempDir()+"/nope.csv", false, feed.DefaultBandOptions(), nil)
	_, err := src.Bars(context.Background(), paramsFor("SBIN")[0])
	assert.Error(t, err)
}

func TestCandleSourceSymbols(t *testing.T) {
	src := NewCandleSource(map[string][]feed.Candle{"TCS": nil, "INFY": nil}, false, feed.DefaultBandOptions())
	assert.Equal(t, []string{"INFY", "TCS"}, src.Symbols())
}
