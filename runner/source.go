package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bandshort/backtest"
	"bandshort/database"
	"bandshort/feed"
	"bandshort/logger"
	"bandshort/utils"
)

// Source 为单个标的提供带布林带的K线
type Source interface {
	Bars(ctx context.Context, p backtest.Params) ([]backtest.Bar, error)
}

// CandleSource 内存中的原始分钟K线
type CandleSource struct {
	candles  map[string][]feed.Candle
	resample bool
	bands    feed.BandOptions
}

// NewCandleSource 创建内存数据源
func NewCandleSource(candles map[string][]feed.Candle, resample bool, bands feed.BandOptions) *CandleSource {
	return &CandleSource{candles: candles, resample: resample, bands: bands}
}

// Bars 构建回测输入，未知标的返回空切片
func (s *CandleSource) Bars(ctx context.Context, p backtest.Params) ([]backtest.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return feed.Build(s.candles[p.Symbol], feed.OptionsFromParams(p, s.resample, s.bands)), nil
}

// Symbols 数据中包含的标的，按名称排序
func (s *CandleSource) Symbols() []string {
	symbols := make([]string, 0, len(s.candles))
	for sym := range s.candles {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// FileSource 从 CSV 文件读取，首次使用时加载，可选缓存
type FileSource struct {
	path     string
	resample bool
	bands    feed.BandOptions
	cache    *feed.Cache

	once  sync.Once
	inner *CandleSource
	err   error
}

// NewFileSource 创建文件数据源，cache 为 nil 时不缓存
func NewFileSource(path string, resample bool, bands feed.BandOptions, cache *feed.Cache) *FileSource {
	return &FileSource{path: path, resample: resample, bands: bands, cache: cache}
}

func (s *FileSource) load() (*CandleSource, error) {
	s.once.Do(func() {
		candles, err := feed.LoadCSV(s.path)
		if err != nil {
			s.err = err
			return
		}
		logger.Info("📂 已加载行情文件 %s，共 %d 个标的", s.path, len(candles))
		s.inner = NewCandleSource(candles, s.resample, s.bands)
	})
	return s.inner, s.err
}

// Symbols 文件中的全部标的
func (s *FileSource) Symbols() ([]string, error) {
	inner, err := s.load()
	if err != nil {
		return nil, err
	}
	return inner.Symbols(), nil
}

// Bars 优先读缓存，未命中时构建并写回
func (s *FileSource) Bars(ctx context.Context, p backtest.Params) ([]backtest.Bar, error) {
	key := feed.CacheKey(p.Symbol, feed.OptionsFromParams(p, s.resample, s.bands))
	if s.cache != nil {
		if bars, err := s.cache.Load(key); err == nil {
			logger.Debug("[%s] 命中缓存 %s", p.Symbol, key)
			return bars, nil
		}
	}

	inner, err := s.load()
	if err != nil {
		return nil, err
	}
	bars, err := inner.Bars(ctx, p)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && len(bars) > 0 {
		if err := s.cache.Save(key, p.Symbol, p.BarInterval, bars); err != nil {
			logger.Warn("⚠️ [%s] 写入缓存失败: %v", p.Symbol, err)
		}
	}
	return bars, nil
}

// DatabaseSource 从 minute_candle 表读取
type DatabaseSource struct {
	db       database.Database
	resample bool
	bands    feed.BandOptions
}

// NewDatabaseSource 创建数据库数据源
func NewDatabaseSource(db database.Database, resample bool, bands feed.BandOptions) *DatabaseSource {
	return &DatabaseSource{db: db, resample: resample, bands: bands}
}

// Bars 按标的和日期窗口查询后构建
func (s *DatabaseSource) Bars(ctx context.Context, p backtest.Params) ([]backtest.Bar, error) {
	filter := &database.CandleFilter{Symbol: p.Symbol}
	if !p.StartDate.IsZero() {
		start := p.StartDate
		filter.StartTime = &start
	}
	if !p.EndDate.IsZero() {
		end := p.EndDate
		filter.EndTime = &end
	}

	rows, err := s.db.LoadCandles(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("查询K线失败: %w", err)
	}
	// 驱动返回的时间可能是 UTC，交易时段按交易所时区划分
	candles := make([]feed.Candle, 0, len(rows))
	for _, row := range rows {
		c := row.ToFeed()
		c.Time = utils.ToConfiguredTimezone(c.Time)
		candles = append(candles, c)
	}
	return feed.Build(feed.Normalize(candles), feed.OptionsFromParams(p, s.resample, s.bands)), nil
}

// Sink 保存成功的回测结果
type Sink interface {
	Save(ctx context.Context, runID string, ledger *backtest.Ledger) error
}

// DatabaseSink 把账本和汇总写入数据库
type DatabaseSink struct {
	db database.Database
}

// NewDatabaseSink 创建数据库写入器
func NewDatabaseSink(db database.Database) *DatabaseSink {
	return &DatabaseSink{db: db}
}

// Save 保存账本和汇总
func (s *DatabaseSink) Save(ctx context.Context, runID string, ledger *backtest.Ledger) error {
	if err := s.db.SaveLedger(ctx, database.LedgerEntries(runID, ledger.Orders)); err != nil {
		return fmt.Errorf("保存账本失败: %w", err)
	}
	if err := s.db.SaveRunSummary(ctx, database.SummaryFromLedger(runID, ledger)); err != nil {
		return fmt.Errorf("保存汇总失败: %w", err)
	}
	return nil
}
