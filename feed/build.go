package feed

import (
	"time"

	"bandshort/backtest"
)

// Options 构建回测输入的参数
type Options struct {
	Interval     time.Duration
	Resample     bool // 是否先聚合到 Interval
	SessionStart backtest.TimeOfDay
	SessionEnd   backtest.TimeOfDay
	From         time.Time
	To           time.Time
	Bands        BandOptions
}

// OptionsFromParams 由回测参数推导
func OptionsFromParams(p backtest.Params, resample bool, bands BandOptions) Options {
	return Options{
		Interval:     p.BarInterval,
		Resample:     resample,
		SessionStart: p.SessionStart,
		SessionEnd:   p.SessionEnd,
		From:         p.StartDate,
		To:           p.EndDate,
		Bands:        bands,
	}
}

// Build 时间窗口 → 聚合 → 交易时段 → 布林带
func Build(candles []Candle, opts Options) []backtest.Bar {
	candles = Window(candles, opts.From, opts.To)
	if opts.Resample && opts.Interval > 0 {
		candles = Resample(candles, opts.Interval)
	}
	if opts.SessionEnd > opts.SessionStart {
		candles = SegmentSession(candles, opts.SessionStart, opts.SessionEnd)
	}
	return Enrich(candles, opts.Bands)
}
