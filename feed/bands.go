package feed

import (
	"math"

	"bandshort/backtest"
	"bandshort/indicators"
)

// BandOptions 布林带参数
type BandOptions struct {
	Window     int     `yaml:"window" json:"window"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	Decimals   int     `yaml:"decimals" json:"decimals"` // 0 表示不取整
}

// DefaultBandOptions 20 周期、1 倍样本标准差、保留2位
func DefaultBandOptions() BandOptions {
	return BandOptions{Window: 20, Multiplier: 1, Decimals: 2}
}

// Enrich 为每根K线附加布林带，预热期内带宽为 NaN
func Enrich(candles []Candle, opts BandOptions) []backtest.Bar {
	if opts.Window <= 0 {
		opts = DefaultBandOptions()
	}

	bars := make([]backtest.Bar, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		bars[i] = backtest.Bar{
			Time:       c.Time,
			Open:       c.Open,
			High:       c.High,
			Low:        c.Low,
			Close:      c.Close,
			UpperBand:  math.NaN(),
			MiddleBand: math.NaN(),
			LowerBand:  math.NaN(),
		}
	}

	bb := indicators.NewBollingerBands(opts.Window, opts.Multiplier).WithSampleStdDev().WithRounding(opts.Decimals)
	res := bb.CalculateCloses(closes)
	if res == nil {
		return bars
	}

	offset := opts.Window - 1
	for i := range res["middle"] {
		b := &bars[i+offset]
		b.MiddleBand = res["middle"][i]
		b.UpperBand = res["upper"][i]
		b.LowerBand = res["lower"][i]
	}
	return bars
}
