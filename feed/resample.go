package feed

import (
	"time"

	"bandshort/backtest"
)

// SegmentSession 只保留时刻落在 [start, end] 内的K线（闭区间）
func SegmentSession(candles []Candle, start, end backtest.TimeOfDay) []Candle {
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		tod := backtest.TimeOfDayOf(c.Time)
		if tod >= start && tod <= end {
			out = append(out, c)
		}
	}
	return out
}

// bucketStart K线所属周期的起点，从当天零点开始对齐
func bucketStart(t time.Time, interval time.Duration) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := t.Sub(midnight)
	return midnight.Add(offset / interval * interval)
}

// Resample 聚合到更大周期：开盘取首、最高取大、最低取小、收盘取尾
//
// 同一交易日内缺失的周期沿用上一周期的值；没有任何数据的日期不生成K线。
// 输入须已按时间排序。
func Resample(candles []Candle, interval time.Duration) []Candle {
	if len(candles) == 0 || interval <= 0 {
		return candles
	}

	out := make([]Candle, 0, len(candles))
	var cur *Candle
	flush := func() {
		if cur != nil {
			out = append(out, *cur)
		}
	}

	for _, c := range candles {
		start := bucketStart(c.Time, interval)
		if cur != nil && cur.Time.Equal(start) {
			if c.High > cur.High {
				cur.High = c.High
			}
			if c.Low < cur.Low {
				cur.Low = c.Low
			}
			cur.Close = c.Close
			continue
		}

		flush()
		if cur != nil && sameDay(cur.Time, start) {
			// 同一天内的空周期向前填充
			prev := *cur
			for t := prev.Time.Add(interval); t.Before(start); t = t.Add(interval) {
				filled := prev
				filled.Time = t
				out = append(out, filled)
			}
		}
		next := c
		next.Time = start
		cur = &next
	}
	flush()
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
