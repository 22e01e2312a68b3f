package database

import (
	"bandshort/backtest"
	"bandshort/feed"
)

// CandlesFromFeed 转换为表记录
func CandlesFromFeed(candles []feed.Candle) []*Candle {
	out := make([]*Candle, 0, len(candles))
	for _, c := range candles {
		out = append(out, &Candle{
			CreatedOn:            c.Time,
			InstrumentIdentifier: c.Symbol,
			OpenValue:            c.Open,
			High:                 c.High,
			Low:                  c.Low,
			CloseValue:           c.Close,
		})
	}
	return out
}

// ToFeed 转换为 feed.Candle
func (c *Candle) ToFeed() feed.Candle {
	return feed.Candle{
		Symbol: c.InstrumentIdentifier,
		Time:   c.CreatedOn,
		Open:   c.OpenValue,
		High:   c.High,
		Low:    c.Low,
		Close:  c.CloseValue,
	}
}

// LedgerEntries 将订单记录转换为持久化条目
func LedgerEntries(runID string, orders []backtest.OrderRecord) []*LedgerEntry {
	entries := make([]*LedgerEntry, 0, len(orders))
	for i, o := range orders {
		entries = append(entries, &LedgerEntry{
			RunID:           runID,
			Ticker:          o.Instrument,
			Seq:             i,
			OrderDateTime:   o.Time,
			InstrumentPrice: o.Price,
			Quantity:        o.Quantity,
			OrderPrice:      o.Notional,
			TPPrice:         o.TargetPrice,
			SLPrice:         o.StopLossPrice,
			OrderSide:       string(o.Side),
			Status:          string(o.Status),
			Reason:          string(o.Reason),
			Balance:         o.BalanceAfter,
			PnL:             o.RealizedPnL,
		})
	}
	return entries
}

// ToOrder 还原为订单记录
func (e *LedgerEntry) ToOrder() backtest.OrderRecord {
	return backtest.OrderRecord{
		Instrument:    e.Ticker,
		Time:          e.OrderDateTime,
		Side:          backtest.Side(e.OrderSide),
		Price:         e.InstrumentPrice,
		Quantity:      e.Quantity,
		Notional:      e.OrderPrice,
		StopLossPrice: e.SLPrice,
		TargetPrice:   e.TPPrice,
		Status:        backtest.Status(e.Status),
		Reason:        backtest.Reason(e.Reason),
		BalanceAfter:  e.Balance,
		RealizedPnL:   e.PnL,
	}
}

// SummaryFromLedger 由账本生成汇总
func SummaryFromLedger(runID string, l *backtest.Ledger) *RunSummary {
	return &RunSummary{
		RunID:          runID,
		Symbol:         l.Symbol,
		InitialCapital: l.InitialCapital,
		FinalCapital:   l.FinalCapital,
		TotalPnL:       l.Metrics.TotalPnL,
		WinRate:        l.Metrics.WinRate,
		TradeCount:     l.Metrics.TotalTrades,
	}
}
