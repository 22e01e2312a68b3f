package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bandshort/backtest"
	"bandshort/feed"
)

func newTestDB(t *testing.T) *GormDatabase {
	t.Helper()
	db, err := NewGormDatabase(&DBConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "candles.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleCandles(symbol string, n int) []feed.Candle {
	base := time.Date(2023, 7, 28, 9, 15, 0, 0, time.UTC)
	out := make([]feed.Candle, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = feed.Candle{Symbol: symbol, Time: base.Add(time.Duration(i) * time.Minute), Open: p, High: p + 1, Low: p - 1, Close: p + 0.5}
	}
	return out
}

func TestImportAndLoadCandles(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	n, err := db.ImportCandles(ctx, CandlesFromFeed(append(sampleCandles("HDFCBANK", 5), sampleCandles("SBIN", 3)...)), ImportReplace)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	symbols, err := db.ListInstruments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"HDFCBANK", "SBIN"}, symbols)

	rows, err := db.LoadCandles(ctx, &CandleFilter{Symbol: "HDFCBANK"})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	c := rows[2].ToFeed()
	assert.Equal(t, "HDFCBANK", c.Symbol)
	assert.Equal(t, 102.0, c.Open)
	assert.Equal(t, 102.5, c.Close)

	from := time.Date(2023, 7, 28, 9, 16, 0, 0, time.UTC)
	to := time.Date(2023, 7, 28, 9, 17, 0, 0, time.UTC)
	rows, err = db.LoadCandles(ctx, &CandleFilter{Symbol: "HDFCBANK", StartTime: &from, EndTime: &to})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestImportModes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.ImportCandles(ctx, CandlesFromFeed(sampleCandles("X", 3)), ImportReplace)
	require.NoError(t, err)

	_, err = db.ImportCandles(ctx, CandlesFromFeed(sampleCandles("X", 2)), ImportFail)
	assert.True(t, errors.Is(err, ErrTableNotEmpty))

	_, err = db.ImportCandles(ctx, CandlesFromFeed(sampleCandles("Y", 2)), ImportAppend)
	require.NoError(t, err)
	symbols, err := db.ListInstruments(ctx)
	require.NoError(t, err)
	assert.Len(t, symbols, 2)

	_, err = db.ImportCandles(ctx, CandlesFromFeed(sampleCandles("Z", 1)), ImportReplace)
	require.NoError(t, err)
	symbols, err = db.ListInstruments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Z"}, symbols, "replace 清空旧数据")

	_, err = db.ImportCandles(ctx, nil, "upsert")
	assert.Error(t, err)
}

func TestSaveAndGetLedger(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	pnl := 2.0
	ts := time.Date(2023, 7, 28, 10, 1, 0, 0, time.UTC)
	orders := []backtest.OrderRecord{
		{Instrument: "HDFCBANK", Time: ts, Side: backtest.SideShort, Price: 106, Quantity: 10, Notional: 1060,
			StopLossPrice: 106.2, TargetPrice: 105.8, Status: backtest.StatusRunning, Reason: backtest.ReasonEntry, BalanceAfter: 100000},
		{Instrument: "HDFCBANK", Time: ts.Add(time.Minute), Side: backtest.SideLong, Price: 105.8, Quantity: 10, Notional: 1058,
			StopLossPrice: 106.2, TargetPrice: 105.8, Status: backtest.StatusClosed, Reason: backtest.ReasonTargetHit, BalanceAfter: 100002, RealizedPnL: &pnl},
	}

	require.NoError(t, db.SaveLedger(ctx, LedgerEntries("run-1", orders)))
	require.NoError(t, db.SaveLedger(ctx, LedgerEntries("run-2", orders[:1])))

	entries, err := db.GetLedger(ctx, &LedgerFilter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0].ToOrder()
	assert.Equal(t, backtest.ReasonEntry, first.Reason)
	assert.Nil(t, first.RealizedPnL)
	second := entries[1].ToOrder()
	require.NotNil(t, second.RealizedPnL)
	assert.Equal(t, 2.0, *second.RealizedPnL)
	assert.True(t, second.Time.Equal(ts.Add(time.Minute)))

	require.NoError(t, db.SaveRunSummary(ctx, &RunSummary{RunID: "run-1", Symbol: "HDFCBANK", FinalCapital: 100002}))
	summaries, err := db.GetRunSummaries(ctx, &RunFilter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 100002.0, summaries[0].FinalCapital)

	require.NoError(t, db.Ping(ctx))
}

func TestNewDatabaseUnsupported(t *testing.T) {
	_, err := NewDatabase(&Config{Type: "oracle"})
	assert.Error(t, err)
}
