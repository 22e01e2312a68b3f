package runner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bandshort/backtest"
	"bandshort/database"
	"bandshort/feed"
)

func newImportedDB(t *testing.T, candles ...[]feed.Candle) *database.GormDatabase {
	t.Helper()
	db, err := database.NewGormDatabase(&database.DBConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "candles.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, c := range candles {
		_, err := db.ImportCandles(context.Background(), database.CandlesFromFeed(c), database.ImportAppend)
		require.NoError(t, err)
	}
	return db
}

func TestDatabaseSourceSegmentsSessionInExchangeTime(t *testing.T) {
	db := newImportedDB(t, mockCandles("SBIN", 5), mockCandles("TCS", 6))
	src := NewDatabaseSource(db, false, feed.DefaultBandOptions())
	ctx := context.Background()

	p := paramsFor("SBIN")[0]
	bars, err := src.Bars(ctx, p)
	require.NoError(t, err)
	require.Len(t, bars, 376)
	first := bars[0].Time.In(ist)
	assert.Equal(t, 9, first.Hour())
	assert.Equal(t, 15, first.Minute())

	p.SessionStart = backtest.NewTimeOfDay(9, 45)
	p.SessionEnd = backtest.NewTimeOfDay(15, 0)
	bars, err = src.Bars(ctx, p)
	require.NoError(t, err)
	require.Len(t, bars, 316)
	assert.Equal(t, 45, bars[0].Time.In(ist).Minute())
	assert.Equal(t, 15, bars[len(bars)-1].Time.In(ist).Hour())

	for i := 1; i < len(bars); i++ {
		require.True(t, bars[i].Time.After(bars[i-1].Time))
	}
}

func TestDatabaseSourceDateWindowAndReplay(t *testing.T) {
	candles := mockCandles("SBIN", 7)
	db := newImportedDB(t, candles)
	src := NewDatabaseSource(db, true, feed.DefaultBandOptions())

	p := paramsFor("SBIN")[0]
	p.BarInterval = 5 * time.Minute
	p.StartDate = time.Date(2023, 7, 28, 10, 0, 0, 0, ist)
	p.EndDate = time.Date(2023, 7, 28, 12, 59, 0, 0, ist)

	bars, err := src.Bars(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, bars, 36)
	assert.True(t, bars[0].Time.Equal(p.StartDate))
	assert.False(t, bars[18].Valid())
	assert.True(t, bars[19].Valid())

	// 与内存数据源构建的结果一致
	mem, err := NewCandleSource(map[string][]feed.Candle{"SBIN": candles}, true, feed.DefaultBandOptions()).Bars(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, mem, len(bars))
	for i := range bars {
		assert.True(t, mem[i].Time.Equal(bars[i].Time))
		assert.InDelta(t, mem[i].Close, bars[i].Close, 1e-9)
	}

	dbLedger, err := backtest.Replay(p, bars, nil)
	require.NoError(t, err)
	memLedger, err := backtest.Replay(p, mem, nil)
	require.NoError(t, err)
	assert.Equal(t, memLedger.FinalCapital, dbLedger.FinalCapital)
}

func TestDatabaseSourceUnknownSymbol(t *testing.T) {
	db := newImportedDB(t, mockCandles("SBIN", 5))
	bars, err := NewDatabaseSource(db, false, feed.DefaultBandOptions()).Bars(context.Background(), paramsFor("NOPE")[0])
	require.NoError(t, err)
	assert.Empty(t, bars)
}
