package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bandshort/backtest"
)

func TestObserverCountsOrders(t *testing.T) {
	o := NewObserver()
	pnl := 12.5
	loss := -3.0

	o.OnSignal("OBS", backtest.Bar{}, backtest.State{})
	o.OnOrder(backtest.OrderRecord{Instrument: "OBS", Reason: backtest.ReasonEntry})
	o.OnOrder(backtest.OrderRecord{Instrument: "OBS", Reason: backtest.ReasonTargetHit, RealizedPnL: &pnl})
	o.OnOrder(backtest.OrderRecord{Instrument: "OBS", Reason: backtest.ReasonStopLossHit, RealizedPnL: &loss})

	assert.Equal(t, 1.0, testutil.ToFloat64(signalTotal.WithLabelValues("OBS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(orderTotal.WithLabelValues("OBS", string(backtest.ReasonEntry))))
	assert.Equal(t, 1.0, testutil.ToFloat64(orderTotal.WithLabelValues("OBS", string(backtest.ReasonTargetHit))))
	assert.Equal(t, 12.5, testutil.ToFloat64(realizedPnL.WithLabelValues("OBS", "profit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(realizedPnL.WithLabelValues("OBS", "loss")))
}

func TestRecordReplayAndLedger(t *testing.T) {
	pm := GetPrometheusMetrics()
	pm.RecordReplay("REP", true, 50*time.Millisecond)
	pm.RecordReplay("REP", false, time.Millisecond)
	pm.RecordLedger("REP", 376, 19, 100012.5, 50)

	assert.Equal(t, 1.0, testutil.ToFloat64(replayTotal.WithLabelValues("REP", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(replayTotal.WithLabelValues("REP", "failure")))
	assert.Equal(t, 376.0, testutil.ToFloat64(barsProcessed.WithLabelValues("REP")))
	assert.Equal(t, 100012.5, testutil.ToFloat64(finalCapital.WithLabelValues("REP")))
	assert.Equal(t, 50.0, testutil.ToFloat64(winRate.WithLabelValues("REP")))
}

func TestCollectProcessStats(t *testing.T) {
	stats, err := CollectProcessStats()
	require.NoError(t, err)
	assert.Greater(t, stats.ProcessID, 0)
	assert.Greater(t, stats.RSSBytes, uint64(0))
	assert.Greater(t, stats.Goroutines, 0)
}

func TestSystemMetricsCollectorStartStop(t *testing.T) {
	c := NewSystemMetricsCollector(0)
	assert.Equal(t, 15*time.Second, c.interval)
	c.collect()
	assert.Greater(t, testutil.ToFloat64(goroutineCount), 0.0)
	c.Start()
	c.Stop()
}
