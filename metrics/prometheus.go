package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// 回测指标
	replayTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bandshort_replay_total",
			Help: "Total number of instrument replays",
		},
		[]string{"symbol", "status"},
	)

	replayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bandshort_replay_duration_seconds",
			Help:    "Instrument replay duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
		[]string{"symbol"},
	)

	barsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bandshort_bars_processed_total",
			Help: "Total number of bars folded into the state machine",
		},
		[]string{"symbol"},
	)

	barsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bandshort_bars_skipped_total",
			Help: "Total number of incomplete bars skipped",
		},
		[]string{"symbol"},
	)

	// 交易指标
	signalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bandshort_signal_total",
			Help: "Total number of short signals raised",
		},
		[]string{"symbol"},
	)

	orderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bandshort_order_total",
			Help: "Total number of ledger records by reason",
		},
		[]string{"symbol", "reason"},
	)

	realizedPnL = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bandshort_realized_pnl_abs_total",
			Help: "Absolute realized PnL, split by sign",
		},
		[]string{"symbol", "sign"},
	)

	finalCapital = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bandshort_final_capital",
			Help: "Capital at the end of the last replay",
		},
		[]string{"symbol"},
	)

	winRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bandshort_win_rate",
			Help: "Win rate percent of the last replay",
		},
		[]string{"symbol"},
	)

	// 系统指标
	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bandshort_goroutine_count",
			Help: "Number of goroutines",
		},
	)

	memoryAlloc = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bandshort_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)

	processRSS = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bandshort_process_rss_bytes",
			Help: "Resident set size of the process",
		},
	)

	processCPU = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bandshort_process_cpu_percent",
			Help: "CPU usage percent of the process",
		},
	)

	// 分布式锁指标
	claimTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bandshort_claim_total",
			Help: "Instrument claim attempts",
		},
		[]string{"status"},
	)
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct{}

// NewPrometheusMetrics 创建 Prometheus 指标收集器
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{}
}

// RecordReplay 记录一次回放结果
func (pm *PrometheusMetrics) RecordReplay(symbol string, ok bool, duration time.Duration) {
	status := "success"
	if !ok {
		status = "failure"
	}
	replayTotal.WithLabelValues(symbol, status).Inc()
	replayDuration.WithLabelValues(symbol).Observe(duration.Seconds())
}

// RecordLedger 记录回放结束时的账本摘要
func (pm *PrometheusMetrics) RecordLedger(symbol string, processed, skipped int, capital, rate float64) {
	barsProcessed.WithLabelValues(symbol).Add(float64(processed))
	barsSkipped.WithLabelValues(symbol).Add(float64(skipped))
	finalCapital.WithLabelValues(symbol).Set(capital)
	winRate.WithLabelValues(symbol).Set(rate)
}

// RecordSignal 记录做空信号
func (pm *PrometheusMetrics) RecordSignal(symbol string) {
	signalTotal.WithLabelValues(symbol).Inc()
}

// RecordOrder 记录账本记录
func (pm *PrometheusMetrics) RecordOrder(symbol, reason string) {
	orderTotal.WithLabelValues(symbol, reason).Inc()
}

// RecordRealizedPnL 记录已实现盈亏
func (pm *PrometheusMetrics) RecordRealizedPnL(symbol string, pnl float64) {
	if pnl >= 0 {
		realizedPnL.WithLabelValues(symbol, "profit").Add(pnl)
		return
	}
	realizedPnL.WithLabelValues(symbol, "loss").Add(-pnl)
}

// RecordClaim 记录标的认领
func (pm *PrometheusMetrics) RecordClaim(status string) {
	claimTotal.WithLabelValues(status).Inc()
}

// SetGoroutineCount 设置 Goroutine 数量
func (pm *PrometheusMetrics) SetGoroutineCount(count int) {
	goroutineCount.Set(float64(count))
}

// SetMemoryAlloc 设置堆内存
func (pm *PrometheusMetrics) SetMemoryAlloc(bytes uint64) {
	memoryAlloc.Set(float64(bytes))
}

// SetProcessStats 设置进程资源
func (pm *PrometheusMetrics) SetProcessStats(rssBytes uint64, cpuPercent float64) {
	processRSS.Set(float64(rssBytes))
	processCPU.Set(cpuPercent)
}

// 全局实例
var globalPrometheusMetrics *PrometheusMetrics

// GetPrometheusMetrics 获取全局 Prometheus 指标收集器
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		globalPrometheusMetrics = NewPrometheusMetrics()
	})
	return globalPrometheusMetrics
}
