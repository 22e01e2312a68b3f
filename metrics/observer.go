package metrics

import (
	"bandshort/backtest"
)

// Observer 把回测回调转换为 Prometheus 指标，并发安全
type Observer struct {
	pm *PrometheusMetrics
}

// NewObserver 创建指标回调
func NewObserver() *Observer {
	return &Observer{pm: GetPrometheusMetrics()}
}

func (o *Observer) OnSignal(symbol string, _ backtest.Bar, _ backtest.State) {
	o.pm.RecordSignal(symbol)
}

func (o *Observer) OnOrder(order backtest.OrderRecord) {
	o.pm.RecordOrder(order.Instrument, string(order.Reason))
	if order.IsExit() {
		o.pm.RecordRealizedPnL(order.Instrument, order.PnL())
	}
}

func (o *Observer) OnSkip(string, backtest.Bar) {}
