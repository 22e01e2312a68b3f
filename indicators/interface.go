// Package indicators 布林带等滚动窗口指标
package indicators

// Candle K线数据
type Candle struct {
	Time  int64   // 时间戳（毫秒）
	Open  float64 // 开盘价
	High  float64 // 最高价
	Low   float64 // 最低价
	Close float64 // 收盘价
}

// Indicator 指标接口
type Indicator interface {
	// Name 指标名称
	Name() string
	// Calculate 计算指标值
	Calculate(candles []Candle) []float64
	// Period 计算所需的最小周期数
	Period() int
}

// MultiValueIndicator 多值指标接口（如布林带）
type MultiValueIndicator interface {
	Indicator
	// CalculateMulti 计算多个值
	CalculateMulti(candles []Candle) map[string][]float64
}
