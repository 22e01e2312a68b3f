package indicators

// BollingerBands 布林带
type BollingerBands struct {
	period     int
	multiplier float64
	sample     bool // 使用样本标准差
	decimals   int  // >0 时各轨道四舍五入
}

// NewBollingerBands 创建布林带指标（总体标准差）
func NewBollingerBands(period int, multiplier float64) *BollingerBands {
	return &BollingerBands{
		period:     period,
		multiplier: multiplier,
	}
}

// WithSampleStdDev 改用样本标准差
func (bb *BollingerBands) WithSampleStdDev() *BollingerBands {
	bb.sample = true
	return bb
}

// WithRounding 各轨道保留 decimals 位小数
func (bb *BollingerBands) WithRounding(decimals int) *BollingerBands {
	bb.decimals = decimals
	return bb
}

// Name 指标名称
func (bb *BollingerBands) Name() string {
	return "BollingerBands"
}

// Period 所需周期数
func (bb *BollingerBands) Period() int {
	return bb.period
}

// Calculate 计算中轨
func (bb *BollingerBands) Calculate(candles []Candle) []float64 {
	result := bb.CalculateMulti(candles)
	if result == nil {
		return nil
	}
	return result["middle"]
}

// CalculateMulti 计算上轨、中轨、下轨，长度为 len(candles)-period+1
func (bb *BollingerBands) CalculateMulti(candles []Candle) map[string][]float64 {
	return bb.CalculateCloses(ClosePrices(candles))
}

// CalculateCloses 直接基于收盘价序列计算
func (bb *BollingerBands) CalculateCloses(closes []float64) map[string][]float64 {
	if len(closes) < bb.period {
		return nil
	}

	middle := SMA(closes, bb.period)
	var stdDev []float64
	if bb.sample {
		stdDev = SampleStdDev(closes, bb.period)
	} else {
		stdDev = StdDev(closes, bb.period)
	}
	if middle == nil || stdDev == nil {
		return nil
	}

	upper := make([]float64, len(middle))
	lower := make([]float64, len(middle))

	for i := range middle {
		mid := Round(middle[i], bb.decimals)
		band := Round(bb.multiplier*stdDev[i], bb.decimals)
		middle[i] = mid
		upper[i] = Round(mid+band, bb.decimals)
		lower[i] = Round(mid-band, bb.decimals)
	}

	return map[string][]float64{
		"upper":  upper,
		"middle": middle,
		"lower":  lower,
	}
}
