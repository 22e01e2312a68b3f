package indicators

import (
	"math"
)

// ========== 基础计算工具 ==========

// SMA 简单移动平均
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values)-period+1)
	sum := 0.0

	// 计算第一个 SMA
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	result[0] = sum / float64(period)

	// 滑动计算后续 SMA
	for i := period; i < len(values); i++ {
		sum = sum - values[i-period] + values[i]
		result[i-period+1] = sum / float64(period)
	}

	return result
}

// StdDev 总体标准差（除以 n）
func StdDev(values []float64, period int) []float64 {
	return rollingStdDev(values, period, 0)
}

// SampleStdDev 样本标准差（除以 n-1）
func SampleStdDev(values []float64, period int) []float64 {
	if period < 2 {
		return nil
	}
	return rollingStdDev(values, period, 1)
}

func rollingStdDev(values []float64, period, ddof int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values)-period+1)
	for i := period - 1; i < len(values); i++ {
		slice := values[i-period+1 : i+1]
		mean := Mean(slice)
		variance := 0.0
		for _, v := range slice {
			diff := v - mean
			variance += diff * diff
		}
		result[i-period+1] = math.Sqrt(variance / float64(period-ddof))
	}

	return result
}

// Mean 平均值
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Round 保留 decimals 位小数，decimals <= 0 时原样返回
func Round(v float64, decimals int) float64 {
	if decimals <= 0 || math.IsNaN(v) {
		return v
	}
	p := math.Pow(10, float64(decimals))
	return math.RoundToEven(v*p) / p
}

// ClosePrices 提取收盘价序列
func ClosePrices(candles []Candle) []float64 {
	result := make([]float64, len(candles))
	for i, c := range candles {
		result[i] = c.Close
	}
	return result
}
