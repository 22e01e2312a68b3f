package runner

import (
	"os"
	"strconv"
	"strings"

	"bandshort/feed"
)

func fmtF(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// writeCandleCSV 按导出格式写分钟K线
func writeCandleCSV(path string, candles []feed.Candle) error {
	var sb strings.Builder
	sb.WriteString("CreatedOn,InstrumentIdentifier,OpenValue,High,Low,CloseValue\n")
	for _, c := range candles {
		sb.WriteString(c.Time.Format("2006-01-02 15:04:05"))
		sb.WriteString("," + c.Symbol + ",")
		sb.WriteString(strings.Join([]string{fmtF(c.Open), fmtF(c.High), fmtF(c.Low), fmtF(c.Close)}, ","))
		sb.WriteString("\n")
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
