// Package feed 把原始分钟K线整理为带布林带的回测输入
package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"bandshort/utils"
)

// Candle 原始K线
type Candle struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
}

// 源数据列名
const (
	ColCreatedOn  = "CreatedOn"
	ColInstrument = "InstrumentIdentifier"
	ColOpen       = "OpenValue"
	ColHigh       = "High"
	ColLow        = "Low"
	ColClose      = "CloseValue"
)

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
}

// ParseTime 按配置时区解析时间
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = utils.GlobalLocation
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("无法解析时间: %q", s)
}

// LoadCSV 读取导出的分钟K线文件，按标的分组
func LoadCSV(path string) (map[string][]Candle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开行情文件失败: %w", err)
	}
	defer file.Close()
	return ReadCSV(file, utils.GlobalLocation)
}

// ReadCSV 解析 CSV，列顺序任意，列名大小写不敏感
func ReadCSV(r io.Reader, loc *time.Location) (map[string][]Candle, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return map[string][]Candle{}, nil
		}
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}

	idx := make(map[string]int)
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	cols := make(map[string]int)
	for _, name := range []string{ColCreatedOn, ColInstrument, ColOpen, ColHigh, ColLow, ColClose} {
		i, ok := idx[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("缺少列: %s", name)
		}
		cols[name] = i
	}

	grouped := make(map[string][]Candle)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("解析第 %d 行失败: %w", line, err)
		}

		c, err := parseRecord(record, cols, loc)
		if err != nil {
			return nil, fmt.Errorf("解析第 %d 行失败: %w", line, err)
		}
		grouped[c.Symbol] = append(grouped[c.Symbol], c)
	}

	for sym, candles := range grouped {
		grouped[sym] = Normalize(candles)
	}
	return grouped, nil
}

func parseRecord(record []string, cols map[string]int, loc *time.Location) (Candle, error) {
	t, err := ParseTime(record[cols[ColCreatedOn]], loc)
	if err != nil {
		return Candle{}, err
	}
	c := Candle{
		Symbol: strings.TrimSpace(record[cols[ColInstrument]]),
		Time:   t,
	}
	fields := []struct {
		name string
		dst  *float64
	}{
		{ColOpen, &c.Open},
		{ColHigh, &c.High},
		{ColLow, &c.Low},
		{ColClose, &c.Close},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[cols[f.name]]), 64)
		if err != nil {
			return Candle{}, fmt.Errorf("解析 %s 失败: %w", f.name, err)
		}
		*f.dst = v
	}
	if c.Symbol == "" {
		return Candle{}, fmt.Errorf("标的为空")
	}
	return c, nil
}

// Normalize 按时间排序，同一时间戳只保留第一条
func Normalize(candles []Candle) []Candle {
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	out := candles[:0]
	for i, c := range candles {
		if i > 0 && c.Time.Equal(out[len(out)-1].Time) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Window 截取 [from, to] 区间，零值表示不限
func Window(candles []Candle, from, to time.Time) []Candle {
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if !from.IsZero() && c.Time.Before(from) {
			continue
		}
		if !to.IsZero() && c.Time.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out
}
