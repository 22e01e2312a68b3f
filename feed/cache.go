package feed

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"bandshort/backtest"
	"bandshort/logger"
)

const cacheIndexFile = "cache_index.json"

// CacheIndexEntry 缓存索引条目
type CacheIndexEntry struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Bars     int       `json:"bars"`
	SizeMB   float64   `json:"size_mb"`
	Created  time.Time `json:"created"`
}

// CacheInfo 缓存信息
type CacheInfo struct {
	Name string `json:"name"`
	CacheIndexEntry
}

// CacheStats 缓存统计
type CacheStats struct {
	FileCount int     `json:"file_count"`
	TotalSize int64   `json:"total_size"`
	SizeMB    float64 `json:"size_mb"`
}

// Cache 已计算布林带的K线缓存，CSV 文件 + JSON 索引
type Cache struct {
	dir string
	mu  sync.Mutex
}

// NewCache 创建缓存
func NewCache(dir string) *Cache {
	if dir == "" {
		dir = filepath.Join("data", "cache")
	}
	return &Cache{dir: dir}
}

// Dir 缓存目录
func (c *Cache) Dir() string {
	return c.dir
}

// CacheKey 生成缓存键: SYMBOL_5m0s_20230728_20230831_<指纹>
// 指纹覆盖 Build 的全部输入，交易时段或布林带参数不同的结果不会互相命中
func CacheKey(symbol string, opts Options) string {
	bands := opts.Bands
	if bands.Window <= 0 {
		bands = DefaultBandOptions()
	}
	h := xxhash.New()
	fmt.Fprintf(h, "%s|%d|%t|%d|%d|%s|%s|%d|%g|%d",
		symbol, opts.Interval, opts.Resample,
		opts.SessionStart, opts.SessionEnd,
		formatKeyTime(opts.From), formatKeyTime(opts.To),
		bands.Window, bands.Multiplier, bands.Decimals)
	return fmt.Sprintf("%s_%s_%s_%s_%016x", symbol, opts.Interval,
		formatKeyDate(opts.From), formatKeyDate(opts.To), h.Sum64())
}

func formatKeyTime(t time.Time) string {
	if t.IsZero() {
		return "all"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatKeyDate(t time.Time) string {
	if t.IsZero() {
		return "all"
	}
	return t.Format("20060102")
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".csv")
}

// Load 从 CSV 加载
func (c *Cache) Load(key string) ([]backtest.Bar, error) {
	file, err := os.Open(c.path(key))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("缓存文件为空或格式错误")
	}

	// 跳过表头
	bars := make([]backtest.Bar, 0, len(records)-1)
	for i := 1; i < len(records); i++ {
		bar, err := parseBarRecord(records[i])
		if err != nil {
			return nil, fmt.Errorf("解析第 %d 行失败: %w", i, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseBarRecord 解析 CSV 记录，空值还原为 NaN
func parseBarRecord(record []string) (backtest.Bar, error) {
	if len(record) != 8 {
		return backtest.Bar{}, fmt.Errorf("记录字段数量错误: 期望8个，实际%d个", len(record))
	}
	t, err := time.Parse(time.RFC3339, record[0])
	if err != nil {
		return backtest.Bar{}, fmt.Errorf("解析时间失败: %w", err)
	}
	vals := make([]float64, 7)
	for i := range vals {
		if record[i+1] == "" {
			vals[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(record[i+1], 64)
		if err != nil {
			return backtest.Bar{}, fmt.Errorf("解析第 %d 列失败: %w", i+2, err)
		}
		vals[i] = v
	}
	return backtest.Bar{
		Time:       t,
		Open:       vals[0],
		High:       vals[1],
		Low:        vals[2],
		Close:      vals[3],
		UpperBand:  vals[4],
		MiddleBand: vals[5],
		LowerBand:  vals[6],
	}, nil
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Save 保存到 CSV 并更新索引
func (c *Cache) Save(key, symbol string, interval time.Duration, bars []backtest.Bar) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("创建缓存目录失败: %w", err)
	}

	file, err := os.Create(c.path(key))
	if err != nil {
		return fmt.Errorf("创建缓存文件失败: %w", err)
	}

	writer := csv.NewWriter(file)
	writer.Write([]string{"time", "open", "high", "low", "close", "upper", "middle", "lower"})
	for _, b := range bars {
		writer.Write([]string{
			b.Time.Format(time.RFC3339),
			formatValue(b.Open),
			formatValue(b.High),
			formatValue(b.Low),
			formatValue(b.Close),
			formatValue(b.UpperBand),
			formatValue(b.MiddleBand),
			formatValue(b.LowerBand),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return fmt.Errorf("写入数据失败: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("关闭缓存文件失败: %w", err)
	}

	entry := CacheIndexEntry{
		Symbol:   symbol,
		Interval: interval.String(),
		Bars:     len(bars),
		Created:  time.Now(),
	}
	if len(bars) > 0 {
		entry.Start = bars[0].Time
		entry.End = bars[len(bars)-1].Time
	}
	if info, err := os.Stat(c.path(key)); err == nil {
		entry.SizeMB = float64(info.Size()) / 1024 / 1024
	}

	if err := c.updateIndex(func(index map[string]CacheIndexEntry) { index[key] = entry }); err != nil {
		logger.Warn("⚠️ 更新缓存索引失败: %v", err)
	}
	return nil
}

func (c *Cache) readIndex() (map[string]CacheIndexEntry, error) {
	index := make(map[string]CacheIndexEntry)
	data, err := os.ReadFile(filepath.Join(c.dir, cacheIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return index, nil
		}
		return nil, fmt.Errorf("读取缓存索引失败: %w", err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("解析缓存索引失败: %w", err)
	}
	return index, nil
}

// updateIndex 调用前必须持有 mu
func (c *Cache) updateIndex(mutate func(map[string]CacheIndexEntry)) error {
	index, err := c.readIndex()
	if err != nil {
		return err
	}
	mutate(index)
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, cacheIndexFile), data, 0644)
}

// List 列出所有缓存
func (c *Cache) List() ([]CacheInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, err := c.readIndex()
	if err != nil {
		return nil, err
	}
	caches := make([]CacheInfo, 0, len(index))
	for name, entry := range index {
		caches = append(caches, CacheInfo{Name: name, CacheIndexEntry: entry})
	}
	return caches, nil
}

// Delete 删除指定缓存
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除缓存文件失败: %w", err)
	}
	if _, err := os.Stat(filepath.Join(c.dir, cacheIndexFile)); os.IsNotExist(err) {
		return nil // 索引文件不存在，忽略
	}
	return c.updateIndex(func(index map[string]CacheIndexEntry) { delete(index, key) })
}

// Clear 清理所有缓存
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("清理缓存失败: %w", err)
	}
	return nil
}

// Stats 获取缓存统计
func (c *Cache) Stats() (CacheStats, error) {
	files, err := filepath.Glob(filepath.Join(c.dir, "*.csv"))
	if err != nil {
		return CacheStats{}, fmt.Errorf("读取缓存目录失败: %w", err)
	}

	var totalSize int64
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		totalSize += info.Size()
	}

	return CacheStats{
		FileCount: len(files),
		TotalSize: totalSize,
		SizeMB:    float64(totalSize) / 1024 / 1024,
	}, nil
}
