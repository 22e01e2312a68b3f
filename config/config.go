package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bandshort/backtest"
	"bandshort/database"
	"bandshort/feed"
	"bandshort/lock"
	"bandshort/utils"
)

// SymbolOverride 单个标的覆盖的参数，未填写表示沿用全局
type SymbolOverride struct {
	Quantity        *int     `yaml:"quantity" json:"quantity,omitempty"`
	Capital         *float64 `yaml:"capital" json:"capital,omitempty"`
	StopLossPercent *float64 `yaml:"stop_loss_percent" json:"stop_loss_percent,omitempty"`
	TargetPercent   *float64 `yaml:"target_percent" json:"target_percent,omitempty"`
	PreferStopLoss  *bool    `yaml:"prefer_stop_loss" json:"prefer_stop_loss,omitempty"`
	OrderLifecycle  string   `yaml:"order_lifecycle" json:"order_lifecycle,omitempty"`
}

// BacktestConfig 策略参数
type BacktestConfig struct {
	Symbols         []string                  `yaml:"symbols" json:"symbols"`
	Quantity        *int                      `yaml:"quantity" json:"quantity"` // 未填写时取默认值，显式填写的非正数报错
	Capital         *float64                  `yaml:"capital" json:"capital"`
	StopLossPercent *float64                  `yaml:"stop_loss_percent" json:"stop_loss_percent"` // 百分比，0.2 表示 0.2%
	TargetPercent   *float64                  `yaml:"target_percent" json:"target_percent"`
	PreferStopLoss  *bool                     `yaml:"prefer_stop_loss" json:"prefer_stop_loss"` // 同一根K线同时触发时优先止损，默认 true
	OrderLifecycle  string                    `yaml:"order_lifecycle" json:"order_lifecycle"`   // MIS / CNC / NRML / IntradayOnly / CarryForward
	Interval        time.Duration             `yaml:"interval" json:"interval"`
	SessionStart    string                    `yaml:"session_start" json:"session_start"` // HH:MM
	SessionEnd      string                    `yaml:"session_end" json:"session_end"`
	StartDate       string                    `yaml:"start_date" json:"start_date"`
	EndDate         string                    `yaml:"end_date" json:"end_date"`
	LogTrades       bool                      `yaml:"log_trades" json:"log_trades"`
	TickSize        float64                   `yaml:"tick_size" json:"tick_size"`
	SquareOffTime   string                    `yaml:"square_off_time" json:"square_off_time"`
	EntryCutoff     string                    `yaml:"entry_cutoff" json:"entry_cutoff"`
	Overrides       map[string]SymbolOverride `yaml:"overrides" json:"overrides,omitempty"`
}

// DataConfig 行情数据配置
type DataConfig struct {
	Source       string           `yaml:"source" json:"source"` // csv / database
	CSVPath      string           `yaml:"csv_path" json:"csv_path"`
	Resample     bool             `yaml:"resample" json:"resample"`
	Bands        feed.BandOptions `yaml:"bands" json:"bands"`
	CacheEnabled bool             `yaml:"cache_enabled" json:"cache_enabled"`
	CacheDir     string           `yaml:"cache_dir" json:"cache_dir"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type            string        `yaml:"type" json:"type"` // sqlite / postgres / mysql
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	LogLevel        string        `yaml:"log_level" json:"log_level"`
}

// RunnerConfig 并发回测配置
type RunnerConfig struct {
	Workers       int    `yaml:"workers" json:"workers"`
	OutputDir     string `yaml:"output_dir" json:"output_dir"`
	PersistLedger bool   `yaml:"persist_ledger" json:"persist_ledger"`
	WriteReports  bool   `yaml:"write_reports" json:"write_reports"`
}

// LockConfig 分布式锁配置
type LockConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Type    string        `yaml:"type" json:"type"` // redis / memory
	Prefix  string        `yaml:"prefix" json:"prefix"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
	Redis   struct {
		Addr     string `yaml:"addr" json:"addr"`
		Password string `yaml:"password" json:"-"`
		DB       int    `yaml:"db" json:"db"`
		PoolSize int    `yaml:"pool_size" json:"pool_size"`
	} `yaml:"redis" json:"redis"`
}

// WebConfig Web 服务配置
type WebConfig struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	Host      string  `yaml:"host" json:"host"`
	Port      int     `yaml:"port" json:"port"`
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"` // 每秒允许提交的回测数
	Burst     int     `yaml:"burst" json:"burst"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	CollectInterval time.Duration `yaml:"collect_interval" json:"collect_interval"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
	Timezone string `yaml:"timezone" json:"timezone"`
}

// Config 回测系统配置
type Config struct {
	Backtest        BacktestConfig `yaml:"backtest" json:"backtest"`
	Data            DataConfig     `yaml:"data" json:"data"`
	Database        DatabaseConfig `yaml:"database" json:"database"`
	Runner          RunnerConfig   `yaml:"runner" json:"runner"`
	DistributedLock LockConfig     `yaml:"distributed_lock" json:"distributed_lock"`
	Web             WebConfig      `yaml:"web" json:"web"`
	Metrics         MetricsConfig  `yaml:"metrics" json:"metrics"`
	System          SystemConfig   `yaml:"system" json:"system"`
}

// LoadConfig 从文件加载配置
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes 从字节数组加载配置
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}

// Validate 填充默认值并校验
func (c *Config) Validate() error {
	c.applyDefaults()

	switch c.Data.Source {
	case "csv":
		if c.Data.CSVPath == "" {
			return fmt.Errorf("数据源为 csv 时必须指定 data.csv_path")
		}
	case "database":
	default:
		return fmt.Errorf("不支持的数据源: %s", c.Data.Source)
	}

	if c.Data.Bands.Window < 2 {
		return fmt.Errorf("布林带窗口必须大于等于2")
	}
	if c.Data.Bands.Multiplier <= 0 {
		return fmt.Errorf("布林带倍数必须大于0")
	}

	switch c.Database.Type {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("不支持的数据库类型: %s", c.Database.Type)
	}

	if c.Runner.Workers <= 0 {
		return fmt.Errorf("runner.workers 必须大于0")
	}

	if c.DistributedLock.Enabled {
		switch c.DistributedLock.Type {
		case "redis":
			if c.DistributedLock.Redis.Addr == "" {
				return fmt.Errorf("distributed_lock.redis.addr 不能为空")
			}
		case "memory":
		default:
			return fmt.Errorf("不支持的锁类型: %s", c.DistributedLock.Type)
		}
	}

	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port 无效: %d", c.Web.Port)
	}

	// 未配置标的时用占位符校验全局参数
	symbols := c.Backtest.Symbols
	if len(symbols) == 0 {
		symbols = []string{"CONFIG"}
	}
	for _, s := range symbols {
		if _, err := c.BacktestParams(s); err != nil {
			return fmt.Errorf("标的 %s: %w", s, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	def := backtest.DefaultParams()
	b := &c.Backtest
	if b.Quantity == nil {
		b.Quantity = &def.Quantity
	}
	if b.Capital == nil {
		b.Capital = &def.Capital
	}
	if b.StopLossPercent == nil {
		b.StopLossPercent = &def.StopLossPercent
	}
	if b.TargetPercent == nil {
		b.TargetPercent = &def.TargetPercent
	}
	if b.PreferStopLoss == nil {
		prefer := def.PreferStopLoss
		b.PreferStopLoss = &prefer
	}
	if b.OrderLifecycle == "" {
		b.OrderLifecycle = "MIS"
	}
	if b.Interval == 0 {
		b.Interval = def.BarInterval
	}
	if b.SessionStart == "" {
		b.SessionStart = def.SessionStart.String()
	}
	if b.SessionEnd == "" {
		b.SessionEnd = def.SessionEnd.String()
	}
	if b.TickSize == 0 {
		b.TickSize = def.TickSize
	}
	if b.SquareOffTime == "" {
		b.SquareOffTime = def.SquareOffTime.String()
	}
	if b.EntryCutoff == "" {
		b.EntryCutoff = def.EntryCutoff.String()
	}

	if c.Data.Source == "" {
		c.Data.Source = "csv"
	}
	bands := feed.DefaultBandOptions()
	if c.Data.Bands == (feed.BandOptions{}) {
		c.Data.Bands = bands
	}
	if c.Data.Bands.Window == 0 {
		c.Data.Bands.Window = bands.Window
	}
	if c.Data.Bands.Multiplier == 0 {
		c.Data.Bands.Multiplier = bands.Multiplier
	}
	if c.Data.CacheDir == "" {
		c.Data.CacheDir = "data/cache"
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Type == "sqlite" {
		c.Database.DSN = "data/bandshort.db"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = time.Hour
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "warn"
	}

	if c.Runner.Workers == 0 {
		c.Runner.Workers = 5
	}
	if c.Runner.OutputDir == "" {
		c.Runner.OutputDir = "output"
	}

	if c.DistributedLock.Type == "" {
		c.DistributedLock.Type = "redis"
	}
	if c.DistributedLock.Prefix == "" {
		c.DistributedLock.Prefix = "bandshort:"
	}
	if c.DistributedLock.TTL == 0 {
		c.DistributedLock.TTL = 30 * time.Minute
	}
	if c.DistributedLock.Redis.PoolSize == 0 {
		c.DistributedLock.Redis.PoolSize = 10
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 28888
	}
	if c.Web.RateLimit == 0 {
		c.Web.RateLimit = 1
	}
	if c.Web.Burst == 0 {
		c.Web.Burst = 3
	}

	if c.Metrics.CollectInterval == 0 {
		c.Metrics.CollectInterval = 15 * time.Second
	}

	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = utils.DefaultTimezone
	}
}

// BacktestParams 生成某个标的的回测参数，标的覆盖项优先
func (c *Config) BacktestParams(symbol string) (backtest.Params, error) {
	b := c.Backtest
	p := backtest.DefaultParams()
	p.Symbol = symbol
	setIfPresent(&p.Quantity, b.Quantity)
	setIfPresent(&p.Capital, b.Capital)
	setIfPresent(&p.StopLossPercent, b.StopLossPercent)
	setIfPresent(&p.TargetPercent, b.TargetPercent)
	if b.PreferStopLoss != nil {
		p.PreferStopLoss = *b.PreferStopLoss
	}
	p.BarInterval = b.Interval
	p.LogTrades = b.LogTrades
	p.TickSize = b.TickSize

	lifecycle := b.OrderLifecycle
	if o, ok := b.Overrides[symbol]; ok {
		setIfPresent(&p.Quantity, o.Quantity)
		setIfPresent(&p.Capital, o.Capital)
		setIfPresent(&p.StopLossPercent, o.StopLossPercent)
		setIfPresent(&p.TargetPercent, o.TargetPercent)
		if o.PreferStopLoss != nil {
			p.PreferStopLoss = *o.PreferStopLoss
		}
		if o.OrderLifecycle != "" {
			lifecycle = o.OrderLifecycle
		}
	}

	var err error
	if p.Lifecycle, err = backtest.ParseLifecycle(lifecycle); err != nil {
		return p, err
	}

	times := []struct {
		name  string
		value string
		dst   *backtest.TimeOfDay
	}{
		{"session_start", b.SessionStart, &p.SessionStart},
		{"session_end", b.SessionEnd, &p.SessionEnd},
		{"square_off_time", b.SquareOffTime, &p.SquareOffTime},
		{"entry_cutoff", b.EntryCutoff, &p.EntryCutoff},
	}
	for _, t := range times {
		if t.value == "" {
			continue
		}
		tod, err := backtest.ParseTimeOfDay(t.value)
		if err != nil {
			return p, fmt.Errorf("%w: %s: %v", backtest.ErrConfiguration, t.name, err)
		}
		*t.dst = tod
	}

	loc := c.Location()
	if p.StartDate, err = parseDate(b.StartDate, false, loc); err != nil {
		return p, fmt.Errorf("%w: start_date: %v", backtest.ErrConfiguration, err)
	}
	// 按原始写法比较，只有日期的结束时间扩展到当天结束之前
	if !p.StartDate.IsZero() {
		if rawEnd, err := parseDate(b.EndDate, false, loc); err == nil && rawEnd.Equal(p.StartDate) {
			return p, fmt.Errorf("%w: start_date 与 end_date 相同", backtest.ErrConfiguration)
		}
	}
	if p.EndDate, err = parseDate(b.EndDate, true, loc); err != nil {
		return p, fmt.Errorf("%w: end_date: %v", backtest.ErrConfiguration, err)
	}

	return p, p.Validate()
}

func setIfPresent[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Location 配置的交易所时区，无法加载时使用全局时区
func (c *Config) Location() *time.Location {
	if c.System.Timezone != "" {
		if loc, err := time.LoadLocation(c.System.Timezone); err == nil {
			return loc
		}
	}
	return utils.GlobalLocation
}

// parseDate 解析日期，只有日期的结束时间取当天最后一秒
func parseDate(s string, endOfDay bool, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		if endOfDay {
			return t.Add(24*time.Hour - time.Second), nil
		}
		return t, nil
	}
	return feed.ParseTime(s, loc)
}

// DatabaseOptions 转换为数据库工厂配置
func (c *Config) DatabaseOptions() *database.Config {
	return &database.Config{
		Type:            c.Database.Type,
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		LogLevel:        c.Database.LogLevel,
	}
}

// LockOptions 转换为分布式锁工厂配置
func (c *Config) LockOptions() *lock.Config {
	l := c.DistributedLock
	return &lock.Config{
		Enabled:    l.Enabled,
		Type:       l.Type,
		Prefix:     l.Prefix,
		DefaultTTL: l.TTL,
		Redis: lock.RedisConfig{
			Addr:     l.Redis.Addr,
			Password: l.Redis.Password,
			DB:       l.Redis.DB,
			PoolSize: l.Redis.PoolSize,
		},
	}
}

// AllParams 所有配置标的的回测参数
func (c *Config) AllParams(symbols []string) ([]backtest.Params, error) {
	if len(symbols) == 0 {
		symbols = c.Backtest.Symbols
	}
	out := make([]backtest.Params, 0, len(symbols))
	for _, s := range symbols {
		p, err := c.BacktestParams(s)
		if err != nil {
			return nil, fmt.Errorf("标的 %s: %w", s, err)
		}
		out = append(out, p)
	}
	return out, nil
}
