package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"bandshort/logger"
)

// ProcessStats 进程资源快照
type ProcessStats struct {
	Timestamp     time.Time `json:"timestamp"`
	ProcessID     int       `json:"process_id"`
	CPUPercent    float64   `json:"cpu_percent"`
	RSSBytes      uint64    `json:"rss_bytes"`
	MemoryMB      float64   `json:"memory_mb"`
	MemoryPercent float64   `json:"memory_percent"` // 占系统内存百分比
	Goroutines    int       `json:"goroutines"`
	HeapAlloc     uint64    `json:"heap_alloc_bytes"`
	NumGC         uint32    `json:"num_gc"`
}

// CollectProcessStats 采集当前进程资源
func CollectProcessStats() (*ProcessStats, error) {
	pid := os.Getpid()
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("获取进程失败: %w", err)
	}

	memInfo, err := p.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("获取内存信息失败: %w", err)
	}

	// CPU 获取失败不影响其他数据
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		cpuPercent = 0
	}

	var memoryPercent float64
	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		memoryPercent = float64(memInfo.RSS) / float64(vm.Total) * 100
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &ProcessStats{
		Timestamp:     time.Now(),
		ProcessID:     pid,
		CPUPercent:    cpuPercent,
		RSSBytes:      memInfo.RSS,
		MemoryMB:      float64(memInfo.RSS) / 1024 / 1024,
		MemoryPercent: memoryPercent,
		Goroutines:    runtime.NumGoroutine(),
		HeapAlloc:     m.Alloc,
		NumGC:         m.NumGC,
	}, nil
}

// SystemMetricsCollector 系统指标采集器
type SystemMetricsCollector struct {
	pm       *PrometheusMetrics
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewSystemMetricsCollector 创建系统指标采集器
func NewSystemMetricsCollector(interval time.Duration) *SystemMetricsCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SystemMetricsCollector{
		pm:       GetPrometheusMetrics(),
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 启动采集
func (smc *SystemMetricsCollector) Start() {
	go smc.collectLoop()
}

// Stop 停止采集
func (smc *SystemMetricsCollector) Stop() {
	if smc.cancel != nil {
		smc.cancel()
	}
}

// collectLoop 采集循环
func (smc *SystemMetricsCollector) collectLoop() {
	ticker := time.NewTicker(smc.interval)
	defer ticker.Stop()

	// 立即采集一次
	smc.collect()

	for {
		select {
		case <-smc.ctx.Done():
			return
		case <-ticker.C:
			smc.collect()
		}
	}
}

// collect 采集系统指标
func (smc *SystemMetricsCollector) collect() {
	stats, err := CollectProcessStats()
	if err != nil {
		logger.Warn("⚠️ 采集进程指标失败: %v", err)
		return
	}
	smc.pm.SetGoroutineCount(stats.Goroutines)
	smc.pm.SetMemoryAlloc(stats.HeapAlloc)
	smc.pm.SetProcessStats(stats.RSSBytes, stats.CPUPercent)
}
