package config

import (
	"fmt"
	"sync"

	"bandshort/logger"
)

// HotReloader 持有当前生效的配置
type HotReloader struct {
	mu              sync.RWMutex
	currentConfig   *Config
	updateCallbacks []ConfigUpdateCallback
}

// ConfigUpdateCallback 配置更新回调
type ConfigUpdateCallback func(oldConfig, newConfig *Config, diff *ConfigDiff) error

// NewHotReloader 创建热更新器
func NewHotReloader(initialConfig *Config) *HotReloader {
	return &HotReloader{currentConfig: initialConfig}
}

// Current 当前配置
func (hr *HotReloader) Current() *Config {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return hr.currentConfig
}

// RegisterCallback 注册配置更新回调，回调在更新锁内执行，不能再调用 Current
func (hr *HotReloader) RegisterCallback(callback ConfigUpdateCallback) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.updateCallbacks = append(hr.updateCallbacks, callback)
}

// UpdateConfig 切换到新配置，需要重启的段保留旧值
func (hr *HotReloader) UpdateConfig(newConfig *Config) (*ConfigDiff, error) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	diff := DiffConfig(hr.currentConfig, newConfig)
	if len(diff.Changes) == 0 {
		return diff, nil
	}

	next := *newConfig
	if diff.RequiresRestart {
		keepRestartSections(hr.currentConfig, &next)
		for _, c := range diff.Changes {
			if c.RequiresRestart {
				logger.Warn("⚠️ 配置 %s 已修改，重启后生效", c.Path)
			}
		}
	}

	for _, cb := range hr.updateCallbacks {
		if err := cb(hr.currentConfig, &next, diff); err != nil {
			return nil, fmt.Errorf("应用配置更新失败: %w", err)
		}
	}

	hr.currentConfig = &next
	logger.Info("🔄 配置已更新: %v", diff.Paths())
	return diff, nil
}

// keepRestartSections 把 ScopeRestart 覆盖的字段恢复为运行中的值
func keepRestartSections(old, next *Config) {
	next.Database = old.Database
	next.DistributedLock = old.DistributedLock
	next.Metrics = old.Metrics
	next.System.Timezone = old.System.Timezone
	next.Data.CacheEnabled = old.Data.CacheEnabled
	next.Data.CacheDir = old.Data.CacheDir

	rate, burst := next.Web.RateLimit, next.Web.Burst
	next.Web = old.Web
	next.Web.RateLimit, next.Web.Burst = rate, burst
}
