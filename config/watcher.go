package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"bandshort/logger"
)

const (
	defaultDebounce = 200 * time.Millisecond
	defaultPoll     = time.Second
)

// ConfigWatcher 监听配置文件，变化后重新加载并交给 HotReloader
//
// 编辑器保存时常常先删除再创建文件，所以监听的是所在目录；
// 连续的写事件合并成一次加载，另有按修改时间的轮询兜底。
type ConfigWatcher struct {
	path     string
	reloader *HotReloader
	fs       *fsnotify.Watcher
	debounce time.Duration
	poll     time.Duration

	mu       sync.Mutex
	running  bool
	modTime  time.Time
	restarts chan *ConfigDiff
	errs     chan error
}

// NewConfigWatcher 创建配置监控器
func NewConfigWatcher(path string, reloader *HotReloader) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	cw := &ConfigWatcher{
		path:     abs,
		reloader: reloader,
		fs:       fs,
		debounce: defaultDebounce,
		poll:     defaultPoll,
		restarts: make(chan *ConfigDiff, 1),
		errs:     make(chan error, 10),
	}
	if info, err := os.Stat(abs); err == nil {
		cw.modTime = info.ModTime()
	}
	return cw, nil
}

// Start 开始监控，ctx 取消后退出
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.running {
		return fmt.Errorf("配置监控器已经在运行")
	}
	if err := cw.fs.Add(filepath.Dir(cw.path)); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}
	cw.running = true
	go cw.loop(ctx)
	return nil
}

// Stop 停止监控
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.running {
		return nil
	}
	cw.running = false
	return cw.fs.Close()
}

// Restarts 包含重启才能生效的变更时发送差异，未及时读取的旧通知会被丢弃
func (cw *ConfigWatcher) Restarts() <-chan *ConfigDiff {
	return cw.restarts
}

// Errors 加载或校验失败的错误，运行中的配置保持不变
func (cw *ConfigWatcher) Errors() <-chan error {
	return cw.errs
}

func (cw *ConfigWatcher) loop(ctx context.Context) {
	poll := time.NewTicker(cw.poll)
	defer poll.Stop()

	// 未触发前保持停止状态
	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-cw.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == cw.path && event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				settle.Reset(cw.debounce)
			}

		case err, ok := <-cw.fs.Errors:
			if !ok {
				return
			}
			cw.report(err)

		case <-settle.C:
			cw.reload(false)

		case <-poll.C:
			cw.reload(true)
		}
	}
}

// reload 文件比上次加载新时才重新加载；polled 为 true 时文件不存在不报错
func (cw *ConfigWatcher) reload(polled bool) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	info, err := os.Stat(cw.path)
	if err != nil {
		if !polled {
			cw.report(fmt.Errorf("获取配置文件信息失败: %w", err))
		}
		return
	}
	if !info.ModTime().After(cw.modTime) {
		return
	}
	cw.modTime = info.ModTime()

	next, err := LoadConfig(cw.path)
	if err != nil {
		cw.report(fmt.Errorf("重新加载配置失败，继续使用当前配置: %w", err))
		return
	}
	diff, err := cw.reloader.UpdateConfig(next)
	if err != nil {
		cw.report(err)
		return
	}
	if len(diff.Changes) == 0 {
		return
	}

	if symbols, all := diff.Instruments(); all {
		logger.Info("🔄 回测参数已更新，对所有标的生效")
	} else if len(symbols) > 0 {
		logger.Info("🔄 标的参数已更新: %v", symbols)
	}
	if diff.Has(ScopeReplay) {
		logger.Info("🔄 数据源或并发配置已变更，后续回测使用新配置")
	}

	if diff.RequiresRestart {
		select {
		case cw.restarts <- diff:
		default:
		}
	}
}

func (cw *ConfigWatcher) report(err error) {
	logger.Warn("⚠️ %v", err)
	select {
	case cw.errs <- err:
	default:
	}
}
