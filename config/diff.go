package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ChangeType 变更类型
type ChangeType string

const (
	ChangeTypeAdded    ChangeType = "added"
	ChangeTypeModified ChangeType = "modified"
	ChangeTypeDeleted  ChangeType = "deleted"
)

// ReloadScope 变更在运行中的服务里生效的方式
type ReloadScope string

const (
	ScopeParams  ReloadScope = "params"  // 回测参数，下一次提交即生效
	ScopeReplay  ReloadScope = "replay"  // 数据源与并发回测器，需要重建
	ScopeLimiter ReloadScope = "limiter" // 提交限流
	ScopeLogging ReloadScope = "logging"
	ScopeRestart ReloadScope = "restart" // 只能重启后生效
)

// scopeRules 按前缀匹配，越具体的放在越前面；未命中的路径视为回测参数
var scopeRules = []struct {
	prefix string
	scope  ReloadScope
}{
	{"data.cache_enabled", ScopeRestart},
	{"data.cache_dir", ScopeRestart},
	{"data", ScopeReplay},
	{"runner", ScopeReplay},
	{"web.rate_limit", ScopeLimiter},
	{"web.burst", ScopeLimiter},
	{"web", ScopeRestart},
	{"database", ScopeRestart},
	{"distributed_lock", ScopeRestart},
	{"metrics", ScopeRestart},
	{"system.timezone", ScopeRestart},
	{"system.log_level", ScopeLogging},
}

// ScopeOf 配置路径的生效方式，如 "data.bands.window" 为 ScopeReplay
func ScopeOf(path string) ReloadScope {
	for _, r := range scopeRules {
		if path == r.prefix || strings.HasPrefix(path, r.prefix+".") {
			return r.scope
		}
	}
	return ScopeParams
}

// ConfigChange 配置变更
type ConfigChange struct {
	Path            string      `json:"path"` // 如 "backtest.overrides.SBIN.quantity"
	Type            ChangeType  `json:"type"`
	OldValue        interface{} `json:"old_value"`
	NewValue        interface{} `json:"new_value"`
	Scope           ReloadScope `json:"scope"`
	RequiresRestart bool        `json:"requires_restart"`
}

// ConfigDiff 配置差异
type ConfigDiff struct {
	Changes         []ConfigChange `json:"changes"`
	RequiresRestart bool           `json:"requires_restart"`
}

// Paths 变更路径列表
func (d *ConfigDiff) Paths() []string {
	paths := make([]string, 0, len(d.Changes))
	for _, c := range d.Changes {
		paths = append(paths, c.Path)
	}
	return paths
}

// Has 是否包含指定生效方式的变更
func (d *ConfigDiff) Has(scope ReloadScope) bool {
	for _, c := range d.Changes {
		if c.Scope == scope {
			return true
		}
	}
	return false
}

// Instruments 单独覆盖项发生变化的标的，全局回测参数变化时返回 nil 和 true
func (d *ConfigDiff) Instruments() (symbols []string, all bool) {
	seen := make(map[string]bool)
	for _, c := range d.Changes {
		if c.Scope != ScopeParams {
			continue
		}
		rest, ok := strings.CutPrefix(c.Path, "backtest.overrides.")
		if !ok {
			return nil, true
		}
		sym, _, _ := strings.Cut(rest, ".")
		if !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)
	return symbols, false
}

// DiffConfig 按 yaml 路径逐项对比两份配置
func DiffConfig(oldConfig, newConfig *Config) *ConfigDiff {
	d := &ConfigDiff{Changes: []ConfigChange{}}
	d.walk("", reflect.ValueOf(oldConfig), reflect.ValueOf(newConfig))
	return d
}

// deref 解开指针，nil 指针和缺失的 map 项都返回无效值
func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func (d *ConfigDiff) walk(path string, a, b reflect.Value) {
	a, b = deref(a), deref(b)
	switch {
	case !a.IsValid() && !b.IsValid():
		return
	case !a.IsValid():
		d.add(path, ChangeTypeAdded, nil, b.Interface())
		return
	case !b.IsValid():
		d.add(path, ChangeTypeDeleted, a.Interface(), nil)
		return
	}

	switch a.Kind() {
	case reflect.Struct:
		t := a.Type()
		for i := 0; i < t.NumField(); i++ {
			if name := fieldName(t.Field(i)); name != "" {
				d.walk(joinPath(path, name), a.Field(i), b.Field(i))
			}
		}
	case reflect.Map:
		for _, key := range unionKeys(a, b) {
			d.walk(joinPath(path, key.String()), a.MapIndex(key), b.MapIndex(key))
		}
	default:
		// 切片整体比较，标的列表顺序变化也算修改
		if !reflect.DeepEqual(a.Interface(), b.Interface()) {
			d.add(path, ChangeTypeModified, a.Interface(), b.Interface())
		}
	}
}

func fieldName(f reflect.StructField) string {
	if !f.IsExported() {
		return ""
	}
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return strings.ToLower(f.Name)
	}
	return name
}

// unionKeys 两个 map 的全部键，按名称排序；配置里的 map 都以标的名为键
func unionKeys(a, b reflect.Value) []reflect.Value {
	seen := make(map[string]reflect.Value)
	for _, m := range []reflect.Value{a, b} {
		for _, k := range m.MapKeys() {
			seen[fmt.Sprint(k.Interface())] = k
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	keys := make([]reflect.Value, 0, len(names))
	for _, n := range names {
		keys = append(keys, seen[n])
	}
	return keys
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

func (d *ConfigDiff) add(path string, changeType ChangeType, oldValue, newValue interface{}) {
	scope := ScopeOf(path)
	d.Changes = append(d.Changes, ConfigChange{
		Path:            path,
		Type:            changeType,
		OldValue:        oldValue,
		NewValue:        newValue,
		Scope:           scope,
		RequiresRestart: scope == ScopeRestart,
	})
	if scope == ScopeRestart {
		d.RequiresRestart = true
	}
}
