package utils

import (
	"time"
)

// DefaultTimezone NSE 行情所在时区
const DefaultTimezone = "Asia/Kolkata"

var (
	// GlobalLocation 全局配置的时区
	GlobalLocation *time.Location
)

func init() {
	SetLocation(DefaultTimezone)
}

// SetLocation 设置全局时区
func SetLocation(name string) error {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		// 系统缺少 tzdata 时退回固定偏移
		if name == DefaultTimezone || name == "IST" || name == "UTC+5:30" {
			GlobalLocation = time.FixedZone("IST", 5*60*60+30*60)
			return nil
		}
		if GlobalLocation == nil {
			GlobalLocation = time.Local
		}
		return err
	}
	GlobalLocation = loc
	return nil
}

// ToConfiguredTimezone 将时间转换为配置的时区
func ToConfiguredTimezone(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(GlobalLocation)
}

// NowConfiguredTimezone 获取当前配置时区的时间
func NowConfiguredTimezone() time.Time {
	return time.Now().In(GlobalLocation)
}
