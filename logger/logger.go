package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel 日志级别
type LogLevel int

const (
	DEBUG LogLevel = iota // 调试信息（最详细）
	INFO                  // 一般信息（正常运行信息）
	WARN                  // 警告信息（需要注意但不影响运行）
	ERROR                 // 错误信息（需要关注的问题）
	FATAL                 // 致命错误（程序无法继续）
)

var (
	globalLevel LogLevel = INFO
	atomicLevel          = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	mu          sync.RWMutex

	sugar *zap.SugaredLogger

	// 文件日志（仅 DEBUG 级别启用）
	logFile     *os.File
	currentDate string
	fileMu      sync.Mutex
	logDir      = "logs"

	globalLocation *time.Location = time.Local
	locationMu     sync.RWMutex
)

func init() {
	sugar = newLogger(nil)
}

// String 返回日志级别的字符串表示
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLogLevel 解析日志级别字符串
func ParseLogLevel(level string) LogLevel {
	level = strings.ToUpper(strings.TrimSpace(level))
	switch level {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO // 默认INFO级别
	}
}

// SetLevel 设置全局日志级别，DEBUG 级别额外写入 logs/ 下的按日文件
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	globalLevel = level
	atomicLevel.SetLevel(level.zapLevel())

	if level == DEBUG {
		initFileLogger()
	} else {
		closeFileLogger()
	}
}

// GetLevel 获取全局日志级别
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return globalLevel
}

// SetLocation 设置日志时间所用时区
func SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	locationMu.Lock()
	globalLocation = loc
	locationMu.Unlock()

	fileMu.Lock()
	defer fileMu.Unlock()
	sugar = newLogger(logFile)
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	locationMu.RLock()
	loc := globalLocation
	locationMu.RUnlock()
	enc.AppendString(t.In(loc).Format("2006/01/02 15:04:05"))
}

// newLogger 构建控制台 core，传入文件时追加文件 core
func newLogger(file *os.File) *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = timeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeCaller = nil
	encCfg.CallerKey = ""

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), atomicLevel),
	}
	if file != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(file), atomicLevel))
	}
	return zap.New(zapcore.NewTee(cores...)).Sugar()
}

// initFileLogger 初始化文件日志（当日志级别为DEBUG时）
func initFileLogger() {
	fileMu.Lock()
	defer fileMu.Unlock()
	rotateLocked()
}

// rotateLocked 按日期打开日志文件，调用前必须持有 fileMu
func rotateLocked() {
	locationMu.RLock()
	loc := globalLocation
	locationMu.RUnlock()

	today := time.Now().In(loc).Format("2006-01-02")
	if logFile != nil && currentDate == today {
		return
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		sugar.Warnf("创建日志文件夹失败: %v，将只输出到控制台", err)
		return
	}

	logFileName := filepath.Join(logDir, fmt.Sprintf("app-bandshort-%s.log", today))
	file, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		sugar.Warnf("打开日志文件失败: %v，将只输出到控制台", err)
		return
	}

	logFile = file
	currentDate = today
	sugar = newLogger(file)
	sugar.Infof("文件日志已启用，日志文件: %s", logFileName)
}

// closeFileLogger 关闭文件日志
func closeFileLogger() {
	fileMu.Lock()
	defer fileMu.Unlock()

	if logFile != nil {
		_ = sugar.Sync()
		logFile.Close()
		logFile = nil
		currentDate = ""
		sugar = newLogger(nil)
	}
}

// Close 关闭文件日志（程序退出时调用）
func Close() {
	closeFileLogger()
}

func current() *zap.SugaredLogger {
	fileMu.Lock()
	defer fileMu.Unlock()
	if logFile != nil {
		rotateLocked()
	}
	return sugar
}

// Debug 输出调试日志
func Debug(format string, args ...interface{}) {
	current().Debugf(format, args...)
}

// Info 输出一般信息日志
func Info(format string, args ...interface{}) {
	current().Infof(format, args...)
}

// Warn 输出警告日志
func Warn(format string, args ...interface{}) {
	current().Warnf(format, args...)
}

// Error 输出错误日志
func Error(format string, args ...interface{}) {
	current().Errorf(format, args...)
}

// Fatal 输出致命错误日志并退出程序
func Fatal(format string, args ...interface{}) {
	current().Fatalf(format, args...)
}

// Infow 输出带结构化字段的信息日志
func Infow(msg string, keysAndValues ...interface{}) {
	current().Infow(msg, keysAndValues...)
}

// Debugw 输出带结构化字段的调试日志
func Debugw(msg string, keysAndValues ...interface{}) {
	current().Debugw(msg, keysAndValues...)
}
