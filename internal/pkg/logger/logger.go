package logger

import (
	"fmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	defaultLogFile    = "pool-sentinel.log"
	defaultMaxSizeMB  = 256
	defaultMaxBackups = 20
	defaultMaxAgeDays = 7
)

// LogOption 日志初始化参数
type LogOption struct {
	Format   string // console / json
	LogDir   string // 为空时只输出到 stdout
	Level    string // debug / info / warn / error
	Compress bool   // 是否压缩滚动后的旧文件
}

var (
	mu      sync.RWMutex
	base    *zap.Logger
	sugared *zap.SugaredLogger
)

func init() {
	// InitLogger 之前使用开发配置，保证启动阶段的日志不丢
	l, _ := zap.NewDevelopment(zap.AddCaller(), zap.AddCallerSkip(1))
	base = l
	sugared = l.Sugar()
}

// InitLogger 根据配置初始化全局 logger，可重复调用
func InitLogger(opt LogOption) {
	level := parseLevel(opt.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(opt.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	}

	if opt.LogDir != "" {
		if err := os.MkdirAll(opt.LogDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "create log dir %s failed: %v\n", opt.LogDir, err)
		} else {
			rotator := &lumberjack.Logger{
				Filename:   filepath.Join(opt.LogDir, defaultLogFile),
				MaxSize:    defaultMaxSizeMB,
				MaxBackups: defaultMaxBackups,
				MaxAge:     defaultMaxAgeDays,
				Compress:   opt.Compress,
				LocalTime:  true,
			}
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
		}
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))

	mu.Lock()
	old := base
	base = l
	sugared = l.Sugar()
	mu.Unlock()

	if old != nil {
		_ = old.Sync()
	}
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

func Sync() {
	mu.RLock()
	l := base
	mu.RUnlock()
	_ = l.Sync()
}

func Debugf(format string, args ...interface{}) { current().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { current().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { current().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { current().Errorf(format, args...) }

func Debug(args ...interface{}) { current().Debug(args...) }
func Info(args ...interface{})  { current().Info(args...) }
func Warn(args ...interface{})  { current().Warn(args...) }
func Error(args ...interface{}) { current().Error(args...) }
