package raft

import (
	"dex-pool-sentinel/internal/pkg/logger"
	"fmt"
	ldlogger "github.com/lni/dragonboat/v3/logger"
	"strings"
	"sync/atomic"
)

// dragonboatLogger 把 dragonboat 的内部日志转到 zap，按包单独控制级别
type dragonboatLogger struct {
	pkg   string
	level atomic.Int32
}

func newDragonboatLogger(pkg string, level ldlogger.LogLevel) *dragonboatLogger {
	l := &dragonboatLogger{pkg: pkg}
	l.level.Store(int32(level))
	return l
}

func parseDragonboatLevel(s string) ldlogger.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return ldlogger.DEBUG
	case "info":
		return ldlogger.INFO
	case "error":
		return ldlogger.ERROR
	case "critical":
		return ldlogger.CRITICAL
	default:
		return ldlogger.WARNING
	}
}

func (l *dragonboatLogger) enabled(level ldlogger.LogLevel) bool {
	// dragonboat 级别数值越大越详细
	return level <= ldlogger.LogLevel(l.level.Load())
}

func (l *dragonboatLogger) SetLevel(level ldlogger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *dragonboatLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(ldlogger.DEBUG) {
		logger.Debugf("[dragonboat:%s] %s", l.pkg, fmt.Sprintf(format, args...))
	}
}

func (l *dragonboatLogger) Infof(format string, args ...interface{}) {
	if l.enabled(ldlogger.INFO) {
		logger.Infof("[dragonboat:%s] %s", l.pkg, fmt.Sprintf(format, args...))
	}
}

func (l *dragonboatLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(ldlogger.WARNING) {
		logger.Warnf("[dragonboat:%s] %s", l.pkg, fmt.Sprintf(format, args...))
	}
}

func (l *dragonboatLogger) Errorf(format string, args ...interface{}) {
	logger.Errorf("[dragonboat:%s] %s", l.pkg, fmt.Sprintf(format, args...))
}

// Panicf dragonboat 依赖 panic 中断不可恢复的错误
func (l *dragonboatLogger) Panicf(format string, args ...interface{}) {
	panic(fmt.Sprintf("[dragonboat:%s] %s", l.pkg, fmt.Sprintf(format, args...)))
}
