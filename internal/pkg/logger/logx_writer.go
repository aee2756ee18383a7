package logger

import (
	"fmt"
	"github.com/zeromicro/go-zero/core/logx"
)

// ZapWriter 把 go-zero logx 的输出转到 zap
type ZapWriter struct{}

var _ logx.Writer = ZapWriter{}

func (ZapWriter) Alert(v any) { current().Error(v) }

func (ZapWriter) Close() error { Sync(); return nil }

func (ZapWriter) Debug(v any, fields ...logx.LogField) {
	current().Debugw(toString(v), toKV(fields)...)
}

func (ZapWriter) Error(v any, fields ...logx.LogField) {
	current().Errorw(toString(v), toKV(fields)...)
}

func (ZapWriter) Info(v any, fields ...logx.LogField) { current().Infow(toString(v), toKV(fields)...) }

func (ZapWriter) Severe(v any) { current().Error(v) }

func (ZapWriter) Slow(v any, fields ...logx.LogField) { current().Warnw(toString(v), toKV(fields)...) }

func (ZapWriter) Stack(v any) { current().Error(v) }

func (ZapWriter) Stat(v any, fields ...logx.LogField) { current().Debugw(toString(v), toKV(fields)...) }

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toKV(fields []logx.LogField) []interface{} {
	if len(fields) == 0 {
		return nil
	}
	kv := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		kv = append(kv, f.Key, f.Value)
	}
	return kv
}
