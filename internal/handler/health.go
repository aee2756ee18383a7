package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ReadyChecker 由 sentinel.App 实现
type ReadyChecker interface {
	IsReady() bool
}

// readyGrace 启动超过该时间后健康检查总是返回 UP，避免 raft 追日志期间被编排系统反复重启
const readyGrace = 30 * time.Second

func HealthCheck(app ReadyChecker) http.HandlerFunc {
	return healthCheck(app, time.Now)
}

func healthCheck(app ReadyChecker, now func() time.Time) http.HandlerFunc {
	startTime := now()
	return func(w http.ResponseWriter, r *http.Request) {
		// 使用 defer 和 recover 捕获 panic 错误
		defer func() {
			if r := recover(); r != nil {
				http.Error(w, fmt.Sprintf("Internal server error: %v", r), http.StatusInternalServerError)
			}
		}()

		if app.IsReady() || now().Sub(startTime) > readyGrace {
			details := "Application is running normally"
			if !app.IsReady() {
				details = "Application is running normally (timeout exceeded)"
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status":    "UP",
				"checkTime": formatLocalDateTime(now()),
				"details":   details,
			})
			return
		}

		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "DOWN",
			"details": "Application is not ready",
		})
	}
}

// Readiness 严格就绪检查，没有启动宽限期
func Readiness(app ReadyChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !app.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "DOWN"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "UP"})
	}
}

// 格式化本地时间为 "yyyy-MM-ddTHH:mm:ss.SSSSSSS" 格式
func formatLocalDateTime(t time.Time) string {
	return t.In(time.Local).Format("2006-01-02T15:04:05.9999999")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
