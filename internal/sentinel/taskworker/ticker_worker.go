package taskworker

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/utils"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// TickFunc 每个周期执行一次；返回错误只记录日志
type TickFunc func(ctx context.Context) error

// TickerWorker 按固定周期执行任务，支持暂停（follower 不执行）
// 单次执行超过周期时，积压的 tick 会被丢弃而不是连续补跑
type TickerWorker struct {
	name     string
	interval time.Duration
	task     TickFunc

	ctx    context.Context
	cancel context.CancelFunc

	isPaused       atomic.Bool
	runs           atomic.Int64
	lastErrLogTime atomic.Int64
}

func NewTickerWorker(name string, interval time.Duration, task TickFunc) *TickerWorker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &TickerWorker{
		name:     name,
		interval: interval,
		task:     task,
		ctx:      ctx,
		cancel:   cancel,
	}
	w.isPaused.Store(true)
	return w
}

func (w *TickerWorker) Start() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			drainTicker(ticker)
			if w.isPaused.Load() {
				continue
			}
			w.runOnce()
		}
	}
}

func (w *TickerWorker) Stop() {
	w.isPaused.Store(true)
	w.cancel()
}

func (w *TickerWorker) Resume() {
	w.isPaused.Store(false)
}

func (w *TickerWorker) Pause() {
	w.isPaused.Store(true)
}

// Runs 已完成的执行次数
func (w *TickerWorker) Runs() int64 {
	return w.runs.Load()
}

func drainTicker(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
		default:
			return
		}
	}
}

func (w *TickerWorker) runOnce() {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[TickerWorker:%s] task panicked: %v\n%s", w.name, r, string(debug.Stack()))
		}
		w.runs.Add(1)
	}()

	if err := w.task(w.ctx); err != nil {
		if utils.ThrottleLog(&w.lastErrLogTime, 3*time.Second) {
			logger.Errorf("[TickerWorker:%s] task failed: %v, duration=%v", w.name, err, time.Since(start))
		}
		return
	}
	logger.Debugf("[TickerWorker:%s] task done, duration=%v", w.name, time.Since(start))
}
