package orchestrator

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/sentinel/metrics"
	"dex-pool-sentinel/internal/sentinel/types"
	"runtime/debug"
	"sync"
	"time"
)

const (
	DefaultMonitorInterval = 30 * time.Second
	DefaultStallGrace      = 30 * time.Second
	StalledKind            = "CHAIN_STALLED"
)

// StallNotice 链停滞通知
type StallNotice struct {
	Kind     string        `json:"kind"`
	Chain    types.ChainID `json:"chain"`
	LastScan time.Time     `json:"last_scan"`
	Overdue  time.Duration `json:"overdue"`
	At       time.Time     `json:"at"`
}

// StallNotifier 停滞与恢复的接收方，回调失败不影响扫描任务
type StallNotifier interface {
	OnChainStalled(n StallNotice)
	OnChainRecovered(chain types.ChainID)
}

type heartbeat struct {
	last     time.Time
	interval time.Duration
}

type heartbeatSource interface {
	heartbeats() map[types.ChainID]heartbeat
	// paused 非 leader 不扫描，心跳不前进属正常
	paused() bool
}

// HealthMonitor 周期检查各链心跳，超过 scan_interval + grace 视为停滞
// 停滞只上报，不会停止该链任务
type HealthMonitor struct {
	src       heartbeatSource
	interval  time.Duration
	grace     time.Duration
	now       func() time.Time
	notifiers []StallNotifier

	mu      sync.Mutex
	stalled map[types.ChainID]time.Time
}

func NewHealthMonitor(src heartbeatSource, interval, grace time.Duration, now func() time.Time, notifiers ...StallNotifier) *HealthMonitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	if grace <= 0 {
		grace = DefaultStallGrace
	}
	if now == nil {
		now = time.Now
	}
	return &HealthMonitor{
		src:       src,
		interval:  interval,
		grace:     grace,
		now:       now,
		notifiers: notifiers,
		stalled:   make(map[types.ChainID]time.Time),
	}
}

func (m *HealthMonitor) AddNotifier(n StallNotifier) {
	m.mu.Lock()
	m.notifiers = append(m.notifiers, n)
	m.mu.Unlock()
}

func (m *HealthMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check 一次检查，返回当前停滞的链；暂停期间不判定
func (m *HealthMonitor) Check() []types.ChainID {
	if m.src.paused() {
		return nil
	}
	now := m.now()
	var (
		stalled   []StallNotice
		recovered []types.ChainID
		current   []types.ChainID
	)

	m.mu.Lock()
	for id, hb := range m.src.heartbeats() {
		overdue := now.Sub(hb.last) - (hb.interval + m.grace)
		_, was := m.stalled[id]
		if overdue > 0 {
			current = append(current, id)
			if !was {
				m.stalled[id] = now
				stalled = append(stalled, StallNotice{
					Kind: StalledKind, Chain: id, LastScan: hb.last, Overdue: overdue, At: now,
				})
			}
		} else if was {
			delete(m.stalled, id)
			recovered = append(recovered, id)
		}
	}
	notifiers := append([]StallNotifier(nil), m.notifiers...)
	m.mu.Unlock()

	for _, n := range stalled {
		logger.Warnf("[HealthMonitor] %s: %s, last scan %s, overdue %v",
			StalledKind, n.Chain, n.LastScan.Format(time.RFC3339), n.Overdue.Truncate(time.Second))
		metrics.Stalls.WithLabelValues(string(n.Chain)).Inc()
		for _, nt := range notifiers {
			safeNotify(func() { nt.OnChainStalled(n) })
		}
	}
	for _, id := range recovered {
		logger.Infof("[HealthMonitor] chain %s recovered", id)
		for _, nt := range notifiers {
			safeNotify(func() { nt.OnChainRecovered(id) })
		}
	}
	return current
}

func (m *HealthMonitor) IsStalled(id types.ChainID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.stalled[id]
	return ok
}

func safeNotify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[HealthMonitor] notifier panicked: %v\n%s", r, string(debug.Stack()))
		}
	}()
	fn()
}
