package alert

import (
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/sentinel/types"
	"fmt"
	"sort"
	"sync"
	"time"
)

// KillReason 取消原因，按检查顺序排列
type KillReason string

const (
	KillLiquidityDrop       KillReason = "LIQUIDITY_DROP"
	KillLPRemoval           KillReason = "LP_REMOVAL"
	KillDevTransfer         KillReason = "DEV_TRANSFER"
	KillMEVDetected         KillReason = "MEV_DETECTED"
	KillFakePump            KillReason = "FAKE_PUMP"
	KillMomentumInvalidated KillReason = "MOMENTUM_INVALIDATED"
	KillScoreDrop           KillReason = "SCORE_DROP"
	KillDevEscalation       KillReason = "DEV_FLAG_ESCALATION"
)

const (
	DefaultLiquidityDropRatio = 0.20
	DefaultScoreDrop          = 15
	DefaultKillSwitchMaxAge   = 30 * time.Minute
)

// Baseline 告警时刻的基准
type Baseline struct {
	Chain             types.ChainID `json:"chain"`
	Token             string        `json:"token"`
	Pool              string        `json:"pool"`
	Symbol            string        `json:"symbol"`
	LiquidityUSD      float64       `json:"liquidity_usd"`
	Score             int           `json:"score"`
	MomentumConfirmed bool          `json:"momentum_confirmed"`
	Flags             RiskFlags     `json:"flags"`
	RegisteredAt      time.Time     `json:"registered_at"`
}

// Observation 最新观测
type Observation struct {
	LiquidityUSD      float64
	Score             int
	MomentumConfirmed bool
	Flags             RiskFlags
}

// KillResult 所有命中的原因都保留，第一个为主因
type KillResult struct {
	Kill    bool         `json:"kill"`
	Primary KillReason   `json:"primary"`
	Reasons []KillReason `json:"reasons"`
	Details []string     `json:"details"`
}

// KillSwitch 告警后持续监控，恶化时立即取消；只作用于注册它的层级
type KillSwitch struct {
	tier      Tier
	dropRatio float64
	scoreDrop int
	maxAge    time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	targets map[string]Baseline
}

func NewKillSwitch(tier Tier, maxAge time.Duration, now func() time.Time) *KillSwitch {
	if maxAge <= 0 {
		maxAge = DefaultKillSwitchMaxAge
	}
	if now == nil {
		now = time.Now
	}
	return &KillSwitch{
		tier:      tier,
		dropRatio: DefaultLiquidityDropRatio,
		scoreDrop: DefaultScoreDrop,
		maxAge:    maxAge,
		now:       now,
		targets:   make(map[string]Baseline),
	}
}

// Register 重复注册覆盖旧基准
func (k *KillSwitch) Register(key string, b Baseline) {
	if b.RegisteredAt.IsZero() {
		b.RegisteredAt = k.now()
	}
	k.mu.Lock()
	k.targets[key] = b
	k.mu.Unlock()
}

func (k *KillSwitch) Unregister(key string) {
	k.mu.Lock()
	delete(k.targets, key)
	k.mu.Unlock()
}

func (k *KillSwitch) Get(key string) (Baseline, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	b, ok := k.targets[key]
	return b, ok
}

// Targets 当前监控中的 key，已排序
func (k *KillSwitch) Targets() []string {
	k.mu.RLock()
	out := make([]string, 0, len(k.targets))
	for key := range k.targets {
		out = append(out, key)
	}
	k.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (k *KillSwitch) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.targets)
}

// Check 与基准比较；未注册的代币返回零值
func (k *KillSwitch) Check(key string, obs Observation) KillResult {
	b, ok := k.Get(key)
	if !ok {
		return KillResult{}
	}
	return k.compare(b, obs)
}

func (k *KillSwitch) compare(b Baseline, obs Observation) KillResult {
	var r KillResult
	hit := func(reason KillReason, detail string) {
		r.Reasons = append(r.Reasons, reason)
		r.Details = append(r.Details, detail)
	}

	if b.LiquidityUSD > 0 {
		drop := (b.LiquidityUSD - obs.LiquidityUSD) / b.LiquidityUSD
		if drop >= k.dropRatio {
			hit(KillLiquidityDrop, fmt.Sprintf("liquidity dropped %.1f%% ($%.0f -> $%.0f)",
				drop*100, b.LiquidityUSD, obs.LiquidityUSD))
		}
	}
	if obs.Flags.LPRemoved {
		hit(KillLPRemoval, "LP removal detected")
	}
	if obs.Flags.DevTransfer {
		hit(KillDevTransfer, "dev wallet transfer detected")
	}
	if obs.Flags.MEV && !b.Flags.MEV {
		hit(KillMEVDetected, "new MEV pattern detected")
	}
	if obs.Flags.FakePump && !b.Flags.FakePump {
		hit(KillFakePump, "fake pump detected after alert")
	}
	if b.MomentumConfirmed && !obs.MomentumConfirmed {
		hit(KillMomentumInvalidated, "momentum no longer confirmed")
	}
	if b.Score > 0 && obs.Score > 0 && b.Score-obs.Score >= k.scoreDrop {
		hit(KillScoreDrop, fmt.Sprintf("score dropped %d -> %d", b.Score, obs.Score))
	}
	if obs.Flags.Dev.Severity() > b.Flags.Dev.Severity() {
		hit(KillDevEscalation, fmt.Sprintf("dev flag escalated %s -> %s", devName(b.Flags.Dev), obs.Flags.Dev))
	}

	if len(r.Reasons) > 0 {
		r.Kill = true
		r.Primary = r.Reasons[0]
	}
	return r
}

func devName(f types.DevFlag) types.DevFlag {
	if f == "" {
		return types.DevUnknown
	}
	return f
}

// ClearExpired 移除超过 maxAge 的监控目标
func (k *KillSwitch) ClearExpired() int {
	cutoff := k.now().Add(-k.maxAge)

	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for key, b := range k.targets {
		if b.RegisteredAt.Before(cutoff) {
			delete(k.targets, key)
			n++
		}
	}
	if n > 0 {
		logger.Infof("[KillSwitch:%s] expired %d targets older than %s", k.tier, n, k.maxAge)
	}
	return n
}
