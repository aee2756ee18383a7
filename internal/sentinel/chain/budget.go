package chain

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/metrics"
	"dex-pool-sentinel/internal/sentinel/types"
	"golang.org/x/time/rate"
	"sync"
	"time"
)

// Stage 计费统计使用的扫描阶段
type Stage string

const (
	StageHead       Stage = "head"
	StageLogs       Stage = "logs"
	StageHeuristics Stage = "heuristics"
	StageResolve    Stage = "resolve"
	StageMonitor    Stage = "monitor"
)

const (
	CUPerCall    = 25 // 普通 RPC
	CUPerEthCall = 26 // eth_call
	defaultLimit = 1_000_000
	defaultPause = 10 * time.Minute
	defaultRPS   = 10.0
	defaultBurst = 5
)

type BudgetConfig struct {
	DailyLimit int64
	Cooldown   time.Duration
	RPS        float64
	Burst      int
}

// BudgetUsage 计费快照
type BudgetUsage struct {
	Day           string          `json:"day"`
	Spent         int64           `json:"spent"`
	Limit         int64           `json:"limit"`
	Calls         map[Stage]int64 `json:"calls"`
	CooldownUntil time.Time       `json:"cooldown_until,omitempty"`
}

// CallBudget 单链每日调用预算，按 UTC 自然日重置
// 超额后进入较长冷却期，冷却期内 Allow 返回 false
type CallBudget struct {
	chain   types.ChainID
	cfg     BudgetConfig
	limiter *rate.Limiter
	now     func() time.Time

	mu            sync.Mutex
	day           time.Time
	spent         int64
	calls         map[Stage]int64
	cooldownUntil time.Time
}

func NewCallBudget(chain types.ChainID, cfg BudgetConfig, now func() time.Time) *CallBudget {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = defaultLimit
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultPause
	}
	if cfg.RPS <= 0 {
		cfg.RPS = defaultRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if now == nil {
		now = time.Now
	}
	return &CallBudget{
		chain:   chain,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		now:     now,
		day:     utils.StartOfUTCDay(now()),
		calls:   make(map[Stage]int64),
	}
}

// Allow 冷却期内返回 false
func (b *CallBudget) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked()
	return !b.now().Before(b.cooldownUntil)
}

// Wait 按每秒请求数限流，ctx 取消时返回错误
func (b *CallBudget) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Spend 记录 calls 次调用，每次 cu 个计算单元
// 超出每日额度时进入冷却并返回 ErrBudgetExhausted
func (b *CallBudget) Spend(stage Stage, calls int, cu int) error {
	if calls <= 0 {
		return nil
	}
	total := int64(calls * cu)

	b.mu.Lock()
	b.rolloverLocked()
	b.spent += total
	b.calls[stage] += int64(calls)
	exceeded := b.spent > b.cfg.DailyLimit
	if exceeded && !b.now().Before(b.cooldownUntil) {
		b.cooldownUntil = b.now().Add(b.cfg.Cooldown)
		logger.Warnf("[CallBudget:%s] daily budget exceeded: spent=%d limit=%d, cooling down until %s",
			b.chain, b.spent, b.cfg.DailyLimit, b.cooldownUntil.Format(time.RFC3339))
		metrics.BudgetExhausted.WithLabelValues(string(b.chain)).Inc()
	}
	b.mu.Unlock()

	metrics.RemoteCalls.WithLabelValues(string(b.chain), string(stage)).Add(float64(calls))
	metrics.ComputeUnits.WithLabelValues(string(b.chain)).Add(float64(total))

	if exceeded {
		return ErrBudgetExhausted
	}
	return nil
}

func (b *CallBudget) Usage() BudgetUsage {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked()

	calls := make(map[Stage]int64, len(b.calls))
	for k, v := range b.calls {
		calls[k] = v
	}
	return BudgetUsage{
		Day:           b.day.Format("2006-01-02"),
		Spent:         b.spent,
		Limit:         b.cfg.DailyLimit,
		Calls:         calls,
		CooldownUntil: b.cooldownUntil,
	}
}

// rolloverLocked 跨 UTC 自然日时清零；冷却期不受影响
func (b *CallBudget) rolloverLocked() {
	today := utils.StartOfUTCDay(b.now())
	if today.After(b.day) {
		b.day = today
		b.spent = 0
		clear(b.calls)
	}
}
