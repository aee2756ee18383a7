package alert

import (
	"context"
	"dex-pool-sentinel/internal/sentinel/momentum"
	"dex-pool-sentinel/internal/sentinel/types"
	"errors"
	"time"
)

var (
	ErrTierDisabled = errors.New("alert tier disabled")
	ErrUnknownTier  = errors.New("unknown alert tier")
)

// Tier 告警层级，每个层级独立的阈值与冷却存储
type Tier string

const (
	TierSniper  Tier = "sniper"
	TierTrade   Tier = "trade"
	TierRunning Tier = "running"
)

var allTiers = []Tier{TierSniper, TierTrade, TierRunning}

func AllTiers() []Tier {
	out := make([]Tier, len(allTiers))
	copy(out, allTiers)
	return out
}

func ParseTier(s string) (Tier, error) {
	for _, t := range allTiers {
		if string(t) == s {
			return t, nil
		}
	}
	return "", ErrUnknownTier
}

// Level 告警等级
type Level string

const (
	LevelIgnore     Level = "IGNORE"
	LevelInfo       Level = "INFO"
	LevelWatch      Level = "WATCH"
	LevelPotential  Level = "POTENTIAL"
	LevelTrade      Level = "TRADE"
	LevelTradeEarly Level = "TRADE-EARLY"
	LevelSniper     Level = "SNIPER"
)

// Kind 推送消息类型
type Kind string

const (
	KindAlert     Kind = "ALERT"
	KindCancelled Kind = "CANCELLED"
	KindUpgrade   Kind = "UPGRADE"
)

// Stage (token, tier) 的生命周期状态
// DISCOVERED -> TRIGGERED -> SCORED | COOLDOWN -> ESCALATED | CANCELLED | EXPIRED
type Stage string

const (
	StageDiscovered Stage = "DISCOVERED" // 已跟踪，触发条件未满足或在等动量
	StageTriggered  Stage = "TRIGGERED"  // 触发条件通过，正在评分
	StageScored     Stage = "SCORED"     // 已评分但该层级不告警（降级或低于阈值）
	StageCooldown   Stage = "COOLDOWN"   // 已告警，处于冷却
	StageEscalated  Stage = "ESCALATED"  // 自动升级到 sniper
	StageCancelled  Stage = "CANCELLED"  // kill-switch 撤销
	StageExpired    Stage = "EXPIRED"    // 超过跟踪期
)

// terminal 不会再被过期覆盖的状态
func (s Stage) terminal() bool {
	return s == StageCancelled || s == StageEscalated || s == StageExpired
}

// RiskFlags 外部风险事件累积的标记
type RiskFlags struct {
	FakePump    bool          `json:"fake_pump"`
	MEV         bool          `json:"mev"`
	LPRemoved   bool          `json:"lp_removed"`
	DevTransfer bool          `json:"dev_transfer"`
	Dev         types.DevFlag `json:"dev"`
	SmartMoney  bool          `json:"smart_money"`
}

// Enrichment 一次评分所需的全部输入
type Enrichment struct {
	Chain             types.ChainID
	Token             string
	Pool              string
	Name              string
	Symbol            string
	Age               time.Duration
	LiquidityUSD      float64
	PriceUSD          float64
	MarketCapUSD      float64
	VolumeUSD         float64
	AvgVolumeUSD      float64
	ChainMinLiquidity float64
	Security          *types.SecurityReport
	Momentum          momentum.Result
	Flags             RiskFlags
}

func (e *Enrichment) security() *types.SecurityReport {
	if e.Security == nil {
		return types.UnknownSecurity()
	}
	return e.Security
}

// Payload 推送给告警通道的完整消息
type Payload struct {
	Kind      Kind           `json:"kind"`
	Tier      Tier           `json:"tier"`
	Chain     types.ChainID  `json:"chain"`
	Token     string         `json:"token"`
	Pool      string         `json:"pool"`
	Name      string         `json:"name"`
	Symbol    string         `json:"symbol"`
	Level     Level          `json:"level"`
	Score     int            `json:"score"`
	BaseScore int            `json:"base_score"`
	RiskLevel string         `json:"risk_level,omitempty"`
	Liquidity float64        `json:"liquidity_usd"`
	Breakdown map[string]int `json:"breakdown,omitempty"`
	Passed    []string       `json:"passed,omitempty"`
	Failed    []string       `json:"failed,omitempty"`
	Reasons   []string       `json:"reasons,omitempty"`
	RiskFlags []string       `json:"risk_flags,omitempty"`
	At        time.Time      `json:"at"`
}

// Dispatcher 告警投递，失败只记录日志，不回滚状态
type Dispatcher interface {
	Dispatch(ctx context.Context, p *Payload) error
}

// DispatcherFunc 函数适配
type DispatcherFunc func(ctx context.Context, p *Payload) error

func (f DispatcherFunc) Dispatch(ctx context.Context, p *Payload) error { return f(ctx, p) }
