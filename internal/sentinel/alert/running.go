package alert

import (
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/types"
	"fmt"
	"time"
)

// RunningConfig 上线后二次拉升的确认层
type RunningConfig struct {
	MinAge              time.Duration `json:"min_age" yaml:"min_age"`
	MaxAge              time.Duration `json:"max_age" yaml:"max_age"`
	MinMarketCapUSD     float64       `json:"min_market_cap_usd" yaml:"min_market_cap_usd"`
	MaxMarketCapUSD     float64       `json:"max_market_cap_usd" yaml:"max_market_cap_usd"`
	LiquidityMultiplier float64       `json:"liquidity_multiplier" yaml:"liquidity_multiplier"`
	Watch               int           `json:"watch" yaml:"watch"`
	Potential           int           `json:"potential" yaml:"potential"`
	Trade               int           `json:"trade" yaml:"trade"`
	MaxScore            int           `json:"max_score" yaml:"max_score"`
}

func DefaultRunningConfig() RunningConfig {
	return RunningConfig{
		MinAge:              30 * time.Minute,
		MaxAge:              180 * 24 * time.Hour,
		MinMarketCapUSD:     50_000,
		MaxMarketCapUSD:     50_000_000,
		LiquidityMultiplier: 2,
		Watch:               60,
		Potential:           70,
		Trade:               80,
		MaxScore:            90,
	}
}

// Eligible 年龄、市值、流动性过滤，返回不满足的原因
func (c RunningConfig) Eligible(e *Enrichment) (bool, string) {
	switch {
	case e.Age < c.MinAge:
		return false, fmt.Sprintf("too young: %s < %s", e.Age.Truncate(time.Second), c.MinAge)
	case e.Age > c.MaxAge:
		return false, fmt.Sprintf("too old: %s > %s", e.Age.Truncate(time.Hour), c.MaxAge)
	case e.MarketCapUSD < c.MinMarketCapUSD:
		return false, fmt.Sprintf("market cap $%.0f below $%.0f", e.MarketCapUSD, c.MinMarketCapUSD)
	case e.MarketCapUSD > c.MaxMarketCapUSD:
		return false, fmt.Sprintf("market cap $%.0f above $%.0f", e.MarketCapUSD, c.MaxMarketCapUSD)
	case e.LiquidityUSD < e.ChainMinLiquidity*c.LiquidityMultiplier:
		return false, fmt.Sprintf("liquidity $%.0f below %.1fx chain minimum", e.LiquidityUSD, c.LiquidityMultiplier)
	}
	return true, ""
}

const (
	runningBaseWeight    = 0.5
	runningBaseCap       = 45
	runningMomentumBonus = 15
	runningVolumeBonus   = 10
	runningLiqBonus      = 10
	runningHolderPenalty = 5
	runningHolderCap     = 20
	runningDevDump       = 10
	runningDevWarning    = 5
)

// RunningResult running 层评分
type RunningResult struct {
	Score     int            `json:"score"`
	Level     Level          `json:"level"`
	Breakdown map[string]int `json:"breakdown"`
	RiskFlags []string       `json:"risk_flags"`
}

func (r RunningResult) Meets() bool { return r.Level != LevelIgnore }

func RunningScore(cfg RunningConfig, e *Enrichment, base int) RunningResult {
	r := RunningResult{Breakdown: make(map[string]int, 5)}
	total := 0
	add := func(name string, v int) {
		total += v
		r.Breakdown[name] = v
	}

	add("base", min(int(float64(base)*runningBaseWeight), runningBaseCap))

	if e.Momentum.Confirmed {
		add("momentum", runningMomentumBonus)
	} else {
		add("momentum", 0)
		r.RiskFlags = append(r.RiskFlags, "Momentum not confirmed")
	}

	if e.AvgVolumeUSD > 0 && e.VolumeUSD > e.AvgVolumeUSD*2 {
		add("volume_spike", runningVolumeBonus)
	} else {
		add("volume_spike", 0)
	}

	if e.Momentum.LiquidityTrend > 1.1 {
		add("liquidity_growth", runningLiqBonus)
	} else {
		add("liquidity_growth", 0)
	}

	sec := e.security()
	holderRisks := append([]string(nil), sec.Risks...)
	if sec.Top10HoldersPercent > 50 {
		holderRisks = append(holderRisks, fmt.Sprintf("High concentration (%.0f%%)", sec.Top10HoldersPercent))
	}
	add("holder_risk", -min(len(holderRisks)*runningHolderPenalty, runningHolderCap))
	r.RiskFlags = append(r.RiskFlags, holderRisks...)

	switch e.Flags.Dev {
	case types.DevDump:
		add("dev", -runningDevDump)
		r.RiskFlags = append(r.RiskFlags, "Dev dump detected")
	case types.DevWarning:
		add("dev", -runningDevWarning)
		r.RiskFlags = append(r.RiskFlags, "Dev activity warning")
	default:
		add("dev", 0)
	}

	r.Score = utils.Clamp(total, 0, cfg.MaxScore)
	switch {
	case r.Score >= cfg.Trade:
		r.Level = LevelTrade
	case r.Score >= cfg.Potential:
		r.Level = LevelPotential
	case r.Score >= cfg.Watch:
		r.Level = LevelWatch
	default:
		r.Level = LevelIgnore
	}
	return r
}
