package alert

import (
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/momentum"
	"dex-pool-sentinel/internal/sentinel/types"
	"fmt"
)

const (
	scoreLiquidity20k   = 30
	scoreRenounced      = 20
	scoreNoMintBlack    = 20
	scoreTop10Under40   = 20
	scoreFresh          = 10
	penaltyFakePump     = 25
	penaltyDevWarning   = 15
	bonusSmartMoney     = 10
	momentumCap         = 65
	liquidityGoodUSD    = 20_000
	liquidityVolumeUSD  = 50_000
	top10GoodPercent    = 40
	top10ExtremePercent = 80
)

// Thresholds 基础分告警等级阈值，可按链覆盖
type Thresholds struct {
	Info  int `json:"info" yaml:"info"`
	Watch int `json:"watch" yaml:"watch"`
	Trade int `json:"trade" yaml:"trade"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Info: 40, Watch: 60, Trade: 75}
}

func (t Thresholds) classify(score int) Level {
	switch {
	case score >= t.Trade:
		return LevelTrade
	case score >= t.Watch:
		return LevelWatch
	case score >= t.Info:
		return LevelInfo
	default:
		return LevelIgnore
	}
}

// BaseResult 基础评分结果
type BaseResult struct {
	Score           int            `json:"score"`
	Level           Level          `json:"level"`
	Phase           Phase          `json:"phase"`
	Forced          bool           `json:"forced"`
	UpgradeEligible bool           `json:"upgrade_eligible"`
	RiskFlags       []string       `json:"risk_flags"`
	Breakdown       map[string]int `json:"breakdown"`
}

// BaseScore 由安全审计、流动性、动量与外部风险标记计算基础分
// MEV 强制 WATCH，开发者 DUMP 强制 IGNORE；动量未确认时分数封顶
func BaseScore(e *Enrichment, th Thresholds) BaseResult {
	sec := e.security()
	r := BaseResult{
		Phase:     DetectPhase(e.Age),
		Breakdown: make(map[string]int, 12),
	}
	score := 0
	add := func(name string, v int) {
		score += v
		r.Breakdown[name] += v
	}

	if e.LiquidityUSD >= liquidityGoodUSD {
		add("liquidity", scoreLiquidity20k)
	} else {
		r.RiskFlags = append(r.RiskFlags, fmt.Sprintf("Low liquidity ($%.0f)", e.LiquidityUSD))
	}

	if sec.Renounced {
		add("renounced", scoreRenounced)
	} else {
		r.RiskFlags = append(r.RiskFlags, "Ownership not renounced")
	}

	if !sec.Mintable && !sec.Blacklist {
		add("no_mint_blacklist", scoreNoMintBlack)
	} else {
		if sec.Mintable {
			r.RiskFlags = append(r.RiskFlags, "Mintable")
		}
		if sec.Blacklist {
			r.RiskFlags = append(r.RiskFlags, "Blacklist enabled")
		}
	}

	top10 := sec.Top10HoldersPercent
	if top10 <= top10GoodPercent {
		add("holders", scoreTop10Under40)
	} else if top10 > top10ExtremePercent {
		r.RiskFlags = append(r.RiskFlags, fmt.Sprintf("Extreme holder concentration (%.0f%%)", top10))
	} else {
		r.RiskFlags = append(r.RiskFlags, fmt.Sprintf("High concentration (top10 %.0f%%)", top10))
	}

	if e.Age < freshAge {
		add("age", scoreFresh)
	}

	confirmed := e.Momentum.Confirmed
	if confirmed {
		add("momentum", utils.Clamp(e.Momentum.Score, 0, momentum.MaxScore))
	} else {
		r.RiskFlags = append(r.RiskFlags, "Snapshot only (momentum not confirmed)")
	}

	if e.Flags.FakePump {
		add("fake_pump", -penaltyFakePump)
		r.RiskFlags = append(r.RiskFlags, "Fake pump suspected")
	}

	var forced Level
	if e.Flags.MEV {
		forced = LevelWatch
		r.RiskFlags = append(r.RiskFlags, "MEV pattern detected")
	}
	switch e.Flags.Dev {
	case types.DevDump:
		forced = LevelIgnore
		r.RiskFlags = append(r.RiskFlags, "Dev dump detected")
	case types.DevWarning:
		add("dev", -penaltyDevWarning)
		r.RiskFlags = append(r.RiskFlags, "Dev activity warning")
	}

	if e.Flags.SmartMoney {
		add("smart_money", bonusSmartMoney)
	}

	w := r.Phase.Weights()
	if e.LiquidityUSD >= liquidityGoodUSD {
		add("phase_liquidity", w.Liquidity)
	}
	if confirmed {
		add("phase_momentum", w.Momentum)
	}
	if top10 <= top10GoodPercent {
		add("phase_holder", w.Holder)
	}
	if e.LiquidityUSD > liquidityVolumeUSD {
		add("phase_volume", w.Volume)
	}

	if !confirmed && score > momentumCap {
		r.RiskFlags = append(r.RiskFlags, fmt.Sprintf("Score capped at %d (was %d)", momentumCap, score))
		score = momentumCap
	}
	r.Score = max(score, 0)

	if forced != "" {
		r.Level = forced
		r.Forced = true
		return r
	}

	r.Level = th.classify(r.Score)
	blocked := e.Flags.FakePump || e.Flags.MEV || e.Flags.Dev == types.DevDump
	if r.Level == LevelTrade && !confirmed && !blocked {
		r.Level = LevelTradeEarly
		r.UpgradeEligible = true
		r.RiskFlags = append(r.RiskFlags, "Trade-early: awaiting momentum confirmation")
	}
	return r
}
