package alert

import (
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/types"
	"fmt"
)

// SniperConfig sniper 层配置
type SniperConfig struct {
	Trigger   TriggerConfig `json:"trigger" yaml:"trigger"`
	Threshold int           `json:"threshold" yaml:"threshold"`
	MaxScore  int           `json:"max_score" yaml:"max_score"`
}

func DefaultSniperConfig() SniperConfig {
	return SniperConfig{Trigger: DefaultTriggerConfig(), Threshold: 80, MaxScore: 90}
}

const (
	sniperBaseWeight     = 0.8
	sniperBaseCap        = 60
	sniperMomentumBonus  = 15
	sniperMomentumMiss   = -10
	sniperLiqGrowing     = 10
	sniperLiqStable      = 5
	sniperLiqDeclining   = -15
	sniperRiskPenaltyCap = -20
	sniperOptimal        = 85
	sniperElevated       = 70
)

// SniperResult sniper 评分
type SniperResult struct {
	Score     int            `json:"score"`
	Meets     bool           `json:"meets"`
	RiskLevel string         `json:"risk_level"`
	Breakdown map[string]int `json:"breakdown"`
	RiskFlags []string       `json:"risk_flags"`
}

// SniperScore 基础分贡献 + 动量 + 流动性趋势 + 持仓风险，限制在 [0, MaxScore]
func SniperScore(cfg SniperConfig, e *Enrichment, base int) SniperResult {
	r := SniperResult{Breakdown: make(map[string]int, 4)}

	contribution := min(int(float64(base)*sniperBaseWeight), sniperBaseCap)
	r.Breakdown["base"] = contribution

	mom := sniperMomentumMiss
	if e.Momentum.Confirmed {
		mom = sniperMomentumBonus
	}
	r.Breakdown["momentum"] = mom

	var liq int
	switch trend := e.Momentum.LiquidityTrend; {
	case trend > 1.1:
		liq = sniperLiqGrowing
	case trend >= 0.9:
		liq = sniperLiqStable
	default:
		liq = sniperLiqDeclining
	}
	r.Breakdown["liquidity_trend"] = liq

	penalty := 0
	sec := e.security()
	if sec.Top10HoldersPercent > 50 {
		penalty -= 5
		r.RiskFlags = append(r.RiskFlags, fmt.Sprintf("High concentration (%.0f%%)", sec.Top10HoldersPercent))
	}
	switch e.Flags.Dev {
	case types.DevDump:
		penalty -= 10
		r.RiskFlags = append(r.RiskFlags, "Dev dump flag")
	case types.DevWarning:
		penalty -= 5
		r.RiskFlags = append(r.RiskFlags, "Dev warning flag")
	}
	if e.Flags.MEV {
		penalty -= 5
		r.RiskFlags = append(r.RiskFlags, "MEV detected")
	}
	if e.Flags.FakePump {
		penalty -= 5
		r.RiskFlags = append(r.RiskFlags, "Fake pump suspected")
	}
	penalty = max(penalty, sniperRiskPenaltyCap)
	r.Breakdown["holder_risk"] = penalty

	r.Score = utils.Clamp(contribution+mom+liq+penalty, 0, cfg.MaxScore)
	r.Meets = r.Score >= cfg.Threshold
	switch {
	case r.Score >= sniperOptimal:
		r.RiskLevel = "OPTIMAL"
	case r.Score >= cfg.Threshold:
		r.RiskLevel = "ACCEPTABLE"
	case r.Score >= sniperElevated:
		r.RiskLevel = "ELEVATED"
	default:
		r.RiskLevel = "HIGH"
	}
	return r
}
