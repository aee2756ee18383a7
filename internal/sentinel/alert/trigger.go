package alert

import "time"

// 触发条件名称，随告警一起输出
const (
	CondScore      = "score"
	CondLiquidity  = "liquidity"
	CondMomentum   = "momentum"
	CondNoFakePump = "no_fake_pump"
	CondNoMEV      = "no_mev"
	CondPhase      = "phase"
	CondAge        = "age"
)

// TriggerConfig sniper 触发门槛
type TriggerConfig struct {
	MinBaseScore        int           `json:"min_base_score" yaml:"min_base_score"`
	LiquidityMultiplier float64       `json:"liquidity_multiplier" yaml:"liquidity_multiplier"`
	MaxAge              time.Duration `json:"max_age" yaml:"max_age"`
}

func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{MinBaseScore: 75, LiquidityMultiplier: 2, MaxAge: 3 * time.Minute}
}

// TriggerResult 所有条件为真才触发；否则降级到 trade
type TriggerResult struct {
	Fire   bool     `json:"fire"`
	Passed []string `json:"passed"`
	Failed []string `json:"failed"`
	// Wait 只剩动量尚在采样且仍在年龄窗口内，继续等待而不是降级
	Wait bool `json:"wait"`
}

func (r TriggerResult) Downgrade() bool {
	return !r.Fire && !r.Wait
}

func EvaluateTrigger(cfg TriggerConfig, e *Enrichment, base BaseResult) TriggerResult {
	var r TriggerResult
	check := func(name string, ok bool) {
		if ok {
			r.Passed = append(r.Passed, name)
		} else {
			r.Failed = append(r.Failed, name)
		}
	}

	check(CondScore, base.Score >= cfg.MinBaseScore)
	check(CondLiquidity, e.LiquidityUSD >= e.ChainMinLiquidity*cfg.LiquidityMultiplier)
	check(CondMomentum, e.Momentum.Confirmed)
	check(CondNoFakePump, !e.Flags.FakePump)
	check(CondNoMEV, !e.Flags.MEV)
	check(CondPhase, DetectPhase(e.Age).SniperEligible())
	check(CondAge, e.Age <= cfg.MaxAge)

	r.Fire = len(r.Failed) == 0
	if !r.Fire && e.Momentum.Pending && onlyMomentumBlocks(r.Failed) {
		r.Wait = true
	}
	return r
}

// 动量未确认会把基础分封顶，所以 score 失败也可能只是动量未到
func onlyMomentumBlocks(failed []string) bool {
	for _, f := range failed {
		if f != CondMomentum && f != CondScore {
			return false
		}
	}
	return true
}
