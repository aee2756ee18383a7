package alert

import "time"

// Phase 按代币年龄划分的市场阶段
type Phase string

const (
	PhaseLaunch      Phase = "launch"
	PhaseEarlyGrowth Phase = "early_growth"
	PhaseMature      Phase = "mature"
)

const (
	launchWindow      = 5 * time.Minute
	earlyGrowthWindow = 60 * time.Minute
	freshAge          = 15 * time.Minute
)

// PhaseWeights 各阶段在基础分之上的加减分
type PhaseWeights struct {
	Liquidity int
	Momentum  int
	Holder    int
	Volume    int
}

var phaseWeights = map[Phase]PhaseWeights{
	PhaseLaunch:      {Liquidity: 5, Momentum: 5},
	PhaseEarlyGrowth: {Liquidity: 3, Momentum: 3, Holder: 5, Volume: 2},
	PhaseMature:      {Momentum: -5, Volume: 5},
}

func DetectPhase(age time.Duration) Phase {
	switch {
	case age < launchWindow:
		return PhaseLaunch
	case age < earlyGrowthWindow:
		return PhaseEarlyGrowth
	default:
		return PhaseMature
	}
}

func (p Phase) Weights() PhaseWeights {
	return phaseWeights[p]
}

// SniperEligible 只有 launch 与 early_growth 可以进入 sniper
func (p Phase) SniperEligible() bool {
	return p == PhaseLaunch || p == PhaseEarlyGrowth
}
