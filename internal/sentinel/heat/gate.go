package heat

import (
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/metrics"
	"dex-pool-sentinel/internal/sentinel/types"
	"sync"
	"time"
)

// Level 热度分档
type Level string

const (
	Cold Level = "COLD"
	Warm Level = "WARM"
	Hot  Level = "HOT"
)

const (
	minScore = 0
	maxScore = 100

	WeightShortlisted    = 5.0
	WeightAlert          = 15.0
	WeightLiquiditySpike = 30.0
)

type Config struct {
	InitialScore   float64 `json:"initial_score" yaml:"initial_score"`
	DecayPerMinute float64 `json:"decay_per_minute" yaml:"decay_per_minute"`
	DefaultWeight  float64 `json:"default_weight" yaml:"default_weight"`
	ColdBelow      float64 `json:"cold_below" yaml:"cold_below"`
	HotAt          float64 `json:"hot_at" yaml:"hot_at"`
}

func DefaultConfig() Config {
	return Config{
		InitialScore:   50,
		DecayPerMinute: 2.5,
		DefaultWeight:  10,
		ColdBelow:      30,
		HotAt:          70,
	}
}

// State 某一时刻的热度快照
type State struct {
	Chain      types.ChainID `json:"chain"`
	Score      float64       `json:"score"`
	Level      Level         `json:"level"`
	LastUpdate time.Time     `json:"last_update"`
}

// Gate 单链的市场热度门控
// 衰减在读取时按流逝时间惰性计算，随后叠加待处理的权重
type Gate struct {
	chain types.ChainID
	cfg   Config
	now   func() time.Time

	mu         sync.Mutex
	score      float64
	pending    float64
	lastDecay  time.Time
	lastActive time.Time
}

func NewGate(chain types.ChainID, cfg Config, now func() time.Time) *Gate {
	def := DefaultConfig()
	if cfg.DecayPerMinute <= 0 {
		cfg.DecayPerMinute = def.DecayPerMinute
	}
	if cfg.DefaultWeight <= 0 {
		cfg.DefaultWeight = def.DefaultWeight
	}
	if cfg.ColdBelow <= 0 {
		cfg.ColdBelow = def.ColdBelow
	}
	if cfg.HotAt <= 0 {
		cfg.HotAt = def.HotAt
	}
	if cfg.InitialScore <= 0 {
		cfg.InitialScore = def.InitialScore
	}
	if now == nil {
		now = time.Now
	}

	t := now()
	return &Gate{
		chain:     chain,
		cfg:       cfg,
		now:       now,
		score:     utils.Clamp(cfg.InitialScore, minScore, maxScore),
		lastDecay: t,
	}
}

// RecordActivity 记录一次活动，weight <= 0 时使用默认权重
func (g *Gate) RecordActivity(weight float64) {
	if weight <= 0 {
		weight = g.cfg.DefaultWeight
	}
	g.mu.Lock()
	g.pending += weight
	g.lastActive = g.now()
	g.mu.Unlock()
}

// Score 当前分数（先衰减再叠加 pending）
func (g *Gate) Score() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshLocked()
}

func (g *Gate) Level() Level {
	return g.classify(g.Score())
}

// IsCold 低于冷阈值时跳过昂贵的扫描阶段
func (g *Gate) IsCold() bool {
	return g.Score() < g.cfg.ColdBelow
}

func (g *Gate) Snapshot() State {
	g.mu.Lock()
	score := g.refreshLocked()
	last := g.lastActive
	g.mu.Unlock()

	return State{
		Chain:      g.chain,
		Score:      utils.Float64Round2(score),
		Level:      g.classify(score),
		LastUpdate: last,
	}
}

func (g *Gate) classify(score float64) Level {
	switch {
	case score < g.cfg.ColdBelow:
		return Cold
	case score < g.cfg.HotAt:
		return Warm
	default:
		return Hot
	}
}

// refreshLocked 衰减只依赖时间差，与读取次数无关
func (g *Gate) refreshLocked() float64 {
	now := g.now()
	if elapsed := now.Sub(g.lastDecay); elapsed > 0 {
		g.score -= elapsed.Minutes() * g.cfg.DecayPerMinute
		g.lastDecay = now
	}
	if g.score < minScore {
		g.score = minScore
	}
	if g.pending != 0 {
		g.score += g.pending
		g.pending = 0
	}
	g.score = utils.Clamp(g.score, minScore, maxScore)
	metrics.HeatScore.WithLabelValues(string(g.chain)).Set(g.score)
	return g.score
}
