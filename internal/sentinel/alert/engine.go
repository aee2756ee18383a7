package alert

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/heat"
	"dex-pool-sentinel/internal/sentinel/metrics"
	"dex-pool-sentinel/internal/sentinel/momentum"
	"dex-pool-sentinel/internal/sentinel/registry"
	"dex-pool-sentinel/internal/sentinel/types"
	"fmt"
	"github.com/panjf2000/ants/v2"
	"github.com/zeromicro/go-zero/core/collection"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Config 告警引擎配置
type Config struct {
	Enabled         map[Tier]bool
	Thresholds      Thresholds
	ChainThresholds map[types.ChainID]Thresholds
	Sniper          SniperConfig
	Running         RunningConfig
	Upgrade         UpgradeConfig
	TradeWindow     time.Duration
	RunningWindow   time.Duration
	KillSwitchAge   time.Duration
	TrackFor        time.Duration
	MomentumStale   time.Duration
	CallTimeout     time.Duration
	RefreshWorkers  int
	StoreDir        string
}

func DefaultConfig() Config {
	return Config{
		Enabled:        map[Tier]bool{TierSniper: true, TierTrade: true, TierRunning: true},
		Thresholds:     DefaultThresholds(),
		Sniper:         DefaultSniperConfig(),
		Running:        DefaultRunningConfig(),
		Upgrade:        DefaultUpgradeConfig(),
		TradeWindow:    15 * time.Minute,
		RunningWindow:  60 * time.Minute,
		KillSwitchAge:  DefaultKillSwitchMaxAge,
		TrackFor:       3 * time.Hour,
		MomentumStale:  momentum.DefaultStaleAfter,
		CallTimeout:    5 * time.Second,
		RefreshWorkers: 8,
	}
}

// StorePath 层级存储文件路径，dir 为空时只保存在内存
func StorePath(dir string, tier Tier) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, string(tier)+"_cooldown.json")
}

func upgradePath(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "auto_upgrade.json")
}

// MarkListener 每次冷却标记后回调，HA 模式下用于复制到从节点
type MarkListener func(tier Tier, key string, e CooldownEntry)

// tracked 评分中的代币
type tracked struct {
	key string

	mu         sync.Mutex
	cand       types.CandidatePool
	security   *types.SecurityReport
	liquidity  float64
	price      float64
	volume     float64
	volumeAvg  float64
	samples    int
	lastBlock  uint64
	lastBase   int
	momentum   momentum.Result
	stages     map[Tier]Stage
	lastUpdate time.Time
}

func (t *tracked) setStage(tier Tier, s Stage) {
	t.mu.Lock()
	t.stages[tier] = s
	t.mu.Unlock()
}

func (t *tracked) stage(tier Tier) Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stages[tier]
}

// Engine 候选代币的告警状态机：trigger -> score -> cooldown -> kill-switch -> upgrade
// 每个层级一个冷却存储，状态按 (token, tier) 维护
type Engine struct {
	cfg        Config
	reg        *registry.Registry
	dispatcher Dispatcher
	now        func() time.Time

	momentum *momentum.Tracker
	stores   map[Tier]*CooldownStore
	kill     *KillSwitch
	upgrade  *UpgradeMonitor
	enabled  map[Tier]*atomic.Bool
	pool     *ants.Pool

	// 评估与标记串行化，保证冷却检查与写入之间没有并发告警
	decideMu sync.Mutex

	mu     sync.RWMutex
	tokens map[string]*tracked
	flags  map[string]RiskFlags

	// 过期代币的最后状态，再保留一个跟踪期供查询
	expired *collection.Cache

	onMark atomic.Pointer[MarkListener]

	lastWarnLog atomic.Int64
}

const expiredLimit = 4096

func NewEngine(cfg Config, reg *registry.Registry, dispatcher Dispatcher, now func() time.Time) (*Engine, error) {
	if now == nil {
		now = time.Now
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("alert engine requires a dispatcher")
	}
	if cfg.RefreshWorkers <= 0 {
		cfg.RefreshWorkers = 8
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}

	windows := map[Tier]time.Duration{
		TierSniper:  0,
		TierTrade:   cfg.TradeWindow,
		TierRunning: cfg.RunningWindow,
	}
	stores := make(map[Tier]*CooldownStore, len(windows))
	for tier, window := range windows {
		s, err := OpenCooldownStore(tier, StorePath(cfg.StoreDir, tier), window, now)
		if err != nil {
			return nil, err
		}
		stores[tier] = s
	}
	up, err := OpenUpgradeMonitor(cfg.Upgrade, upgradePath(cfg.StoreDir), now)
	if err != nil {
		return nil, err
	}

	expiredTTL := cfg.TrackFor
	if expiredTTL <= 0 {
		expiredTTL = time.Hour
	}
	expired, err := collection.NewCache(expiredTTL, collection.WithLimit(expiredLimit), collection.WithName("alert-expired"))
	if err != nil {
		return nil, fmt.Errorf("create expired cache: %w", err)
	}

	pool, err := ants.NewPool(cfg.RefreshWorkers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("create refresh pool: %w", err)
	}

	enabled := make(map[Tier]*atomic.Bool, len(allTiers))
	for _, tier := range allTiers {
		b := new(atomic.Bool)
		on, set := cfg.Enabled[tier]
		b.Store(!set || on)
		enabled[tier] = b
	}

	return &Engine{
		cfg:        cfg,
		reg:        reg,
		dispatcher: dispatcher,
		now:        now,
		momentum:   momentum.NewTracker(cfg.MomentumStale, now),
		stores:     stores,
		kill:       NewKillSwitch(TierSniper, cfg.KillSwitchAge, now),
		upgrade:    up,
		enabled:    enabled,
		pool:       pool,
		tokens:     make(map[string]*tracked),
		flags:      make(map[string]RiskFlags),
		expired:    expired,
	}, nil
}

func (e *Engine) Close() {
	e.pool.Release()
}

// ---------- 层级开关 ----------

func (e *Engine) SetTierEnabled(tier Tier, on bool) error {
	b, ok := e.enabled[tier]
	if !ok {
		return ErrUnknownTier
	}
	if b.Swap(on) != on {
		logger.Infof("[AlertEngine] tier %s enabled=%v", tier, on)
	}
	return nil
}

func (e *Engine) TierEnabled(tier Tier) bool {
	b, ok := e.enabled[tier]
	return ok && b.Load()
}

func (e *Engine) Tiers() map[Tier]bool {
	out := make(map[Tier]bool, len(e.enabled))
	for tier, b := range e.enabled {
		out[tier] = b.Load()
	}
	return out
}

// ---------- 存储访问 ----------

func (e *Engine) Store(tier Tier) (*CooldownStore, bool) {
	s, ok := e.stores[tier]
	return s, ok
}

func (e *Engine) KillSwitch() *KillSwitch        { return e.kill }
func (e *Engine) Upgrades() *UpgradeMonitor      { return e.upgrade }
func (e *Engine) Momentum() *momentum.Tracker    { return e.momentum }
func (e *Engine) SetMarkListener(l MarkListener) { e.onMark.Store(&l) }

// ApplyMark 从节点回放主节点的冷却标记
func (e *Engine) ApplyMark(tier Tier, key string, entry CooldownEntry) error {
	s, ok := e.stores[tier]
	if !ok {
		return ErrUnknownTier
	}
	return s.Apply(key, entry)
}

func (e *Engine) Tracked() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.tokens)
}

// ---------- 候选入口 ----------

// Run 消费候选队列直到 ctx 结束
func (e *Engine) Run(ctx context.Context, in <-chan *types.CandidatePool) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-in:
			if !ok {
				return
			}
			e.safeHandle(ctx, c)
		}
	}
}

func (e *Engine) safeHandle(ctx context.Context, c *types.CandidatePool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[AlertEngine] candidate %s panicked: %v\n%s", c.Key(), r, string(debug.Stack()))
		}
	}()
	if err := e.HandleCandidate(ctx, c); err != nil && utils.ThrottleLog(&e.lastWarnLog, 5*time.Second) {
		logger.Warnf("[AlertEngine] candidate %s: %v", c.Key(), err)
	}
}

// HandleCandidate 新候选：审计、记录首个动量快照并评估各层级
func (e *Engine) HandleCandidate(ctx context.Context, c *types.CandidatePool) error {
	if c == nil || c.Token == "" {
		return nil
	}
	svc, ok := e.reg.Get(c.Chain)
	if !ok || svc.Adapter == nil {
		return fmt.Errorf("chain %s not registered", c.Chain)
	}
	key := c.Key()

	e.mu.Lock()
	t, exists := e.tokens[key]
	if !exists {
		t = &tracked{key: key, stages: make(map[Tier]Stage, len(allTiers))}
		e.tokens[key] = t
	}
	e.mu.Unlock()
	if !exists {
		e.expired.Del(key)
	}

	if !exists {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		sec, err := svc.Adapter.CheckSecurity(callCtx, c.Token)
		cancel()
		if err != nil || sec == nil {
			logger.Warnf("[AlertEngine:%s] security check %s failed, using conservative defaults: %v", c.Chain, c.Token, err)
			sec = types.UnknownSecurity()
		}
		t.mu.Lock()
		t.security = sec
		t.mu.Unlock()
	}

	t.mu.Lock()
	t.cand = *c
	t.liquidity = c.LiquidityUSD
	t.price = c.PriceUSD
	t.lastBlock = max(t.lastBlock, c.DiscoveryBlock)
	t.lastUpdate = e.now()
	for _, tier := range allTiers {
		if t.stages[tier] == "" {
			t.stages[tier] = StageDiscovered
		}
	}
	t.mu.Unlock()

	e.momentum.Record(key, momentum.Snapshot{
		Block:        c.DiscoveryBlock,
		LiquidityUSD: c.LiquidityUSD,
		PriceUSD:     c.PriceUSD,
	})
	e.evaluate(ctx, t)
	return nil
}

// ---------- 评估 ----------

func (e *Engine) riskFlags(key string) RiskFlags {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.flags[key]
}

func (e *Engine) thresholds(chain types.ChainID) Thresholds {
	if th, ok := e.cfg.ChainThresholds[chain]; ok {
		return th
	}
	return e.cfg.Thresholds
}

func (e *Engine) enrich(t *tracked) *Enrichment {
	mom := e.momentum.Evaluate(t.key)
	flags := e.riskFlags(t.key)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.momentum = mom

	en := &Enrichment{
		Chain:        t.cand.Chain,
		Token:        t.cand.Token,
		Pool:         t.cand.Pool,
		Age:          t.cand.Age(e.now()),
		LiquidityUSD: t.liquidity,
		PriceUSD:     t.price,
		VolumeUSD:    t.volume,
		AvgVolumeUSD: t.volumeAvg,
		Security:     t.security,
		Momentum:     mom,
		Flags:        flags,
	}
	if md := t.cand.Metadata; md != nil {
		en.Name = md.Name
		en.Symbol = md.Symbol
		en.MarketCapUSD = t.price * md.TotalSupply
	}
	if svc, ok := e.reg.Get(t.cand.Chain); ok {
		en.ChainMinLiquidity = svc.MinLiquidityUSD
	}
	return en
}

// evaluate sniper 优先；未满足的条件降级到 trade；running 独立评估
func (e *Engine) evaluate(ctx context.Context, t *tracked) {
	en := e.enrich(t)
	base := BaseScore(en, e.thresholds(en.Chain))

	t.mu.Lock()
	t.lastBase = base.Score
	t.mu.Unlock()

	e.decideMu.Lock()
	defer e.decideMu.Unlock()

	e.checkKill(ctx, t, en, base)

	switch t.stage(TierSniper) {
	case StageCooldown, StageCancelled, StageEscalated:
		// sniper 已接管该代币，trade 不再重复告警
		e.evaluateRunning(ctx, t, en, base)
		return
	}

	var downgrade *TriggerResult
	switch fired, trig := e.evaluateSniper(ctx, t, en, base); {
	case fired:
		return
	case trig.Wait:
		t.setStage(TierSniper, StageDiscovered)
		return
	case trig.Fire || len(trig.Failed) > 0:
		downgrade = &trig
	}

	e.evaluateTrade(ctx, t, en, base, downgrade)
	e.evaluateRunning(ctx, t, en, base)
}

func (e *Engine) evaluateSniper(ctx context.Context, t *tracked, en *Enrichment, base BaseResult) (bool, TriggerResult) {
	if !e.TierEnabled(TierSniper) || e.stores[TierSniper].IsOnCooldown(t.key) {
		return false, TriggerResult{}
	}
	trig := EvaluateTrigger(e.cfg.Sniper.Trigger, en, base)
	if !trig.Fire {
		if trig.Downgrade() {
			t.setStage(TierSniper, StageScored)
		}
		return false, trig
	}

	t.setStage(TierSniper, StageTriggered)
	res := SniperScore(e.cfg.Sniper, en, base.Score)
	if !res.Meets {
		t.setStage(TierSniper, StageScored)
		logger.Infof("[AlertEngine:%s] sniper score %d below %d for %s, downgrade to trade",
			en.Chain, res.Score, e.cfg.Sniper.Threshold, en.Token)
		trig.Fire = false
		trig.Failed = append(trig.Failed, "sniper_score")
		return false, trig
	}

	p := e.payload(KindAlert, TierSniper, en, base)
	p.Level = LevelSniper
	p.Score = res.Score
	p.RiskLevel = res.RiskLevel
	p.Breakdown = res.Breakdown
	p.Passed = trig.Passed
	p.RiskFlags = append(p.RiskFlags, res.RiskFlags...)
	if !e.emit(ctx, t, p) {
		return false, trig
	}

	e.kill.Register(t.key, Baseline{
		Chain:             en.Chain,
		Token:             en.Token,
		Pool:              en.Pool,
		Symbol:            en.Symbol,
		LiquidityUSD:      en.LiquidityUSD,
		Score:             base.Score,
		MomentumConfirmed: en.Momentum.Confirmed,
		Flags:             en.Flags,
	})
	return true, trig
}

func (e *Engine) evaluateTrade(ctx context.Context, t *tracked, en *Enrichment, base BaseResult, trig *TriggerResult) {
	if !e.TierEnabled(TierTrade) {
		return
	}
	switch base.Level {
	case LevelTrade, LevelTradeEarly, LevelWatch:
	default:
		return
	}
	if e.stores[TierTrade].IsOnCooldown(t.key) {
		return
	}

	p := e.payload(KindAlert, TierTrade, en, base)
	if trig != nil {
		p.Passed = trig.Passed
		p.Failed = trig.Failed
	}
	if !e.emit(ctx, t, p) {
		return
	}
	if e.TierEnabled(TierSniper) && !e.stores[TierSniper].IsOnCooldown(t.key) {
		e.upgrade.Watch(t.key, UpgradeWatch{
			Chain:        en.Chain,
			Token:        en.Token,
			Pool:         en.Pool,
			Name:         en.Name,
			Symbol:       en.Symbol,
			BaseScore:    base.Score,
			LiquidityUSD: en.LiquidityUSD,
		})
	}
}

func (e *Engine) evaluateRunning(ctx context.Context, t *tracked, en *Enrichment, base BaseResult) {
	if !e.TierEnabled(TierRunning) {
		return
	}
	if ok, _ := e.cfg.Running.Eligible(en); !ok {
		return
	}
	if e.stores[TierRunning].IsOnCooldown(t.key) {
		return
	}
	res := RunningScore(e.cfg.Running, en, base.Score)
	if !res.Meets() {
		return
	}
	p := e.payload(KindAlert, TierRunning, en, base)
	p.Level = res.Level
	p.Score = res.Score
	p.Breakdown = res.Breakdown
	p.RiskFlags = res.RiskFlags
	e.emit(ctx, t, p)
}

func (e *Engine) payload(kind Kind, tier Tier, en *Enrichment, base BaseResult) *Payload {
	return &Payload{
		Kind:      kind,
		Tier:      tier,
		Chain:     en.Chain,
		Token:     en.Token,
		Pool:      en.Pool,
		Name:      en.Name,
		Symbol:    en.Symbol,
		Level:     base.Level,
		Score:     base.Score,
		BaseScore: base.Score,
		Liquidity: utils.Float64Round2(en.LiquidityUSD),
		Breakdown: base.Breakdown,
		RiskFlags: append([]string(nil), base.RiskFlags...),
		At:        e.now(),
	}
}

// emit 标记冷却、推送并回补热度；冷却写入失败时放弃本次告警
// 推送失败只记录日志，不回滚状态
func (e *Engine) emit(ctx context.Context, t *tracked, p *Payload) bool {
	store := e.stores[p.Tier]
	entry := CooldownEntry{Chain: string(p.Chain), Symbol: p.Symbol, Score: p.Score, Level: p.Level}
	marked, err := store.MarkAlerted(t.key, entry)
	if err != nil {
		logger.Errorf("[AlertEngine:%s] persist %s cooldown for %s failed: %v", p.Chain, p.Tier, p.Token, err)
		return false
	}
	if !marked {
		return false
	}
	if saved, ok := store.Get(t.key); ok {
		e.notifyMark(p.Tier, t.key, saved)
	}
	t.setStage(p.Tier, StageCooldown)

	e.dispatch(ctx, p)
	if svc, ok := e.reg.Get(p.Chain); ok && svc.Gate != nil {
		svc.Gate.RecordActivity(heat.WeightAlert)
	}
	return true
}

func (e *Engine) dispatch(ctx context.Context, p *Payload) {
	metrics.Alerts.WithLabelValues(string(p.Tier), string(p.Kind)).Inc()
	if err := e.dispatcher.Dispatch(ctx, p); err != nil {
		logger.Warnf("[AlertEngine:%s] dispatch %s %s for %s failed: %v", p.Chain, p.Tier, p.Kind, p.Token, err)
		return
	}
	logger.Infof("[AlertEngine:%s] %s %s %s (%s) score=%d level=%s",
		p.Chain, p.Tier, p.Kind, p.Symbol, p.Token, p.Score, p.Level)
}

func (e *Engine) notifyMark(tier Tier, key string, entry CooldownEntry) {
	if l := e.onMark.Load(); l != nil && *l != nil {
		(*l)(tier, key, entry)
	}
}

// TokenStatus 单个代币的评估状态
type TokenStatus struct {
	Chain        types.ChainID   `json:"chain"`
	Token        string          `json:"token"`
	Symbol       string          `json:"symbol"`
	Stages       map[Tier]Stage  `json:"stages"`
	BaseScore    int             `json:"base_score"`
	LiquidityUSD float64         `json:"liquidity_usd"`
	Momentum     momentum.Result `json:"momentum"`
	Flags        RiskFlags       `json:"flags"`
	KillWatched  bool            `json:"kill_watched"`
	LastUpdate   time.Time       `json:"last_update"`
}

// Inspect 查询跟踪中的代币
func (e *Engine) Inspect(chainID types.ChainID, token string) (TokenStatus, bool) {
	key := types.TokenKey(chainID, token)
	e.mu.RLock()
	t, ok := e.tokens[key]
	flags := e.flags[key]
	e.mu.RUnlock()
	if !ok {
		if v, found := e.expired.Get(key); found {
			return v.(TokenStatus), true
		}
		return TokenStatus{}, false
	}
	_, watched := e.kill.Get(key)

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(flags, watched), true
}

func (t *tracked) statusLocked(flags RiskFlags, watched bool) TokenStatus {
	st := TokenStatus{
		Chain:        t.cand.Chain,
		Token:        t.cand.Token,
		Stages:       make(map[Tier]Stage, len(t.stages)),
		BaseScore:    t.lastBase,
		LiquidityUSD: t.liquidity,
		Momentum:     t.momentum,
		Flags:        flags,
		KillWatched:  watched,
		LastUpdate:   t.lastUpdate,
	}
	if t.cand.Metadata != nil {
		st.Symbol = t.cand.Metadata.Symbol
	}
	for tier, s := range t.stages {
		st.Stages[tier] = s
	}
	return st
}
