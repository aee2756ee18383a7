package alert

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/sentinel/metrics"
	"dex-pool-sentinel/internal/sentinel/momentum"
	"dex-pool-sentinel/internal/sentinel/types"
	"runtime/debug"
	"sync"
	"time"
)

// RefreshStats 一轮刷新的统计
type RefreshStats struct {
	Tracked  int
	Quoted   int
	Failed   int
	Evicted  int
	Expired  int
	Duration time.Duration
}

// Refresh 重新读取所有跟踪代币的流动性并喂给动量，随后重新评估
// 单个代币失败不影响其他代币
func (e *Engine) Refresh(ctx context.Context) RefreshStats {
	start := e.now()
	e.mu.RLock()
	list := make([]*tracked, 0, len(e.tokens))
	for _, t := range e.tokens {
		list = append(list, t)
	}
	e.mu.RUnlock()

	stats := RefreshStats{Tracked: len(list)}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, t := range list {
		t := t
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			ok := e.refreshOne(ctx, t)
			mu.Lock()
			if ok {
				stats.Quoted++
			} else {
				stats.Failed++
			}
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			logger.Errorf("[AlertEngine] submit refresh for %s failed: %v", t.key, err)
		}
	}
	wg.Wait()

	stats.Evicted = e.momentum.Evict()
	stats.Expired = e.forgetExpired()
	e.kill.ClearExpired()
	e.upgrade.ClearExpired()
	for tier, s := range e.stores {
		if _, err := s.Prune(); err != nil {
			logger.Warnf("[AlertEngine] prune %s store failed: %v", tier, err)
		}
	}
	stats.Duration = e.now().Sub(start)
	return stats
}

func (e *Engine) refreshOne(ctx context.Context, t *tracked) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[AlertEngine] refresh %s panicked: %v\n%s", t.key, r, string(debug.Stack()))
			ok = false
		}
	}()

	t.mu.Lock()
	chainID, pool, token, since := t.cand.Chain, t.cand.Pool, t.cand.Token, t.lastBlock
	t.mu.Unlock()

	svc, found := e.reg.Get(chainID)
	if !found || svc.Adapter == nil {
		return false
	}
	// 高度只取总线缓存，不单独向节点查询
	var head uint64
	if svc.Bus != nil {
		if snap, ok := svc.Bus.Latest(); ok {
			head = snap.Number
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	q, err := svc.Adapter.Quote(callCtx, pool, token, since, head)
	cancel()
	if err != nil {
		logger.Debugf("[AlertEngine:%s] quote %s failed: %v", chainID, token, err)
		return false
	}

	t.mu.Lock()
	// volumeAvg 为此前各轮成交额的均值，不含本轮
	if t.samples > 0 {
		t.volumeAvg += (t.volume - t.volumeAvg) / float64(t.samples)
	}
	t.samples++
	t.liquidity = q.LiquidityUSD
	t.price = q.PriceUSD
	t.volume = q.VolumeUSD
	if q.Block > t.lastBlock {
		t.lastBlock = q.Block
	}
	t.lastUpdate = e.now()
	t.mu.Unlock()

	e.momentum.Record(t.key, momentum.Snapshot{
		Block:        q.Block,
		LiquidityUSD: q.LiquidityUSD,
		PriceUSD:     q.PriceUSD,
		VolumeUSD:    q.VolumeUSD,
		Trades:       q.Trades,
	})
	e.evaluate(ctx, t)
	return true
}

// forgetExpired 超过 TrackFor 的代币停止跟踪并记为 EXPIRED；仍在 kill-switch 监控中的保留
func (e *Engine) forgetExpired() int {
	if e.cfg.TrackFor <= 0 {
		return 0
	}
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for key, t := range e.tokens {
		t.mu.Lock()
		age := t.cand.Age(now)
		t.mu.Unlock()
		if age <= e.cfg.TrackFor {
			continue
		}
		if _, watched := e.kill.Get(key); watched {
			continue
		}
		t.mu.Lock()
		for tier, s := range t.stages {
			if !s.terminal() {
				t.stages[tier] = StageExpired
			}
		}
		e.expired.Set(key, t.statusLocked(e.flags[key], false))
		t.mu.Unlock()
		delete(e.tokens, key)
		delete(e.flags, key)
		e.momentum.Forget(key)
		n++
	}
	return n
}

// checkKill 调用方持有 decideMu
func (e *Engine) checkKill(ctx context.Context, t *tracked, en *Enrichment, base BaseResult) {
	b, ok := e.kill.Get(t.key)
	if !ok {
		return
	}
	res := e.kill.compare(b, Observation{
		LiquidityUSD:      en.LiquidityUSD,
		Score:             base.Score,
		MomentumConfirmed: en.Momentum.Confirmed,
		Flags:             en.Flags,
	})
	if !res.Kill {
		return
	}

	e.kill.Unregister(t.key)
	t.setStage(TierSniper, StageCancelled)
	metrics.KillSwitch.WithLabelValues(string(TierSniper), string(res.Primary)).Inc()

	p := e.payload(KindCancelled, TierSniper, en, base)
	p.Level = LevelSniper
	p.Reasons = make([]string, 0, len(res.Reasons))
	for _, r := range res.Reasons {
		p.Reasons = append(p.Reasons, string(r))
	}
	p.RiskFlags = append(p.RiskFlags, res.Details...)
	logger.Warnf("[KillSwitch:%s] %s cancelled: %s", en.Chain, en.Token, res.Primary)
	e.dispatch(ctx, p)
}

// ---------- 外部信号 ----------

// RiskEventKind 风险事件类型
type RiskEventKind string

const (
	RiskLPRemoval   RiskEventKind = "LP_REMOVAL"
	RiskDevTransfer RiskEventKind = "DEV_TRANSFER"
	RiskMEV         RiskEventKind = "MEV_DETECTED"
	RiskFakePump    RiskEventKind = "FAKE_PUMP"
	RiskDevFlag     RiskEventKind = "DEV_FLAG"
	RiskSmartMoney  RiskEventKind = "SMART_MONEY"
)

// RiskEvent 外部检测服务推送的风险事件
type RiskEvent struct {
	Chain types.ChainID `json:"chain"`
	Token string        `json:"token"`
	Kind  RiskEventKind `json:"kind"`
	Dev   types.DevFlag `json:"dev,omitempty"`
}

// ApplyRiskEvent 累积风险标记，已跟踪的代币立即重新评估（含 kill-switch）
func (e *Engine) ApplyRiskEvent(ctx context.Context, ev RiskEvent) bool {
	key := types.TokenKey(ev.Chain, ev.Token)

	e.mu.Lock()
	f := e.flags[key]
	switch ev.Kind {
	case RiskLPRemoval:
		f.LPRemoved = true
	case RiskDevTransfer:
		f.DevTransfer = true
	case RiskMEV:
		f.MEV = true
	case RiskFakePump:
		f.FakePump = true
	case RiskSmartMoney:
		f.SmartMoney = true
	case RiskDevFlag:
		if ev.Dev.Severity() >= f.Dev.Severity() {
			f.Dev = ev.Dev
		}
	default:
		e.mu.Unlock()
		logger.Warnf("[AlertEngine] unknown risk event kind %q for %s", ev.Kind, key)
		return false
	}
	e.flags[key] = f
	t, ok := e.tokens[key]
	e.mu.Unlock()

	if ok {
		e.evaluate(ctx, t)
	}
	return ok
}

// ApplyUpgradeSignal trade 层告警后的迟到信号
// 顺序：升级记录落盘 -> 推送升级通知 -> 标记 sniper 冷却
func (e *Engine) ApplyUpgradeSignal(ctx context.Context, sig UpgradeSignal) (UpgradeDecision, error) {
	if !e.TierEnabled(TierSniper) {
		return UpgradeDecision{}, ErrTierDisabled
	}
	key := types.TokenKey(sig.Chain, sig.Token)

	e.decideMu.Lock()
	defer e.decideMu.Unlock()

	d := e.upgrade.Evaluate(key, sig)
	if !d.Upgrade {
		return d, nil
	}
	w, _ := e.upgrade.Watching(key)
	rec, err := e.upgrade.Commit(key, d)
	if err != nil {
		return UpgradeDecision{}, err
	}

	p := &Payload{
		Kind:      KindUpgrade,
		Tier:      TierSniper,
		Chain:     rec.Chain,
		Token:     rec.Token,
		Pool:      w.Pool,
		Name:      w.Name,
		Symbol:    rec.Symbol,
		Level:     LevelSniper,
		Score:     rec.FinalScore,
		BaseScore: rec.BaseScore,
		Liquidity: w.LiquidityUSD,
		Breakdown: d.Breakdown,
		Reasons:   rec.Reasons,
		At:        e.now(),
	}
	e.dispatch(ctx, p)

	entry := CooldownEntry{Chain: string(rec.Chain), Symbol: rec.Symbol, Score: rec.FinalScore, Level: LevelSniper}
	if marked, err := e.stores[TierSniper].MarkAlerted(key, entry); err != nil {
		logger.Errorf("[AutoUpgrade] mark sniper cooldown for %s failed: %v", key, err)
	} else if marked {
		if saved, ok := e.stores[TierSniper].Get(key); ok {
			e.notifyMark(TierSniper, key, saved)
		}
	}

	e.mu.RLock()
	t, tracking := e.tokens[key]
	e.mu.RUnlock()
	if tracking {
		t.setStage(TierSniper, StageEscalated)
		t.mu.Lock()
		liq := t.liquidity
		t.mu.Unlock()
		mom := e.momentum.Evaluate(key)
		e.kill.Register(key, Baseline{
			Chain:             rec.Chain,
			Token:             rec.Token,
			Pool:              w.Pool,
			Symbol:            rec.Symbol,
			LiquidityUSD:      liq,
			Score:             rec.BaseScore,
			MomentumConfirmed: mom.Confirmed,
			Flags:             e.riskFlags(key),
		})
	}
	logger.Infof("[AutoUpgrade] %s upgraded %d -> %d", key, rec.BaseScore, rec.FinalScore)
	return d, nil
}
