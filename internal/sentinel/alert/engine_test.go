package alert

import (
	"context"
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/heat"
	"dex-pool-sentinel/internal/sentinel/registry"
	"dex-pool-sentinel/internal/sentinel/types"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

type quoteAdapter struct {
	mu       sync.Mutex
	quotes   []chain.PoolQuote
	security *types.SecurityReport
	tip      uint64
	ranges   [][2]uint64
}

type quoteHead struct{ a *quoteAdapter }

func (h quoteHead) BlockNumber(ctx context.Context) (uint64, error) {
	h.a.mu.Lock()
	defer h.a.mu.Unlock()
	return h.a.tip, nil
}

func (h quoteHead) BlockHeader(ctx context.Context, number uint64) (time.Time, string, error) {
	return time.Time{}, "", nil
}

func (a *quoteAdapter) Chain() types.ChainID              { return "base" }
func (a *quoteAdapter) Kind() types.ChainKind             { return types.ChainKindEVM }
func (a *quoteAdapter) Connect(ctx context.Context) error { return nil }
func (a *quoteAdapter) Head() chain.HeadReader            { return quoteHead{a} }
func (a *quoteAdapter) Budget() *chain.CallBudget         { return nil }
func (a *quoteAdapter) ScanNewPairs(ctx context.Context, snap types.BlockSnapshot) ([]*types.CandidatePool, error) {
	return nil, nil
}
func (a *quoteAdapter) GetMetadata(ctx context.Context, token string) (*types.TokenMetadata, error) {
	return nil, nil
}
func (a *quoteAdapter) GetLiquidity(ctx context.Context, pool, token string) (float64, error) {
	return 0, nil
}
func (a *quoteAdapter) Quote(ctx context.Context, pool, token string, since, head uint64) (chain.PoolQuote, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ranges = append(a.ranges, [2]uint64{since, head})
	if len(a.quotes) == 0 {
		return chain.PoolQuote{}, errors.New("no quote")
	}
	q := a.quotes[0]
	a.quotes = a.quotes[1:]
	return q, nil
}
func (a *quoteAdapter) CheckSecurity(ctx context.Context, token string) (*types.SecurityReport, error) {
	if a.security == nil {
		return nil, errors.New("audit unavailable")
	}
	return a.security, nil
}

type recorder struct {
	mu       sync.Mutex
	payloads []*Payload
}

func (r *recorder) Dispatch(ctx context.Context, p *Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	return nil
}

func (r *recorder) all() []*Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Payload(nil), r.payloads...)
}

func newTestEngine(t *testing.T, adapter *quoteAdapter, clk *fakeClock) (*Engine, *recorder, *registry.Service) {
	t.Helper()
	reg := registry.New()
	svc := registry.NewService(adapter, registry.ServiceOptions{
		ScanInterval:    25 * time.Second,
		MinLiquidityUSD: 5_000,
		Heat:            heat.DefaultConfig(),
		Now:             clk.Now,
	})
	require.NoError(t, reg.Register(svc))

	cfg := DefaultConfig()
	cfg.StoreDir = t.TempDir()
	rec := &recorder{}
	e, err := NewEngine(cfg, reg, rec, clk.Now)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, rec, svc
}

func candidate(clk *fakeClock, liquidity float64) *types.CandidatePool {
	return &types.CandidatePool{
		Chain:          "base",
		Pool:           "0xpool",
		Token:          "0xToken",
		DiscoveryBlock: 100,
		CreatedAt:      clk.Now(),
		DiscoveredAt:   clk.Now(),
		Metadata:       &types.TokenMetadata{Name: "Test", Symbol: "TST", Decimals: 18, TotalSupply: 1e9},
		LiquidityUSD:   liquidity,
		PriceUSD:       0.001,
	}
}

func TestEngineSniperAfterMomentumThenKill(t *testing.T) {
	clk := newClock()
	adapter := &quoteAdapter{
		security: safeSecurity(),
		quotes: []chain.PoolQuote{
			{Block: 102, LiquidityUSD: 25_000, PriceUSD: 0.001, VolumeUSD: 500},
			{Block: 104, LiquidityUSD: 25_000, PriceUSD: 0.0011, VolumeUSD: 800},
		},
	}
	e, rec, svc := newTestEngine(t, adapter, clk)
	ctx := context.Background()
	heatBefore := svc.Gate.Score()

	require.NoError(t, e.HandleCandidate(ctx, candidate(clk, 25_000)))
	assert.Empty(t, rec.all(), "waits for momentum instead of downgrading")

	clk.Advance(20 * time.Second)
	e.Refresh(ctx)
	assert.Empty(t, rec.all())

	clk.Advance(20 * time.Second)
	stats := e.Refresh(ctx)
	assert.Equal(t, 1, stats.Quoted)

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, KindAlert, got[0].Kind)
	assert.Equal(t, TierSniper, got[0].Tier)
	assert.Equal(t, LevelSniper, got[0].Level)
	assert.Equal(t, 80, got[0].Score)
	assert.Equal(t, "ACCEPTABLE", got[0].RiskLevel)
	assert.Len(t, got[0].Passed, 7)
	assert.Greater(t, svc.Gate.Score(), heatBefore)

	key := types.TokenKey("base", "0xToken")
	sniperStore, _ := e.Store(TierSniper)
	assert.True(t, sniperStore.IsOnCooldown(key))
	_, watched := e.KillSwitch().Get(key)
	assert.True(t, watched)

	assert.True(t, e.ApplyRiskEvent(ctx, RiskEvent{Chain: "base", Token: "0xtoken", Kind: RiskLPRemoval}))
	got = rec.all()
	require.Len(t, got, 2)
	assert.Equal(t, KindCancelled, got[1].Kind)
	assert.Equal(t, []string{string(KillLPRemoval)}, got[1].Reasons)
	_, watched = e.KillSwitch().Get(key)
	assert.False(t, watched)

	// 已 sniper 的代币不会再次告警
	require.NoError(t, e.HandleCandidate(ctx, candidate(clk, 25_000)))
	for _, p := range rec.all()[2:] {
		assert.NotEqual(t, TierSniper, p.Tier)
	}
}

func TestRefreshQuotesUpToBusHead(t *testing.T) {
	clk := newClock()
	adapter := &quoteAdapter{
		security: safeSecurity(),
		quotes: []chain.PoolQuote{
			{Block: 100, LiquidityUSD: 25_000, PriceUSD: 0.001},
			{Block: 110, LiquidityUSD: 25_000, PriceUSD: 0.001, VolumeUSD: 300},
		},
	}
	e, _, svc := newTestEngine(t, adapter, clk)
	ctx := context.Background()
	require.NoError(t, e.HandleCandidate(ctx, candidate(clk, 25_000)))

	// 总线尚未发布区块时 head 为 0，不统计成交
	clk.Advance(20 * time.Second)
	e.Refresh(ctx)

	adapter.mu.Lock()
	adapter.tip = 110
	adapter.mu.Unlock()
	published, err := svc.Bus.Poll(ctx)
	require.NoError(t, err)
	require.True(t, published)

	clk.Advance(20 * time.Second)
	e.Refresh(ctx)

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	assert.Equal(t, [][2]uint64{{100, 0}, {100, 110}}, adapter.ranges)
}

func TestEngineDowngradeToTradeThenUpgrade(t *testing.T) {
	clk := newClock()
	adapter := &quoteAdapter{security: safeSecurity()}
	e, rec, _ := newTestEngine(t, adapter, clk)
	ctx := context.Background()

	require.NoError(t, e.HandleCandidate(ctx, candidate(clk, 7_500)))
	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, TierTrade, got[0].Tier)
	assert.Equal(t, LevelWatch, got[0].Level)
	assert.Equal(t, 65, got[0].Score)
	assert.Contains(t, got[0].Failed, CondLiquidity)
	assert.Contains(t, got[0].Failed, CondMomentum)

	clk.Advance(time.Minute)
	require.NoError(t, e.HandleCandidate(ctx, candidate(clk, 7_500)))
	assert.Len(t, rec.all(), 1, "trade tier re-alert window")

	d, err := e.ApplyUpgradeSignal(ctx, UpgradeSignal{Chain: "base", Token: "0xToken", PriorityScore: 10, PriorityReasons: []string{"priority fee"}})
	require.NoError(t, err)
	assert.False(t, d.Upgrade)
	assert.Equal(t, 75, d.FinalScore)

	d, err = e.ApplyUpgradeSignal(ctx, UpgradeSignal{Chain: "base", Token: "0xToken", PriorityScore: 20, PriorityReasons: []string{"priority fee"}})
	require.NoError(t, err)
	assert.True(t, d.Upgrade)
	assert.Equal(t, 85, d.FinalScore)

	got = rec.all()
	require.Len(t, got, 2)
	assert.Equal(t, KindUpgrade, got[1].Kind)
	assert.Equal(t, TierSniper, got[1].Tier)
	assert.Equal(t, []string{"priority fee"}, got[1].Reasons)

	key := types.TokenKey("base", "0xToken")
	assert.True(t, e.Upgrades().Upgraded(key))
	sniperStore, _ := e.Store(TierSniper)
	assert.True(t, sniperStore.IsOnCooldown(key))

	d, err = e.ApplyUpgradeSignal(ctx, UpgradeSignal{Chain: "base", Token: "0xToken", PriorityScore: 20, PriorityReasons: []string{"again"}})
	require.NoError(t, err)
	assert.False(t, d.Upgrade)
	assert.Len(t, rec.all(), 2, "upgrade notice is emitted once")
}

func TestEngineTierToggle(t *testing.T) {
	clk := newClock()
	e, rec, _ := newTestEngine(t, &quoteAdapter{security: safeSecurity()}, clk)

	require.NoError(t, e.SetTierEnabled(TierTrade, false))
	assert.False(t, e.Tiers()[TierTrade])
	assert.ErrorIs(t, e.SetTierEnabled("bogus", true), ErrUnknownTier)

	require.NoError(t, e.HandleCandidate(context.Background(), candidate(clk, 7_500)))
	assert.Empty(t, rec.all())

	require.NoError(t, e.SetTierEnabled(TierSniper, false))
	_, err := e.ApplyUpgradeSignal(context.Background(), UpgradeSignal{Chain: "base", Token: "0xToken"})
	assert.ErrorIs(t, err, ErrTierDisabled)
}

func TestEngineMarkListenerAndUnknownChain(t *testing.T) {
	clk := newClock()
	e, _, _ := newTestEngine(t, &quoteAdapter{}, clk)

	var marks []Tier
	e.SetMarkListener(func(tier Tier, key string, entry CooldownEntry) {
		marks = append(marks, tier)
		assert.Equal(t, clk.Now().Unix(), entry.Timestamp)
	})

	// 审计失败时使用保守默认值，分数不足不会告警
	require.NoError(t, e.HandleCandidate(context.Background(), candidate(clk, 7_500)))
	assert.Empty(t, marks)

	c := candidate(clk, 7_500)
	c.Chain = "solana"
	assert.Error(t, e.HandleCandidate(context.Background(), c))

	require.NoError(t, e.ApplyMark(TierTrade, "base:0xabc", CooldownEntry{Timestamp: clk.Now().Unix()}))
	s, _ := e.Store(TierTrade)
	assert.True(t, s.IsOnCooldown("base:0xabc"))
}

func TestEngineInspect(t *testing.T) {
	clk := newClock()
	e, _, _ := newTestEngine(t, &quoteAdapter{security: safeSecurity()}, clk)

	_, ok := e.Inspect("base", "0xToken")
	assert.False(t, ok)

	require.NoError(t, e.HandleCandidate(context.Background(), candidate(clk, 7_500)))
	st, ok := e.Inspect("base", "0xTOKEN")
	require.True(t, ok)
	assert.Equal(t, "TST", st.Symbol)
	assert.Equal(t, 65, st.BaseScore)
	assert.Equal(t, StageCooldown, st.Stages[TierTrade])
	assert.Equal(t, StageScored, st.Stages[TierSniper])
	assert.Equal(t, StageDiscovered, st.Stages[TierRunning])
	assert.True(t, st.Momentum.Pending)
}

func TestExpiredTokenKeepsFinalStages(t *testing.T) {
	clk := newClock()
	e, _, _ := newTestEngine(t, &quoteAdapter{security: safeSecurity()}, clk)
	ctx := context.Background()

	require.NoError(t, e.HandleCandidate(ctx, candidate(clk, 7_500)))
	e.mu.RLock()
	tr := e.tokens[types.TokenKey("base", "0xToken")]
	e.mu.RUnlock()
	require.NotNil(t, tr)
	tr.setStage(TierRunning, StageCancelled)

	clk.Advance(e.cfg.TrackFor + time.Minute)
	stats := e.Refresh(ctx)
	assert.Equal(t, 1, stats.Expired)
	assert.Zero(t, e.Tracked())

	st, ok := e.Inspect("base", "0xToken")
	require.True(t, ok)
	assert.Equal(t, StageExpired, st.Stages[TierTrade])
	assert.Equal(t, StageExpired, st.Stages[TierSniper])
	assert.Equal(t, StageCancelled, st.Stages[TierRunning], "terminal stages are kept")

	// 重新发现后从头跟踪
	require.NoError(t, e.HandleCandidate(ctx, candidate(clk, 7_500)))
	st, ok = e.Inspect("base", "0xToken")
	require.True(t, ok)
	assert.NotEqual(t, StageExpired, st.Stages[TierSniper])
}
