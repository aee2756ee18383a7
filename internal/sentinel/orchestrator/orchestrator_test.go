package orchestrator

import (
	"context"
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/heat"
	"dex-pool-sentinel/internal/sentinel/registry"
	"dex-pool-sentinel/internal/sentinel/types"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

type scanAdapter struct {
	id      types.ChainID
	head    chain.HeadReader
	mu      sync.Mutex
	scanned []uint64
	result  []*types.CandidatePool
	scanErr error
}

func (s *scanAdapter) Chain() types.ChainID              { return s.id }
func (s *scanAdapter) Kind() types.ChainKind             { return types.ChainKindEVM }
func (s *scanAdapter) Connect(ctx context.Context) error { return nil }
func (s *scanAdapter) Head() chain.HeadReader            { return s.head }
func (s *scanAdapter) Budget() *chain.CallBudget         { return nil }
func (s *scanAdapter) ScanNewPairs(ctx context.Context, snap types.BlockSnapshot) ([]*types.CandidatePool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanned = append(s.scanned, snap.Number)
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	return s.result, nil
}
func (s *scanAdapter) GetMetadata(ctx context.Context, token string) (*types.TokenMetadata, error) {
	return nil, nil
}
func (s *scanAdapter) GetLiquidity(ctx context.Context, pool, token string) (float64, error) {
	return 0, nil
}
func (s *scanAdapter) Quote(ctx context.Context, pool, token string, since, head uint64) (chain.PoolQuote, error) {
	return chain.PoolQuote{}, nil
}
func (s *scanAdapter) CheckSecurity(ctx context.Context, token string) (*types.SecurityReport, error) {
	return nil, nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T, adapter *scanAdapter, clk *testClock) (*Orchestrator, *chainTask) {
	t.Helper()
	reg := registry.New()
	svc := registry.NewService(adapter, registry.ServiceOptions{
		ScanInterval: 25 * time.Second,
		Heat:         heat.DefaultConfig(),
		Now:          clk.now,
	})
	require.NoError(t, reg.Register(svc))
	o := New(reg, Options{QueueSize: 8, Now: clk.now})
	task, err := o.attach(svc)
	require.NoError(t, err)
	return o, task
}

func TestHandleBlockQueuesCandidatesAndReheats(t *testing.T) {
	clk := &testClock{t: time.Unix(1_700_000_000, 0)}
	adapter := &scanAdapter{id: "base", result: []*types.CandidatePool{
		{Chain: "base", Token: "0xa"}, {Chain: "base", Token: "0xb"},
	}}
	o, task := setup(t, adapter, clk)

	before := task.svc.Gate.Score()
	o.handleBlock(task, types.BlockSnapshot{Chain: "base", Number: 10})

	assert.Len(t, o.Candidates(), 2)
	assert.Equal(t, before+2*heat.WeightShortlisted, task.svc.Gate.Score())
	assert.Equal(t, int64(1), task.scans.Load())
	assert.Equal(t, uint64(10), task.lastBlock.Load())
}

func TestColdChainSkipsScan(t *testing.T) {
	clk := &testClock{t: time.Unix(1_700_000_000, 0)}
	adapter := &scanAdapter{id: "base"}
	o, task := setup(t, adapter, clk)

	clk.advance(9 * time.Minute)
	require.True(t, task.svc.Gate.IsCold())

	o.handleBlock(task, types.BlockSnapshot{Chain: "base", Number: 11})
	assert.Empty(t, adapter.scanned)
	assert.Equal(t, int64(1), task.coldSkips.Load())
	assert.Equal(t, clk.now().UnixMilli(), task.lastScan.Load())
}

func TestMailboxKeepsLatestSnapshot(t *testing.T) {
	task := &chainTask{mailbox: make(chan types.BlockSnapshot, 1)}
	task.offer(types.BlockSnapshot{Number: 1})
	task.offer(types.BlockSnapshot{Number: 2})
	task.offer(types.BlockSnapshot{Number: 3})

	require.Len(t, task.mailbox, 1)
	assert.Equal(t, uint64(3), (<-task.mailbox).Number)
}

func TestPausedOrchestratorDropsBlocks(t *testing.T) {
	clk := &testClock{t: time.Unix(1_700_000_000, 0)}
	head := &staticHead{n: 5}
	o, task := setup(t, &scanAdapter{id: "base", head: head}, clk)

	o.Pause()
	published, err := task.svc.Bus.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, published)
	assert.Empty(t, task.mailbox)

	o.Resume()
	head.n = 6
	_, err = task.svc.Bus.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, task.mailbox, 1)
	assert.Equal(t, uint64(6), (<-task.mailbox).Number)
}

func TestPausedOrchestratorIsNotReportedStalled(t *testing.T) {
	clk := &testClock{t: time.Unix(1_700_000_000, 0)}
	head := &staticHead{n: 5}
	o, task := setup(t, &scanAdapter{id: "base", head: head}, clk)
	rec := &recordingNotifier{}
	o.Monitor().AddNotifier(rec)

	o.Pause()
	for i := 0; i < 4; i++ {
		clk.advance(20 * time.Second)
		head.n++
		_, err := task.svc.Bus.Poll(context.Background())
		require.NoError(t, err)
	}
	assert.Empty(t, o.Monitor().Check())
	assert.Empty(t, rec.stalled)
	assert.False(t, o.Monitor().IsStalled("base"))

	// 恢复后重新计时，宽限期内不报停滞
	o.Resume()
	assert.Empty(t, o.Monitor().Check())
	clk.advance(56 * time.Second)
	assert.Equal(t, []types.ChainID{"base"}, o.Monitor().Check())
	require.Len(t, rec.stalled, 1)
}

func TestFailedScanDoesNotAdvanceHeartbeat(t *testing.T) {
	clk := &testClock{t: time.Unix(1_700_000_000, 0)}
	adapter := &scanAdapter{id: "base", scanErr: fmt.Errorf("fetch creations: %w", chain.ErrBudgetExhausted)}
	o, task := setup(t, adapter, clk)
	started := task.lastScan.Load()

	for n := uint64(10); n < 14; n++ {
		clk.advance(20 * time.Second)
		o.handleBlock(task, types.BlockSnapshot{Chain: "base", Number: n})
	}
	assert.Len(t, adapter.scanned, 4)
	assert.Zero(t, task.scans.Load())
	assert.Equal(t, int64(4), task.failures.Load())
	assert.Equal(t, started, task.lastScan.Load())
	assert.Zero(t, task.lastBlock.Load())
	assert.Equal(t, []types.ChainID{"base"}, o.Monitor().Check())

	adapter.mu.Lock()
	adapter.scanErr = nil
	adapter.mu.Unlock()
	o.handleBlock(task, types.BlockSnapshot{Chain: "base", Number: 14})
	assert.Empty(t, o.Monitor().Check())
	assert.Equal(t, int64(4), o.Status()["base"].Failures)
}

type staticHead struct{ n uint64 }

func (h *staticHead) BlockNumber(ctx context.Context) (uint64, error) { return h.n, nil }
func (h *staticHead) BlockHeader(ctx context.Context, n uint64) (time.Time, string, error) {
	return time.Unix(1_700_000_000, 0), "", nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	stalled   []StallNotice
	recovered []types.ChainID
}

func (r *recordingNotifier) OnChainStalled(n StallNotice) {
	r.mu.Lock()
	r.stalled = append(r.stalled, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) OnChainRecovered(id types.ChainID) {
	r.mu.Lock()
	r.recovered = append(r.recovered, id)
	r.mu.Unlock()
}

type fakeBeats struct {
	mu    sync.Mutex
	beats map[types.ChainID]heartbeat
}

func (f *fakeBeats) paused() bool { return false }

func (f *fakeBeats) heartbeats() map[types.ChainID]heartbeat {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[types.ChainID]heartbeat, len(f.beats))
	for k, v := range f.beats {
		out[k] = v
	}
	return out
}

func TestHealthMonitorStallAndRecovery(t *testing.T) {
	clk := &testClock{t: time.Unix(1_700_000_000, 0)}
	beats := &fakeBeats{beats: map[types.ChainID]heartbeat{
		"base":     {last: clk.now(), interval: 25 * time.Second},
		"ethereum": {last: clk.now(), interval: 52 * time.Second},
	}}
	rec := &recordingNotifier{}
	m := NewHealthMonitor(beats, 0, 0, clk.now, rec)

	clk.advance(54 * time.Second)
	assert.Empty(t, m.Check())

	clk.advance(2 * time.Second)
	assert.Equal(t, []types.ChainID{"base"}, m.Check())
	require.Len(t, rec.stalled, 1)
	assert.Equal(t, StalledKind, rec.stalled[0].Kind)
	assert.Equal(t, types.ChainID("base"), rec.stalled[0].Chain)
	assert.True(t, m.IsStalled("base"))

	// 持续停滞不重复通知
	clk.advance(10 * time.Second)
	m.Check()
	assert.Len(t, rec.stalled, 1)

	beats.mu.Lock()
	beats.beats["base"] = heartbeat{last: clk.now(), interval: 25 * time.Second}
	beats.mu.Unlock()
	m.Check()
	assert.Equal(t, []types.ChainID{"base"}, rec.recovered)
	assert.False(t, m.IsStalled("base"))
}
