package scanner

import (
	"context"
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/types"
	"errors"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

type fakeSource struct {
	mu         sync.Mutex
	ranges     [][2]uint64
	created    []*types.CandidatePool
	fetchErr   error
	inspectErr error
	reject     map[string]bool
	failRes    map[string]bool
	panicRes   map[string]bool
	resolved   []string
}

func (f *fakeSource) FetchCreations(ctx context.Context, from, to uint64) ([]*types.CandidatePool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, [2]uint64{from, to})
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]*types.CandidatePool, len(f.created))
	for i, c := range f.created {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

func (f *fakeSource) Inspect(ctx context.Context, c *types.CandidatePool) (bool, error) {
	if f.inspectErr != nil {
		return false, f.inspectErr
	}
	return !f.reject[c.Token], nil
}

func (f *fakeSource) Resolve(ctx context.Context, c *types.CandidatePool) error {
	if f.panicRes[c.Token] {
		panic("resolver blew up")
	}
	if f.failRes[c.Token] {
		return errors.New("reverted")
	}
	f.mu.Lock()
	f.resolved = append(f.resolved, c.Token)
	f.mu.Unlock()
	c.Metadata = &types.TokenMetadata{Symbol: c.Token}
	c.LiquidityUSD = 10_000
	return nil
}

func cand(token string, value float64) *types.CandidatePool {
	return &types.CandidatePool{Chain: "base", Token: token, Pool: "pool-" + token, DeployValue: value}
}

func newScanner(t *testing.T, cfg Config, src Source, budget *chain.CallBudget) *Scanner {
	s, err := New("base", cfg, src, budget, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestScanRangeCappedAndContinuous(t *testing.T) {
	src := &fakeSource{}
	s := newScanner(t, Config{MaxBlockRange: 2, StartupLookback: 100, ShortlistSize: 3}, src, nil)

	ctx := context.Background()
	for _, n := range []uint64{1000, 1000, 1001, 1010} {
		_, err := s.Scan(ctx, types.BlockSnapshot{Number: n})
		require.NoError(t, err)
	}

	assert.Equal(t, [][2]uint64{{999, 1000}, {1001, 1001}, {1009, 1010}}, src.ranges)
}

func TestStartupLookbackWithoutCap(t *testing.T) {
	src := &fakeSource{}
	s := newScanner(t, Config{StartupLookback: 5, ShortlistSize: 3}, src, nil)
	_, err := s.Scan(context.Background(), types.BlockSnapshot{Number: 50})
	require.NoError(t, err)
	assert.Equal(t, [][2]uint64{{46, 50}}, src.ranges)
}

func TestShortlistKeepsTopByDeployValue(t *testing.T) {
	src := &fakeSource{
		created: []*types.CandidatePool{
			cand("a", 0.5), cand("b", 3), cand("c", 1), cand("d", 2), cand("e", 9),
		},
		reject: map[string]bool{"e": true},
	}
	s := newScanner(t, Config{MaxBlockRange: 2, ShortlistSize: 3}, src, nil)

	out, err := s.Scan(context.Background(), types.BlockSnapshot{Number: 10})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"b", "d", "c"}, []string{out[0].Token, out[1].Token, out[2].Token})
	assert.ElementsMatch(t, []string{"b", "c", "d"}, src.resolved)
	for _, c := range out {
		assert.False(t, c.DiscoveredAt.IsZero())
	}

	st, ok := s.LastStats()
	require.True(t, ok)
	assert.Equal(t, 5, st.Logs)
	assert.Equal(t, 4, st.Inspected)
	assert.Equal(t, 3, st.Shortlisted)
	assert.Equal(t, 3, st.Resolved)
}

func TestResolveFailuresAreSkipped(t *testing.T) {
	src := &fakeSource{
		created:  []*types.CandidatePool{cand("a", 3), cand("b", 2), cand("c", 1)},
		failRes:  map[string]bool{"a": true},
		panicRes: map[string]bool{"b": true},
	}
	s := newScanner(t, Config{ShortlistSize: 3}, src, nil)

	out, err := s.Scan(context.Background(), types.BlockSnapshot{Number: 10})
	require.NoError(t, err, "single resolve failures do not fail the scan")
	require.Len(t, out, 1)
	assert.Equal(t, "c", out[0].Token)
}

func TestFetchFailureIsReportedAndRetried(t *testing.T) {
	rpcDown := errors.New("rpc down")
	src := &fakeSource{fetchErr: rpcDown}
	s := newScanner(t, Config{MaxBlockRange: 1, ShortlistSize: 1}, src, nil)

	out, err := s.Scan(context.Background(), types.BlockSnapshot{Number: 10})
	assert.Empty(t, out)
	assert.ErrorIs(t, err, rpcDown)

	src.fetchErr = nil
	_, err = s.Scan(context.Background(), types.BlockSnapshot{Number: 10})
	require.NoError(t, err)
	assert.Equal(t, [][2]uint64{{10, 10}, {10, 10}}, src.ranges)
}

func TestInspectBudgetFailureRescansRange(t *testing.T) {
	src := &fakeSource{
		created:    []*types.CandidatePool{cand("a", 1)},
		inspectErr: fmt.Errorf("tx lookup: %w", chain.ErrBudgetExhausted),
	}
	s := newScanner(t, Config{MaxBlockRange: 5, ShortlistSize: 1}, src, nil)

	_, err := s.Scan(context.Background(), types.BlockSnapshot{Number: 10})
	assert.ErrorIs(t, err, chain.ErrBudgetExhausted)

	src.inspectErr = nil
	out, err := s.Scan(context.Background(), types.BlockSnapshot{Number: 10})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, [][2]uint64{{10, 10}, {10, 10}}, src.ranges)
}

func TestPanicIsReportedAsFailure(t *testing.T) {
	s := newScanner(t, Config{ShortlistSize: 1}, panicSource{&fakeSource{}}, nil)

	out, err := s.Scan(context.Background(), types.BlockSnapshot{Number: 10})
	assert.Empty(t, out)
	assert.Error(t, err)
}

type panicSource struct{ *fakeSource }

func (panicSource) FetchCreations(ctx context.Context, from, to uint64) ([]*types.CandidatePool, error) {
	panic("decoder blew up")
}

func TestBudgetCooldownSkipsAllCalls(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	budget := chain.NewCallBudget("base", chain.BudgetConfig{DailyLimit: 10}, func() time.Time { return now })
	require.ErrorIs(t, budget.Spend(chain.StageLogs, 1, chain.CUPerCall), chain.ErrBudgetExhausted)

	src := &fakeSource{created: []*types.CandidatePool{cand("a", 1)}}
	s := newScanner(t, Config{ShortlistSize: 1}, src, budget)

	out, err := s.Scan(context.Background(), types.BlockSnapshot{Number: 10})
	assert.Empty(t, out)
	assert.ErrorIs(t, err, chain.ErrBudgetExhausted, "a skipped block is not a healthy scan")
	assert.Empty(t, src.ranges)
}
