package registry

import (
	"context"
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/types"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type stubAdapter struct {
	id         types.ChainID
	connectErr error
}

func (s *stubAdapter) Chain() types.ChainID              { return s.id }
func (s *stubAdapter) Kind() types.ChainKind             { return types.ChainKindEVM }
func (s *stubAdapter) Connect(ctx context.Context) error { return s.connectErr }
func (s *stubAdapter) Head() chain.HeadReader            { return nil }
func (s *stubAdapter) Budget() *chain.CallBudget         { return nil }
func (s *stubAdapter) ScanNewPairs(ctx context.Context, snap types.BlockSnapshot) ([]*types.CandidatePool, error) {
	return nil, nil
}
func (s *stubAdapter) GetMetadata(ctx context.Context, token string) (*types.TokenMetadata, error) {
	return nil, nil
}
func (s *stubAdapter) GetLiquidity(ctx context.Context, pool, token string) (float64, error) {
	return 0, nil
}
func (s *stubAdapter) Quote(ctx context.Context, pool, token string, since, head uint64) (chain.PoolQuote, error) {
	return chain.PoolQuote{}, nil
}
func (s *stubAdapter) CheckSecurity(ctx context.Context, token string) (*types.SecurityReport, error) {
	return nil, nil
}

func TestConnectAllExcludesFailedChains(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(NewService(&stubAdapter{id: "base"}, ServiceOptions{ScanInterval: time.Second})))
	require.NoError(t, r.Register(NewService(&stubAdapter{id: "ethereum", connectErr: errors.New("bad url")}, ServiceOptions{ScanInterval: time.Second})))
	require.NoError(t, r.Register(NewDisabledService("solana", "no rpc key")))

	assert.Error(t, r.Register(NewDisabledService("base", "dup")))

	n := r.ConnectAll(context.Background(), time.Second)
	assert.Equal(t, 1, n)

	connected := r.Connected()
	require.Len(t, connected, 1)
	assert.Equal(t, types.ChainID("base"), connected[0].Chain)

	eth, ok := r.Get("ethereum")
	require.True(t, ok)
	st, reason := eth.State()
	assert.Equal(t, types.StateExcluded, st)
	assert.Contains(t, reason, "bad url")

	sol, _ := r.Get("solana")
	st, reason = sol.State()
	assert.Equal(t, types.StateDisabled, st)
	assert.Equal(t, "no rpc key", reason)

	all := r.All()
	assert.Equal(t, []types.ChainID{"base", "ethereum", "solana"}, []types.ChainID{all[0].Chain, all[1].Chain, all[2].Chain})
}
