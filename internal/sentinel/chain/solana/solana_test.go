package solana

import (
	"context"
	"dex-pool-sentinel/internal/pkg/retry"
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/scanner"
	"dex-pool-sentinel/internal/sentinel/types"
	"encoding/binary"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

func key(b byte) string {
	var pk types.Pubkey
	for i := range pk {
		pk[i] = b
	}
	pk[0] = 0xA0 | (b & 0x0F)
	return pk.String()
}

var (
	raydiumProgram = key(1)
	pumpProgram    = key(2)
	creator        = key(3)
	ammAuthority   = key(4)
	quoteVault     = key(5)
	tokenVault     = key(6)
	newMint        = key(7)
	lpMint         = key(8)
	creatorLP      = key(9)
	pumpMint       = key(10)
	curve          = key(11)
	curveATA       = key(12)
	creatorATA     = key(13)
)

type fakeRPC struct {
	mu       sync.Mutex
	sigs     map[string][]SignatureInfo
	txs      map[string]*Transaction
	accounts map[string]Account
	untils   []string
	multi    int

	slotCalls int
	slotErr   error
	sigErr    error
}

func (f *fakeRPC) GetSlot(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slotCalls++
	if f.slotErr != nil {
		return 0, f.slotErr
	}
	return 250_000_000, nil
}

func (f *fakeRPC) GetBlockTime(ctx context.Context, slot uint64) (int64, error) {
	return 1_700_000_000, nil
}

func (f *fakeRPC) GetSignatures(ctx context.Context, address, until string, limit int) ([]SignatureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.untils = append(f.untils, address+"@"+until)
	if f.sigErr != nil {
		return nil, f.sigErr
	}
	var out []SignatureInfo
	for _, s := range f.sigs[address] {
		if s.Signature == until || len(out) == limit {
			break
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeRPC) GetTransaction(ctx context.Context, sig string) (*Transaction, error) {
	return f.txs[sig], nil
}

func (f *fakeRPC) GetMultipleAccounts(ctx context.Context, addrs []string) ([]Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.multi++
	out := make([]Account, len(addrs))
	for i, a := range addrs {
		out[i] = f.accounts[a]
	}
	return out, nil
}

func mintData(supply uint64, decimals uint8, mintAuthority, freeze bool) []byte {
	data := make([]byte, mintAccountLen)
	if mintAuthority {
		binary.LittleEndian.PutUint32(data[0:4], 1)
	}
	binary.LittleEndian.PutUint64(data[36:44], supply)
	data[44] = decimals
	data[45] = 1
	if freeze {
		binary.LittleEndian.PutUint32(data[46:50], 1)
	}
	return data
}

func tokenAccountData(t *testing.T, mint, owner string, amount uint64) []byte {
	t.Helper()
	m, err := types.TryPubkeyFromString(mint)
	require.NoError(t, err)
	o, err := types.TryPubkeyFromString(owner)
	require.NoError(t, err)
	data := make([]byte, 165)
	copy(data[0:32], m[:])
	copy(data[32:64], o[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	return data
}

func metadataData(name, symbol string) []byte {
	data := make([]byte, metadataNameOffset)
	data[0] = 4
	appendStr := func(s string, width int) {
		buf := make([]byte, 4+width)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(width))
		copy(buf[4:], s)
		data = append(data, buf...)
	}
	appendStr(name, 32)
	appendStr(symbol, 10)
	return data
}

func newFake(t *testing.T) *fakeRPC {
	f := &fakeRPC{
		sigs: map[string][]SignatureInfo{
			raydiumProgram: {{Signature: "sigR2", Slot: 12}, {Signature: "sigR1", Slot: 11, Failed: true}},
			pumpProgram:    {{Signature: "sigP1", Slot: 13}},
		},
		txs: map[string]*Transaction{
			"sigR2": {
				Signature:    "sigR2",
				Slot:         12,
				BlockTime:    1_700_000_100,
				Accounts:     []string{creator},
				Logs:         []string{"Program log: initialize2: InitializeInstruction2 { nonce: 254 }"},
				PreBalances:  []int64{20_000_000_000},
				PostBalances: []int64{9_000_000_000},
				TokenBalances: []TokenBalance{
					{Account: quoteVault, Mint: WrappedSOL, Owner: ammAuthority, Amount: 10_000_000_000, Decimals: 9},
					{Account: tokenVault, Mint: newMint, Owner: ammAuthority, Amount: 1_000_000_000_000, Decimals: 6},
					{Account: creatorLP, Mint: lpMint, Owner: creator, Amount: 9_000_000_000_000, Decimals: 9},
				},
			},
			"sigP1": {
				Signature:    "sigP1",
				Slot:         13,
				BlockTime:    1_700_000_200,
				Accounts:     []string{creator},
				Logs:         []string{"Program log: Instruction: Create"},
				PreBalances:  []int64{3_000_000_000},
				PostBalances: []int64{2_900_000_000},
				TokenBalances: []TokenBalance{
					{Account: creatorATA, Mint: pumpMint, Owner: creator, Amount: 200_000_000_000_000, Decimals: 6},
					{Account: curveATA, Mint: pumpMint, Owner: curve, Amount: 800_000_000_000_000, Decimals: 6},
				},
			},
		},
		accounts: map[string]Account{
			newMint:  {Data: mintData(1_000_000_000_000_000, 6, false, false)},
			pumpMint: {Data: mintData(1_000_000_000_000_000, 6, true, false)},
			curve:    {Lamports: 30_000_000_000},
		},
	}
	f.accounts[quoteVault] = Account{Data: tokenAccountData(t, WrappedSOL, ammAuthority, 10_000_000_000)}
	f.accounts[tokenVault] = Account{Data: tokenAccountData(t, newMint, ammAuthority, 1_000_000_000_000)}
	f.accounts[curveATA] = Account{Data: tokenAccountData(t, pumpMint, curve, 800_000_000_000_000)}

	pda, err := metadataAddress(newMint)
	require.NoError(t, err)
	f.accounts[pda] = Account{Data: metadataData("Moon Cat", "MOON")}
	return f
}

func newTestAdapter(t *testing.T, rpc RPC) *Adapter {
	t.Helper()
	cfg := Config{
		Chain: "solana",
		Programs: []Program{
			{Address: raydiumProgram, Dex: types.DexRaydiumAMM},
			{Address: pumpProgram, Dex: types.DexPumpFun},
		},
		QuoteMints:        []QuoteMint{{Mint: WrappedSOL, Symbol: "SOL", Decimals: 9, PriceUSD: 150}},
		SignatureLimit:    5,
		MinDeployLamports: 50_000_000,
		Retry:             retry.NoRetry,
		Scan:              scanner.Config{ShortlistSize: 3},
	}
	budget := chain.NewCallBudget("solana", chain.BudgetConfig{RPS: 1000, Burst: 1000}, nil)
	a, err := NewAdapter(cfg, rpc, budget, nil)
	require.NoError(t, err)
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(a.Close)
	return a
}

func TestScanDetectsRaydiumAndPumpFun(t *testing.T) {
	rpc := newFake(t)
	a := newTestAdapter(t, rpc)

	out, err := a.ScanNewPairs(context.Background(), types.BlockSnapshot{Chain: "solana", Number: 14})
	require.NoError(t, err)
	require.Len(t, out, 2)

	ray, pump := out[0], out[1]
	assert.Equal(t, types.DexRaydiumAMM, ray.Dex)
	assert.Equal(t, newMint, ray.Token)
	assert.Equal(t, quoteVault, ray.Pool)
	assert.Equal(t, creator, ray.Deployer)
	assert.Equal(t, 11.0, ray.DeployValue)
	assert.Equal(t, time.Unix(1_700_000_100, 0), ray.CreatedAt)
	require.NotNil(t, ray.Metadata)
	assert.Equal(t, "MOON", ray.Metadata.Symbol)
	assert.Equal(t, "Moon Cat", ray.Metadata.Name)
	assert.Equal(t, uint8(6), ray.Metadata.Decimals)
	assert.Equal(t, 3000.0, ray.LiquidityUSD)
	assert.InDelta(t, 0.0015, ray.PriceUSD, 1e-12)

	assert.Equal(t, types.DexPumpFun, pump.Dex)
	assert.Equal(t, pumpMint, pump.Token)
	assert.Equal(t, curveATA, pump.Pool)
	assert.Equal(t, 9000.0, pump.LiquidityUSD)
}

func TestScanReportsSignatureFailure(t *testing.T) {
	rpc := newFake(t)
	rpc.sigErr = errors.New("429 too many requests")
	a := newTestAdapter(t, rpc)

	out, err := a.ScanNewPairs(context.Background(), types.BlockSnapshot{Chain: "solana", Number: 14})
	assert.Empty(t, out)
	assert.ErrorIs(t, err, rpc.sigErr)

	rpc.mu.Lock()
	rpc.sigErr = nil
	rpc.mu.Unlock()
	out, err = a.ScanNewPairs(context.Background(), types.BlockSnapshot{Chain: "solana", Number: 15})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestSignatureCursorAndDedup(t *testing.T) {
	rpc := newFake(t)
	a := newTestAdapter(t, rpc)

	_, err := a.FetchCreations(context.Background(), 0, 0)
	require.NoError(t, err)
	out, err := a.FetchCreations(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, out)

	assert.Contains(t, rpc.untils, raydiumProgram+"@sigR2")
	assert.Contains(t, rpc.untils, pumpProgram+"@sigP1")
}

func TestInspectMinimumAndDenylist(t *testing.T) {
	a := newTestAdapter(t, newFake(t))
	keep, _ := a.Inspect(context.Background(), &types.CandidatePool{Deployer: creator, DeployValue: 0.01})
	assert.False(t, keep)
	keep, _ = a.Inspect(context.Background(), &types.CandidatePool{Deployer: creator, DeployValue: 1})
	assert.True(t, keep)

	a.denylist[creator] = struct{}{}
	keep, _ = a.Inspect(context.Background(), &types.CandidatePool{Deployer: creator, DeployValue: 1})
	assert.False(t, keep)
}

func TestMetadataResolvedOnce(t *testing.T) {
	rpc := newFake(t)
	a := newTestAdapter(t, rpc)
	for i := 0; i < 3; i++ {
		_, err := a.GetMetadata(context.Background(), newMint)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, rpc.multi)
}

func TestCheckSecurityReadsMintAuthorities(t *testing.T) {
	a := newTestAdapter(t, newFake(t))

	r, err := a.CheckSecurity(context.Background(), pumpMint)
	require.NoError(t, err)
	assert.True(t, r.Mintable)
	assert.False(t, r.Renounced)

	r, err = a.CheckSecurity(context.Background(), newMint)
	require.NoError(t, err)
	assert.False(t, r.Mintable)
	assert.False(t, r.Blacklist)
	assert.True(t, r.Renounced)
}

func TestQuoteCountsTradesSinceSlot(t *testing.T) {
	rpc := newFake(t)
	rpc.sigs[curveATA] = []SignatureInfo{{Signature: "t3", Slot: 30}, {Signature: "t2", Slot: 20}, {Signature: "t1", Slot: 10}}
	a := newTestAdapter(t, rpc)

	slotsBefore := rpc.slotCalls
	q, err := a.Quote(context.Background(), curveATA, pumpMint, 15, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, q.Trades)
	assert.Equal(t, uint64(30), q.Block)
	assert.Equal(t, 9000.0, q.LiquidityUSD)

	q, err = a.Quote(context.Background(), curveATA, pumpMint, 15, 25)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Trades, "trades past the bus head are not counted")
	assert.Equal(t, slotsBefore, rpc.slotCalls, "quote never reads the slot itself")
}

func TestSlotReaderDoesNotRetry(t *testing.T) {
	rpc := newFake(t)
	a := newTestAdapter(t, rpc)
	a.cfg.Retry = retry.Policy{MaxAttempts: 3}
	rpc.slotErr = errors.New("node behind")
	before := rpc.slotCalls

	_, err := a.Head().BlockNumber(context.Background())
	require.Error(t, err)
	assert.Equal(t, before+1, rpc.slotCalls)
}

func TestParseMetadataName(t *testing.T) {
	name, symbol, err := parseMetadataName(metadataData("Dog", "DOG"))
	require.NoError(t, err)
	assert.Equal(t, "Dog", name)
	assert.Equal(t, "DOG", symbol)

	_, _, err = parseMetadataName([]byte{1, 2, 3})
	assert.Error(t, err)
}
