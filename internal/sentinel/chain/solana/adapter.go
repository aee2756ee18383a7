package solana

import (
	"context"
	"dex-pool-sentinel/internal/pkg/dedup"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/retry"
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/scanner"
	"dex-pool-sentinel/internal/sentinel/types"
	"errors"
	"fmt"
	"github.com/panjf2000/ants/v2"
	"sync"
	"time"
)

const (
	defaultCallTimeout    = 10 * time.Second
	defaultSignatureLimit = 5
	defaultFetchWorkers   = 4
	seenSignatureCapacity = 2000
	quoteTradeLimit       = 20
)

// Adapter Solana 实现：按程序地址拉取新签名，通过交易日志识别建池
type Adapter struct {
	cfg     Config
	rpc     RPC
	budget  *chain.CallBudget
	auditor chain.SecurityAuditor
	scanner *scanner.Scanner
	pool    *ants.Pool

	quotes   map[string]QuoteMint
	programs map[string]types.DexVariant
	denylist map[string]struct{}

	connected bool
	mu        sync.Mutex
	cursors   map[string]string // program -> 最新签名
	seen      *dedup.StringSet

	// 报价时需要同时读取池子另一侧的账户
	companions sync.Map // pool -> companion account

	metaCache *chain.ResolutionCache[*types.TokenMetadata]
	liqCache  *chain.ResolutionCache[chain.PoolQuote]
}

var _ chain.Adapter = (*Adapter)(nil)

func NewAdapter(cfg Config, rpc RPC, budget *chain.CallBudget, auditor chain.SecurityAuditor) (*Adapter, error) {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.SignatureLimit <= 0 {
		cfg.SignatureLimit = defaultSignatureLimit
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = defaultFetchWorkers
	}
	if len(cfg.Programs) == 0 {
		return nil, fmt.Errorf("%s: no programs configured", cfg.Chain)
	}
	if rpc == nil {
		rpc = NewBloctoRPC(cfg.RPCURL)
	}

	a := &Adapter{
		cfg:       cfg,
		rpc:       rpc,
		budget:    budget,
		auditor:   auditor,
		quotes:    make(map[string]QuoteMint, len(cfg.QuoteMints)+1),
		programs:  make(map[string]types.DexVariant, len(cfg.Programs)),
		denylist:  make(map[string]struct{}, len(cfg.DeployerDenylist)),
		cursors:   make(map[string]string),
		seen:      dedup.NewStringSet(seenSignatureCapacity),
		metaCache: chain.NewResolutionCache[*types.TokenMetadata]("metadata"),
		liqCache:  chain.NewResolutionCache[chain.PoolQuote]("liquidity"),
	}
	for _, p := range cfg.Programs {
		if !types.IsSolanaAddress(p.Address) {
			return nil, fmt.Errorf("%s: invalid program %q", cfg.Chain, p.Address)
		}
		a.programs[p.Address] = p.Dex
	}
	for _, q := range cfg.QuoteMints {
		a.quotes[q.Mint] = q
	}
	if _, ok := a.quotes[WrappedSOL]; !ok {
		return nil, fmt.Errorf("%s: quote mints must include wrapped SOL", cfg.Chain)
	}
	for _, d := range cfg.DeployerDenylist {
		a.denylist[d] = struct{}{}
	}

	pool, err := ants.NewPool(cfg.FetchWorkers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create fetch pool: %w", err)
	}
	a.pool = pool

	sc, err := scanner.New(cfg.Chain, cfg.Scan, a, budget, nil)
	if err != nil {
		pool.Release()
		return nil, err
	}
	a.scanner = sc
	return a, nil
}

func (a *Adapter) Chain() types.ChainID      { return a.cfg.Chain }
func (a *Adapter) Kind() types.ChainKind     { return types.ChainKindSolana }
func (a *Adapter) Budget() *chain.CallBudget { return a.budget }
func (a *Adapter) Scanner() *scanner.Scanner { return a.scanner }
func (a *Adapter) Head() chain.HeadReader    { return slotReader{a} }

// Connect 以一次 getSlot 验证连通性
func (a *Adapter) Connect(ctx context.Context) error {
	slot, err := call(ctx, a, chain.StageHead, func(ctx context.Context) (uint64, error) {
		return a.rpc.GetSlot(ctx)
	})
	if err != nil {
		return fmt.Errorf("connect %s: %w", a.cfg.Chain, err)
	}
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	logger.Infof("[SolanaAdapter:%s] connected, slot %d", a.cfg.Chain, slot)
	return nil
}

func (a *Adapter) Close() {
	a.scanner.Close()
	a.pool.Release()
}

func (a *Adapter) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) ScanNewPairs(ctx context.Context, snap types.BlockSnapshot) ([]*types.CandidatePool, error) {
	if !a.isConnected() {
		return nil, chain.ErrNotConnected
	}
	return a.scanner.Scan(ctx, snap)
}

func call[T any](ctx context.Context, a *Adapter, stage chain.Stage, fn func(ctx context.Context) (T, error)) (T, error) {
	return callWith(ctx, a, a.cfg.Retry, stage, fn)
}

func callWith[T any](ctx context.Context, a *Adapter, policy retry.Policy, stage chain.Stage, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoValue(ctx, policy, func(ctx context.Context) (T, error) {
		var zero T
		if a.budget != nil {
			if err := a.budget.Wait(ctx); err != nil {
				return zero, retry.Permanent(err)
			}
			if err := a.budget.Spend(stage, 1, chain.CUPerCall); err != nil {
				return zero, retry.Permanent(err)
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		defer cancel()
		v, err := fn(callCtx)
		if err != nil && errors.Is(err, context.Canceled) {
			return zero, retry.Permanent(err)
		}
		return v, err
	})
}

// slotReader 只给 Bus 使用，不重试，失败留给下一个 tick
type slotReader struct{ a *Adapter }

func (s slotReader) BlockNumber(ctx context.Context) (uint64, error) {
	return callWith(ctx, s.a, retry.NoRetry, chain.StageHead, func(ctx context.Context) (uint64, error) {
		return s.a.rpc.GetSlot(ctx)
	})
}

func (s slotReader) BlockHeader(ctx context.Context, slot uint64) (time.Time, string, error) {
	ts, err := callWith(ctx, s.a, retry.NoRetry, chain.StageHead, func(ctx context.Context) (int64, error) {
		return s.a.rpc.GetBlockTime(ctx, slot)
	})
	if err != nil {
		return time.Time{}, "", err
	}
	if ts <= 0 {
		return time.Time{}, "", nil
	}
	return time.Unix(ts, 0), "", nil
}
