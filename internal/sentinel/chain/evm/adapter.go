package evm

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/retry"
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/scanner"
	"dex-pool-sentinel/internal/sentinel/types"
	"errors"
	"fmt"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"math/big"
	"sync"
	"time"
)

const defaultCallTimeout = 10 * time.Second

// Adapter EVM 链的统一实现，不同链只在 Config 上有差异
type Adapter struct {
	cfg     Config
	dial    Dialer
	budget  *chain.CallBudget
	auditor chain.SecurityAuditor

	mu      sync.RWMutex
	rpc     RPC
	signer  gethtypes.Signer
	scanner *scanner.Scanner

	factories map[common.Address]types.DexVariant
	quotes    map[common.Address]QuoteToken
	denylist  map[common.Address]struct{}

	metaCache  *chain.ResolutionCache[*types.TokenMetadata]
	liqCache   *chain.ResolutionCache[chain.PoolQuote]
	quoteCache *chain.ResolutionCache[common.Address] // pool -> 计价代币
}

var _ chain.Adapter = (*Adapter)(nil)

func NewAdapter(cfg Config, budget *chain.CallBudget, auditor chain.SecurityAuditor, dial Dialer) (*Adapter, error) {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.MaxVolumeRange == 0 {
		cfg.MaxVolumeRange = 50
	}
	if cfg.MinDeployValue == nil {
		cfg.MinDeployValue = new(big.Int)
	}
	if dial == nil {
		dial = DialEthClient
	}

	a := &Adapter{
		cfg:        cfg,
		dial:       dial,
		budget:     budget,
		auditor:    auditor,
		factories:  make(map[common.Address]types.DexVariant, len(cfg.Factories)),
		quotes:     make(map[common.Address]QuoteToken, len(cfg.QuoteTokens)),
		denylist:   make(map[common.Address]struct{}, len(cfg.DeployerDenylist)),
		metaCache:  chain.NewResolutionCache[*types.TokenMetadata]("metadata"),
		liqCache:   chain.NewResolutionCache[chain.PoolQuote]("liquidity"),
		quoteCache: chain.NewResolutionCache[common.Address]("pool-quote"),
	}
	for _, f := range cfg.Factories {
		if !common.IsHexAddress(f.Address) {
			return nil, fmt.Errorf("%s: invalid factory address %q", cfg.Chain, f.Address)
		}
		a.factories[common.HexToAddress(f.Address)] = f.Dex
	}
	for _, q := range cfg.QuoteTokens {
		if !common.IsHexAddress(q.Address) {
			return nil, fmt.Errorf("%s: invalid quote token %q", cfg.Chain, q.Address)
		}
		a.quotes[common.HexToAddress(q.Address)] = q
	}
	for _, d := range cfg.DeployerDenylist {
		if common.IsHexAddress(d) {
			a.denylist[common.HexToAddress(d)] = struct{}{}
		}
	}
	if len(a.factories) == 0 {
		return nil, fmt.Errorf("%s: no factories configured", cfg.Chain)
	}
	if len(a.quotes) == 0 {
		return nil, fmt.Errorf("%s: no quote tokens configured", cfg.Chain)
	}

	sc, err := scanner.New(cfg.Chain, cfg.Scan, a, budget, nil)
	if err != nil {
		return nil, err
	}
	a.scanner = sc
	return a, nil
}

func (a *Adapter) Chain() types.ChainID      { return a.cfg.Chain }
func (a *Adapter) Kind() types.ChainKind     { return types.ChainKindEVM }
func (a *Adapter) Budget() *chain.CallBudget { return a.budget }
func (a *Adapter) Scanner() *scanner.Scanner { return a.scanner }
func (a *Adapter) Head() chain.HeadReader    { return headReader{a} }

// Connect 拨号并读取 chainId，用于本地恢复交易发送者
func (a *Adapter) Connect(ctx context.Context) error {
	cli, err := a.dial(ctx, a.cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.cfg.Chain, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	id, err := cli.ChainID(callCtx)
	cancel()
	if err != nil {
		cli.Close()
		return fmt.Errorf("%s chain id: %w", a.cfg.Chain, err)
	}
	_ = a.spend(chain.StageHead, 1, chain.CUPerCall)

	a.mu.Lock()
	a.rpc = cli
	a.signer = gethtypes.LatestSignerForChainID(id)
	a.mu.Unlock()

	logger.Infof("[EvmAdapter:%s] connected, chain id %s", a.cfg.Chain, id)
	return nil
}

func (a *Adapter) Close() {
	a.scanner.Close()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rpc != nil {
		a.rpc.Close()
		a.rpc = nil
	}
}

func (a *Adapter) client() (RPC, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.rpc == nil {
		return nil, chain.ErrNotConnected
	}
	return a.rpc, nil
}

func (a *Adapter) ScanNewPairs(ctx context.Context, snap types.BlockSnapshot) ([]*types.CandidatePool, error) {
	if _, err := a.client(); err != nil {
		return nil, err
	}
	return a.scanner.Scan(ctx, snap)
}

func (a *Adapter) spend(stage chain.Stage, calls, cu int) error {
	if a.budget == nil {
		return nil
	}
	return a.budget.Spend(stage, calls, cu)
}

// call 单次远程调用：限流、超时、按 cfg.Retry 重试、逐次计费
// 预算耗尽时不再重试
func call[T any](ctx context.Context, a *Adapter, stage chain.Stage, cu int, fn func(ctx context.Context, cli RPC) (T, error)) (T, error) {
	return callWith(ctx, a, a.cfg.Retry, stage, cu, fn)
}

func callWith[T any](ctx context.Context, a *Adapter, policy retry.Policy, stage chain.Stage, cu int, fn func(ctx context.Context, cli RPC) (T, error)) (T, error) {
	cli, err := a.client()
	if err != nil {
		var zero T
		return zero, err
	}
	return retry.DoValue(ctx, policy, func(ctx context.Context) (T, error) {
		var zero T
		if a.budget != nil {
			if err := a.budget.Wait(ctx); err != nil {
				return zero, retry.Permanent(err)
			}
		}
		if err := a.spend(stage, 1, cu); err != nil {
			return zero, retry.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		defer cancel()
		v, err := fn(callCtx, cli)
		if err != nil && errors.Is(err, context.Canceled) {
			return zero, retry.Permanent(err)
		}
		return v, err
	})
}

// headReader 只给 Bus 使用；每次轮询最多一次调用，下一个 tick 就是重试
type headReader struct{ a *Adapter }

func (h headReader) BlockNumber(ctx context.Context) (uint64, error) {
	return callWith(ctx, h.a, retry.NoRetry, chain.StageHead, chain.CUPerCall, func(ctx context.Context, cli RPC) (uint64, error) {
		return cli.BlockNumber(ctx)
	})
}

func (h headReader) BlockHeader(ctx context.Context, number uint64) (time.Time, string, error) {
	header, err := callWith(ctx, h.a, retry.NoRetry, chain.StageHead, chain.CUPerCall, func(ctx context.Context, cli RPC) (*gethtypes.Header, error) {
		return cli.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	})
	if err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(int64(header.Time), 0), header.Hash().Hex(), nil
}
