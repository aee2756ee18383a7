package solana

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/types"
	"fmt"
	"github.com/blocto/solana-go-sdk/common"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"
)

// 建池指令在程序日志里的标记
var creationMarkers = map[types.DexVariant]string{
	types.DexRaydiumAMM: "initialize2",
	types.DexPumpFun:    "Instruction: Create",
}

// FetchCreations Solana 没有区块范围查询，按程序地址从上次游标之后拉取签名
func (a *Adapter) FetchCreations(ctx context.Context, _, _ uint64) ([]*types.CandidatePool, error) {
	programs := make([]string, 0, len(a.programs))
	for p := range a.programs {
		programs = append(programs, p)
	}
	sort.Strings(programs)

	var (
		pending []string
		errs    []error
	)
	for _, program := range programs {
		a.mu.Lock()
		until := a.cursors[program]
		a.mu.Unlock()

		sigs, err := call(ctx, a, chain.StageLogs, func(ctx context.Context) ([]SignatureInfo, error) {
			return a.rpc.GetSignatures(ctx, program, until, a.cfg.SignatureLimit)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("signatures %s: %w", program, err))
			continue
		}
		if len(sigs) > 0 {
			a.mu.Lock()
			a.cursors[program] = sigs[0].Signature
			a.mu.Unlock()
		}
		for _, s := range sigs {
			if s.Failed || !a.seen.Add(s.Signature) {
				continue
			}
			pending = append(pending, s.Signature)
		}
	}
	if len(errs) == len(programs) {
		return nil, errs[0]
	}

	txs := a.fetchTransactions(ctx, pending)
	out := make([]*types.CandidatePool, 0, len(txs))
	for _, tx := range txs {
		if c := a.parseCreation(tx); c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// fetchTransactions 并发拉取交易，单条失败跳过
func (a *Adapter) fetchTransactions(ctx context.Context, sigs []string) []*Transaction {
	results := make([]*Transaction, len(sigs))

	var wg sync.WaitGroup
	for i, sig := range sigs {
		i, sig := i, sig
		wg.Add(1)
		err := a.pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("[SolanaAdapter:%s] fetch %s panicked: %v\n%s", a.cfg.Chain, sig, r, string(debug.Stack()))
				}
			}()
			tx, err := call(ctx, a, chain.StageHeuristics, func(ctx context.Context) (*Transaction, error) {
				return a.rpc.GetTransaction(ctx, sig)
			})
			if err != nil {
				logger.Debugf("[SolanaAdapter:%s] transaction %s failed: %v", a.cfg.Chain, sig, err)
				return
			}
			results[i] = tx
		})
		if err != nil {
			wg.Done()
			logger.Warnf("[SolanaAdapter:%s] submit fetch %s failed: %v", a.cfg.Chain, sig, err)
		}
	}
	wg.Wait()

	out := make([]*Transaction, 0, len(results))
	for _, tx := range results {
		if tx != nil && !tx.Failed {
			out = append(out, tx)
		}
	}
	return out
}

// parseCreation 通过日志识别建池交易
// Raydium 以计价代币金库作为池子标识，新代币取同一 owner 持有的非计价 mint（排除 LP mint）；
// pump.fun 没有计价代币账户，以持有新代币最多的 bonding curve 账户作为标识
func (a *Adapter) parseCreation(tx *Transaction) *types.CandidatePool {
	dex, ok := a.detectDex(tx)
	if !ok {
		return nil
	}

	var vault *TokenBalance
	for i := range tx.TokenBalances {
		b := &tx.TokenBalances[i]
		if _, isQuote := a.quotes[b.Mint]; isQuote && b.Account != "" {
			if vault == nil || b.Amount > vault.Amount {
				vault = b
			}
		}
	}

	var side *TokenBalance
	for i := range tx.TokenBalances {
		b := &tx.TokenBalances[i]
		if _, isQuote := a.quotes[b.Mint]; isQuote || b.Mint == "" || b.Account == "" {
			continue
		}
		if vault != nil && b.Owner != vault.Owner {
			continue
		}
		if side == nil || b.Amount > side.Amount {
			side = b
		}
	}
	if side == nil {
		return nil
	}

	c := &types.CandidatePool{
		Chain:          a.cfg.Chain,
		Pool:           side.Account,
		Token:          side.Mint,
		QuoteToken:     WrappedSOL,
		Dex:            dex,
		DiscoveryBlock: tx.Slot,
		TxHash:         tx.Signature,
	}
	if vault != nil {
		c.Pool = vault.Account
		c.QuoteToken = vault.Mint
		a.companions.Store(vault.Account, side.Account)
	}
	if tx.BlockTime > 0 {
		c.CreatedAt = time.Unix(tx.BlockTime, 0)
	}
	if len(tx.Accounts) > 0 {
		c.Deployer = tx.Accounts[0]
	}
	if len(tx.PreBalances) > 0 && len(tx.PostBalances) > 0 {
		if spent := tx.PreBalances[0] - tx.PostBalances[0]; spent > 0 {
			c.DeployValue = float64(spent) / lamportsPerSOL
		}
	}
	return c
}

func (a *Adapter) detectDex(tx *Transaction) (types.DexVariant, bool) {
	for _, line := range tx.Logs {
		for dex, marker := range creationMarkers {
			if strings.Contains(line, marker) && a.watches(dex) {
				return dex, true
			}
		}
	}
	return "", false
}

func (a *Adapter) watches(dex types.DexVariant) bool {
	for _, d := range a.programs {
		if d == dex {
			return true
		}
	}
	return false
}

// Inspect 交易已在上一阶段拉取，这里只做纯本地过滤
func (a *Adapter) Inspect(_ context.Context, c *types.CandidatePool) (bool, error) {
	if _, banned := a.denylist[c.Deployer]; banned {
		return false, nil
	}
	if uint64(c.DeployValue*lamportsPerSOL) < a.cfg.MinDeployLamports {
		return false, nil
	}
	return true, nil
}

func (a *Adapter) Resolve(ctx context.Context, c *types.CandidatePool) error {
	meta, err := a.GetMetadata(ctx, c.Token)
	if err != nil {
		return err
	}
	c.Metadata = meta

	q, err := a.liqCache.Resolve(ctx, c.Pool, func(ctx context.Context) (chain.PoolQuote, error) {
		return a.Quote(ctx, c.Pool, c.Token, 0, 0)
	})
	if err != nil {
		return err
	}
	c.LiquidityUSD = q.LiquidityUSD
	c.PriceUSD = q.PriceUSD
	return nil
}

// GetMetadata 一次 getMultipleAccounts 同时读取 mint 与 Metaplex 元数据账户
func (a *Adapter) GetMetadata(ctx context.Context, token string) (*types.TokenMetadata, error) {
	if !types.IsSolanaAddress(token) {
		return nil, fmt.Errorf("%w: %s", chain.ErrUnsupportedTarget, token)
	}
	return a.metaCache.Resolve(ctx, token, func(ctx context.Context) (*types.TokenMetadata, error) {
		addrs := []string{token}
		if pda, err := metadataAddress(token); err == nil {
			addrs = append(addrs, pda)
		}

		accounts, err := call(ctx, a, chain.StageResolve, func(ctx context.Context) ([]Account, error) {
			return a.rpc.GetMultipleAccounts(ctx, addrs)
		})
		if err != nil {
			return nil, err
		}
		if len(accounts) == 0 {
			return nil, fmt.Errorf("mint %s not found", token)
		}
		mint, err := parseMint(accounts[0].Data)
		if err != nil {
			return nil, fmt.Errorf("mint %s: %w", token, err)
		}

		meta := &types.TokenMetadata{
			Decimals:    mint.Decimals,
			TotalSupply: float64(mint.Supply) / utils.Pow10(mint.Decimals),
		}
		if len(accounts) > 1 && len(accounts[1].Data) > 0 {
			if name, symbol, err := parseMetadataName(accounts[1].Data); err == nil {
				meta.Name, meta.Symbol = name, symbol
			}
		}
		return meta, nil
	})
}

func metadataAddress(mint string) (string, error) {
	program := common.PublicKeyFromString(MetaplexProgram)
	mintKey := common.PublicKeyFromString(mint)
	pda, _, err := common.FindProgramAddress(
		[][]byte{[]byte("metadata"), program.Bytes(), mintKey.Bytes()},
		program,
	)
	if err != nil {
		return "", err
	}
	return pda.ToBase58(), nil
}

func (a *Adapter) GetLiquidity(ctx context.Context, pool, token string) (float64, error) {
	q, err := a.Quote(ctx, pool, token, 0, 0)
	if err != nil {
		return 0, err
	}
	return q.LiquidityUSD, nil
}

// Quote 池子账户是计价代币金库时直接读余额；
// 是新代币账户时，计价一侧取其 owner（bonding curve）的 lamports
// since > 0 时统计池子账户在 (since, head] 内的交易笔数，head 为 0 表示不设上界
func (a *Adapter) Quote(ctx context.Context, pool, token string, since, head uint64) (chain.PoolQuote, error) {
	addrs := []string{pool}
	companion, hasCompanion := a.companions.Load(pool)
	if hasCompanion {
		addrs = append(addrs, companion.(string))
	}
	accounts, err := call(ctx, a, chain.StageMonitor, func(ctx context.Context) ([]Account, error) {
		return a.rpc.GetMultipleAccounts(ctx, addrs)
	})
	if err != nil {
		return chain.PoolQuote{}, err
	}
	if len(accounts) == 0 {
		return chain.PoolQuote{}, fmt.Errorf("pool %s not found", pool)
	}
	main, err := parseTokenAccount(accounts[0].Data)
	if err != nil {
		return chain.PoolQuote{}, fmt.Errorf("pool %s: %w", pool, err)
	}

	meta, err := a.GetMetadata(ctx, token)
	if err != nil {
		return chain.PoolQuote{}, err
	}

	var quoteAmt, tokenAmt float64
	sol := a.quotes[WrappedSOL]
	q, mainIsQuote := a.quotes[main.Mint]
	switch {
	case mainIsQuote:
		quoteAmt = float64(main.Amount) / utils.Pow10(q.Decimals) * q.PriceUSD
		if hasCompanion && len(accounts) > 1 {
			if side, err := parseTokenAccount(accounts[1].Data); err == nil {
				tokenAmt = float64(side.Amount) / utils.Pow10(meta.Decimals)
			}
		}
	case main.Mint == token:
		tokenAmt = float64(main.Amount) / utils.Pow10(meta.Decimals)
		owner, err := call(ctx, a, chain.StageMonitor, func(ctx context.Context) ([]Account, error) {
			return a.rpc.GetMultipleAccounts(ctx, []string{main.Owner})
		})
		if err != nil {
			return chain.PoolQuote{}, err
		}
		if len(owner) > 0 {
			quoteAmt = float64(owner[0].Lamports) / lamportsPerSOL * sol.PriceUSD
		}
	default:
		return chain.PoolQuote{}, fmt.Errorf("pool %s holds unrelated mint %s", pool, main.Mint)
	}

	out := chain.PoolQuote{
		LiquidityUSD: utils.Float64Round2(2 * quoteAmt),
		PriceUSD:     utils.SafeRatio(quoteAmt, tokenAmt, 0),
	}

	if since > 0 {
		sigs, err := call(ctx, a, chain.StageMonitor, func(ctx context.Context) ([]SignatureInfo, error) {
			return a.rpc.GetSignatures(ctx, pool, "", quoteTradeLimit)
		})
		if err == nil {
			for _, s := range sigs {
				if s.Slot > out.Block {
					out.Block = s.Slot
				}
				if s.Slot > since && (head == 0 || s.Slot <= head) && !s.Failed {
					out.Trades++
				}
			}
		}
	}
	return out, nil
}

// CheckSecurity mint / freeze 权限以链上为准，持仓集中度等字段来自外部审计
func (a *Adapter) CheckSecurity(ctx context.Context, token string) (*types.SecurityReport, error) {
	report := types.UnknownSecurity()
	if a.auditor != nil {
		if r, err := a.auditor.Audit(ctx, a.cfg.Chain, token); err == nil && r != nil {
			report = r
		} else {
			logger.Debugf("[SolanaAdapter:%s] audit %s unavailable: %v", a.cfg.Chain, token, err)
		}
	}

	accounts, err := call(ctx, a, chain.StageResolve, func(ctx context.Context) ([]Account, error) {
		return a.rpc.GetMultipleAccounts(ctx, []string{token})
	})
	if err != nil || len(accounts) == 0 {
		return report, nil
	}
	mint, err := parseMint(accounts[0].Data)
	if err != nil {
		return report, nil
	}
	report.Mintable = mint.MintAuthority
	report.Blacklist = mint.FreezeAuthority
	report.Renounced = !mint.MintAuthority && !mint.FreezeAuthority
	return report, nil
}
