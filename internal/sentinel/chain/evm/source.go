package evm

import (
	"bytes"
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/types"
	"fmt"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"math/big"
	"strings"
)

// FetchCreations 一次 eth_getLogs 查询全部工厂的建池事件
func (a *Adapter) FetchCreations(ctx context.Context, from, to uint64) ([]*types.CandidatePool, error) {
	addrs := make([]common.Address, 0, len(a.factories))
	for addr := range a.factories {
		addrs = append(addrs, addr)
	}
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addrs,
		Topics:    [][]common.Hash{{topicPairCreated, topicPoolCreated}},
	}

	logs, err := call(ctx, a, chain.StageLogs, chain.CUPerCall, func(ctx context.Context, cli RPC) ([]gethtypes.Log, error) {
		return cli.FilterLogs(ctx, q)
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
	}

	out := make([]*types.CandidatePool, 0, len(logs))
	for i := range logs {
		c, err := a.parseCreation(&logs[i])
		if err != nil {
			logger.Debugf("[EvmAdapter:%s] skip log %s#%d: %v", a.cfg.Chain, logs[i].TxHash.Hex(), logs[i].Index, err)
			continue
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// parseCreation 两侧都不是计价代币、或两侧都是计价代币的池子直接丢弃
func (a *Adapter) parseCreation(l *gethtypes.Log) (*types.CandidatePool, error) {
	if l.Removed || len(l.Topics) < 3 {
		return nil, nil
	}
	dex, ok := a.factories[l.Address]
	if !ok {
		return nil, nil
	}

	var pool common.Address
	switch l.Topics[0] {
	case topicPairCreated:
		vals, err := poolABI.Unpack("PairCreated", l.Data)
		if err != nil {
			return nil, err
		}
		pool = vals[0].(common.Address)
	case topicPoolCreated:
		vals, err := poolABI.Unpack("PoolCreated", l.Data)
		if err != nil {
			return nil, err
		}
		pool = vals[1].(common.Address)
	default:
		return nil, nil
	}

	token0 := common.BytesToAddress(l.Topics[1].Bytes())
	token1 := common.BytesToAddress(l.Topics[2].Bytes())
	_, q0 := a.quotes[token0]
	_, q1 := a.quotes[token1]

	var token, quote common.Address
	switch {
	case q0 && !q1:
		token, quote = token1, token0
	case q1 && !q0:
		token, quote = token0, token1
	default:
		return nil, nil
	}

	a.quoteCache.Resolve(context.Background(), pool.Hex(), func(context.Context) (common.Address, error) {
		return quote, nil
	})

	return &types.CandidatePool{
		Chain:          a.cfg.Chain,
		Pool:           utils.NormalizeAddress(pool.Hex()),
		Token:          utils.NormalizeAddress(token.Hex()),
		QuoteToken:     utils.NormalizeAddress(quote.Hex()),
		Dex:            dex,
		DiscoveryBlock: l.BlockNumber,
		TxHash:         l.TxHash.Hex(),
	}, nil
}

// Inspect 每条日志一次交易查询，发送者在本地用签名恢复
func (a *Adapter) Inspect(ctx context.Context, c *types.CandidatePool) (bool, error) {
	hash := common.HexToHash(c.TxHash)
	tx, err := call(ctx, a, chain.StageHeuristics, chain.CUPerCall, func(ctx context.Context, cli RPC) (*gethtypes.Transaction, error) {
		tx, _, err := cli.TransactionByHash(ctx, hash)
		return tx, err
	})
	if err != nil {
		return false, fmt.Errorf("tx %s: %w", c.TxHash, err)
	}

	a.mu.RLock()
	signer := a.signer
	a.mu.RUnlock()
	if signer != nil {
		if from, err := gethtypes.Sender(signer, tx); err == nil {
			if _, banned := a.denylist[from]; banned {
				return false, nil
			}
			c.Deployer = utils.NormalizeAddress(from.Hex())
		}
	}

	value := tx.Value()
	if value == nil || value.Cmp(a.cfg.MinDeployValue) < 0 {
		return false, nil
	}
	c.DeployValue = utils.BigToFloat64(value, 18)
	return true, nil
}

// Resolve 元数据永久缓存；首个流动性读数按池子缓存，失败同样缓存
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

func (a *Adapter) GetMetadata(ctx context.Context, token string) (*types.TokenMetadata, error) {
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("%w: %s", chain.ErrUnsupportedTarget, token)
	}
	return a.metaCache.Resolve(ctx, token, func(ctx context.Context) (*types.TokenMetadata, error) {
		addr := common.HexToAddress(token)

		decimals, err := a.callUint8(ctx, addr, "decimals")
		if err != nil {
			return nil, err
		}
		supply, err := a.callBig(ctx, addr, "totalSupply")
		if err != nil {
			return nil, err
		}
		// name / symbol 可能是 bytes32 或缺失，不影响解析结果
		name, _ := a.callString(ctx, addr, "name")
		symbol, _ := a.callString(ctx, addr, "symbol")

		return &types.TokenMetadata{
			Name:        name,
			Symbol:      symbol,
			Decimals:    decimals,
			TotalSupply: utils.BigToFloat64(supply, decimals),
		}, nil
	})
}

func (a *Adapter) GetLiquidity(ctx context.Context, pool, token string) (float64, error) {
	q, err := a.Quote(ctx, pool, token, 0, 0)
	if err != nil {
		return 0, err
	}
	return q.LiquidityUSD, nil
}

// Quote 流动性 = 2 × 池中计价代币余额 × 计价代币价格
// head 由调用方从 Bus 取得；head > since > 0 时额外统计 (since, head] 内的 Swap 成交
func (a *Adapter) Quote(ctx context.Context, pool, token string, since, head uint64) (chain.PoolQuote, error) {
	if !common.IsHexAddress(pool) || !common.IsHexAddress(token) {
		return chain.PoolQuote{}, fmt.Errorf("%w: %s/%s", chain.ErrUnsupportedTarget, pool, token)
	}
	poolAddr := common.HexToAddress(pool)
	tokenAddr := common.HexToAddress(token)

	quoteAddr, err := a.poolQuote(ctx, poolAddr, tokenAddr)
	if err != nil {
		return chain.PoolQuote{}, err
	}
	qt := a.quotes[quoteAddr]

	meta, err := a.GetMetadata(ctx, token)
	if err != nil {
		return chain.PoolQuote{}, err
	}

	quoteBal, err := a.callBig(ctx, quoteAddr, "balanceOf", poolAddr)
	if err != nil {
		return chain.PoolQuote{}, err
	}
	tokenBal, err := a.callBig(ctx, tokenAddr, "balanceOf", poolAddr)
	if err != nil {
		return chain.PoolQuote{}, err
	}

	quoteAmt := utils.BigToFloat64(quoteBal, qt.Decimals)
	tokenAmt := utils.BigToFloat64(tokenBal, meta.Decimals)
	out := chain.PoolQuote{
		LiquidityUSD: utils.Float64Round2(2 * quoteAmt * qt.PriceUSD),
		PriceUSD:     utils.SafeRatio(quoteAmt*qt.PriceUSD, tokenAmt, 0),
	}

	if since > 0 && head > since {
		vol, trades, err := a.swapVolume(ctx, poolAddr, quoteAddr, tokenAddr, qt, since, head)
		if err != nil {
			logger.Debugf("[EvmAdapter:%s] swap volume %s failed: %v", a.cfg.Chain, pool, err)
		} else {
			out.VolumeUSD = vol
			out.Trades = trades
			out.Block = head
		}
	}
	return out, nil
}

func (a *Adapter) poolQuote(ctx context.Context, pool, token common.Address) (common.Address, error) {
	return a.quoteCache.Resolve(ctx, pool.Hex(), func(ctx context.Context) (common.Address, error) {
		t0, err := a.callAddress(ctx, pool, "token0")
		if err != nil {
			return common.Address{}, err
		}
		t1, err := a.callAddress(ctx, pool, "token1")
		if err != nil {
			return common.Address{}, err
		}
		switch {
		case t0 == token:
			if _, ok := a.quotes[t1]; ok {
				return t1, nil
			}
		case t1 == token:
			if _, ok := a.quotes[t0]; ok {
				return t0, nil
			}
		}
		return common.Address{}, fmt.Errorf("pool %s has no known quote token for %s", pool.Hex(), token.Hex())
	})
}

// swapVolume 计价代币一侧的成交额，Uniswap 按地址排序 token0 / token1
func (a *Adapter) swapVolume(ctx context.Context, pool, quote, token common.Address, qt QuoteToken, since, head uint64) (float64, int, error) {
	from := since + 1
	if head-from+1 > a.cfg.MaxVolumeRange {
		from = head - a.cfg.MaxVolumeRange + 1
	}

	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{pool},
		Topics:    [][]common.Hash{{topicSwapV2, topicSwapV3}},
	}
	logs, err := call(ctx, a, chain.StageMonitor, chain.CUPerCall, func(ctx context.Context, cli RPC) ([]gethtypes.Log, error) {
		return cli.FilterLogs(ctx, q)
	})
	if err != nil {
		return 0, 0, err
	}

	quoteIs0 := bytes.Compare(quote.Bytes(), token.Bytes()) < 0
	raw := new(big.Int)
	trades := 0
	for i := range logs {
		amt, ok := quoteSwapAmount(&logs[i], quoteIs0)
		if !ok {
			continue
		}
		raw.Add(raw, amt)
		trades++
	}
	return utils.Float64Round2(utils.BigToFloat64(raw, qt.Decimals) * qt.PriceUSD), trades, nil
}

func quoteSwapAmount(l *gethtypes.Log, quoteIs0 bool) (*big.Int, bool) {
	if l.Removed || len(l.Topics) == 0 {
		return nil, false
	}
	switch l.Topics[0] {
	case topicSwapV2:
		vals, err := poolABI.Unpack("SwapV2", l.Data)
		if err != nil || len(vals) != 4 {
			return nil, false
		}
		in0, out0 := vals[0].(*big.Int), vals[2].(*big.Int)
		in1, out1 := vals[1].(*big.Int), vals[3].(*big.Int)
		if quoteIs0 {
			return new(big.Int).Add(in0, out0), true
		}
		return new(big.Int).Add(in1, out1), true
	case topicSwapV3:
		vals, err := poolABI.Unpack("SwapV3", l.Data)
		if err != nil || len(vals) < 2 {
			return nil, false
		}
		idx := 1
		if quoteIs0 {
			idx = 0
		}
		return new(big.Int).Abs(vals[idx].(*big.Int)), true
	}
	return nil, false
}

// CheckSecurity 外部审计优先；不可用时读 owner() 判断是否放弃权限，其余字段取保守值
func (a *Adapter) CheckSecurity(ctx context.Context, token string) (*types.SecurityReport, error) {
	if a.auditor != nil {
		report, err := a.auditor.Audit(ctx, a.cfg.Chain, token)
		if err == nil && report != nil {
			return report, nil
		}
		logger.Debugf("[EvmAdapter:%s] audit %s unavailable: %v", a.cfg.Chain, token, err)
	}

	report := types.UnknownSecurity()
	if !common.IsHexAddress(token) {
		return report, nil
	}
	owner, err := a.callAddress(ctx, common.HexToAddress(token), "owner")
	if err == nil && owner == (common.Address{}) {
		report.Renounced = true
	}
	return report, nil
}

func (a *Adapter) ethCall(ctx context.Context, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	parsed := erc20ABI
	if _, ok := erc20ABI.Methods[method]; !ok {
		parsed = poolABI
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	out, err := call(ctx, a, chain.StageResolve, chain.CUPerEthCall, func(ctx context.Context, cli RPC) ([]byte, error) {
		return cli.CallContract(ctx, msg, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", to.Hex(), method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s.%s: empty result", to.Hex(), method)
	}
	vals, err := parsed.Unpack(method, out)
	if err != nil {
		// 老合约 name/symbol 返回 bytes32
		if (method == "name" || method == "symbol") && len(out) == 32 {
			return []interface{}{strings.TrimRight(string(out), "\x00")}, nil
		}
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s.%s: no outputs", to.Hex(), method)
	}
	return vals, nil
}

func (a *Adapter) callString(ctx context.Context, to common.Address, method string) (string, error) {
	vals, err := a.ethCall(ctx, to, method)
	if err != nil {
		return "", err
	}
	s, _ := vals[0].(string)
	return s, nil
}

func (a *Adapter) callUint8(ctx context.Context, to common.Address, method string) (uint8, error) {
	vals, err := a.ethCall(ctx, to, method)
	if err != nil {
		return 0, err
	}
	v, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%s.%s: unexpected type %T", to.Hex(), method, vals[0])
	}
	return v, nil
}

func (a *Adapter) callBig(ctx context.Context, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	vals, err := a.ethCall(ctx, to, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s.%s: unexpected type %T", to.Hex(), method, vals[0])
	}
	return v, nil
}

func (a *Adapter) callAddress(ctx context.Context, to common.Address, method string) (common.Address, error) {
	vals, err := a.ethCall(ctx, to, method)
	if err != nil {
		return common.Address{}, err
	}
	v, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s.%s: unexpected type %T", to.Hex(), method, vals[0])
	}
	return v, nil
}
