package evm

import (
	"dex-pool-sentinel/internal/pkg/retry"
	"dex-pool-sentinel/internal/sentinel/scanner"
	"dex-pool-sentinel/internal/sentinel/types"
	"math/big"
	"time"
)

type Factory struct {
	Address string
	Dex     types.DexVariant
}

// QuoteToken 计价代币，价格来自配置
type QuoteToken struct {
	Address  string
	Symbol   string
	Decimals uint8
	PriceUSD float64
}

type Config struct {
	Chain            types.ChainID
	RPCURL           string
	Factories        []Factory
	QuoteTokens      []QuoteToken
	MinDeployValue   *big.Int // wei
	DeployerDenylist []string
	CallTimeout      time.Duration
	Retry            retry.Policy
	Scan             scanner.Config
	MaxVolumeRange   uint64 // Quote 统计成交时最多回看的区块数
}
