package types

import (
	"dex-pool-sentinel/internal/pkg/utils"
	"time"
)

// DexVariant 池子所属的 DEX 类型
type DexVariant string

const (
	DexUniswapV2  DexVariant = "uniswap_v2"
	DexUniswapV3  DexVariant = "uniswap_v3"
	DexRaydiumAMM DexVariant = "raydium_amm"
	DexPumpFun    DexVariant = "pumpfun"
)

// TokenMetadata 代币元数据
type TokenMetadata struct {
	Name        string  `json:"name"`
	Symbol      string  `json:"symbol"`
	Decimals    uint8   `json:"decimals"`
	TotalSupply float64 `json:"total_supply"`
}

// CandidatePool 新发现的池子
// 前半部分是廉价启发式字段，Metadata / LiquidityUSD 只有进入 shortlist 后才会解析
type CandidatePool struct {
	Chain          ChainID    `json:"chain"`
	Pool           string     `json:"pool"`
	Token          string     `json:"token"`
	QuoteToken     string     `json:"quote_token"`
	Dex            DexVariant `json:"dex"`
	DiscoveryBlock uint64     `json:"discovery_block"`
	CreatedAt      time.Time  `json:"created_at"`
	DiscoveredAt   time.Time  `json:"discovered_at"`
	TxHash         string     `json:"tx_hash"`
	Deployer       string     `json:"deployer"`
	DeployValue    float64    `json:"deploy_value"` // 原生币单位（ETH / SOL）

	Metadata     *TokenMetadata `json:"metadata,omitempty"`
	LiquidityUSD float64        `json:"liquidity_usd"`
	PriceUSD     float64        `json:"price_usd"`
}

// Key 链 + 代币，作为跨模块的唯一标识
func (c *CandidatePool) Key() string {
	return TokenKey(c.Chain, c.Token)
}

// Age 以池子创建时间计算，缺失时回退到发现时间
func (c *CandidatePool) Age(now time.Time) time.Duration {
	ts := c.CreatedAt
	if ts.IsZero() {
		ts = c.DiscoveredAt
	}
	if ts.IsZero() || now.Before(ts) {
		return 0
	}
	return now.Sub(ts)
}

func (c *CandidatePool) Resolved() bool {
	return c.Metadata != nil
}

func TokenKey(chain ChainID, token string) string {
	return string(chain) + ":" + utils.NormalizeAddress(token)
}
