package consts

import "dex-pool-sentinel/internal/sentinel/types"

const (
	ChainBase     types.ChainID = "base"
	ChainEthereum types.ChainID = "ethereum"
	ChainSolana   types.ChainID = "solana"
)

const (
	DefaultMinLiquidityUSD = 5_000
	DefaultDailyBudget     = 1_000_000
	DefaultBudgetCooldownS = 600
)

// DexAddress 建池工厂或程序
type DexAddress struct {
	Address string
	Dex     types.DexVariant
}

type QuoteAsset struct {
	Address  string
	Symbol   string
	Decimals uint8
	PriceUSD float64
}

// ChainDefaults 每条链的内置默认值，配置中未填写的字段用它补齐
type ChainDefaults struct {
	Kind            types.ChainKind
	BlockTimeMs     int
	MaxBlockRange   uint64
	ShortlistSize   int
	SignatureLimit  int
	ScanIntervalSec int
	MinLiquidityUSD float64
	Dexes           []DexAddress
	Quotes          []QuoteAsset
}

var chainDefaults = map[types.ChainID]ChainDefaults{
	ChainBase: {
		Kind:            types.ChainKindEVM,
		BlockTimeMs:     2_000,
		MaxBlockRange:   2,
		ShortlistSize:   3,
		ScanIntervalSec: 25,
		MinLiquidityUSD: DefaultMinLiquidityUSD,
		Dexes: []DexAddress{
			{Address: BaseUniswapV2Factory, Dex: types.DexUniswapV2},
			{Address: BaseUniswapV3Factory, Dex: types.DexUniswapV3},
		},
		Quotes: []QuoteAsset{
			{Address: BaseWETH, Symbol: "WETH", Decimals: 18, PriceUSD: 3000},
			{Address: BaseUSDC, Symbol: "USDC", Decimals: 6, PriceUSD: 1},
		},
	},
	ChainEthereum: {
		Kind:            types.ChainKindEVM,
		BlockTimeMs:     12_000,
		MaxBlockRange:   1,
		ShortlistSize:   1,
		ScanIntervalSec: 52,
		MinLiquidityUSD: DefaultMinLiquidityUSD,
		Dexes: []DexAddress{
			{Address: EthUniswapV2Factory, Dex: types.DexUniswapV2},
			{Address: EthUniswapV3Factory, Dex: types.DexUniswapV3},
		},
		Quotes: []QuoteAsset{
			{Address: EthWETH, Symbol: "WETH", Decimals: 18, PriceUSD: 3000},
			{Address: EthUSDC, Symbol: "USDC", Decimals: 6, PriceUSD: 1},
			{Address: EthUSDT, Symbol: "USDT", Decimals: 6, PriceUSD: 1},
		},
	},
	ChainSolana: {
		Kind:            types.ChainKindSolana,
		BlockTimeMs:     400,
		SignatureLimit:  5,
		ShortlistSize:   3,
		ScanIntervalSec: 25,
		MinLiquidityUSD: DefaultMinLiquidityUSD,
		Dexes: []DexAddress{
			{Address: RaydiumAMMProgram, Dex: types.DexRaydiumAMM},
			{Address: PumpFunProgram, Dex: types.DexPumpFun},
		},
		Quotes: []QuoteAsset{
			{Address: WSOLMintStr, Symbol: "SOL", Decimals: 9, PriceUSD: 150},
			{Address: USDCMintStr, Symbol: "USDC", Decimals: 6, PriceUSD: 1},
			{Address: USDTMintStr, Symbol: "USDT", Decimals: 6, PriceUSD: 1},
		},
	},
}

// DefaultsFor 未内置的链返回 false
func DefaultsFor(id types.ChainID) (ChainDefaults, bool) {
	d, ok := chainDefaults[id]
	return d, ok
}
