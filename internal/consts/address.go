package consts

// Solana Base58 地址常量
const (
	WSOLMintStr = "So11111111111111111111111111111111111111112"
	USDCMintStr = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMintStr = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"

	RaydiumAMMProgram = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	PumpFunProgram    = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
)

// EVM 工厂与计价代币
const (
	BaseUniswapV2Factory = "0x8909Dc15e40173Ff4699343b6eB8132c65e18eC6"
	BaseUniswapV3Factory = "0x33128a8fC17869897dcE68Ed026d694621f6FDfD"
	BaseWETH             = "0x4200000000000000000000000000000000000006"
	BaseUSDC             = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

	EthUniswapV2Factory = "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"
	EthUniswapV3Factory = "0x1F98431c8aD98523631AE4a59f267346ea31F984"
	EthWETH             = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	EthUSDC             = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	EthUSDT             = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
)
