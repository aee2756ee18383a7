package solana

import (
	"dex-pool-sentinel/internal/pkg/retry"
	"dex-pool-sentinel/internal/sentinel/scanner"
	"dex-pool-sentinel/internal/sentinel/types"
	"time"
)

const (
	WrappedSOL      = "So11111111111111111111111111111111111111112"
	MetaplexProgram = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"
	lamportsPerSOL  = 1_000_000_000
)

// Program 需要监控的建池程序
type Program struct {
	Address string
	Dex     types.DexVariant
}

type QuoteMint struct {
	Mint     string
	Symbol   string
	Decimals uint8
	PriceUSD float64
}

type Config struct {
	Chain             types.ChainID
	RPCURL            string
	Programs          []Program
	QuoteMints        []QuoteMint
	SignatureLimit    int
	MinDeployLamports uint64
	DeployerDenylist  []string
	CallTimeout       time.Duration
	Retry             retry.Policy
	Scan              scanner.Config
	FetchWorkers      int
}
