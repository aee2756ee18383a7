package chain

import (
	"context"
	"dex-pool-sentinel/internal/sentinel/types"
	"errors"
	"time"
)

var (
	ErrNotConnected      = errors.New("chain adapter not connected")
	ErrBudgetExhausted   = errors.New("daily call budget exhausted")
	ErrResolutionFailed  = errors.New("resolution failed")
	ErrUnsupportedTarget = errors.New("unsupported address for this chain")
)

// HeadReader 区块头读取能力，只允许 BlockBus 使用
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockHeader(ctx context.Context, number uint64) (ts time.Time, hash string, err error)
}

// Adapter 各链统一的能力接口
// EVM 通过配置参数化为一个实现，Solana 为结构独立的另一实现
type Adapter interface {
	Chain() types.ChainID
	Kind() types.ChainKind

	// Connect 初始化连接，失败的链在进程生命周期内被排除
	Connect(ctx context.Context) error

	// Head 返回区块头读取器，Connect 成功后可用
	Head() HeadReader

	// ScanNewPairs 以新区块为触发跑完分阶段扫描，返回 shortlist
	ScanNewPairs(ctx context.Context, snap types.BlockSnapshot) ([]*types.CandidatePool, error)

	GetMetadata(ctx context.Context, token string) (*types.TokenMetadata, error)
	GetLiquidity(ctx context.Context, pool, token string) (float64, error)

	// Quote 流动性、价格与 (since, head] 内的成交，供刷新任务使用
	// head 取自 Bus.Latest，适配器自身不读取区块高度
	Quote(ctx context.Context, pool, token string, since, head uint64) (PoolQuote, error)
	CheckSecurity(ctx context.Context, token string) (*types.SecurityReport, error)

	Budget() *CallBudget
}

// PoolQuote 池子的一次实时观测
type PoolQuote struct {
	Block        uint64  `json:"block"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	PriceUSD     float64 `json:"price_usd"`
	VolumeUSD    float64 `json:"volume_usd"`
	Trades       int     `json:"trades"`
}

// SecurityAuditor 外部安全审计协作方
type SecurityAuditor interface {
	Audit(ctx context.Context, chain types.ChainID, token string) (*types.SecurityReport, error)
}
