package types

import "strings"

// ChainID 链标识，取自配置，例如 base / ethereum / solana
type ChainID string

const WildcardBlockTopic = "NEW_BLOCK"

func (c ChainID) String() string { return string(c) }

// Prefix 日志与告警中使用的大写前缀
func (c ChainID) Prefix() string { return strings.ToUpper(string(c)) }

// BlockTopic 该链的新区块主题
func (c ChainID) BlockTopic() string { return WildcardBlockTopic + "_" + c.Prefix() }

// ChainKind 链的实现类别
type ChainKind string

const (
	ChainKindEVM    ChainKind = "evm"
	ChainKindSolana ChainKind = "solana"
)

// ConnectionState 链连接状态
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnected    ConnectionState = "connected"
	StateExcluded     ConnectionState = "excluded"
	StateDisabled     ConnectionState = "disabled"
)
