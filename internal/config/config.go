package config

import (
	"dex-pool-sentinel/internal/consts"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/mq"
	"dex-pool-sentinel/internal/pkg/nacos"
	"dex-pool-sentinel/internal/pkg/raft"
	"dex-pool-sentinel/internal/pkg/retry"
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/alert"
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/chain/evm"
	"dex-pool-sentinel/internal/sentinel/chain/solana"
	"dex-pool-sentinel/internal/sentinel/heat"
	"dex-pool-sentinel/internal/sentinel/pushworker"
	"dex-pool-sentinel/internal/sentinel/scanner"
	"dex-pool-sentinel/internal/sentinel/security"
	"dex-pool-sentinel/internal/sentinel/types"
	"errors"
	"fmt"
	"github.com/zeromicro/go-zero/zrpc"
	"math/big"
	"strings"
	"time"
)

type MonitorConfig struct {
	Port                int  `json:"port" yaml:"port"`                                     // REST 与 /metrics 端口，0 表示关闭
	AllowChangeRaftNode bool `json:"allow_change_raft_node" yaml:"allow_change_raft_node"` // 是否开放增删 raft 节点接口
	AllowToggleTier     bool `json:"allow_toggle_tier" yaml:"allow_toggle_tier"`           // 是否开放层级开关接口
}

type LogConfig struct {
	Format   string `json:"format" yaml:"format"`     // 日志格式，可选 "console"（开发调试）或 "json"（结构化，推荐生产使用）
	LogDir   string `json:"log_dir" yaml:"log_dir"`   // 日志文件目录，可为相对路径或绝对路径
	Level    string `json:"level" yaml:"level"`       // 日志级别：debug / info / warn / error
	Compress bool   `json:"compress" yaml:"compress"` // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

type GrpcMiddlewaresConfig struct {
	Prometheus bool `json:"prometheus" yaml:"prometheus"`
}

// GrpcConfig gRPC 健康检查服务配置，Port 为 0 表示关闭
type GrpcConfig struct {
	Port         int                   `json:"port" yaml:"port"`
	Timeout      int64                 `json:"timeout" yaml:"timeout"`
	CpuThreshold int64                 `json:"cpu_threshold" yaml:"cpu_threshold"`
	Middlewares  GrpcMiddlewaresConfig `json:"middlewares" yaml:"middlewares"`
}

func (c *GrpcConfig) ToRpcServerConf() zrpc.RpcServerConf {
	conf := zrpc.RpcServerConf{
		ListenOn:     fmt.Sprintf("0.0.0.0:%d", c.Port),
		Timeout:      c.Timeout,
		CpuThreshold: c.CpuThreshold,
		Middlewares: zrpc.ServerMiddlewaresConf{
			Prometheus: c.Middlewares.Prometheus,
		},
	}
	// 健康服务由我们自己注册，按链设置状态
	conf.Health = false
	conf.Mode = "pro"
	return conf
}

//////////////////////////////////////////////////////////////////
// 链配置

type RetryConfig struct {
	MaxAttempts int     `json:"max_attempts" yaml:"max_attempts"`
	BaseDelayMs int     `json:"base_delay_ms" yaml:"base_delay_ms"`
	Multiplier  float64 `json:"multiplier" yaml:"multiplier"`
	MaxDelayMs  int     `json:"max_delay_ms" yaml:"max_delay_ms"`
}

func (c RetryConfig) ToPolicy(def retry.Policy) retry.Policy {
	if c.MaxAttempts <= 0 {
		return def
	}
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   time.Duration(c.BaseDelayMs) * time.Millisecond,
		Multiplier:  c.Multiplier,
		MaxDelay:    time.Duration(c.MaxDelayMs) * time.Millisecond,
	}
}

type DexConfig struct {
	Address string           `json:"address" yaml:"address"`
	Dex     types.DexVariant `json:"dex" yaml:"dex"`
}

type QuoteConfig struct {
	Address  string  `json:"address" yaml:"address"`
	Symbol   string  `json:"symbol" yaml:"symbol"`
	Decimals uint8   `json:"decimals" yaml:"decimals"`
	PriceUSD float64 `json:"price_usd" yaml:"price_usd"`
}

// ChainConfig 单链配置，未填写的字段由内置默认值补齐
type ChainConfig struct {
	ID                types.ChainID     `json:"id" yaml:"id"`
	Kind              types.ChainKind   `json:"kind" yaml:"kind"`
	Enabled           *bool             `json:"enabled" yaml:"enabled"` // 缺省为 true
	RPCURL            string            `json:"rpc_url" yaml:"rpc_url"`
	CallTimeoutMs     int               `json:"call_timeout_ms" yaml:"call_timeout_ms"`
	PollIntervalMs    int               `json:"poll_interval_ms" yaml:"poll_interval_ms"` // 总线轮询区块高度间隔
	ScanIntervalSec   int               `json:"scan_interval_sec" yaml:"scan_interval_sec"`
	MaxBlockRange     uint64            `json:"max_block_range" yaml:"max_block_range"`
	StartupLookback   uint64            `json:"startup_lookback" yaml:"startup_lookback"`
	ShortlistSize     int               `json:"shortlist_size" yaml:"shortlist_size"`
	ResolveWorkers    int               `json:"resolve_workers" yaml:"resolve_workers"`
	SignatureLimit    int               `json:"signature_limit" yaml:"signature_limit"` // solana
	FetchWorkers      int               `json:"fetch_workers" yaml:"fetch_workers"`     // solana
	MinLiquidityUSD   float64           `json:"min_liquidity_usd" yaml:"min_liquidity_usd"`
	MinDeployValue    string            `json:"min_deploy_value" yaml:"min_deploy_value"` // evm: wei，十进制字符串
	MinDeployLamports uint64            `json:"min_deploy_lamports" yaml:"min_deploy_lamports"`
	MaxVolumeRange    uint64            `json:"max_volume_range" yaml:"max_volume_range"`
	DailyBudget       int64             `json:"daily_budget" yaml:"daily_budget"`
	BudgetCooldownSec int               `json:"budget_cooldown_sec" yaml:"budget_cooldown_sec"`
	RPS               float64           `json:"rps" yaml:"rps"`
	Burst             int               `json:"burst" yaml:"burst"`
	Dexes             []DexConfig       `json:"dexes" yaml:"dexes"` // evm 为工厂合约，solana 为程序
	Quotes            []QuoteConfig     `json:"quotes" yaml:"quotes"`
	DeployerDenylist  []string          `json:"deployer_denylist" yaml:"deployer_denylist"`
	Retry             RetryConfig       `json:"retry" yaml:"retry"`
	Thresholds        *alert.Thresholds `json:"thresholds" yaml:"thresholds"` // 覆盖全局基础分阈值
}

func (c *ChainConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c *ChainConfig) SetDefaults() {
	c.ID = types.ChainID(strings.ToLower(strings.TrimSpace(string(c.ID))))
	def, known := consts.DefaultsFor(c.ID)
	if c.Kind == "" && known {
		c.Kind = def.Kind
	}
	if c.CallTimeoutMs <= 0 {
		c.CallTimeoutMs = 10_000
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = max(def.BlockTimeMs, 1_000)
	}
	if c.ScanIntervalSec <= 0 {
		c.ScanIntervalSec = def.ScanIntervalSec
		if c.ScanIntervalSec <= 0 {
			c.ScanIntervalSec = 30
		}
	}
	if c.MaxBlockRange == 0 {
		c.MaxBlockRange = def.MaxBlockRange
	}
	if c.ShortlistSize <= 0 {
		c.ShortlistSize = max(def.ShortlistSize, 1)
	}
	if c.SignatureLimit <= 0 {
		c.SignatureLimit = def.SignatureLimit
	}
	if c.MinLiquidityUSD <= 0 {
		c.MinLiquidityUSD = def.MinLiquidityUSD
		if c.MinLiquidityUSD <= 0 {
			c.MinLiquidityUSD = consts.DefaultMinLiquidityUSD
		}
	}
	if c.DailyBudget <= 0 {
		c.DailyBudget = consts.DefaultDailyBudget
	}
	if c.BudgetCooldownSec <= 0 {
		c.BudgetCooldownSec = consts.DefaultBudgetCooldownS
	}
	if len(c.Dexes) == 0 {
		for _, d := range def.Dexes {
			c.Dexes = append(c.Dexes, DexConfig{Address: d.Address, Dex: d.Dex})
		}
	}
	if len(c.Quotes) == 0 {
		for _, q := range def.Quotes {
			c.Quotes = append(c.Quotes, QuoteConfig{Address: q.Address, Symbol: q.Symbol, Decimals: q.Decimals, PriceUSD: q.PriceUSD})
		}
	}
	for i, addr := range c.DeployerDenylist {
		c.DeployerDenylist[i] = utils.NormalizeAddress(addr)
	}
	c.DeployerDenylist = utils.Dedup(c.DeployerDenylist)
}

func (c *ChainConfig) Validate() error {
	if c.ID == "" {
		return errors.New("chain id is required")
	}
	switch c.Kind {
	case types.ChainKindEVM, types.ChainKindSolana:
	default:
		return fmt.Errorf("chain %s: unknown kind %q", c.ID, c.Kind)
	}
	if !c.IsEnabled() {
		return nil
	}
	if c.RPCURL == "" {
		return fmt.Errorf("chain %s: rpc_url is required", c.ID)
	}
	if len(c.Dexes) == 0 {
		return fmt.Errorf("chain %s: no dexes configured", c.ID)
	}
	if c.MinDeployValue != "" {
		if _, ok := new(big.Int).SetString(c.MinDeployValue, 10); !ok {
			return fmt.Errorf("chain %s: invalid min_deploy_value %q", c.ID, c.MinDeployValue)
		}
	}
	return nil
}

func (c *ChainConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSec) * time.Second
}

func (c *ChainConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *ChainConfig) ToBudgetConfig() chain.BudgetConfig {
	return chain.BudgetConfig{
		DailyLimit: c.DailyBudget,
		Cooldown:   time.Duration(c.BudgetCooldownSec) * time.Second,
		RPS:        c.RPS,
		Burst:      c.Burst,
	}
}

func (c *ChainConfig) toScanConfig() scanner.Config {
	return scanner.Config{
		MaxBlockRange:   c.MaxBlockRange,
		StartupLookback: c.StartupLookback,
		ShortlistSize:   c.ShortlistSize,
		ResolveWorkers:  c.ResolveWorkers,
	}
}

func (c *ChainConfig) ToEVMConfig() evm.Config {
	cfg := evm.Config{
		Chain:            c.ID,
		RPCURL:           c.RPCURL,
		DeployerDenylist: c.DeployerDenylist,
		CallTimeout:      time.Duration(c.CallTimeoutMs) * time.Millisecond,
		Retry:            c.Retry.ToPolicy(retry.Quick),
		Scan:             c.toScanConfig(),
		MaxVolumeRange:   c.MaxVolumeRange,
	}
	if c.MinDeployValue != "" {
		cfg.MinDeployValue, _ = new(big.Int).SetString(c.MinDeployValue, 10)
	}
	for _, d := range c.Dexes {
		cfg.Factories = append(cfg.Factories, evm.Factory{Address: d.Address, Dex: d.Dex})
	}
	for _, q := range c.Quotes {
		cfg.QuoteTokens = append(cfg.QuoteTokens, evm.QuoteToken{Address: q.Address, Symbol: q.Symbol, Decimals: q.Decimals, PriceUSD: q.PriceUSD})
	}
	return cfg
}

func (c *ChainConfig) ToSolanaConfig() solana.Config {
	cfg := solana.Config{
		Chain:             c.ID,
		RPCURL:            c.RPCURL,
		SignatureLimit:    c.SignatureLimit,
		MinDeployLamports: c.MinDeployLamports,
		DeployerDenylist:  c.DeployerDenylist,
		CallTimeout:       time.Duration(c.CallTimeoutMs) * time.Millisecond,
		Retry:             c.Retry.ToPolicy(retry.Quick),
		Scan:              c.toScanConfig(),
		FetchWorkers:      c.FetchWorkers,
	}
	for _, d := range c.Dexes {
		cfg.Programs = append(cfg.Programs, solana.Program{Address: d.Address, Dex: d.Dex})
	}
	for _, q := range c.Quotes {
		cfg.QuoteMints = append(cfg.QuoteMints, solana.QuoteMint{Mint: q.Address, Symbol: q.Symbol, Decimals: q.Decimals, PriceUSD: q.PriceUSD})
	}
	return cfg
}

//////////////////////////////////////////////////////////////////
// 告警配置

type AlertConfig struct {
	StoreDir           string               `json:"store_dir" yaml:"store_dir"`
	Tiers              map[alert.Tier]bool  `json:"tiers" yaml:"tiers"` // 缺省全部开启
	Thresholds         *alert.Thresholds    `json:"thresholds" yaml:"thresholds"`
	Sniper             *alert.SniperConfig  `json:"sniper" yaml:"sniper"`
	Running            *alert.RunningConfig `json:"running" yaml:"running"`
	Upgrade            *alert.UpgradeConfig `json:"upgrade" yaml:"upgrade"`
	TradeWindowMin     int                  `json:"trade_window_min" yaml:"trade_window_min"`
	RunningWindowMin   int                  `json:"running_window_min" yaml:"running_window_min"`
	TrackForMin        int                  `json:"track_for_min" yaml:"track_for_min"`
	RefreshIntervalSec int                  `json:"refresh_interval_sec" yaml:"refresh_interval_sec"`
	RefreshWorkers     int                  `json:"refresh_workers" yaml:"refresh_workers"`
	CallTimeoutMs      int                  `json:"call_timeout_ms" yaml:"call_timeout_ms"`
	PushFormat         string               `json:"push_format" yaml:"push_format"` // json / proto
}

func (c *AlertConfig) SetDefaults() {
	if c.RefreshIntervalSec <= 0 {
		c.RefreshIntervalSec = 15
	}
	if c.PushFormat == "" {
		c.PushFormat = string(pushworker.FormatJSON)
	}
}

func (c *AlertConfig) Validate() error {
	for tier := range c.Tiers {
		if _, err := alert.ParseTier(string(tier)); err != nil {
			return fmt.Errorf("alert.tiers: %w: %s", err, tier)
		}
	}
	if _, err := pushworker.ParseFormat(c.PushFormat); err != nil {
		return err
	}
	return nil
}

func (c *AlertConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSec) * time.Second
}

// ToEngineConfig chains 用于按链覆盖基础分阈值
func (c *AlertConfig) ToEngineConfig(chains []*ChainConfig) alert.Config {
	cfg := alert.DefaultConfig()
	cfg.StoreDir = c.StoreDir
	for tier, on := range c.Tiers {
		cfg.Enabled[tier] = on
	}
	if c.Thresholds != nil {
		cfg.Thresholds = *c.Thresholds
	}
	if c.Sniper != nil {
		cfg.Sniper = *c.Sniper
	}
	if c.Running != nil {
		cfg.Running = *c.Running
	}
	if c.Upgrade != nil {
		cfg.Upgrade = *c.Upgrade
	}
	if c.TradeWindowMin > 0 {
		cfg.TradeWindow = time.Duration(c.TradeWindowMin) * time.Minute
	}
	if c.RunningWindowMin > 0 {
		cfg.RunningWindow = time.Duration(c.RunningWindowMin) * time.Minute
	}
	if c.TrackForMin > 0 {
		cfg.TrackFor = time.Duration(c.TrackForMin) * time.Minute
	}
	if c.RefreshWorkers > 0 {
		cfg.RefreshWorkers = c.RefreshWorkers
	}
	if c.CallTimeoutMs > 0 {
		cfg.CallTimeout = time.Duration(c.CallTimeoutMs) * time.Millisecond
	}
	for _, ch := range chains {
		if ch.Thresholds != nil {
			if cfg.ChainThresholds == nil {
				cfg.ChainThresholds = make(map[types.ChainID]alert.Thresholds)
			}
			cfg.ChainThresholds[ch.ID] = *ch.Thresholds
		}
	}
	return cfg
}

//////////////////////////////////////////////////////////////////
// 安全审计

type SecurityConfig struct {
	BaseURL      string      `json:"base_url" yaml:"base_url"`           // 静态地址，与 nacos_service 二选一
	NacosService string      `json:"nacos_service" yaml:"nacos_service"` // nacos clients 中的 id
	TimeoutMs    int         `json:"timeout_ms" yaml:"timeout_ms"`
	CacheTTLSec  int         `json:"cache_ttl_sec" yaml:"cache_ttl_sec"`
	CacheLimit   int         `json:"cache_limit" yaml:"cache_limit"`
	RPS          float64     `json:"rps" yaml:"rps"`
	TripAfter    uint32      `json:"trip_after" yaml:"trip_after"`
	OpenForSec   int         `json:"open_for_sec" yaml:"open_for_sec"`
	Retry        RetryConfig `json:"retry" yaml:"retry"`
}

func (c *SecurityConfig) Enabled() bool {
	return c != nil && (c.BaseURL != "" || c.NacosService != "")
}

func (c *SecurityConfig) ToClientConfig() security.Config {
	def := security.DefaultConfig()
	cfg := def
	if c.TimeoutMs > 0 {
		cfg.Timeout = time.Duration(c.TimeoutMs) * time.Millisecond
	}
	if c.CacheTTLSec > 0 {
		cfg.CacheTTL = time.Duration(c.CacheTTLSec) * time.Second
	}
	if c.CacheLimit > 0 {
		cfg.CacheLimit = c.CacheLimit
	}
	if c.RPS > 0 {
		cfg.RPS = c.RPS
	}
	if c.TripAfter > 0 {
		cfg.TripAfter = c.TripAfter
	}
	if c.OpenForSec > 0 {
		cfg.OpenFor = time.Duration(c.OpenForSec) * time.Second
	}
	cfg.Retry = c.Retry.ToPolicy(def.Retry)
	return cfg
}

//////////////////////////////////////////////////////////////////
// 编排与健康

type OrchestratorConfig struct {
	QueueSize          int          `json:"queue_size" yaml:"queue_size"`
	MonitorIntervalSec int          `json:"monitor_interval_sec" yaml:"monitor_interval_sec"`
	StallGraceSec      int          `json:"stall_grace_sec" yaml:"stall_grace_sec"` // 超过 2 倍扫描间隔后再宽限多久
	ConnectTimeoutMs   int          `json:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	Heat               *heat.Config `json:"heat" yaml:"heat"`
}

func (c *OrchestratorConfig) SetDefaults() {
	if c.MonitorIntervalSec <= 0 {
		c.MonitorIntervalSec = 30
	}
	if c.ConnectTimeoutMs <= 0 {
		c.ConnectTimeoutMs = 15_000
	}
}

func (c *OrchestratorConfig) HeatConfig() heat.Config {
	if c.Heat == nil {
		return heat.DefaultConfig()
	}
	return *c.Heat
}

//////////////////////////////////////////////////////////////////

type Config struct {
	Monitor         MonitorConfig            `json:"monitor" yaml:"monitor"`                     // 监控配置
	LogConf         LogConfig                `json:"logger" yaml:"logger"`                       // 日志配置
	Chains          []*ChainConfig           `json:"chains" yaml:"chains"`                       // 链配置
	Alert           AlertConfig              `json:"alert" yaml:"alert"`                         // 告警层级配置
	Security        *SecurityConfig          `json:"security" yaml:"security"`                   // 安全审计服务
	Orchestrator    OrchestratorConfig       `json:"orchestrator" yaml:"orchestrator"`           // 编排与停滞检测
	AlertProducer   *mq.KafkaProducerConf    `json:"alert_producer" yaml:"alert_producer"`       // 告警推送 Kafka
	UpgradeSignalKc *mq.KafkaConsumerConf    `json:"upgrade_signal_kc" yaml:"upgrade_signal_kc"` // 升级信号 Kafka 消费者
	RiskEventRc     *mq.RocketMQConsumerConf `json:"risk_event_rc" yaml:"risk_event_rc"`         // 风险事件 RocketMQ 消费者
	NacosConfig     *nacos.NacosConfig       `json:"nacos" yaml:"nacos"`                         // Nacos 配置
	Raft            *raft.RaftConfig         `json:"raft" yaml:"raft"`                           // Raft 配置，为空时单机运行
	Grpc            GrpcConfig               `json:"grpc" yaml:"grpc"`                           // gRPC 健康检查
}

func (c *Config) SetDefaults() {
	for _, ch := range c.Chains {
		ch.SetDefaults()
	}
	c.Alert.SetDefaults()
	c.Orchestrator.SetDefaults()
}

func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return errors.New("at least one chain must be configured")
	}
	seen := make(map[types.ChainID]struct{}, len(c.Chains))
	var errs []error
	for _, ch := range c.Chains {
		if err := ch.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[ch.ID]; dup {
			errs = append(errs, fmt.Errorf("chain %s configured twice", ch.ID))
		}
		seen[ch.ID] = struct{}{}
	}
	if err := c.Alert.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.AlertProducer != nil && len(c.AlertProducer.Topics) != 1 {
		errs = append(errs, fmt.Errorf("alert_producer must have exactly 1 topic, got %d", len(c.AlertProducer.Topics)))
	}
	if c.Security != nil && c.Security.NacosService != "" && c.NacosConfig == nil {
		errs = append(errs, errors.New("security.nacos_service requires nacos config"))
	}
	return errors.Join(errs...)
}
