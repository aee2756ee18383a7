package sentinel

import (
	"context"
	"dex-pool-sentinel/internal/config"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/sentinel/alert"
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/chain/evm"
	"dex-pool-sentinel/internal/sentinel/chain/solana"
	"dex-pool-sentinel/internal/sentinel/chainhealth"
	"dex-pool-sentinel/internal/sentinel/orchestrator"
	"dex-pool-sentinel/internal/sentinel/pushworker"
	"dex-pool-sentinel/internal/sentinel/raft"
	"dex-pool-sentinel/internal/sentinel/registry"
	"dex-pool-sentinel/internal/sentinel/signals"
	"dex-pool-sentinel/internal/sentinel/taskworker"
	"dex-pool-sentinel/internal/sentinel/types"
	"dex-pool-sentinel/internal/svc"
	"errors"
	"fmt"
	gzsvc "github.com/zeromicro/go-zero/core/service"
	"github.com/zeromicro/go-zero/core/threading"
	"runtime/debug"
	"sync/atomic"
	"time"
)

var ErrNoRaft = errors.New("raft is not configured")

//////////////////////////////
// App 结构体
//////////////////////////////

type App struct {
	// 服务相关
	svc    *svc.ServiceContext
	sg     *gzsvc.ServiceGroup
	raft   *raft.Raft // 单机模式为 nil
	ledger *raft.Ledger
	health *chainhealth.Server

	// 链与告警
	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
	engine       *alert.Engine
	engineLoop   *engineLoop

	// 工作者
	pushWorker    *pushworker.AlertPushWorker // 未配置 Kafka 时为 nil
	refreshWorker *taskworker.TickerWorker
	intake        *signals.Intake

	started atomic.Bool
}

//////////////////////////////
// 构造与初始化
//////////////////////////////

// NewApp 构造应用实例；各链在 Start 时才连接
func NewApp(svc *svc.ServiceContext) (*App, error) {
	cfg := svc.Cfg
	app := &App{
		svc:    svc,
		sg:     gzsvc.NewServiceGroup(),
		health: chainhealth.New(),
	}

	reg, err := buildRegistry(cfg, svc.Auditor)
	if err != nil {
		return nil, err
	}
	app.registry = reg

	// 告警推送
	var dispatcher alert.Dispatcher = alert.DispatcherFunc(logDispatch)
	notifiers := []orchestrator.StallNotifier{app.health}
	if cfg.AlertProducer != nil {
		format, _ := pushworker.ParseFormat(cfg.Alert.PushFormat)
		pw, err := pushworker.NewAlertPushWorker(cfg.AlertProducer, format)
		if err != nil {
			return nil, err
		}
		app.pushWorker = pw
		dispatcher = pw
		notifiers = append(notifiers, pw)
		app.sg.Add(pw)
	} else {
		logger.Warnf("[App] alert_producer not configured, alerts are only logged")
	}

	oc := cfg.Orchestrator
	app.orchestrator = orchestrator.New(reg, orchestrator.Options{
		QueueSize:       oc.QueueSize,
		MonitorInterval: time.Duration(oc.MonitorIntervalSec) * time.Second,
		StallGrace:      time.Duration(oc.StallGraceSec) * time.Second,
		Notifiers:       notifiers,
	})
	app.orchestrator.Pause()
	app.sg.Add(app.orchestrator)

	engine, err := alert.NewEngine(cfg.Alert.ToEngineConfig(cfg.Chains), reg, dispatcher, nil)
	if err != nil {
		return nil, err
	}
	app.engine = engine
	app.engineLoop = newEngineLoop(engine, app.orchestrator.Candidates())
	app.sg.Add(app.engineLoop)

	app.refreshWorker = taskworker.NewTickerWorker("Refresh", cfg.Alert.RefreshInterval(), app.refresh)
	app.sg.Add(app.refreshWorker)

	app.intake = signals.NewIntake(engine, cfg.UpgradeSignalKc, cfg.RiskEventRc)
	app.intake.Pause()
	app.sg.Add(app.intake)

	// 初始化 Raft
	if cfg.Raft != nil {
		app.ledger = raft.NewLedger(engine)
		app.raft, err = raft.NewRaft(cfg.Raft, app)
		if err != nil {
			engine.Close()
			return nil, err
		}
		engine.SetMarkListener(app.replicateMark)
	}
	return app, nil
}

// buildRegistry 按配置显式构造每条链的服务；禁用的链只保留状态
func buildRegistry(cfg *config.Config, auditor chain.SecurityAuditor) (*registry.Registry, error) {
	reg := registry.New()
	heatCfg := cfg.Orchestrator.HeatConfig()
	for _, cc := range cfg.Chains {
		if !cc.IsEnabled() {
			if err := reg.Register(registry.NewDisabledService(cc.ID, "disabled in config")); err != nil {
				return nil, err
			}
			continue
		}

		budget := chain.NewCallBudget(cc.ID, cc.ToBudgetConfig(), nil)
		var (
			adapter chain.Adapter
			err     error
		)
		switch cc.Kind {
		case types.ChainKindEVM:
			adapter, err = evm.NewAdapter(cc.ToEVMConfig(), budget, auditor, nil)
		case types.ChainKindSolana:
			adapter, err = solana.NewAdapter(cc.ToSolanaConfig(), nil, budget, auditor)
		default:
			err = fmt.Errorf("unknown chain kind %q", cc.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("build chain %s: %w", cc.ID, err)
		}

		err = reg.Register(registry.NewService(adapter, registry.ServiceOptions{
			ScanInterval:    cc.ScanInterval(),
			PollInterval:    cc.PollInterval(),
			MinLiquidityUSD: cc.MinLiquidityUSD,
			Heat:            heatCfg,
		}))
		if err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func logDispatch(_ context.Context, p *alert.Payload) error {
	logger.Infof("[Alert:%s] %s %s %s (%s) score=%d level=%s", p.Chain, p.Tier, p.Kind, p.Symbol, p.Token, p.Score, p.Level)
	return nil
}

//////////////////////////////
// 启动 / 停止
//////////////////////////////

func (app *App) Start() {
	timeout := time.Duration(app.svc.Cfg.Orchestrator.ConnectTimeoutMs) * time.Millisecond
	n := app.registry.ConnectAll(context.Background(), timeout)
	logger.Infof("[App] %d/%d chains connected", n, len(app.registry.All()))
	for _, s := range app.registry.All() {
		app.health.SetChain(s.Chain, s.Connected())
	}

	app.watchTierToggles()

	if app.raft == nil {
		logger.Infof("[App] running standalone")
		app.resumeWorkers()
		app.registerNacosServer("standalone start")
	} else {
		logger.Infof("[App] Starting raft...")
		if err := app.raft.Start(); err != nil {
			panic(fmt.Sprintf("start raft: %v", err))
		}
	}
	app.started.Store(true)
	app.sg.Start()
}

func (app *App) Stop() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[App] panic during Stop:  %v\n%s", r, debug.Stack())
		}
	}()

	if app.svc.NacosManager != nil {
		logger.Infof("[App] Deregistering from Nacos...")
		if err := app.svc.NacosManager.DeregisterServer(); err != nil {
			logger.Warnf("[App] DeregisterNacos failed: %v", err)
		}
	}

	app.health.Shutdown()
	app.pauseWorkers()
	app.sg.Stop()
	if app.raft != nil {
		app.raft.Stop()
	}
	app.engine.Close()
	app.svc.Close()
}

func (app *App) resumeWorkers() {
	if app.pushWorker != nil {
		app.pushWorker.Resume()
	}
	app.orchestrator.Resume()
	app.refreshWorker.Resume()
	app.intake.Resume()
}

func (app *App) pauseWorkers() {
	app.intake.Pause()
	app.refreshWorker.Pause()
	app.orchestrator.Pause()
	if app.pushWorker != nil {
		app.pushWorker.Pause()
	}
}

func (app *App) refresh(ctx context.Context) error {
	st := app.engine.Refresh(ctx)
	if st.Tracked > 0 {
		logger.Debugf("[App] refresh: tracked=%d quoted=%d failed=%d evicted=%d expired=%d cost=%v",
			st.Tracked, st.Quoted, st.Failed, st.Evicted, st.Expired, st.Duration)
	}
	return nil
}

//////////////////////////////
// Raft 生命周期相关
//////////////////////////////

// IsReady 单机模式启动后即就绪；HA 模式等待 raft 追上日志
func (app *App) IsReady() bool {
	if !app.started.Load() {
		return false
	}
	return app.raft == nil || app.raft.IsReady()
}

func (app *App) IsLeader() bool {
	return app.raft == nil || app.raft.IsLeader()
}

// GetLeaderIP 返回当前 Raft 集群中的 Leader IP 地址
func (app *App) GetLeaderIP() (string, error) {
	if app.raft == nil {
		return "", ErrNoRaft
	}
	return app.raft.LeaderIP()
}

// AddOrRemoveNode 用于添加或移除 Raft 集群中的节点，node 格式 "version:ip"
func (app *App) AddOrRemoveNode(node string, addNode bool) error {
	if app.raft == nil {
		return ErrNoRaft
	}
	return app.raft.AddOrRemoveNode(node, addNode)
}

// OnBecameRaftLeader 只有 leader 扫描、评分和推送
func (app *App) OnBecameRaftLeader(first bool) {
	if first {
		logger.Infof("[App] became leader, resuming scanners and workers")
	}
	app.resumeWorkers()
}

func (app *App) OnBecameRaftFollower(first bool) {
	if first {
		logger.Infof("[App] became follower, pausing scanners and workers")
	}
	app.pauseWorkers()
}

// OnRaftReady Raft 准备好时的回调，注册 Nacos 服务
func (app *App) OnRaftReady() {
	app.registerNacosServer("Raft is ready")
}

func (app *App) OnPrepareSnapshot() ([]raft.Serializable, error) {
	return app.ledger.OnPrepareSnapshot()
}

func (app *App) OnRecoverFromSnapshot(data []byte) error {
	return app.ledger.OnRecoverFromSnapshot(data)
}

func (app *App) OnRecoverFromSnapshotDone() error {
	return app.ledger.OnRecoverFromSnapshotDone()
}

func (app *App) OnRaftDataUpdated(data []byte) error {
	return app.ledger.OnRaftDataUpdated(data)
}

// replicateMark leader 本地标记后异步复制到从节点
func (app *App) replicateMark(tier alert.Tier, key string, entry alert.CooldownEntry) {
	if !app.raft.IsLeader() {
		return
	}
	threading.GoSafe(func() {
		if err := app.submit(raft.MarkCommand(tier, key, entry)); err != nil {
			logger.Errorf("[App] replicate %s mark for %s failed: %v", tier, key, err)
		}
	})
}

func (app *App) submit(c *raft.Command) error {
	data, err := c.Serialize(nil)
	if err != nil {
		return err
	}
	return app.raft.Submit(data)
}

// registerNacosServer 注册 Nacos 服务
func (app *App) registerNacosServer(trigger string) {
	m := app.svc.NacosManager
	if m == nil {
		return
	}
	if m.IsServerRegistered() {
		logger.Infof("[App] Server is already registered with Nacos")
		return
	}
	if err := m.RegisterServer(); err != nil {
		logger.Errorf("[App] RegisterNacos failed after %s trigger: %v", trigger, err)
		return
	}
	logger.Infof("[App] RegisterNacos succeeded after %s trigger", trigger)
}

//////////////////////////////
// 层级开关与查询
//////////////////////////////

// SetTierEnabled HA 模式下经 raft 复制到所有节点
func (app *App) SetTierEnabled(tier alert.Tier, on bool) error {
	if _, err := alert.ParseTier(string(tier)); err != nil {
		return err
	}
	if app.raft == nil {
		return app.engine.SetTierEnabled(tier, on)
	}
	return app.submit(raft.TierCommand(tier, on))
}

func (app *App) Tiers() map[alert.Tier]bool {
	return app.engine.Tiers()
}

// watchTierToggles Nacos 推送的开关在每个节点本地生效，不经 raft
func (app *App) watchTierToggles() {
	m := app.svc.NacosManager
	if m == nil {
		return
	}
	err := m.WatchConfig(func(data string) {
		toggles, err := ParseTierToggles(data)
		if err != nil {
			logger.Warnf("[App] ignore tier toggles from nacos: %v", err)
			return
		}
		for tier, on := range toggles {
			if err := app.engine.SetTierEnabled(tier, on); err != nil {
				logger.Warnf("[App] toggle %s: %v", tier, err)
			}
		}
	})
	if err != nil {
		logger.Errorf("[App] watch tier toggles failed: %v", err)
	}
}

func (app *App) Inspect(id types.ChainID, token string) (alert.TokenStatus, bool) {
	return app.engine.Inspect(id, token)
}

// Health gRPC 健康服务，由 main 注册到 zrpc server
func (app *App) Health() *chainhealth.Server {
	return app.health
}
