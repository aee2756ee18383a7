package orchestrator

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/heat"
	"dex-pool-sentinel/internal/sentinel/metrics"
	"dex-pool-sentinel/internal/sentinel/registry"
	"dex-pool-sentinel/internal/sentinel/types"
	"github.com/zeromicro/go-zero/core/threading"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

const defaultQueueSize = 256

// chainTask 单链扫描任务
// mailbox 容量为 1：扫描进行中到达的新区块会替换尚未处理的旧区块
type chainTask struct {
	svc     *registry.Service
	mailbox chan types.BlockSnapshot
	cancel  func()

	lastScan    atomic.Int64 // unix ms，最近一次成功处理区块
	lastBlock   atomic.Uint64
	scans       atomic.Int64
	failures    atomic.Int64
	coldSkips   atomic.Int64
	lastLogTime atomic.Int64
}

func (t *chainTask) offer(snap types.BlockSnapshot) {
	select {
	case t.mailbox <- snap:
		return
	default:
	}
	select {
	case <-t.mailbox:
	default:
	}
	select {
	case t.mailbox <- snap:
	default:
	}
}

// Orchestrator 多链编排：每条已连接的链一个扫描任务，共享一个候选队列
type Orchestrator struct {
	registry *registry.Registry
	queue    chan *types.CandidatePool
	monitor  *HealthMonitor
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	tasks map[types.ChainID]*chainTask

	isPaused atomic.Bool
}

type Options struct {
	QueueSize       int
	MonitorInterval time.Duration
	StallGrace      time.Duration
	Notifiers       []StallNotifier
	Now             func() time.Time
}

func New(reg *registry.Registry, opt Options) *Orchestrator {
	if opt.QueueSize <= 0 {
		opt.QueueSize = defaultQueueSize
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		registry: reg,
		queue:    make(chan *types.CandidatePool, opt.QueueSize),
		now:      opt.Now,
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(map[types.ChainID]*chainTask),
	}
	o.monitor = NewHealthMonitor(o, opt.MonitorInterval, opt.StallGrace, opt.Now, opt.Notifiers...)
	return o
}

// Candidates 候选输出队列，由评分循环消费
func (o *Orchestrator) Candidates() <-chan *types.CandidatePool {
	return o.queue
}

func (o *Orchestrator) Monitor() *HealthMonitor {
	return o.monitor
}

// Pause 非 leader 节点暂停扫描，区块照常接收但直接丢弃
func (o *Orchestrator) Pause() { o.isPaused.Store(true) }

// Resume 心跳从恢复时刻重新计时，暂停期间的空档不算停滞
func (o *Orchestrator) Resume() {
	now := o.now().UnixMilli()
	o.mu.RLock()
	for _, t := range o.tasks {
		t.lastScan.Store(now)
	}
	o.mu.RUnlock()
	o.isPaused.Store(false)
}

func (o *Orchestrator) paused() bool { return o.isPaused.Load() }

// Start 为每条已连接的链启动总线与扫描任务，阻塞直到 Stop
func (o *Orchestrator) Start() {
	services := o.registry.Connected()
	if len(services) == 0 {
		logger.Warnf("[Orchestrator] no connected chains, nothing to scan")
	}

	for _, svc := range services {
		task, err := o.attach(svc)
		if err != nil {
			logger.Errorf("[Orchestrator] attach %s failed: %v", svc.Chain, err)
			continue
		}

		o.wg.Add(2)
		threading.GoSafe(func() {
			defer o.wg.Done()
			svc.Bus.Start()
		})
		threading.GoSafe(func() {
			defer o.wg.Done()
			o.runTask(task)
		})
		logger.Infof("[Orchestrator] chain %s started, scan interval %v", svc.Chain, svc.ScanInterval)
	}

	o.wg.Add(1)
	threading.GoSafe(func() {
		defer o.wg.Done()
		o.monitor.Start(o.ctx)
	})

	<-o.ctx.Done()
	o.wg.Wait()
}

func (o *Orchestrator) attach(svc *registry.Service) (*chainTask, error) {
	task := &chainTask{
		svc:     svc,
		mailbox: make(chan types.BlockSnapshot, 1),
	}
	task.lastScan.Store(o.now().UnixMilli())

	cancel, err := svc.Bus.Subscribe(svc.Chain.BlockTopic(), func(ctx context.Context, snap types.BlockSnapshot) error {
		if o.isPaused.Load() {
			return nil
		}
		task.offer(snap)
		return nil
	})
	if err != nil {
		return nil, err
	}
	task.cancel = cancel

	o.mu.Lock()
	o.tasks[svc.Chain] = task
	o.mu.Unlock()
	return task, nil
}

func (o *Orchestrator) runTask(t *chainTask) {
	for {
		select {
		case <-o.ctx.Done():
			return
		case snap := <-t.mailbox:
			o.handleBlock(t, snap)
		}
	}
}

// handleBlock 冷市场直接跳过；否则扫描、回补热度并把候选推入队列
func (o *Orchestrator) handleBlock(t *chainTask, snap types.BlockSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Orchestrator:%s] block %d panicked: %v\n%s", t.svc.Chain, snap.Number, r, string(debug.Stack()))
		}
	}()

	id := t.svc.Chain
	if t.svc.Gate.IsCold() {
		t.coldSkips.Add(1)
		t.heartbeat(o.now(), snap.Number)
		metrics.ScansSkippedCold.WithLabelValues(string(id)).Inc()
		if utils.ThrottleLog(&t.lastLogTime, time.Minute) {
			logger.Infof("[Orchestrator:%s] market cold (%.1f), skip block %d", id, t.svc.Gate.Score(), snap.Number)
		}
		return
	}

	// 扫描失败不算心跳，持续失败由监控报停滞
	candidates, err := t.svc.Adapter.ScanNewPairs(o.ctx, snap)
	if err != nil {
		t.failures.Add(1)
		if utils.ThrottleLog(&t.lastLogTime, 10*time.Second) {
			logger.Warnf("[Orchestrator:%s] scan block %d failed: %v", id, snap.Number, err)
		}
		return
	}
	t.scans.Add(1)
	t.heartbeat(o.now(), snap.Number)

	if len(candidates) == 0 {
		return
	}
	t.svc.Gate.RecordActivity(heat.WeightShortlisted * float64(len(candidates)))
	metrics.Candidates.WithLabelValues(string(id)).Add(float64(len(candidates)))

	for _, c := range candidates {
		select {
		case o.queue <- c:
		case <-o.ctx.Done():
			return
		}
	}
	logger.Infof("[Orchestrator:%s] block %d: %d candidates queued", id, snap.Number, len(candidates))
}

func (t *chainTask) heartbeat(now time.Time, block uint64) {
	t.lastScan.Store(now.UnixMilli())
	t.lastBlock.Store(block)
}

func (o *Orchestrator) Stop() {
	o.mu.RLock()
	for _, t := range o.tasks {
		if t.cancel != nil {
			t.cancel()
		}
		t.svc.Bus.Stop()
	}
	o.mu.RUnlock()
	o.cancel()
	logger.Infof("[Orchestrator] stopped")
}

// TaskStatus 单链任务状态
type TaskStatus struct {
	Chain     types.ChainID `json:"chain"`
	LastScan  time.Time     `json:"last_scan"`
	LastBlock uint64        `json:"last_block"`
	Scans     int64         `json:"scans"`
	Failures  int64         `json:"failures"`
	ColdSkips int64         `json:"cold_skips"`
}

func (o *Orchestrator) Status() map[types.ChainID]TaskStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[types.ChainID]TaskStatus, len(o.tasks))
	for id, t := range o.tasks {
		out[id] = TaskStatus{
			Chain:     id,
			LastScan:  time.UnixMilli(t.lastScan.Load()),
			LastBlock: t.lastBlock.Load(),
			Scans:     t.scans.Load(),
			Failures:  t.failures.Load(),
			ColdSkips: t.coldSkips.Load(),
		}
	}
	return out
}

func (o *Orchestrator) heartbeats() map[types.ChainID]heartbeat {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[types.ChainID]heartbeat, len(o.tasks))
	for id, t := range o.tasks {
		out[id] = heartbeat{
			last:     time.UnixMilli(t.lastScan.Load()),
			interval: t.svc.ScanInterval,
		}
	}
	return out
}
