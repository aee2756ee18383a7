package blockbus

import (
	"context"
	"dex-pool-sentinel/internal/pkg/dedup"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/metrics"
	"dex-pool-sentinel/internal/sentinel/types"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

const (
	recentCapacity = 100
	headTimeout    = 5 * time.Second
)

// Handler 订阅回调，返回的错误与 panic 都只记录日志
type Handler func(ctx context.Context, snap types.BlockSnapshot) error

type subscriber struct {
	id      uint64
	topic   string
	handler Handler
}

// Bus 单链的新区块事件总线
// 全进程只有它会查询区块高度，其余组件通过 Latest() 读取
type Bus struct {
	chain    types.ChainID
	head     chain.HeadReader
	interval time.Duration
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	subs   []subscriber
	nextID uint64

	latest atomic.Pointer[types.BlockSnapshot]
	recent *dedup.BoundedSet[uint64]

	lastErrLogTime atomic.Int64
}

func NewBus(chainID types.ChainID, head chain.HeadReader, interval time.Duration, now func() time.Time) *Bus {
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		chain:    chainID,
		head:     head,
		interval: interval,
		now:      now,
		ctx:      ctx,
		cancel:   cancel,
		recent:   dedup.NewBoundedSet[uint64](recentCapacity),
	}
}

func (b *Bus) Chain() types.ChainID { return b.chain }

// Subscribe 订阅主题，topic 只能是本链主题或通配主题
// 返回的函数用于取消订阅
func (b *Bus) Subscribe(topic string, h Handler) (func(), error) {
	if topic != b.chain.BlockTopic() && topic != types.WildcardBlockTopic {
		return nil, fmt.Errorf("bus %s: unknown topic %q", b.chain, topic)
	}
	if h == nil {
		return nil, fmt.Errorf("bus %s: nil handler", b.chain)
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, topic: topic, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}, nil
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Latest 最近一次发布的区块，尚未发布时 ok=false
func (b *Bus) Latest() (types.BlockSnapshot, bool) {
	p := b.latest.Load()
	if p == nil {
		return types.BlockSnapshot{}, false
	}
	return *p, true
}

// Poll 一次轮询：一次区块高度查询，高度前进时再查一次区块时间
// 返回是否发布了新区块
func (b *Bus) Poll(ctx context.Context) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, headTimeout)
	number, err := b.head.BlockNumber(callCtx)
	cancel()
	if err != nil {
		return false, fmt.Errorf("bus %s block number: %w", b.chain, err)
	}

	if prev := b.latest.Load(); prev != nil && number <= prev.Number {
		return false, nil
	}
	if !b.recent.Add(number) {
		return false, nil
	}

	snap := types.BlockSnapshot{Chain: b.chain, Number: number}
	callCtx, cancel = context.WithTimeout(ctx, headTimeout)
	ts, hash, err := b.head.BlockHeader(callCtx, number)
	cancel()
	if err != nil || ts.IsZero() {
		// 区块头失败不影响发布，退回本地时间
		snap.Timestamp = b.now()
		if err != nil && utils.ThrottleLog(&b.lastErrLogTime, 10*time.Second) {
			logger.Warnf("[BlockBus:%s] header %d failed, using wall clock: %v", b.chain, number, err)
		}
	} else {
		snap.Timestamp = ts
		snap.Hash = hash
	}

	b.latest.Store(&snap)
	metrics.LatestBlock.WithLabelValues(string(b.chain)).Set(float64(number))
	b.publish(ctx, snap)
	return true, nil
}

func (b *Bus) publish(ctx context.Context, snap types.BlockSnapshot) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(ctx, s, snap)
	}
}

func (b *Bus) deliver(ctx context.Context, s subscriber, snap types.BlockSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[BlockBus:%s] subscriber %d on %s panicked: %v\n%s",
				b.chain, s.id, s.topic, r, string(debug.Stack()))
		}
	}()
	if err := s.handler(ctx, snap); err != nil {
		logger.Warnf("[BlockBus:%s] subscriber %d on %s failed at block %d: %v",
			b.chain, s.id, s.topic, snap.Number, err)
	}
}

func (b *Bus) Start() {
	logger.Infof("[BlockBus:%s] polling every %v", b.chain, b.interval)

	b.pollOnce()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.pollOnce()
		}
	}
}

func (b *Bus) pollOnce() {
	if _, err := b.Poll(b.ctx); err != nil && b.ctx.Err() == nil {
		if utils.ThrottleLog(&b.lastErrLogTime, 10*time.Second) {
			logger.Warnf("[BlockBus:%s] poll failed: %v", b.chain, err)
		}
	}
}

func (b *Bus) Stop() {
	b.cancel()
	logger.Infof("[BlockBus:%s] stopped", b.chain)
}
