package scanner

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/types"
	"errors"
	"fmt"
	"github.com/panjf2000/ants/v2"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const defaultResolveWorkers = 4

// Source 各链提供的分阶段数据源
type Source interface {
	// FetchCreations 第 2 阶段：区间内的建池事件，一次有界查询
	FetchCreations(ctx context.Context, from, to uint64) ([]*types.CandidatePool, error)

	// Inspect 第 3 阶段：廉价启发式过滤，补齐部署者和部署金额，不做合约调用
	Inspect(ctx context.Context, c *types.CandidatePool) (bool, error)

	// Resolve 第 5 阶段：只对 shortlist 解析元数据和流动性
	Resolve(ctx context.Context, c *types.CandidatePool) error
}

type Config struct {
	MaxBlockRange   uint64 // 0 表示不限制
	StartupLookback uint64
	ShortlistSize   int
	ResolveWorkers  int
}

// StageStats 最近一次扫描各阶段的数量
type StageStats struct {
	From        uint64    `json:"from"`
	To          uint64    `json:"to"`
	Logs        int       `json:"logs"`
	Inspected   int       `json:"inspected"`
	Shortlisted int       `json:"shortlisted"`
	Resolved    int       `json:"resolved"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Scanner 分阶段扫描器，任一阶段为空即短路返回
// 同一条链的 Scan 由调用方串行执行
type Scanner struct {
	chain  types.ChainID
	cfg    Config
	src    Source
	budget *chain.CallBudget
	pool   *ants.Pool
	now    func() time.Time

	lastScanned uint64
	last        atomic.Pointer[StageStats]

	lastLogTime atomic.Int64
}

func New(chainID types.ChainID, cfg Config, src Source, budget *chain.CallBudget, now func() time.Time) (*Scanner, error) {
	if cfg.ShortlistSize <= 0 {
		cfg.ShortlistSize = 1
	}
	if cfg.ResolveWorkers <= 0 {
		cfg.ResolveWorkers = defaultResolveWorkers
	}
	if now == nil {
		now = time.Now
	}
	pool, err := ants.NewPool(cfg.ResolveWorkers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create resolve pool for %s: %w", chainID, err)
	}
	return &Scanner{
		chain:  chainID,
		cfg:    cfg,
		src:    src,
		budget: budget,
		pool:   pool,
		now:    now,
	}, nil
}

func (s *Scanner) Close() {
	s.pool.Release()
}

// LastStats 最近一次完成的扫描统计
func (s *Scanner) LastStats() (StageStats, bool) {
	p := s.last.Load()
	if p == nil {
		return StageStats{}, false
	}
	return *p, true
}

// Scan 对新区块跑完五个阶段
// 单条失败跳过；整条流水线失败（预算冷却、取日志失败、检查阶段预算耗尽、panic）返回 error，
// 调用方据此判断该链是否真的在前进。区块没有前进时返回 nil, nil
func (s *Scanner) Scan(ctx context.Context, snap types.BlockSnapshot) (out []*types.CandidatePool, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Scanner:%s] panic at block %d: %v\n%s", s.chain, snap.Number, r, string(debug.Stack()))
			out, err = nil, fmt.Errorf("scan %s block %d panicked: %v", s.chain, snap.Number, r)
		}
	}()

	if s.budget != nil && !s.budget.Allow() {
		if utils.ThrottleLog(&s.lastLogTime, time.Minute) {
			logger.Warnf("[Scanner:%s] call budget cooling down, skip block %d", s.chain, snap.Number)
		}
		return nil, fmt.Errorf("%w: %s cooling down at block %d", chain.ErrBudgetExhausted, s.chain, snap.Number)
	}

	// 1. block tick
	from, to, ok := s.nextRange(snap.Number)
	if !ok {
		return nil, nil
	}
	stats := &StageStats{From: from, To: to}
	defer func() {
		stats.FinishedAt = s.now()
		s.last.Store(stats)
	}()

	// 2. factory logs
	created, err := s.src.FetchCreations(ctx, from, to)
	if err != nil {
		s.logStageError("fetch creations", err)
		return nil, fmt.Errorf("fetch creations %d-%d: %w", from, to, err)
	}
	prev := s.lastScanned
	s.lastScanned = to
	stats.Logs = len(created)
	if len(created) == 0 {
		return nil, nil
	}

	// 3. cheap heuristics
	survivors := make([]*types.CandidatePool, 0, len(created))
	for _, c := range created {
		keep, err := s.src.Inspect(ctx, c)
		if err != nil {
			if errors.Is(err, chain.ErrBudgetExhausted) {
				s.logStageError("inspect", err)
				// 整段未检查完，下次从原位置重扫
				s.lastScanned = prev
				return nil, fmt.Errorf("inspect %d-%d: %w", from, to, err)
			}
			logger.Debugf("[Scanner:%s] inspect %s failed: %v", s.chain, c.Pool, err)
			continue
		}
		if keep {
			survivors = append(survivors, c)
		}
	}
	stats.Inspected = len(survivors)
	if len(survivors) == 0 {
		return nil, nil
	}

	// 4. shortlist
	shortlist := Shortlist(survivors, s.cfg.ShortlistSize)
	stats.Shortlisted = len(shortlist)

	// 5. expensive resolution
	out = s.resolve(ctx, shortlist, snap.Timestamp)
	stats.Resolved = len(out)
	return out, nil
}

// nextRange 首次扫描回看 StartupLookback 个区块，之后从上次位置继续，均受 MaxBlockRange 限制
func (s *Scanner) nextRange(head uint64) (uint64, uint64, bool) {
	if head == 0 || head <= s.lastScanned {
		return 0, 0, false
	}

	var from uint64
	if s.lastScanned == 0 {
		lookback := s.cfg.StartupLookback
		if lookback == 0 {
			lookback = 1
		}
		if lookback >= head {
			from = 1
		} else {
			from = head - lookback + 1
		}
	} else {
		from = s.lastScanned + 1
	}

	if s.cfg.MaxBlockRange > 0 && head-from+1 > s.cfg.MaxBlockRange {
		from = head - s.cfg.MaxBlockRange + 1
	}
	return from, head, true
}

// Shortlist 按部署金额降序取前 k 个
func Shortlist(cands []*types.CandidatePool, k int) []*types.CandidatePool {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].DeployValue > cands[j].DeployValue
	})
	if k > 0 && len(cands) > k {
		cands = cands[:k]
	}
	return cands
}

// resolve 区块范围很小，缺少创建时间的候选以触发区块时间近似
func (s *Scanner) resolve(ctx context.Context, shortlist []*types.CandidatePool, blockTime time.Time) []*types.CandidatePool {
	ok := make([]bool, len(shortlist))

	var wg sync.WaitGroup
	for i, c := range shortlist {
		i, c := i, c
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("[Scanner:%s] resolve %s panicked: %v\n%s", s.chain, c.Token, r, string(debug.Stack()))
				}
			}()

			if err := s.src.Resolve(ctx, c); err != nil {
				logger.Debugf("[Scanner:%s] resolve %s failed: %v", s.chain, c.Token, err)
				return
			}
			ok[i] = true
		})
		if err != nil {
			wg.Done()
			logger.Warnf("[Scanner:%s] submit resolve %s failed: %v", s.chain, c.Token, err)
		}
	}
	wg.Wait()

	now := s.now()
	out := make([]*types.CandidatePool, 0, len(shortlist))
	for i, c := range shortlist {
		if ok[i] {
			c.DiscoveredAt = now
			if c.CreatedAt.IsZero() {
				c.CreatedAt = blockTime
			}
			out = append(out, c)
		}
	}
	return out
}

func (s *Scanner) logStageError(stage string, err error) {
	if utils.ThrottleLog(&s.lastLogTime, 10*time.Second) {
		logger.Warnf("[Scanner:%s] %s failed: %v", s.chain, stage, err)
	}
}
