package registry

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/sentinel/blockbus"
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/heat"
	"dex-pool-sentinel/internal/sentinel/types"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Service 单链的全部依赖，显式构造后注册
type Service struct {
	Chain           types.ChainID
	ScanInterval    time.Duration
	MinLiquidityUSD float64
	Adapter         chain.Adapter
	Bus             *blockbus.Bus
	Gate            *heat.Gate

	mu             sync.RWMutex
	state          types.ConnectionState
	disabledReason string
}

type ServiceOptions struct {
	ScanInterval    time.Duration
	PollInterval    time.Duration
	MinLiquidityUSD float64
	Heat            heat.Config
	Now             func() time.Time
}

func NewService(adapter chain.Adapter, opt ServiceOptions) *Service {
	id := adapter.Chain()
	poll := opt.PollInterval
	if poll <= 0 {
		poll = opt.ScanInterval
	}
	return &Service{
		Chain:           id,
		ScanInterval:    opt.ScanInterval,
		MinLiquidityUSD: opt.MinLiquidityUSD,
		Adapter:         adapter,
		Bus:             blockbus.NewBus(id, adapter.Head(), poll, opt.Now),
		Gate:            heat.NewGate(id, opt.Heat, opt.Now),
		state:           types.StateDisconnected,
	}
}

// NewDisabledService 配置中 enabled=false 的链，只保留状态用于展示
func NewDisabledService(id types.ChainID, reason string) *Service {
	return &Service{Chain: id, state: types.StateDisabled, disabledReason: reason}
}

func (s *Service) State() (types.ConnectionState, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.disabledReason
}

func (s *Service) setState(st types.ConnectionState, reason string) {
	s.mu.Lock()
	s.state = st
	s.disabledReason = reason
	s.mu.Unlock()
}

func (s *Service) Connected() bool {
	st, _ := s.State()
	return st == types.StateConnected
}

// Registry 按链 ID 持有各链服务，启动时交给 Orchestrator
type Registry struct {
	mu       sync.RWMutex
	services map[types.ChainID]*Service
}

func New() *Registry {
	return &Registry{services: make(map[types.ChainID]*Service)}
}

func (r *Registry) Register(s *Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.services[s.Chain]; dup {
		return fmt.Errorf("chain %s already registered", s.Chain)
	}
	r.services[s.Chain] = s
	return nil
}

func (r *Registry) Get(id types.ChainID) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[id]
	return s, ok
}

// All 按链 ID 排序
func (r *Registry) All() []*Service {
	r.mu.RLock()
	out := make([]*Service, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Chain < out[j].Chain })
	return out
}

func (r *Registry) Connected() []*Service {
	all := r.All()
	out := all[:0]
	for _, s := range all {
		if s.Connected() {
			out = append(out, s)
		}
	}
	return out
}

// ConnectAll 连接失败的链在进程生命周期内被排除，只记录配置告警
func (r *Registry) ConnectAll(ctx context.Context, timeout time.Duration) int {
	n := 0
	for _, s := range r.All() {
		if st, _ := s.State(); st == types.StateDisabled {
			logger.Infof("[Registry] chain %s disabled, skipped", s.Chain)
			continue
		}

		connCtx, cancel := context.WithTimeout(ctx, timeout)
		err := s.Adapter.Connect(connCtx)
		cancel()
		if err != nil {
			s.setState(types.StateExcluded, err.Error())
			logger.Warnf("[Registry] chain %s excluded, check its configuration: %v", s.Chain, err)
			continue
		}
		s.setState(types.StateConnected, "")
		n++
	}
	return n
}
