package raft

import (
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/alert"
	"errors"
	"fmt"
	"sync"
)

var ErrBadCommand = errors.New("raft: bad command")

// Op 复制日志中的操作类型
type Op string

const (
	OpMark Op = "mark" // 冷却标记
	OpTier Op = "tier" // 层级开关
)

// Command 复制日志与快照共用的记录格式
type Command struct {
	Op      Op                   `json:"op"`
	Tier    alert.Tier           `json:"tier"`
	Key     string               `json:"key,omitempty"`
	Entry   *alert.CooldownEntry `json:"entry,omitempty"`
	Enabled bool                 `json:"enabled,omitempty"`
}

func MarkCommand(tier alert.Tier, key string, entry alert.CooldownEntry) *Command {
	return &Command{Op: OpMark, Tier: tier, Key: key, Entry: &entry}
}

func TierCommand(tier alert.Tier, enabled bool) *Command {
	return &Command{Op: OpTier, Tier: tier, Enabled: enabled}
}

func (c *Command) Serialize(buf []byte) ([]byte, error) {
	data, err := utils.SafeJsonMarshal(c)
	if err != nil {
		return nil, err
	}
	return append(buf, data...), nil
}

func (c *Command) validate() error {
	switch c.Op {
	case OpMark:
		if c.Key == "" || c.Entry == nil {
			return fmt.Errorf("%w: mark without key or entry", ErrBadCommand)
		}
	case OpTier:
	default:
		return fmt.Errorf("%w: unknown op %q", ErrBadCommand, c.Op)
	}
	if _, err := alert.ParseTier(string(c.Tier)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	return nil
}

func DecodeCommand(data []byte) (*Command, error) {
	var c Command
	if err := utils.SafeJsonUnmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Engine 复制状态的落点，由 alert.Engine 实现
type Engine interface {
	Tiers() map[alert.Tier]bool
	Store(tier alert.Tier) (*alert.CooldownStore, bool)
	ApplyMark(tier alert.Tier, key string, entry alert.CooldownEntry) error
	SetTierEnabled(tier alert.Tier, on bool) error
}

// Ledger 把已提交的日志回放到冷却存储，并负责快照的生成与恢复
// 角色切换回调由上层实现，Ledger 只处理数据
type Ledger struct {
	engine Engine

	mu        sync.Mutex
	recovered map[alert.Tier]map[string]alert.CooldownEntry
	toggles   map[alert.Tier]bool
}

func NewLedger(engine Engine) *Ledger {
	return &Ledger{engine: engine}
}

// OnRaftDataUpdated 坏数据只记录日志，不能阻塞状态机
func (l *Ledger) OnRaftDataUpdated(data []byte) error {
	c, err := DecodeCommand(data)
	if err != nil {
		logger.Errorf("[Ledger] skip entry: %v", err)
		return nil
	}
	return l.apply(c)
}

func (l *Ledger) apply(c *Command) error {
	switch c.Op {
	case OpMark:
		if err := l.engine.ApplyMark(c.Tier, c.Key, *c.Entry); err != nil {
			if errors.Is(err, alert.ErrUnknownTier) {
				logger.Warnf("[Ledger] tier %s not configured, skip mark %s", c.Tier, c.Key)
				return nil
			}
			return fmt.Errorf("apply mark %s/%s: %w", c.Tier, c.Key, err)
		}
	case OpTier:
		if err := l.engine.SetTierEnabled(c.Tier, c.Enabled); err != nil {
			logger.Warnf("[Ledger] toggle tier %s: %v", c.Tier, err)
		}
	}
	return nil
}

// OnPrepareSnapshot 先写层级开关，再按层级、key 排序写冷却记录
func (l *Ledger) OnPrepareSnapshot() ([]Serializable, error) {
	tiers := l.engine.Tiers()
	names := utils.SortedKeys(tiers)

	items := make([]Serializable, 0, len(names))
	for _, tier := range names {
		items = append(items, TierCommand(tier, tiers[tier]))
	}
	for _, tier := range names {
		store, ok := l.engine.Store(tier)
		if !ok {
			continue
		}
		entries := store.Entries()
		for _, k := range utils.SortedKeys(entries) {
			items = append(items, MarkCommand(tier, k, entries[k]))
		}
	}
	return items, nil
}

// OnRecoverFromSnapshot 暂存，Done 时整体替换
func (l *Ledger) OnRecoverFromSnapshot(data []byte) error {
	c, err := DecodeCommand(data)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recovered == nil {
		l.recovered = make(map[alert.Tier]map[string]alert.CooldownEntry)
		l.toggles = make(map[alert.Tier]bool)
	}
	switch c.Op {
	case OpMark:
		m := l.recovered[c.Tier]
		if m == nil {
			m = make(map[string]alert.CooldownEntry)
			l.recovered[c.Tier] = m
		}
		m[c.Key] = *c.Entry
	case OpTier:
		l.toggles[c.Tier] = c.Enabled
	}
	return nil
}

func (l *Ledger) OnRecoverFromSnapshotDone() error {
	l.mu.Lock()
	recovered, toggles := l.recovered, l.toggles
	l.recovered, l.toggles = nil, nil
	l.mu.Unlock()

	var errs []error
	for tier := range l.engine.Tiers() {
		store, ok := l.engine.Store(tier)
		if !ok {
			continue
		}
		// 快照中没有的层级同样清空
		if err := store.Restore(recovered[tier]); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", tier, err))
			continue
		}
		logger.Infof("[Ledger] restored %d cooldown entries for %s", len(recovered[tier]), tier)
	}
	for tier, on := range toggles {
		if err := l.engine.SetTierEnabled(tier, on); err != nil {
			logger.Warnf("[Ledger] restore toggle %s: %v", tier, err)
		}
	}
	return errors.Join(errs...)
}
