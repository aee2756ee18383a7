package alert

import (
	"dex-pool-sentinel/internal/pkg/logger"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const storeVersion = 1

// CooldownEntry 单个代币的告警记录
type CooldownEntry struct {
	Timestamp int64  `json:"timestamp"` // unix 秒
	AlertedAt string `json:"alerted_at"`
	Chain     string `json:"chain,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	Score     int    `json:"score,omitempty"`
	Level     Level  `json:"level,omitempty"`
}

type storeFile struct {
	Version     int                      `json:"version"`
	LastUpdated string                   `json:"last_updated"`
	TotalCount  int                      `json:"total_count"`
	Tokens      map[string]CooldownEntry `json:"tokens"`
}

// CooldownStore 每个层级独占一个文件，启动时全量加载，每次变更全量重写
// window 为 0 表示每个代币终身只告警一次
type CooldownStore struct {
	tier   Tier
	path   string
	window time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	tokens map[string]CooldownEntry
}

func OpenCooldownStore(tier Tier, path string, window time.Duration, now func() time.Time) (*CooldownStore, error) {
	if now == nil {
		now = time.Now
	}
	s := &CooldownStore{
		tier:   tier,
		path:   path,
		window: window,
		now:    now,
		tokens: make(map[string]CooldownEntry),
	}
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Infof("[Cooldown:%s] no store at %s, starting fresh", tier, path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cooldown store %s: %w", path, err)
	}
	var f storeFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode cooldown store %s: %w", path, err)
	}
	if f.Version != storeVersion {
		return nil, fmt.Errorf("cooldown store %s: unsupported version %d", path, f.Version)
	}
	for k, v := range f.Tokens {
		s.tokens[k] = v
	}
	logger.Infof("[Cooldown:%s] loaded %d entries from %s", tier, len(s.tokens), path)
	return s, nil
}

func (s *CooldownStore) Tier() Tier { return s.tier }

// IsOnCooldown key 为 types.TokenKey
func (s *CooldownStore) IsOnCooldown(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onCooldownLocked(key, s.now())
}

func (s *CooldownStore) onCooldownLocked(key string, now time.Time) bool {
	e, ok := s.tokens[key]
	if !ok {
		return false
	}
	if s.window <= 0 {
		return true
	}
	return now.Sub(time.Unix(e.Timestamp, 0)) < s.window
}

// Get 返回记录副本
func (s *CooldownStore) Get(key string) (CooldownEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tokens[key]
	return e, ok
}

// MarkAlerted 记录告警并立即落盘；仍在冷却中返回 false
// 落盘失败时不留下标记，返回 false 和错误，下次仍可告警
func (s *CooldownStore) MarkAlerted(key string, e CooldownEntry) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onCooldownLocked(key, now) {
		return false, nil
	}
	e.Timestamp = now.Unix()
	e.AlertedAt = now.UTC().Format(time.DateTime)
	if err := s.putLocked(key, e); err != nil {
		return false, err
	}
	return true, nil
}

// Apply 无条件写入，用于副本回放；落盘失败时内存回到写入前
func (s *CooldownStore) Apply(key string, e CooldownEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, e)
}

func (s *CooldownStore) putLocked(key string, e CooldownEntry) error {
	prev, had := s.tokens[key]
	s.tokens[key] = e
	if err := s.flushLocked(); err != nil {
		if had {
			s.tokens[key] = prev
		} else {
			delete(s.tokens, key)
		}
		return err
	}
	return nil
}

// Entries 全量副本，用于快照
func (s *CooldownStore) Entries() map[string]CooldownEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]CooldownEntry, len(s.tokens))
	for k, v := range s.tokens {
		out[k] = v
	}
	return out
}

// Restore 用快照替换全部记录
func (s *CooldownStore) Restore(entries map[string]CooldownEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]CooldownEntry, len(entries))
	for k, v := range entries {
		s.tokens[k] = v
	}
	return s.flushLocked()
}

// Prune 清理已过冷却窗口的记录，终身冷却的存储不清理
func (s *CooldownStore) Prune() (int, error) {
	if s.window <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.window).Unix()

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.tokens {
		if e.Timestamp <= cutoff {
			delete(s.tokens, k)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.flushLocked()
}

func (s *CooldownStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

func (s *CooldownStore) flushLocked() error {
	if s.path == "" {
		return nil
	}
	f := storeFile{
		Version:     storeVersion,
		LastUpdated: s.now().UTC().Format(time.DateTime),
		TotalCount:  len(s.tokens),
		Tokens:      s.tokens,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cooldown store: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

// writeFileAtomic 同目录临时文件 + rename
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename store %s: %w", path, err)
	}
	return nil
}
