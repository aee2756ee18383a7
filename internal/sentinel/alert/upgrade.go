package alert

import (
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/sentinel/types"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// UpgradeConfig trade -> sniper 自动升级
type UpgradeConfig struct {
	Threshold         int           `json:"threshold" yaml:"threshold"`
	MaxScore          int           `json:"max_score" yaml:"max_score"`
	Window            time.Duration `json:"window" yaml:"window"`
	Cooldown          time.Duration `json:"cooldown" yaml:"cooldown"`
	PriorityWeight    float64       `json:"priority_weight" yaml:"priority_weight"`
	SmartWalletWeight float64       `json:"smart_wallet_weight" yaml:"smart_wallet_weight"`
}

func DefaultUpgradeConfig() UpgradeConfig {
	return UpgradeConfig{
		Threshold:         85,
		MaxScore:          95,
		Window:            30 * time.Minute,
		Cooldown:          300 * time.Second,
		PriorityWeight:    1,
		SmartWalletWeight: 1,
	}
}

// UpgradeSignal 告警之后才出现的信号
type UpgradeSignal struct {
	Chain              types.ChainID `json:"chain"`
	Token              string        `json:"token"`
	PriorityScore      int           `json:"priority_score"`
	SmartWalletScore   int           `json:"smart_wallet_score"`
	PriorityReasons    []string      `json:"priority_reasons"`
	SmartWalletReasons []string      `json:"smart_wallet_reasons"`
}

// UpgradeDecision Evaluate 的结果，Upgrade 为真时需要调用方 Commit
type UpgradeDecision struct {
	Upgrade    bool           `json:"upgrade"`
	FinalScore int            `json:"final_score"`
	Reasons    []string       `json:"reasons"`
	Breakdown  map[string]int `json:"breakdown"`
}

// UpgradeWatch 被监控的 trade 告警
type UpgradeWatch struct {
	Chain        types.ChainID `json:"chain"`
	Token        string        `json:"token"`
	Pool         string        `json:"pool"`
	Name         string        `json:"name"`
	Symbol       string        `json:"symbol"`
	BaseScore    int           `json:"base_score"`
	LiquidityUSD float64       `json:"liquidity_usd"`
	RegisteredAt time.Time     `json:"registered_at"`
	Checks       int           `json:"checks"`
}

// UpgradeRecord 升级事实记录，跨层转换的唯一依据
type UpgradeRecord struct {
	Chain      types.ChainID `json:"chain"`
	Token      string        `json:"token"`
	Symbol     string        `json:"symbol"`
	BaseScore  int           `json:"base_score"`
	FinalScore int           `json:"final_score"`
	Reasons    []string      `json:"reasons"`
	Timestamp  int64         `json:"timestamp"`
}

type upgradeFile struct {
	Version     int                      `json:"version"`
	LastUpdated string                   `json:"last_updated"`
	TotalCount  int                      `json:"total_count"`
	Tokens      map[string]UpgradeRecord `json:"tokens"`
	Watching    map[string]*UpgradeWatch `json:"watching"`
}

// UpgradeMonitor 监控窗口内的 trade 告警，迟到信号把分数推过阈值时升级，每个代币只升级一次
type UpgradeMonitor struct {
	cfg  UpgradeConfig
	path string
	now  func() time.Time

	mu       sync.Mutex
	watching map[string]*UpgradeWatch
	upgraded map[string]UpgradeRecord
}

func OpenUpgradeMonitor(cfg UpgradeConfig, path string, now func() time.Time) (*UpgradeMonitor, error) {
	if now == nil {
		now = time.Now
	}
	m := &UpgradeMonitor{
		cfg:      cfg,
		path:     path,
		now:      now,
		watching: make(map[string]*UpgradeWatch),
		upgraded: make(map[string]UpgradeRecord),
	}
	if path == "" {
		return m, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read upgrade store %s: %w", path, err)
	}
	var f upgradeFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode upgrade store %s: %w", path, err)
	}
	if f.Version != storeVersion {
		return nil, fmt.Errorf("upgrade store %s: unsupported version %d", path, f.Version)
	}
	for k, v := range f.Tokens {
		m.upgraded[k] = v
	}
	for k, v := range f.Watching {
		if v != nil {
			m.watching[k] = v
		}
	}
	logger.Infof("[AutoUpgrade] loaded %d watching, %d upgraded from %s", len(m.watching), len(m.upgraded), path)
	return m, nil
}

// Watch 登记 trade 告警；已升级过的代币不再监控
func (m *UpgradeMonitor) Watch(key string, w UpgradeWatch) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.upgraded[key]; done {
		return false
	}
	if w.RegisteredAt.IsZero() {
		w.RegisteredAt = m.now()
	}
	m.watching[key] = &w
	if err := m.flushLocked(); err != nil {
		logger.Warnf("[AutoUpgrade] persist watch %s failed: %v", key, err)
	}
	return true
}

func (m *UpgradeMonitor) Watching(key string) (UpgradeWatch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watching[key]
	if !ok {
		return UpgradeWatch{}, false
	}
	return *w, true
}

func (m *UpgradeMonitor) Upgraded(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.upgraded[key]
	return ok
}

// Evaluate final = base + priority*w + smart_wallet*w，封顶 MaxScore
// 超过监控窗口的代币会被移除
func (m *UpgradeMonitor) Evaluate(key string, sig UpgradeSignal) UpgradeDecision {
	d := UpgradeDecision{}

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.watching[key]
	if !ok {
		return d
	}
	now := m.now()
	if now.Sub(w.RegisteredAt) > m.cfg.Window {
		delete(m.watching, key)
		logger.Infof("[AutoUpgrade] monitoring expired for %s", key)
		if err := m.flushLocked(); err != nil {
			logger.Warnf("[AutoUpgrade] persist expiry %s failed: %v", key, err)
		}
		return d
	}
	w.Checks++

	priority := int(float64(sig.PriorityScore) * m.cfg.PriorityWeight)
	smart := int(float64(sig.SmartWalletScore) * m.cfg.SmartWalletWeight)
	d.FinalScore = min(w.BaseScore+priority+smart, m.cfg.MaxScore)
	d.Breakdown = map[string]int{
		"base":         w.BaseScore,
		"priority":     priority,
		"smart_wallet": smart,
	}
	if sig.PriorityScore > 0 {
		d.Reasons = append(d.Reasons, sig.PriorityReasons...)
	}
	if sig.SmartWalletScore > 0 {
		d.Reasons = append(d.Reasons, sig.SmartWalletReasons...)
	}

	if d.FinalScore < m.cfg.Threshold || len(d.Reasons) == 0 {
		return d
	}
	if rec, done := m.upgraded[key]; done && now.Sub(time.Unix(rec.Timestamp, 0)) < m.cfg.Cooldown {
		return d
	}
	d.Upgrade = true
	return d
}

// Commit 先落盘升级记录，再由调用方推送通知和标记目标层冷却
func (m *UpgradeMonitor) Commit(key string, d UpgradeDecision) (UpgradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := m.upgraded[key]; done {
		return UpgradeRecord{}, fmt.Errorf("token %s already upgraded", key)
	}
	w, ok := m.watching[key]
	if !ok {
		return UpgradeRecord{}, fmt.Errorf("token %s not monitored", key)
	}
	rec := UpgradeRecord{
		Chain:      w.Chain,
		Token:      w.Token,
		Symbol:     w.Symbol,
		BaseScore:  w.BaseScore,
		FinalScore: d.FinalScore,
		Reasons:    d.Reasons,
		Timestamp:  m.now().Unix(),
	}
	m.upgraded[key] = rec
	delete(m.watching, key)
	if err := m.flushLocked(); err != nil {
		delete(m.upgraded, key)
		m.watching[key] = w
		return UpgradeRecord{}, err
	}
	return rec, nil
}

// ClearExpired 移除超过窗口的监控
func (m *UpgradeMonitor) ClearExpired() int {
	cutoff := m.now().Add(-m.cfg.Window)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, w := range m.watching {
		if w.RegisteredAt.Before(cutoff) {
			delete(m.watching, k)
			n++
		}
	}
	if n > 0 {
		if err := m.flushLocked(); err != nil {
			logger.Warnf("[AutoUpgrade] persist expiry failed: %v", err)
		}
	}
	return n
}

// Stats 监控数与已升级数
func (m *UpgradeMonitor) Stats() (watching, upgraded int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watching), len(m.upgraded)
}

func (m *UpgradeMonitor) flushLocked() error {
	if m.path == "" {
		return nil
	}
	f := upgradeFile{
		Version:     storeVersion,
		LastUpdated: m.now().UTC().Format(time.DateTime),
		TotalCount:  len(m.upgraded),
		Tokens:      m.upgraded,
		Watching:    m.watching,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode upgrade store: %w", err)
	}
	return writeFileAtomic(m.path, data)
}
