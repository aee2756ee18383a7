package momentum

import (
	"sync"
	"time"
)

const (
	RequiredSnapshots = 3
	MinBlockSpacing   = 2
	LiquidityBand     = 0.15
	PriceFloorRatio   = 0.5
	DefaultStaleAfter = 300 * time.Second

	scoreLiquidity = 7
	scorePrice     = 8
	scoreVolume    = 5
	MaxScore       = scoreLiquidity + scorePrice + scoreVolume
)

// Snapshot 某个区块上的一次观测
type Snapshot struct {
	Block        uint64    `json:"block"`
	LiquidityUSD float64   `json:"liquidity_usd"`
	PriceUSD     float64   `json:"price_usd"`
	VolumeUSD    float64   `json:"volume_usd"`
	Trades       int       `json:"trades"` // Solana 只能拿到成交笔数
	At           time.Time `json:"at"`
}

// Result 动量判定
type Result struct {
	Confirmed      bool    `json:"confirmed"`
	Pending        bool    `json:"pending"` // 快照数量不足
	Invalidated    bool    `json:"invalidated"`
	Score          int     `json:"score"`
	Snapshots      int     `json:"snapshots"`
	LiquidityOK    bool    `json:"liquidity_ok"`
	PriceOK        bool    `json:"price_ok"`
	VolumeOK       bool    `json:"volume_ok"`
	LiquidityTrend float64 `json:"liquidity_trend"` // 最新流动性 / 首个快照流动性
}

type entry struct {
	snaps      []Snapshot
	confirmed  bool
	lastUpdate time.Time
}

// Tracker 按代币记录间隔区块的快照，判断价格与流动性是否持续
type Tracker struct {
	staleAfter time.Duration
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

func NewTracker(staleAfter time.Duration, now func() time.Time) *Tracker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		staleAfter: staleAfter,
		now:        now,
		entries:    make(map[string]*entry),
	}
}

// Record 间隔不足 MinBlockSpacing 的快照被忽略，返回是否被接受
// 超过 RequiredSnapshots 时保留首个快照作为基准，滑动替换其余快照
func (t *Tracker) Record(key string, s Snapshot) bool {
	if s.At.IsZero() {
		s.At = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		e = &entry{snaps: make([]Snapshot, 0, RequiredSnapshots)}
		t.entries[key] = e
	}
	if n := len(e.snaps); n > 0 && s.Block < e.snaps[n-1].Block+MinBlockSpacing {
		return false
	}

	if len(e.snaps) < RequiredSnapshots {
		e.snaps = append(e.snaps, s)
	} else {
		copy(e.snaps[1:], e.snaps[2:])
		e.snaps[len(e.snaps)-1] = s
	}
	e.lastUpdate = t.now()
	return true
}

// Evaluate 未跟踪的代币返回 Pending
func (t *Tracker) Evaluate(key string) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return Result{Pending: true}
	}

	r := evaluate(e.snaps)
	if r.Confirmed {
		e.confirmed = true
	} else if e.confirmed && !r.Pending {
		r.Invalidated = true
	}
	return r
}

func evaluate(snaps []Snapshot) Result {
	r := Result{Snapshots: len(snaps)}
	if len(snaps) == 0 {
		r.Pending = true
		return r
	}

	first := snaps[0]
	last := snaps[len(snaps)-1]
	if first.LiquidityUSD > 0 {
		r.LiquidityTrend = last.LiquidityUSD / first.LiquidityUSD
	}
	if len(snaps) < RequiredSnapshots {
		r.Pending = true
		return r
	}

	r.LiquidityOK = first.LiquidityUSD > 0
	r.PriceOK = first.PriceUSD > 0
	for _, s := range snaps[1:] {
		if r.LiquidityOK {
			dev := (s.LiquidityUSD - first.LiquidityUSD) / first.LiquidityUSD
			if dev > LiquidityBand || dev < -LiquidityBand {
				r.LiquidityOK = false
			}
		}
		if r.PriceOK && s.PriceUSD < first.PriceUSD*PriceFloorRatio {
			r.PriceOK = false
		}
	}
	for _, s := range snaps {
		if s.VolumeUSD > 0 || s.Trades > 0 {
			r.VolumeOK = true
			break
		}
	}

	if r.LiquidityOK {
		r.Score += scoreLiquidity
	}
	if r.PriceOK {
		r.Score += scorePrice
	}
	if r.VolumeOK {
		r.Score += scoreVolume
	}
	r.Confirmed = r.LiquidityOK && r.PriceOK && r.VolumeOK
	return r
}

// Forget 移除代币
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}

// Evict 清理超过 staleAfter 未刷新的代币，返回清理数量
func (t *Tracker) Evict() int {
	cutoff := t.now().Add(-t.staleAfter)

	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, e := range t.entries {
		if e.lastUpdate.Before(cutoff) {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
