package dedup

import (
	"sync"
	"time"
)

// TTLSet 记录 key 最近一次出现的时间，窗口内重复出现视为重复
type TTLSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	seen    map[string]time.Time
	now     func() time.Time
	lastGC  time.Time
	maxSize int
}

func NewTTLSet(ttl time.Duration, maxSize int, now func() time.Time) *TTLSet {
	if now == nil {
		now = time.Now
	}
	return &TTLSet{
		ttl:     ttl,
		seen:    make(map[string]time.Time),
		now:     now,
		maxSize: maxSize,
	}
}

// Seen 如果 key 在窗口内出现过返回 true，否则记录并返回 false
func (s *TTLSet) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if at, ok := s.seen[key]; ok && now.Sub(at) < s.ttl {
		return true
	}
	s.seen[key] = now
	s.gcLocked(now)
	return false
}

func (s *TTLSet) Forget(key string) {
	s.mu.Lock()
	delete(s.seen, key)
	s.mu.Unlock()
}

func (s *TTLSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *TTLSet) gcLocked(now time.Time) {
	if now.Sub(s.lastGC) < s.ttl && (s.maxSize <= 0 || len(s.seen) <= s.maxSize) {
		return
	}
	s.lastGC = now
	for k, at := range s.seen {
		if now.Sub(at) >= s.ttl {
			delete(s.seen, k)
		}
	}
}
