package dedup

import (
	"github.com/cespare/xxhash/v2"
	"sync"
)

// BoundedSet 定长去重集合，超出容量时按插入顺序淘汰最旧的元素
type BoundedSet[K comparable] struct {
	mu       sync.Mutex
	capacity int
	items    map[K]struct{}
	ring     []K
	next     int
	full     bool
}

func NewBoundedSet[K comparable](capacity int) *BoundedSet[K] {
	if capacity <= 0 {
		capacity = 1
	}
	return &BoundedSet[K]{
		capacity: capacity,
		items:    make(map[K]struct{}, capacity),
		ring:     make([]K, capacity),
	}
}

// Add 插入 k，返回 true 表示之前不存在
func (s *BoundedSet[K]) Add(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[k]; ok {
		return false
	}

	if s.full {
		delete(s.items, s.ring[s.next])
	}
	s.ring[s.next] = k
	s.items[k] = struct{}{}
	s.next++
	if s.next == s.capacity {
		s.next = 0
		s.full = true
	}
	return true
}

func (s *BoundedSet[K]) Contains(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[k]
	return ok
}

func (s *BoundedSet[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// StringSet 以 xxhash 存储字符串，适合签名、交易哈希这类长 key
type StringSet struct {
	set *BoundedSet[uint64]
}

func NewStringSet(capacity int) *StringSet {
	return &StringSet{set: NewBoundedSet[uint64](capacity)}
}

func (s *StringSet) Add(v string) bool      { return s.set.Add(xxhash.Sum64String(v)) }
func (s *StringSet) Contains(v string) bool { return s.set.Contains(xxhash.Sum64String(v)) }
func (s *StringSet) Len() int               { return s.set.Len() }
