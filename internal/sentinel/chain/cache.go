package chain

import (
	"context"
	"dex-pool-sentinel/internal/pkg/utils"
	"fmt"
	"golang.org/x/sync/singleflight"
	"sync"
)

type cacheEntry[T any] struct {
	value T
	err   error
}

// ResolutionCache 按地址永久缓存解析结果，失败同样缓存为哨兵，避免重试风暴
// 同一地址的并发解析只会真正执行一次
type ResolutionCache[T any] struct {
	name    string
	mu      sync.RWMutex
	entries map[string]cacheEntry[T]
	group   singleflight.Group
}

func NewResolutionCache[T any](name string) *ResolutionCache[T] {
	return &ResolutionCache[T]{
		name:    name,
		entries: make(map[string]cacheEntry[T]),
	}
}

// Get found=false 表示从未解析；err != nil 表示曾解析失败
func (c *ResolutionCache[T]) Get(addr string) (value T, found bool, err error) {
	key := utils.NormalizeAddress(addr)
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return value, false, nil
	}
	return e.value, true, e.err
}

// Resolve 命中缓存直接返回，否则执行 fn 并缓存结果（包括失败）
func (c *ResolutionCache[T]) Resolve(ctx context.Context, addr string, fn func(ctx context.Context) (T, error)) (T, error) {
	if v, found, err := c.Get(addr); found {
		return v, err
	}

	key := utils.NormalizeAddress(addr)
	res, _, _ := c.group.Do(key, func() (interface{}, error) {
		if v, found, err := c.Get(key); found {
			return cacheEntry[T]{value: v, err: err}, nil
		}

		v, err := fn(ctx)
		if err != nil {
			err = fmt.Errorf("%s %s: %w: %v", c.name, key, ErrResolutionFailed, err)
		}
		e := cacheEntry[T]{value: v, err: err}

		c.mu.Lock()
		c.entries[key] = e
		c.mu.Unlock()
		return e, nil
	})

	e := res.(cacheEntry[T])
	return e.value, e.err
}

func (c *ResolutionCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
