package chain

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestBudgetExhaustionStartsCooldown(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := NewCallBudget("base", BudgetConfig{DailyLimit: 100, Cooldown: 10 * time.Minute}, clk.now)

	require.NoError(t, b.Spend(StageLogs, 2, CUPerCall))
	assert.True(t, b.Allow())

	err := b.Spend(StageResolve, 2, CUPerEthCall)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.False(t, b.Allow())

	u := b.Usage()
	assert.Equal(t, int64(102), u.Spent)
	assert.Equal(t, int64(2), u.Calls[StageLogs])
	assert.Equal(t, int64(2), u.Calls[StageResolve])

	clk.advance(11 * time.Minute)
	assert.True(t, b.Allow())
}

func TestBudgetResetsAtUTCMidnight(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 23, 58, 0, 0, time.UTC)}
	b := NewCallBudget("ethereum", BudgetConfig{DailyLimit: 1000}, clk.now)

	require.NoError(t, b.Spend(StageHead, 10, CUPerCall))
	assert.Equal(t, int64(250), b.Usage().Spent)

	clk.advance(5 * time.Minute)
	u := b.Usage()
	assert.Equal(t, int64(0), u.Spent)
	assert.Equal(t, "2026-03-02", u.Day)
	assert.Empty(t, u.Calls)
}

func TestResolutionCacheResolvesOncePerAddress(t *testing.T) {
	c := NewResolutionCache[string]("metadata")
	var calls atomic.Int32
	fn := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "PEPE", nil
	}

	v, err := c.Resolve(context.Background(), "0xAbC", fn)
	require.NoError(t, err)
	assert.Equal(t, "PEPE", v)

	v, err = c.Resolve(context.Background(), "0xabc", fn)
	require.NoError(t, err)
	assert.Equal(t, "PEPE", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolutionCacheKeepsFailureSentinel(t *testing.T) {
	c := NewResolutionCache[int]("liquidity")
	var calls atomic.Int32
	fn := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("execution reverted")
	}

	_, err := c.Resolve(context.Background(), "0xdead", fn)
	assert.ErrorIs(t, err, ErrResolutionFailed)
	_, err = c.Resolve(context.Background(), "0xdead", fn)
	assert.ErrorIs(t, err, ErrResolutionFailed)
	assert.Equal(t, int32(1), calls.Load())

	_, found, err := c.Get("0xDEAD")
	assert.True(t, found)
	assert.Error(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestResolutionCacheConcurrentCallers(t *testing.T) {
	c := NewResolutionCache[int]("metadata")
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Resolve(context.Background(), "mintA", fn)
			assert.NoError(t, err)
			assert.Equal(t, 7, v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}
