package retry

import (
	"context"
	"github.com/cenkalti/backoff/v4"
	"time"
)

// Policy 可复用的重试策略值，按调用点选择
// MaxAttempts 包含首次调用；BaseDelay 为首次重试前的等待；Multiplier 为退避倍数
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration // 0 表示不封顶
}

var (
	// NoRetry 只调用一次
	NoRetry = Policy{MaxAttempts: 1}

	// Quick 轻量 RPC：3 次，200ms 起步
	Quick = Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Second}

	// Patient 外部 HTTP 服务：4 次，1s 起步
	Patient = Policy{MaxAttempts: 4, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second}
)

// Permanent 标记不可重试的错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Delay 第 attempt 次重试前的等待时间（attempt 从 1 开始）
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var b backoff.BackOff
	if p.BaseDelay <= 0 {
		b = &backoff.ZeroBackOff{}
	} else {
		mult := p.Multiplier
		if mult < 1 {
			mult = 1
		}
		maxInterval := p.MaxDelay
		if maxInterval <= 0 {
			maxInterval = time.Duration(1<<62 - 1)
		}
		b = backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(p.BaseDelay),
			backoff.WithMultiplier(mult),
			backoff.WithRandomizationFactor(0),
			backoff.WithMaxInterval(maxInterval),
			backoff.WithMaxElapsedTime(0),
		)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do 按策略执行 fn；返回最后一次错误。permanent 错误立即返回
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue 带返回值的 Do
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	return DoValueNotify(ctx, p, fn, nil)
}

// DoValueNotify 每次失败重试前回调 notify
func DoValueNotify[T any](
	ctx context.Context,
	p Policy,
	fn func(ctx context.Context) (T, error),
	notify func(err error, wait time.Duration),
) (T, error) {
	op := func() (T, error) {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, backoff.Permanent(err)
		}
		return fn(ctx)
	}
	return backoff.RetryNotifyWithData(op, p.backOff(ctx), notify)
}
