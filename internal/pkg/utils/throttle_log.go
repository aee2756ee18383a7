package utils

import (
	"sync/atomic"
	"time"
)

// ThrottleLog 限频打印，返回 true 表示本次可以打印
// 并发调用时只有一个调用方拿到本轮的打印权
func ThrottleLog(lastTime *atomic.Int64, interval time.Duration) bool {
	return throttleAt(lastTime, interval, time.Now())
}

func throttleAt(lastTime *atomic.Int64, interval time.Duration, now time.Time) bool {
	ts := now.UnixNano()
	last := lastTime.Load()
	if ts-last < interval.Nanoseconds() {
		return false
	}
	return lastTime.CompareAndSwap(last, ts)
}
