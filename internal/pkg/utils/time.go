package utils

import "time"

// StartOfUTCDay 当天 UTC 零点，调用预算按此重置
func StartOfUTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
