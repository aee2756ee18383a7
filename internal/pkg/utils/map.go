package utils

import (
	"cmp"
	"slices"
)

// SortedKeys 返回排序后的 key 列表，用于快照等需要稳定顺序的输出
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
