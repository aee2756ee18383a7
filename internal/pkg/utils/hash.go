package utils

import (
	"github.com/cespare/xxhash/v2"
	"strings"
)

// NormalizeAddress EVM 地址统一小写；Solana base58 地址大小写敏感，保持原样
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		return strings.ToLower(addr)
	}
	return addr
}

// PartitionOf 按归一化后的 key 哈希选择 Kafka 分区，同一代币的消息保持有序
func PartitionOf(key string, partitions int) int32 {
	if partitions <= 1 {
		return 0
	}
	return int32(xxhash.Sum64String(NormalizeAddress(key)) % uint64(partitions))
}
