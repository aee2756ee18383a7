package raft

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseNodeID "version:ip" -> version<<16 | ip[2]<<8 | ip[3]
// 同一网段内 IP 后两段唯一，version 用于同一 IP 换机后重新加入
func ParseNodeID(input string) (uint32, error) {
	verStr, ipStr, ok := strings.Cut(input, ":")
	if !ok {
		return 0, fmt.Errorf("invalid node %q, want version:ip", input)
	}
	version, err := strconv.ParseUint(verStr, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", verStr, err)
	}
	ip := net.ParseIP(ipStr).To4()
	if ip == nil {
		return 0, fmt.Errorf("invalid ipv4 address %q", ipStr)
	}
	return uint32(version)<<16 | uint32(ip[2])<<8 | uint32(ip[3]), nil
}

// FormatNodeID NodeID 只保留 IP 后两段，前两段用 x 表示
func FormatNodeID(id uint32) string {
	return fmt.Sprintf("%d:x.x.%d.%d", id>>16, (id>>8)&0xff, id&0xff)
}

func memberIP(member string) string {
	if _, ip, ok := strings.Cut(member, ":"); ok {
		return ip
	}
	return member
}
