package raft

import (
	"dex-pool-sentinel/internal/pkg/logger"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func checksum(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

// readSection 读满 buf；干净的 EOF 原样返回，截断视为错误
func readSection(r io.Reader, buf []byte, what string) error {
	if len(buf) == 0 {
		return nil
	}
	n, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return snapshotErrorf("recover: %s truncated (%d of %d bytes)", what, n, len(buf))
	default:
		return snapshotErrorf("recover: read %s: %v", what, err)
	}
}

func snapshotErrorf(format string, a ...any) error {
	err := fmt.Errorf("[Raft] snapshot "+format, a...)
	logger.Errorf("%v", err)
	return err
}

// growPayloadBuf 复用 buf 的底层数组，不足时按 1.5 倍扩容，超过 maxCap 返回 false
func growPayloadBuf(buf []byte, required, maxCap int) ([]byte, bool) {
	switch {
	case required > maxCap:
		return buf, false
	case cap(buf) >= required:
		return buf[:required], true
	default:
		return make([]byte, required, min(required*3/2, maxCap)), true
	}
}
