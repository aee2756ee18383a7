package raft

import (
	"bytes"
	"dex-pool-sentinel/internal/pkg/logger"
	"encoding/binary"
	"errors"
	sm "github.com/lni/dragonboat/v3/statemachine"
	"io"
	"time"
)

const (
	magicHeader          = "PSNT"           // 快照文件头标识
	magicHeaderSize      = len(magicHeader) // Header 长度
	maxPayloadErrorCount = 10               // 最大允许的错误 payload 数量
	payloadLengthSize    = 4                // 每个 payload 的长度字段（uint32）
	payloadCrcSize       = 4                // CRC 校验字段长度(CRC32)

	initialPayloadBufSize = 4 * 1024         // 初始 payload 缓冲区大小
	maxPayloadBufSize     = 16 * 1024 * 1024 // 单条记录上限
)

// 快照格式: magic | (len uint32 BE | payload | crc32c uint32 BE)*

// writeSnapshot 写入全部记录，返回写入条数
func writeSnapshot(w io.Writer, items []Serializable, stopc <-chan struct{}) (int, error) {
	if _, err := w.Write([]byte(magicHeader)); err != nil {
		return 0, snapshotErrorf("save: failed to write magic header: %v", err)
	}

	var (
		lengthBuf  = make([]byte, payloadLengthSize)
		crcBuf     = make([]byte, payloadCrcSize)
		payloadBuf = make([]byte, 0, initialPayloadBufSize)
		total      int
	)
	for i, item := range items {
		select {
		case <-stopc:
			logger.Warnf("[Raft] SaveSnapshot aborted at item %d", i)
			return total, sm.ErrSnapshotStopped
		default:
		}

		payload, err := item.Serialize(payloadBuf[:0])
		if err != nil {
			return total, snapshotErrorf("save: failed to serialize item %d: %v", i, err)
		}
		if len(payload) == 0 {
			continue
		}
		if len(payload) > maxPayloadBufSize {
			return total, snapshotErrorf("save: item %d size %d exceeds max %d", i, len(payload), maxPayloadBufSize)
		}
		payloadBuf = payload

		binary.BigEndian.PutUint32(lengthBuf, uint32(len(payload)))
		if _, err := w.Write(lengthBuf); err != nil {
			return total, snapshotErrorf("save: write length failed at item %d: %v", i, err)
		}
		if _, err := w.Write(payload); err != nil {
			return total, snapshotErrorf("save: write payload failed at item %d: %v", i, err)
		}
		binary.BigEndian.PutUint32(crcBuf, checksum(payload))
		if _, err := w.Write(crcBuf); err != nil {
			return total, snapshotErrorf("save: write crc failed at item %d: %v", i, err)
		}
		total++
	}
	return total, nil
}

// readSnapshot 逐条回调 onPayload；CRC 错误或回调失败的记录跳过，累计超过上限时中止
func readSnapshot(r io.Reader, stopc <-chan struct{}, onPayload func([]byte) error) (recovered, skipped int, err error) {
	start := time.Now()

	magicBuf := make([]byte, magicHeaderSize)
	if err := readSection(r, magicBuf, "magic header"); err != nil {
		return 0, 0, err
	}
	if !bytes.Equal(magicBuf, []byte(magicHeader)) {
		return 0, 0, snapshotErrorf("recover: invalid magic header, expected %q, got %x", magicHeader, magicBuf)
	}

	var (
		ok         bool
		lengthBuf  = make([]byte, payloadLengthSize)
		crcBuf     = make([]byte, payloadCrcSize)
		payloadBuf = make([]byte, initialPayloadBufSize)
	)
	for {
		select {
		case <-stopc:
			logger.Warnf("[Raft] RecoverSnapshot aborted, recovered=%d, skipped=%d, cost %s", recovered, skipped, time.Since(start))
			return recovered, skipped, sm.ErrSnapshotStopped
		default:
		}

		if err := readSection(r, lengthBuf, "payload length"); err != nil {
			if errors.Is(err, io.EOF) {
				return recovered, skipped, nil
			}
			return recovered, skipped, err
		}
		payloadLen := binary.BigEndian.Uint32(lengthBuf)

		payloadBuf, ok = growPayloadBuf(payloadBuf, int(payloadLen), maxPayloadBufSize)
		if !ok {
			return recovered, skipped, snapshotErrorf("recover: payload size %d exceeds max %d", payloadLen, maxPayloadBufSize)
		}
		if err := readSection(r, payloadBuf, "payload"); err != nil {
			return recovered, skipped, err
		}
		if err := readSection(r, crcBuf, "crc"); err != nil {
			return recovered, skipped, err
		}

		if crc, want := binary.BigEndian.Uint32(crcBuf), checksum(payloadBuf); crc != want {
			skipped++
			logger.Warnf("[Raft] RecoverSnapshot: payload #%d CRC mismatch: got=%x want=%x", recovered+skipped, crc, want)
			if skipped >= maxPayloadErrorCount {
				return recovered, skipped, snapshotErrorf("recover: too many bad payloads (%d), aborting", skipped)
			}
			continue
		}

		if err := onPayload(payloadBuf); err != nil {
			skipped++
			logger.Warnf("[Raft] RecoverSnapshot: payload #%d rejected: %v", recovered+skipped, err)
			if skipped >= maxPayloadErrorCount {
				return recovered, skipped, snapshotErrorf("recover: too many bad payloads (%d), aborting", skipped)
			}
			continue
		}
		recovered++
	}
}
