package raft

import (
	"bytes"
	"dex-pool-sentinel/internal/sentinel/alert"
	"encoding/binary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type fakeEngine struct {
	stores  map[alert.Tier]*alert.CooldownStore
	enabled map[alert.Tier]bool
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	e := &fakeEngine{
		stores:  make(map[alert.Tier]*alert.CooldownStore),
		enabled: make(map[alert.Tier]bool),
	}
	for _, tier := range alert.AllTiers() {
		s, err := alert.OpenCooldownStore(tier, "", time.Hour, nil)
		require.NoError(t, err)
		e.stores[tier] = s
		e.enabled[tier] = true
	}
	return e
}

func (e *fakeEngine) Tiers() map[alert.Tier]bool {
	out := make(map[alert.Tier]bool, len(e.enabled))
	for k, v := range e.enabled {
		out[k] = v
	}
	return out
}

func (e *fakeEngine) Store(tier alert.Tier) (*alert.CooldownStore, bool) {
	s, ok := e.stores[tier]
	return s, ok
}

func (e *fakeEngine) ApplyMark(tier alert.Tier, key string, entry alert.CooldownEntry) error {
	s, ok := e.stores[tier]
	if !ok {
		return alert.ErrUnknownTier
	}
	return s.Apply(key, entry)
}

func (e *fakeEngine) SetTierEnabled(tier alert.Tier, on bool) error {
	if _, ok := e.enabled[tier]; !ok {
		return alert.ErrUnknownTier
	}
	e.enabled[tier] = on
	return nil
}

func encode(t *testing.T, c *Command) []byte {
	t.Helper()
	data, err := c.Serialize(nil)
	require.NoError(t, err)
	return data
}

func TestLedgerAppliesCommands(t *testing.T) {
	eng := newFakeEngine(t)
	l := NewLedger(eng)

	entry := alert.CooldownEntry{Timestamp: time.Now().Unix(), Chain: "base", Score: 72}
	require.NoError(t, l.OnRaftDataUpdated(encode(t, MarkCommand(alert.TierSniper, "base:0xabc", entry))))
	assert.True(t, eng.stores[alert.TierSniper].IsOnCooldown("base:0xabc"))
	assert.False(t, eng.stores[alert.TierTrade].IsOnCooldown("base:0xabc"))

	require.NoError(t, l.OnRaftDataUpdated(encode(t, TierCommand(alert.TierRunning, false))))
	assert.False(t, eng.enabled[alert.TierRunning])

	// 坏数据不阻塞状态机
	assert.NoError(t, l.OnRaftDataUpdated([]byte("garbage")))
	assert.NoError(t, l.OnRaftDataUpdated([]byte(`{"op":"mark","tier":"sniper"}`)))
	assert.NoError(t, l.OnRaftDataUpdated([]byte(`{"op":"tier","tier":"whale"}`)))
}

func TestDecodeCommand(t *testing.T) {
	c, err := DecodeCommand([]byte(`{"op":"tier","tier":"trade","enabled":true}`))
	require.NoError(t, err)
	assert.Equal(t, OpTier, c.Op)
	assert.True(t, c.Enabled)

	_, err = DecodeCommand([]byte(`{"op":"drop","tier":"trade"}`))
	assert.ErrorIs(t, err, ErrBadCommand)
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := newFakeEngine(t)
	now := time.Now().Unix()
	require.NoError(t, src.ApplyMark(alert.TierSniper, "base:0x1", alert.CooldownEntry{Timestamp: now, Score: 61}))
	require.NoError(t, src.ApplyMark(alert.TierSniper, "solana:Mint1", alert.CooldownEntry{Timestamp: now, Score: 55}))
	require.NoError(t, src.ApplyMark(alert.TierRunning, "bsc:0x2", alert.CooldownEntry{Timestamp: now, Score: 80}))
	src.enabled[alert.TierTrade] = false

	items, err := NewLedger(src).OnPrepareSnapshot()
	require.NoError(t, err)
	assert.Len(t, items, len(alert.AllTiers())+3)

	var buf bytes.Buffer
	n, err := writeSnapshot(&buf, items, nil)
	require.NoError(t, err)
	assert.Equal(t, len(items), n)

	dst := newFakeEngine(t)
	require.NoError(t, dst.ApplyMark(alert.TierTrade, "base:stale", alert.CooldownEntry{Timestamp: now}))
	l := NewLedger(dst)
	recovered, skipped, err := readSnapshot(&buf, nil, l.OnRecoverFromSnapshot)
	require.NoError(t, err)
	assert.Equal(t, n, recovered)
	assert.Zero(t, skipped)
	require.NoError(t, l.OnRecoverFromSnapshotDone())

	assert.Equal(t, src.stores[alert.TierSniper].Entries(), dst.stores[alert.TierSniper].Entries())
	assert.Equal(t, 1, dst.stores[alert.TierRunning].Len())
	assert.Zero(t, dst.stores[alert.TierTrade].Len(), "entries absent from the snapshot are dropped")
	assert.False(t, dst.enabled[alert.TierTrade])
}

func TestSnapshotSkipsCorruptPayload(t *testing.T) {
	items := []Serializable{
		TierCommand(alert.TierSniper, true),
		TierCommand(alert.TierTrade, false),
	}
	var buf bytes.Buffer
	_, err := writeSnapshot(&buf, items, nil)
	require.NoError(t, err)

	raw := buf.Bytes()
	// 破坏第一条 payload 的首字节
	raw[magicHeaderSize+payloadLengthSize] ^= 0xff

	var got []string
	recovered, skipped, err := readSnapshot(bytes.NewReader(raw), nil, func(p []byte) error {
		got = append(got, string(p))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.Equal(t, 1, skipped)
	assert.Contains(t, got[0], `"trade"`)
}

func TestSnapshotRejectsBadInput(t *testing.T) {
	_, _, err := readSnapshot(bytes.NewReader([]byte("PBUF")), nil, func([]byte) error { return nil })
	assert.Error(t, err)

	var buf bytes.Buffer
	buf.WriteString(magicHeader)
	lengthBuf := make([]byte, payloadLengthSize)
	binary.BigEndian.PutUint32(lengthBuf, maxPayloadBufSize+1)
	buf.Write(lengthBuf)
	_, _, err = readSnapshot(&buf, nil, func([]byte) error { return nil })
	assert.Error(t, err)

	stopc := make(chan struct{})
	close(stopc)
	var out bytes.Buffer
	_, err = writeSnapshot(&out, []Serializable{TierCommand(alert.TierSniper, true)}, stopc)
	assert.Error(t, err)
}

func TestGrowPayloadBuf(t *testing.T) {
	buf := make([]byte, 4, 8)
	b, ok := growPayloadBuf(buf, 6, 100)
	assert.True(t, ok)
	assert.Len(t, b, 6)
	assert.Equal(t, 8, cap(b))

	b, ok = growPayloadBuf(buf, 20, 100)
	assert.True(t, ok)
	assert.Equal(t, 30, cap(b))

	_, ok = growPayloadBuf(buf, 200, 100)
	assert.False(t, ok)
}
