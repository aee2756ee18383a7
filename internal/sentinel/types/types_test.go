package types

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestChainTopics(t *testing.T) {
	assert.Equal(t, "NEW_BLOCK_BASE", ChainID("base").BlockTopic())
	assert.Equal(t, "ETHEREUM", ChainID("ethereum").Prefix())
}

func TestCandidateKeyNormalizesEvmAddress(t *testing.T) {
	c := &CandidatePool{Chain: "base", Token: "0xAbCdEf"}
	assert.Equal(t, "base:0xabcdef", c.Key())

	sol := &CandidatePool{Chain: "solana", Token: "So11111111111111111111111111111111111111112"}
	assert.Equal(t, "solana:So11111111111111111111111111111111111111112", sol.Key())
}

func TestCandidateAgeFallsBackToDiscovery(t *testing.T) {
	now := time.Unix(1_700_000_600, 0)
	c := &CandidatePool{DiscoveredAt: now.Add(-2 * time.Minute)}
	assert.Equal(t, 2*time.Minute, c.Age(now))

	c.CreatedAt = now.Add(-5 * time.Minute)
	assert.Equal(t, 5*time.Minute, c.Age(now))

	assert.Equal(t, time.Duration(0), (&CandidatePool{}).Age(now))
}

func TestDevFlagSeverity(t *testing.T) {
	assert.Less(t, DevSafe.Severity(), DevWarning.Severity())
	assert.Less(t, DevWarning.Severity(), DevDump.Severity())
	assert.Equal(t, DevSafe.Severity(), DevUnknown.Severity())
}

func TestPubkeyRoundTrip(t *testing.T) {
	const wsol = "So11111111111111111111111111111111111111112"
	pk, err := TryPubkeyFromString(wsol)
	require.NoError(t, err)
	assert.Equal(t, wsol, pk.String())
	assert.True(t, IsSolanaAddress(wsol))
	assert.False(t, IsSolanaAddress("0xdeadbeef"))
}
