package sentinel

import (
	"dex-pool-sentinel/internal/sentinel/alert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestParseTierToggles(t *testing.T) {
	got, err := ParseTierToggles("tiers:\n  Sniper: false\n  trade: true\n")
	require.NoError(t, err)
	assert.Equal(t, map[alert.Tier]bool{alert.TierSniper: false, alert.TierTrade: true}, got)

	got, err = ParseTierToggles("  \n")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ParseTierToggles("tiers:\n  moon: true\n")
	assert.ErrorIs(t, err, alert.ErrUnknownTier)

	_, err = ParseTierToggles("tiers: [")
	assert.Error(t, err)
}
