package momentum

import (
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestConfirmedAfterThreeSpacedSnapshots(t *testing.T) {
	tr := NewTracker(0, nil)
	assert.True(t, tr.Record("base:0xa", Snapshot{Block: 100, LiquidityUSD: 10000, PriceUSD: 1, VolumeUSD: 500}))
	assert.False(t, tr.Record("base:0xa", Snapshot{Block: 101, LiquidityUSD: 10000, PriceUSD: 1}))

	r := tr.Evaluate("base:0xa")
	assert.True(t, r.Pending)
	assert.False(t, r.Confirmed)

	tr.Record("base:0xa", Snapshot{Block: 102, LiquidityUSD: 10500, PriceUSD: 0.9})
	tr.Record("base:0xa", Snapshot{Block: 104, LiquidityUSD: 11000, PriceUSD: 1.2})

	r = tr.Evaluate("base:0xa")
	assert.True(t, r.Confirmed)
	assert.Equal(t, MaxScore, r.Score)
	assert.Equal(t, 3, r.Snapshots)
	assert.InDelta(t, 1.1, r.LiquidityTrend, 1e-9)
}

func TestLiquidityOutsideBandFails(t *testing.T) {
	tr := NewTracker(0, nil)
	tr.Record("k", Snapshot{Block: 1, LiquidityUSD: 10000, PriceUSD: 1, VolumeUSD: 1})
	tr.Record("k", Snapshot{Block: 3, LiquidityUSD: 12000, PriceUSD: 1})
	tr.Record("k", Snapshot{Block: 5, LiquidityUSD: 10000, PriceUSD: 1})

	r := tr.Evaluate("k")
	assert.False(t, r.Confirmed)
	assert.False(t, r.LiquidityOK)
	assert.Equal(t, scorePrice+scoreVolume, r.Score)
}

func TestPriceCollapseAndZeroVolume(t *testing.T) {
	tr := NewTracker(0, nil)
	tr.Record("k", Snapshot{Block: 1, LiquidityUSD: 10000, PriceUSD: 1})
	tr.Record("k", Snapshot{Block: 3, LiquidityUSD: 10000, PriceUSD: 0.4})
	tr.Record("k", Snapshot{Block: 5, LiquidityUSD: 10000, PriceUSD: 1})

	r := tr.Evaluate("k")
	assert.False(t, r.PriceOK)
	assert.False(t, r.VolumeOK)
	assert.Equal(t, scoreLiquidity, r.Score)
}

func TestInvalidatedAfterConfirmation(t *testing.T) {
	tr := NewTracker(0, nil)
	tr.Record("k", Snapshot{Block: 1, LiquidityUSD: 10000, PriceUSD: 1, VolumeUSD: 1})
	tr.Record("k", Snapshot{Block: 3, LiquidityUSD: 10000, PriceUSD: 1})
	tr.Record("k", Snapshot{Block: 5, LiquidityUSD: 10000, PriceUSD: 1})
	assert.True(t, tr.Evaluate("k").Confirmed)

	tr.Record("k", Snapshot{Block: 7, LiquidityUSD: 5000, PriceUSD: 1})
	r := tr.Evaluate("k")
	assert.False(t, r.Confirmed)
	assert.True(t, r.Invalidated)
}

func TestEvictStaleEntries(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tr := NewTracker(300*time.Second, func() time.Time { return now })
	tr.Record("old", Snapshot{Block: 1})
	now = now.Add(200 * time.Second)
	tr.Record("fresh", Snapshot{Block: 1})
	now = now.Add(150 * time.Second)

	assert.Equal(t, 1, tr.Evict())
	assert.Equal(t, 1, tr.Len())
	assert.True(t, tr.Evaluate("old").Pending)
}
