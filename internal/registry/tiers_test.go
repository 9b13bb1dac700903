package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiers_Table(t *testing.T) {
	require.Len(t, Tiers, MaxTier)
	var share float64
	for i, tier := range Tiers {
		assert.Equal(t, uint8(i+1), tier.ID)
		if i > 0 {
			assert.Greater(t, tier.TopPercentile, Tiers[i-1].TopPercentile)
		}
		share += tier.RewardShare
	}
	assert.InDelta(t, 100.0, share, 1e-9)
	assert.Equal(t, "Deadzone", Tiers[DeadzoneTier-1].Name)

	_, ok := TierByID(0)
	assert.False(t, ok)
	_, ok = TierByID(11)
	assert.False(t, ok)
	info, ok := TierByID(1)
	assert.True(t, ok)
	assert.Equal(t, "Nebula Prime", info.Name)
}

func TestRankTiers_Hundred(t *testing.T) {
	entries := make([]RankEntry, 100)
	for i := range entries {
		entries[i] = RankEntry{Handle: fmt.Sprintf("@a%03d", i), Score: uint64(i)}
	}
	got := RankTiers(entries)
	require.Len(t, got, 100)

	// Rank 1 is the highest score.
	assert.Equal(t, "@a099", got[0].Handle)
	assert.Equal(t, 1, got[0].Rank)

	wantTier := func(rank int) uint8 {
		switch {
		case rank <= 5:
			return 1
		case rank <= 10:
			return 2
		case rank <= 20:
			return 3
		case rank <= 30:
			return 4
		case rank <= 45:
			return 5
		case rank <= 60:
			return 6
		case rank <= 80:
			return 7
		case rank <= 90:
			return 8
		case rank <= 99:
			return 9
		default:
			return 10
		}
	}
	for _, a := range got {
		assert.Equal(t, wantTier(a.Rank), a.Tier, "rank %d", a.Rank)
	}
}

func TestRankTiers_TiesByHandle(t *testing.T) {
	got := RankTiers([]RankEntry{{"@b", 5}, {"@a", 5}, {"@c", 9}})
	require.Len(t, got, 3)
	assert.Equal(t, []string{"@c", "@a", "@b"}, []string{got[0].Handle, got[1].Handle, got[2].Handle})
	assert.Equal(t, uint8(DeadzoneTier), got[2].Tier)
}

func TestRankTiers_Empty(t *testing.T) {
	assert.Empty(t, RankTiers(nil))
}
