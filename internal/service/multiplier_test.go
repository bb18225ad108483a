package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocklive/stagefun-sub002/internal/config"
)

func TestStepFunction(t *testing.T) {
	f := NewStepFunction([]config.Tier{
		{Threshold: 100, Multiplier: 1.5},
		{Threshold: 10, Multiplier: 1.2},
	})

	tests := []struct {
		value int64
		want  string
	}{
		{value: 0, want: "1"},
		{value: 9, want: "1"},
		{value: 10, want: "1.2"},
		{value: 99, want: "1.2"},
		{value: 100, want: "1.5"},
		{value: 1_000_000, want: "1.5"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.At(tt.value).String(), "value %d", tt.value)
	}
}

func TestDefaultTiersAreMonotonic(t *testing.T) {
	for name, tiers := range map[string][]config.Tier{
		"level":       config.DefaultLevelTiers(),
		"leaderboard": config.DefaultLeaderboardTiers(),
		"streak":      config.DefaultStreakTiers(),
	} {
		f := NewStepFunction(tiers)
		prev := f.At(0)
		for v := int64(0); v <= 200_000; v += 250 {
			m := f.At(v)
			assert.True(t, m.GreaterThanOrEqual(prev), "%s multiplier drops at %d", name, v)
			prev = m
		}
	}
}

func TestBreakdownApplyFloors(t *testing.T) {
	b := Breakdown{Total: decimal.RequireFromString("1.25")}
	assert.Equal(t, int64(93), b.Apply(75))
	assert.Equal(t, int64(125), b.Apply(100))
}

func TestMultiplierTableCompute(t *testing.T) {
	cfg, err := config.Load("")
	assert.NoError(t, err)
	cfg.Points.NFTCollections = []config.NFTCollection{
		{Address: "0x00000000000000000000000000000000000000AB", Name: "Backstage", Multiplier: 2},
	}
	table := NewMultiplierTable(&cfg.Points)

	b := table.Compute(MultiplierInput{TotalPoints: 20_000, Streak: 7})
	assert.Equal(t, "1.2", b.Level.String())
	assert.Equal(t, "1.25", b.Leaderboard.String())
	assert.Equal(t, "1.25", b.Streak.String())
	assert.Equal(t, "1", b.NFT.String())
	assert.Equal(t, "1.875", b.Total.String())

	collection := "0x00000000000000000000000000000000000000ab"
	assert.True(t, table.IsNFTCollection(collection))
	assert.Equal(t, "1", table.NFTMultiplier(collection, false).String())
	assert.Equal(t, "2", table.NFTMultiplier(collection, true).String())
	assert.Equal(t, "1", table.NFTMultiplier("0x01", true).String())

	withNFT := table.Compute(MultiplierInput{NFTCollection: collection, HoldsNFT: true})
	assert.Equal(t, "2", withNFT.Total.String())
	assert.Equal(t, map[string]string{"level": "1", "leaderboard": "1", "streak": "1", "nft": "2"}, withNFT.Map())
}

func TestMultiplierStackReload(t *testing.T) {
	cfg := &config.PointsConfig{StreakTiers: []config.Tier{{Threshold: 1, Multiplier: 2}}}
	stack := NewMultiplierStack(cfg)
	before := stack.Table()
	assert.Equal(t, "2", before.StreakMultiplier(1).String())

	require.NoError(t, stack.Reload(&config.PointsConfig{StreakTiers: []config.Tier{{Threshold: 1, Multiplier: 3}}}))
	assert.Equal(t, "3", stack.Table().StreakMultiplier(1).String())
	assert.Equal(t, "2", before.StreakMultiplier(1).String(), "old table is immutable")
}

func TestMultiplierStackKeepsTableOnInvalidReload(t *testing.T) {
	stack := NewMultiplierStack(&config.PointsConfig{StreakTiers: []config.Tier{{Threshold: 1, Multiplier: 2}}})
	live := stack.Table()

	err := stack.Reload(&config.PointsConfig{StreakTiers: []config.Tier{
		{Threshold: 1, Multiplier: 2},
		{Threshold: 7, Multiplier: 1.5},
	}})
	require.Error(t, err)
	assert.Same(t, live, stack.Table())
	assert.Equal(t, "2", stack.Table().StreakMultiplier(7).String())
}

func TestMultiplierStackFallsBackToDefaults(t *testing.T) {
	stack := NewMultiplierStack(&config.PointsConfig{LevelTiers: []config.Tier{{Threshold: 0, Multiplier: 0.5}}})
	assert.Equal(t, "1.4", stack.Table().Compute(MultiplierInput{TotalPoints: 100_000}).Level.String())
}
