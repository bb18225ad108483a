package service

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/blocklive/stagefun-sub002/internal/config"
	"github.com/blocklive/stagefun-sub002/pkg/logger"
)

var one = decimal.NewFromInt(1)

// StepFunction maps a metric to the multiplier of the highest tier whose threshold it reaches.
// Below the first threshold the multiplier is 1.
type StepFunction []config.Tier

func NewStepFunction(tiers []config.Tier) StepFunction {
	sorted := make(StepFunction, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Threshold < sorted[j].Threshold
	})
	return sorted
}

func (s StepFunction) At(value int64) decimal.Decimal {
	m := one
	for _, tier := range s {
		if value < tier.Threshold {
			break
		}
		m = decimal.NewFromFloat(tier.Multiplier)
	}
	return m
}

// MultiplierInput is what the stack needs to know about a user.
type MultiplierInput struct {
	TotalPoints   int64
	Streak        int
	NFTCollection string
	HoldsNFT      bool
}

// Breakdown is the applied multiplier and the factors it is the product of.
type Breakdown struct {
	Level       decimal.Decimal `json:"level"`
	Leaderboard decimal.Decimal `json:"leaderboard"`
	Streak      decimal.Decimal `json:"streak"`
	NFT         decimal.Decimal `json:"nft"`
	Total       decimal.Decimal `json:"total"`
}

func (b Breakdown) Map() map[string]string {
	return map[string]string{
		"level":       b.Level.String(),
		"leaderboard": b.Leaderboard.String(),
		"streak":      b.Streak.String(),
		"nft":         b.NFT.String(),
	}
}

// Apply returns floor(base * Total).
func (b Breakdown) Apply(base int64) int64 {
	return decimal.NewFromInt(base).Mul(b.Total).Floor().IntPart()
}

// MultiplierTable is one immutable version of the multiplier configuration.
type MultiplierTable struct {
	level       StepFunction
	leaderboard StepFunction
	streak      StepFunction
	nft         map[string]decimal.Decimal
}

func NewMultiplierTable(cfg *config.PointsConfig) *MultiplierTable {
	t := &MultiplierTable{
		level:       NewStepFunction(cfg.LevelTiers),
		leaderboard: NewStepFunction(cfg.LeaderboardTiers),
		streak:      NewStepFunction(cfg.StreakTiers),
		nft:         make(map[string]decimal.Decimal, len(cfg.NFTCollections)),
	}
	for _, c := range cfg.NFTCollections {
		t.nft[strings.ToLower(c.Address)] = decimal.NewFromFloat(c.Multiplier)
	}
	return t
}

func (t *MultiplierTable) StreakMultiplier(streak int) decimal.Decimal {
	return t.streak.At(int64(streak))
}

// NFTMultiplier is 1 unless the collection is configured and held.
func (t *MultiplierTable) NFTMultiplier(collection string, held bool) decimal.Decimal {
	if collection == "" || !held {
		return one
	}
	if m, ok := t.nft[strings.ToLower(collection)]; ok {
		return m
	}
	return one
}

func (t *MultiplierTable) IsNFTCollection(collection string) bool {
	_, ok := t.nft[strings.ToLower(collection)]
	return ok
}

func (t *MultiplierTable) Compute(in MultiplierInput) Breakdown {
	b := Breakdown{
		Level:       t.level.At(in.TotalPoints),
		Leaderboard: t.leaderboard.At(in.TotalPoints),
		Streak:      t.StreakMultiplier(in.Streak),
		NFT:         t.NFTMultiplier(in.NFTCollection, in.HoldsNFT),
	}
	b.Total = b.Level.Mul(b.Leaderboard).Mul(b.Streak).Mul(b.NFT)
	return b
}

// MultiplierStack holds the live table; Reload swaps it without blocking readers.
type MultiplierStack struct {
	current atomic.Pointer[MultiplierTable]
}

// NewMultiplierStack starts from cfg, or from the default tiers when cfg does not validate.
func NewMultiplierStack(cfg *config.PointsConfig) *MultiplierStack {
	s := &MultiplierStack{}
	if err := s.Reload(cfg); err != nil {
		logger.WithError(err).Warn("Invalid multiplier tables, using defaults")
		s.current.Store(NewMultiplierTable(&config.PointsConfig{
			LevelTiers:       config.DefaultLevelTiers(),
			LeaderboardTiers: config.DefaultLeaderboardTiers(),
			StreakTiers:      config.DefaultStreakTiers(),
		}))
	}
	return s
}

func (s *MultiplierStack) Table() *MultiplierTable {
	return s.current.Load()
}

// Reload swaps in cfg's tables. An invalid cfg is rejected and the live table stays.
func (s *MultiplierStack) Reload(cfg *config.PointsConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.current.Store(NewMultiplierTable(cfg))
	return nil
}

func decimalFromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
