package models

import (
	"time"

	"gorm.io/datatypes"
)

type PointType string

const (
	PointTypeFunded     PointType = "funded"
	PointTypeRaised     PointType = "raised"
	PointTypeOnboarding PointType = "onboarding"
	PointTypeCheckin    PointType = "checkin"
	PointTypeReferral   PointType = "referral"
)

var pointTypeColumns = map[PointType]string{
	PointTypeFunded:     "funded_points",
	PointTypeRaised:     "raised_points",
	PointTypeOnboarding: "onboarding_points",
	PointTypeCheckin:    "checkin_points",
	PointTypeReferral:   "referral_points",
}

// Column returns the user_points column accumulating this type, or "" for unknown types.
func (t PointType) Column() string {
	return pointTypeColumns[t]
}

// UserPoints is the per-user balance; every column is the sum of the matching ledger rows.
type UserPoints struct {
	UserID           string     `gorm:"primaryKey;size:36" json:"user_id"`
	FundedPoints     int64      `gorm:"not null;default:0" json:"funded_points"`
	RaisedPoints     int64      `gorm:"not null;default:0" json:"raised_points"`
	OnboardingPoints int64      `gorm:"not null;default:0" json:"onboarding_points"`
	CheckinPoints    int64      `gorm:"not null;default:0" json:"checkin_points"`
	ReferralPoints   int64      `gorm:"not null;default:0" json:"referral_points"`
	TotalPoints      int64      `gorm:"not null;default:0" json:"total_points"`
	CheckinStreak    int        `gorm:"not null;default:0" json:"checkin_streak"`
	CheckinCount     int64      `gorm:"not null;default:0" json:"checkin_count"`
	LastCheckinAt    *time.Time `json:"last_checkin_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserPoints) TableName() string {
	return "user_points"
}

// Get returns the balance column for t.
func (p *UserPoints) Get(t PointType) int64 {
	switch t {
	case PointTypeFunded:
		return p.FundedPoints
	case PointTypeRaised:
		return p.RaisedPoints
	case PointTypeOnboarding:
		return p.OnboardingPoints
	case PointTypeCheckin:
		return p.CheckinPoints
	case PointTypeReferral:
		return p.ReferralPoints
	}
	return 0
}

func (p *UserPoints) set(t PointType, amount int64) {
	switch t {
	case PointTypeFunded:
		p.FundedPoints = amount
	case PointTypeRaised:
		p.RaisedPoints = amount
	case PointTypeOnboarding:
		p.OnboardingPoints = amount
	case PointTypeCheckin:
		p.CheckinPoints = amount
	case PointTypeReferral:
		p.ReferralPoints = amount
	}
}

// NewUserPoints returns a zero balance with the t column (and the total) pre-set to amount.
func NewUserPoints(userID string, t PointType, amount int64) *UserPoints {
	p := &UserPoints{UserID: userID, TotalPoints: amount}
	p.set(t, amount)
	return p
}

type PointMetadata struct {
	TxHash      string            `json:"txHash,omitempty"`
	PoolAddress string            `json:"poolAddress,omitempty"`
	BaseAmount  int64             `json:"baseAmount"`
	BonusAmount int64             `json:"bonusAmount"`
	Multiplier  string            `json:"multiplier"`
	Breakdown   map[string]string `json:"breakdown,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// PointTransaction is an immutable ledger row. DedupKey enforces one row per (user, action, tx).
type PointTransaction struct {
	ID        uint64                            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string                            `gorm:"size:36;not null;index:idx_user_action" json:"user_id"`
	PointType PointType                         `gorm:"size:20;not null;index" json:"point_type"`
	Amount    int64                             `gorm:"not null" json:"amount"`
	ActionKey string                            `gorm:"size:64;not null;index:idx_user_action" json:"action_key"`
	TxHash    string                            `gorm:"size:128;index" json:"tx_hash"`
	DedupKey  *string                           `gorm:"size:255;uniqueIndex" json:"-"`
	Metadata  datatypes.JSONType[PointMetadata] `json:"metadata"`
	CreatedAt time.Time                         `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PointTransaction) TableName() string {
	return "point_transactions"
}
