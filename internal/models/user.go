package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a wallet-linked account; ledger rows reference its ID.
type User struct {
	ID                    string          `gorm:"primaryKey;size:36" json:"id"`
	WalletAddress         string          `gorm:"size:42;not null;uniqueIndex" json:"wallet_address"`
	TotalFunded           decimal.Decimal `gorm:"type:decimal(65,0);not null;default:0" json:"total_funded"`
	SelectedNFTCollection string          `gorm:"size:42" json:"selected_nft_collection"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

type NFTHolding struct {
	ID                uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            string    `gorm:"size:36;not null;uniqueIndex:uk_user_collection" json:"user_id"`
	CollectionAddress string    `gorm:"size:42;not null;uniqueIndex:uk_user_collection" json:"collection_address"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (NFTHolding) TableName() string {
	return "nft_holdings"
}

type ReferralGrant struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	ReferrerUserID  string     `gorm:"size:36;not null;index" json:"referrer_user_id"`
	ReferredAddress string     `gorm:"size:42;not null;index:idx_referred_pool" json:"referred_address"`
	PoolAddress     string     `gorm:"size:42;not null;index:idx_referred_pool" json:"pool_address"`
	ExpiresAt       time.Time  `gorm:"not null" json:"expires_at"`
	UsedAt          *time.Time `json:"used_at"`
	UsedTxHash      string     `gorm:"size:66" json:"used_tx_hash"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (ReferralGrant) TableName() string {
	return "referral_grants"
}
