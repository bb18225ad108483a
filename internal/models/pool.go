package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PoolStatus string

const (
	PoolStatusInactive    PoolStatus = "INACTIVE"
	PoolStatusActive      PoolStatus = "ACTIVE"
	PoolStatusPaused      PoolStatus = "PAUSED"
	PoolStatusClosed      PoolStatus = "CLOSED"
	PoolStatusFunded      PoolStatus = "FUNDED"
	PoolStatusFullyFunded PoolStatus = "FULLY_FUNDED"
	PoolStatusFailed      PoolStatus = "FAILED"
	PoolStatusExecuting   PoolStatus = "EXECUTING"
	PoolStatusCompleted   PoolStatus = "COMPLETED"
	PoolStatusCancelled   PoolStatus = "CANCELLED"
)

// poolStatusCodes mirrors the on-chain status enum ordering.
var poolStatusCodes = []PoolStatus{
	PoolStatusInactive,
	PoolStatusActive,
	PoolStatusPaused,
	PoolStatusClosed,
	PoolStatusFunded,
	PoolStatusFullyFunded,
	PoolStatusFailed,
	PoolStatusExecuting,
	PoolStatusCompleted,
	PoolStatusCancelled,
}

// PoolStatusFromCode maps an on-chain status code to its PoolStatus.
func PoolStatusFromCode(code uint64) (PoolStatus, bool) {
	if code >= uint64(len(poolStatusCodes)) {
		return "", false
	}
	return poolStatusCodes[code], true
}

type Pool struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Network         string          `gorm:"size:50;not null" json:"network"`
	ContractAddress string          `gorm:"size:42;not null;uniqueIndex" json:"contract_address"`
	CreationTxHash  string          `gorm:"size:66;not null;uniqueIndex" json:"creation_tx_hash"`
	Name            string          `gorm:"size:255" json:"name"`
	UniqueID        string          `gorm:"size:128;index" json:"unique_id"`
	CreatorAddress  string          `gorm:"size:42;not null;index" json:"creator_address"`
	TargetAmount    decimal.Decimal `gorm:"type:decimal(65,0);not null;default:0" json:"target_amount"`
	CapAmount       decimal.Decimal `gorm:"type:decimal(65,0);not null;default:0" json:"cap_amount"`
	RaisedAmount    decimal.Decimal `gorm:"type:decimal(65,0);not null;default:0" json:"raised_amount"`
	EndsAt          time.Time       `json:"ends_at"`
	Status          PoolStatus      `gorm:"size:20;not null;index" json:"status"`
	Currency        string          `gorm:"size:42" json:"currency"`
	BlockNumber     int64           `gorm:"not null" json:"block_number"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Pool) TableName() string {
	return "pools"
}

// TierCommitment is one funding action. Rows are immutable; a reorg deletes them.
type TierCommitment struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Network         string          `gorm:"size:50;not null" json:"network"`
	UserAddress     string          `gorm:"size:42;not null;index" json:"user_address"`
	PoolAddress     string          `gorm:"size:42;not null;index" json:"pool_address"`
	TierID          uint64          `gorm:"not null" json:"tier_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(65,0);not null" json:"amount"`
	TransactionHash string          `gorm:"size:66;not null;uniqueIndex" json:"transaction_hash"`
	BlockNumber     int64           `gorm:"not null;index" json:"block_number"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (TierCommitment) TableName() string {
	return "tier_commitments"
}
