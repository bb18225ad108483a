package models

import (
	"time"

	"gorm.io/datatypes"
)

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusProcessed  EventStatus = "processed"
	EventStatusFailed     EventStatus = "failed"
)

// BlockchainEvent is one raw contract log as delivered to the pipeline.
type BlockchainEvent struct {
	ID              uint64                      `gorm:"primaryKey;autoIncrement" json:"id"`
	Network         string                      `gorm:"size:50;not null;uniqueIndex:uk_network_tx_log" json:"network"`
	ContractAddress string                      `gorm:"size:42;not null;index" json:"contract_address"`
	Topic0          string                      `gorm:"size:66;index" json:"topic0"`
	Topics          datatypes.JSONSlice[string] `json:"topics"`
	Data            string                      `gorm:"type:text" json:"data"`
	BlockNumber     int64                       `gorm:"not null;index" json:"block_number"`
	TransactionHash string                      `gorm:"size:66;not null;uniqueIndex:uk_network_tx_log" json:"transaction_hash"`
	LogIndex        uint                        `gorm:"not null;uniqueIndex:uk_network_tx_log" json:"log_index"`
	Removed         bool                        `gorm:"not null;default:false" json:"removed"`
	Source          string                      `gorm:"size:20" json:"source"`
	Status          EventStatus                 `gorm:"size:20;not null;default:pending;index" json:"status"`
	ErrorMessage    string                      `gorm:"type:text" json:"error_message"`
	RetryCount      int                         `gorm:"not null;default:0" json:"retry_count"`
	ProcessedAt     *time.Time                  `json:"processed_at"`
	CreatedAt       time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BlockchainEvent) TableName() string {
	return "blockchain_events"
}
