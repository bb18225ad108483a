package models

import (
	"time"
)

// ProcessedBlock is the poller cursor: the highest block fully ingested per network.
type ProcessedBlock struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Network     string    `gorm:"uniqueIndex;size:50;not null" json:"network"`
	BlockNumber int64     `gorm:"not null" json:"block_number"`
	ProcessedAt time.Time `gorm:"autoUpdateTime" json:"processed_at"`
}

func (ProcessedBlock) TableName() string {
	return "processed_blocks"
}
