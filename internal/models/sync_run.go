package models

import "time"

type SyncRunStatus string

const (
	SyncRunRunning   SyncRunStatus = "running"
	SyncRunCompleted SyncRunStatus = "completed"
	SyncRunFailed    SyncRunStatus = "failed"
)

// SyncRun audits one ingestion batch. It is finalised once and never touched afterwards.
type SyncRun struct {
	ID              uint64        `gorm:"primaryKey;autoIncrement" json:"id"`
	JobName         string        `gorm:"size:64;not null;index" json:"job_name"`
	Source          string        `gorm:"size:20;not null" json:"source"`
	Network         string        `gorm:"size:50" json:"network"`
	FromBlock       int64         `json:"from_block"`
	ToBlock         int64         `json:"to_block"`
	StartTime       time.Time     `gorm:"not null" json:"start_time"`
	EndTime         *time.Time    `json:"end_time"`
	Status          SyncRunStatus `gorm:"size:20;not null;index" json:"status"`
	EventsFound     int           `gorm:"not null;default:0" json:"events_found"`
	EventsProcessed int           `gorm:"not null;default:0" json:"events_processed"`
	EventsSkipped   int           `gorm:"not null;default:0" json:"events_skipped"`
	EventsFailed    int           `gorm:"not null;default:0" json:"events_failed"`
	DurationMs      int64         `gorm:"not null;default:0" json:"duration_ms"`
	ErrorMessage    string        `gorm:"type:text" json:"error_message"`
}

func (SyncRun) TableName() string {
	return "blockchain_pool_sync_runs"
}
