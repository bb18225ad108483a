package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blocklive/stagefun-sub002/internal/models"
)

// EventKey identifies a raw log: (network, transactionHash, logIndex).
type EventKey struct {
	Network         string
	TransactionHash string
	LogIndex        uint
}

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// InsertIgnore stores events, silently skipping any whose key already exists.
// It returns how many rows were new.
func (r *EventRepository) InsertIgnore(ctx context.Context, events []*models.BlockchainEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(events, 100)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "insert blockchain events")
	}
	return res.RowsAffected, nil
}

func (r *EventRepository) GetByKey(ctx context.Context, key EventKey) (*models.BlockchainEvent, error) {
	var event models.BlockchainEvent
	err := r.db.WithContext(ctx).
		Where("network = ? AND transaction_hash = ? AND log_index = ?", key.Network, key.TransactionHash, key.LogIndex).
		First(&event).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get blockchain event")
	}
	return &event, nil
}

func (r *EventRepository) MarkProcessing(ctx context.Context, key EventKey) error {
	return errors.Wrap(r.byKey(ctx, key).
		Update("status", models.EventStatusProcessing).Error, "mark event processing")
}

// MarkProcessed records success. A processed removal flips the stored row's removed flag.
func (r *EventRepository) MarkProcessed(ctx context.Context, key EventKey, removed bool) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":        models.EventStatusProcessed,
		"error_message": "",
		"processed_at":  &now,
	}
	if removed {
		updates["removed"] = true
	}
	return errors.Wrap(r.byKey(ctx, key).Updates(updates).Error, "mark event processed")
}

// MarkFailed records a failure. A failed removal keeps removed set so a retry replays the removal.
func (r *EventRepository) MarkFailed(ctx context.Context, key EventKey, removed bool, message string) error {
	updates := map[string]interface{}{
		"status":        models.EventStatusFailed,
		"error_message": message,
		"retry_count":   gorm.Expr("retry_count + 1"),
	}
	if removed {
		updates["removed"] = true
	}
	return errors.Wrap(r.byKey(ctx, key).Updates(updates).Error, "mark event failed")
}

// ListRetryable returns failed events that have not exhausted their retries, oldest block first.
func (r *EventRepository) ListRetryable(ctx context.Context, network string, maxRetries, limit int) ([]models.BlockchainEvent, error) {
	var events []models.BlockchainEvent
	query := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", models.EventStatusFailed, maxRetries)
	if network != "" {
		query = query.Where("network = ?", network)
	}
	err := query.Order("block_number ASC, log_index ASC").
		Limit(limit).
		Find(&events).Error
	return events, errors.Wrap(err, "list retryable events")
}

func (r *EventRepository) CountByStatus(ctx context.Context, status models.EventStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.BlockchainEvent{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, errors.Wrap(err, "count events")
}

func (r *EventRepository) byKey(ctx context.Context, key EventKey) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.BlockchainEvent{}).
		Where("network = ? AND transaction_hash = ? AND log_index = ?", key.Network, key.TransactionHash, key.LogIndex)
}
