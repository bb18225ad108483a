package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blocklive/stagefun-sub002/internal/models"
)

type BlockRepository struct {
	db *gorm.DB
}

func NewBlockRepository(db *gorm.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// GetLastProcessed returns the poller cursor for network, 0 if it has never run.
func (r *BlockRepository) GetLastProcessed(ctx context.Context, network string) (int64, error) {
	var block models.ProcessedBlock
	err := r.db.WithContext(ctx).
		Where("network = ?", network).
		First(&block).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "get last processed block for %s", network)
	}
	return block.BlockNumber, nil
}

// MarkProcessed moves the cursor forward; it never moves it backwards.
func (r *BlockRepository) MarkProcessed(ctx context.Context, network string, blockNumber int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		block := &models.ProcessedBlock{
			Network:     network,
			BlockNumber: blockNumber,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(block)
		if res.Error != nil {
			return errors.Wrap(res.Error, "insert processed block")
		}
		if res.RowsAffected == 1 {
			return nil
		}

		return errors.Wrap(tx.Model(&models.ProcessedBlock{}).
			Where("network = ? AND block_number < ?", network, blockNumber).
			Update("block_number", blockNumber).Error, "update processed block")
	})
}
