package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/blocklive/stagefun-sub002/internal/models"
)

type SyncRunRepository struct {
	db *gorm.DB
}

func NewSyncRunRepository(db *gorm.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

func (r *SyncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(run).Error, "create sync run")
}

func (r *SyncRunRepository) Get(ctx context.Context, id uint64) (*models.SyncRun, error) {
	var run models.SyncRun
	err := r.db.WithContext(ctx).First(&run, id).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get sync run %d", id)
	}
	return &run, nil
}

// Finalize writes the end state of a running run. false means it was already finalized.
func (r *SyncRunRepository) Finalize(ctx context.Context, id uint64, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ? AND status = ?", id, models.SyncRunRunning).
		Updates(updates)
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "finalize sync run %d", id)
	}
	return res.RowsAffected == 1, nil
}

func (r *SyncRunRepository) ListRecent(ctx context.Context, jobName string, limit int) ([]models.SyncRun, error) {
	var runs []models.SyncRun
	query := r.db.WithContext(ctx).Order("id DESC")
	if jobName != "" {
		query = query.Where("job_name = ?", jobName)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&runs).Error
	return runs, errors.Wrap(err, "list sync runs")
}
