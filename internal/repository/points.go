package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blocklive/stagefun-sub002/internal/models"
)

type PointsRepository struct {
	db *gorm.DB
}

func NewPointsRepository(db *gorm.DB) *PointsRepository {
	return &PointsRepository{db: db}
}

func (r *PointsRepository) WithTx(tx *gorm.DB) *PointsRepository {
	return &PointsRepository{db: tx}
}

// DedupKey is the exactly-once key of a ledger row. Rows without a tx hash have none.
func DedupKey(userID, actionKey, txHash string) *string {
	if txHash == "" {
		return nil
	}
	key := fmt.Sprintf("%s|%s|%s", userID, actionKey, txHash)
	return &key
}

func (r *PointsRepository) ExistsByDedup(ctx context.Context, userID, actionKey, txHash string) (bool, error) {
	key := DedupKey(userID, actionKey, txHash)
	if key == nil {
		return false, nil
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PointTransaction{}).
		Where("dedup_key = ?", *key).
		Count(&count).Error
	return count > 0, errors.Wrap(err, "probe point transaction")
}

// InsertTransaction appends a ledger row. false means a row with the same dedup key exists.
func (r *PointsRepository) InsertTransaction(ctx context.Context, tx *models.PointTransaction) (bool, error) {
	tx.DedupKey = DedupKey(tx.UserID, tx.ActionKey, tx.TxHash)
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(tx)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "insert point transaction")
	}
	return res.RowsAffected == 1, nil
}

// CreateBalance lazily creates the balance row. false means it already existed.
func (r *PointsRepository) CreateBalance(ctx context.Context, balance *models.UserPoints) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(balance)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "create user points")
	}
	return res.RowsAffected == 1, nil
}

// IncrementBalance adds amount to the pointType column and the total in one UPDATE.
func (r *PointsRepository) IncrementBalance(ctx context.Context, userID string, pointType models.PointType, amount int64) error {
	column := pointType.Column()
	if column == "" {
		return errors.Errorf("unknown point type %q", pointType)
	}
	res := r.db.WithContext(ctx).
		Model(&models.UserPoints{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			column:         gorm.Expr(column+" + ?", amount),
			"total_points": gorm.Expr("total_points + ?", amount),
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "increment user points")
	}
	if res.RowsAffected == 0 {
		return errors.Errorf("user points row missing for %s", userID)
	}
	return nil
}

func (r *PointsRepository) GetBalance(ctx context.Context, userID string) (*models.UserPoints, error) {
	var balance models.UserPoints
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&balance).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get user points")
	}
	return &balance, nil
}

// SumByType recomputes the balance columns from the ledger.
func (r *PointsRepository) SumByType(ctx context.Context, userID string) (map[models.PointType]int64, error) {
	type row struct {
		PointType models.PointType
		Total     int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.PointTransaction{}).
		Select("point_type, SUM(amount) AS total").
		Where("user_id = ?", userID).
		Group("point_type").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "sum point transactions")
	}
	sums := make(map[models.PointType]int64, len(rows))
	for _, s := range rows {
		sums[s.PointType] = s.Total
	}
	return sums, nil
}

func (r *PointsRepository) LastByAction(ctx context.Context, userID, actionKey string) (*models.PointTransaction, error) {
	var tx models.PointTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND action_key = ?", userID, actionKey).
		Order("id DESC").
		First(&tx).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get last point transaction")
	}
	return &tx, nil
}

func (r *PointsRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.PointTransaction, error) {
	var txs []models.PointTransaction
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&txs).Error
	return txs, errors.Wrap(err, "list point transactions")
}

func (r *PointsRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PointTransaction{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, errors.Wrap(err, "count point transactions")
}

// AdvanceCheckin records a check-in only if nobody else did since checkinCount was read.
func (r *PointsRepository) AdvanceCheckin(ctx context.Context, userID string, checkinCount int64, streak int, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.UserPoints{}).
		Where("user_id = ? AND checkin_count = ?", userID, checkinCount).
		Updates(map[string]interface{}{
			"checkin_count":   checkinCount + 1,
			"checkin_streak":  streak,
			"last_checkin_at": at,
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "advance check-in")
	}
	return res.RowsAffected == 1, nil
}

// TopByTotal backs the leaderboard view.
func (r *PointsRepository) TopByTotal(ctx context.Context, limit int) ([]models.UserPoints, error) {
	var rows []models.UserPoints
	err := r.db.WithContext(ctx).
		Order("total_points DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, errors.Wrap(err, "list top user points")
}
