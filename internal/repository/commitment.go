package repository

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blocklive/stagefun-sub002/internal/models"
)

type CommitmentRepository struct {
	db *gorm.DB
}

func NewCommitmentRepository(db *gorm.DB) *CommitmentRepository {
	return &CommitmentRepository{db: db}
}

func (r *CommitmentRepository) WithTx(tx *gorm.DB) *CommitmentRepository {
	return &CommitmentRepository{db: tx}
}

// InsertIgnore inserts c unless its transaction hash is already recorded.
// false means the commitment was applied before.
func (r *CommitmentRepository) InsertIgnore(ctx context.Context, c *models.TierCommitment) (bool, error) {
	c.UserAddress = strings.ToLower(c.UserAddress)
	c.PoolAddress = strings.ToLower(c.PoolAddress)
	c.TransactionHash = strings.ToLower(c.TransactionHash)
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_hash"}},
			DoNothing: true,
		}).
		Create(c)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "insert tier commitment")
	}
	return res.RowsAffected == 1, nil
}

func (r *CommitmentRepository) GetByTxHash(ctx context.Context, txHash string) (*models.TierCommitment, error) {
	var c models.TierCommitment
	err := r.db.WithContext(ctx).
		Where("transaction_hash = ?", strings.ToLower(txHash)).
		First(&c).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get tier commitment")
	}
	return &c, nil
}

// DeleteByTxHash removes the commitment and returns the deleted row, nil if there was none.
func (r *CommitmentRepository) DeleteByTxHash(ctx context.Context, txHash string) (*models.TierCommitment, error) {
	existing, err := r.GetByTxHash(ctx, txHash)
	if err != nil || existing == nil {
		return nil, err
	}
	res := r.db.WithContext(ctx).Delete(&models.TierCommitment{}, existing.ID)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "delete tier commitment")
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return existing, nil
}

// SumByPool totals live commitments; it is the reference value for pools.raised_amount.
func (r *CommitmentRepository) SumByPool(ctx context.Context, poolAddress string) (decimal.Decimal, error) {
	return r.sumWhere(ctx, "pool_address = ?", strings.ToLower(poolAddress))
}

// SumByUser is the reference value for users.total_funded.
func (r *CommitmentRepository) SumByUser(ctx context.Context, userAddress string) (decimal.Decimal, error) {
	return r.sumWhere(ctx, "user_address = ?", strings.ToLower(userAddress))
}

func (r *CommitmentRepository) sumWhere(ctx context.Context, query string, arg string) (decimal.Decimal, error) {
	var rows []models.TierCommitment
	err := r.db.WithContext(ctx).
		Select("amount").
		Where(query, arg).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "sum tier commitments")
	}
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Amount)
	}
	return total, nil
}

func (r *CommitmentRepository) ListByUser(ctx context.Context, userAddress string, limit int) ([]models.TierCommitment, error) {
	var rows []models.TierCommitment
	query := r.db.WithContext(ctx).
		Where("user_address = ?", strings.ToLower(userAddress)).
		Order("block_number DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&rows).Error
	return rows, errors.Wrap(err, "list tier commitments")
}
