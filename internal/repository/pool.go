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

type PoolRepository struct {
	db *gorm.DB
}

func NewPoolRepository(db *gorm.DB) *PoolRepository {
	return &PoolRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *PoolRepository) WithTx(tx *gorm.DB) *PoolRepository {
	return &PoolRepository{db: tx}
}

// CreateIgnore inserts pool unless a row with the same creation tx or address exists.
func (r *PoolRepository) CreateIgnore(ctx context.Context, pool *models.Pool) (bool, error) {
	pool.ContractAddress = strings.ToLower(pool.ContractAddress)
	pool.CreatorAddress = strings.ToLower(pool.CreatorAddress)
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(pool)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "insert pool")
	}
	return res.RowsAffected == 1, nil
}

func (r *PoolRepository) GetByAddress(ctx context.Context, address string) (*models.Pool, error) {
	var pool models.Pool
	err := r.db.WithContext(ctx).
		Where("contract_address = ?", strings.ToLower(address)).
		First(&pool).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get pool %s", address)
	}
	return &pool, nil
}

func (r *PoolRepository) GetByCreationTx(ctx context.Context, txHash string) (*models.Pool, error) {
	var pool models.Pool
	err := r.db.WithContext(ctx).
		Where("creation_tx_hash = ?", strings.ToLower(txHash)).
		First(&pool).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get pool by tx %s", txHash)
	}
	return &pool, nil
}

func (r *PoolRepository) DeleteByCreationTx(ctx context.Context, txHash string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("creation_tx_hash = ?", strings.ToLower(txHash)).
		Delete(&models.Pool{})
	return res.RowsAffected, errors.Wrap(res.Error, "delete pool")
}

// AddRaised applies delta to raised_amount in SQL (raised_amount = raised_amount + delta).
// A negative delta reverses an earlier commitment.
func (r *PoolRepository) AddRaised(ctx context.Context, address string, delta decimal.Decimal) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Pool{}).
		Where("contract_address = ?", strings.ToLower(address)).
		Update("raised_amount", gorm.Expr("raised_amount + CAST(? AS DECIMAL(65,0))", delta))
	return res.RowsAffected, errors.Wrap(res.Error, "increment pool raised amount")
}

// SetStatus overwrites the pool status; last write wins.
func (r *PoolRepository) SetStatus(ctx context.Context, address string, status models.PoolStatus) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Pool{}).
		Where("contract_address = ?", strings.ToLower(address)).
		Update("status", status)
	return res.RowsAffected, errors.Wrap(res.Error, "update pool status")
}

func (r *PoolRepository) ListByCreator(ctx context.Context, creator string, limit int) ([]models.Pool, error) {
	var pools []models.Pool
	query := r.db.WithContext(ctx).
		Where("creator_address = ?", strings.ToLower(creator)).
		Order("block_number DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&pools).Error
	return pools, errors.Wrap(err, "list pools by creator")
}
