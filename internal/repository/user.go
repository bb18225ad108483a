package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blocklive/stagefun-sub002/internal/models"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) WithTx(tx *gorm.DB) *UserRepository {
	return &UserRepository{db: tx}
}

// FindByWallet returns the user linked to address, nil if none.
func (r *UserRepository) FindByWallet(ctx context.Context, address string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("wallet_address = ?", strings.ToLower(address)).
		First(&user).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find user by wallet %s", address)
	}
	return &user, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find user %s", id)
	}
	return &user, nil
}

// EnsureUser returns the user linked to address, creating it on first sight.
func (r *UserRepository) EnsureUser(ctx context.Context, address string) (*models.User, error) {
	user := &models.User{
		ID:            uuid.NewString(),
		WalletAddress: strings.ToLower(address),
		TotalFunded:   decimal.Zero,
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "wallet_address"}},
			DoNothing: true,
		}).
		Create(user)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "create user")
	}
	if res.RowsAffected == 1 {
		return user, nil
	}
	return r.FindByWallet(ctx, address)
}

// AddFunded applies delta to the wallet's cumulative funded amount in SQL.
// It returns 0 rows when the wallet has no linked user.
func (r *UserRepository) AddFunded(ctx context.Context, address string, delta decimal.Decimal) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("wallet_address = ?", strings.ToLower(address)).
		Update("total_funded", gorm.Expr("total_funded + CAST(? AS DECIMAL(65,0))", delta))
	return res.RowsAffected, errors.Wrap(res.Error, "increment user funded amount")
}

func (r *UserRepository) SelectNFTCollection(ctx context.Context, userID, collection string) error {
	return errors.Wrap(r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("selected_nft_collection", strings.ToLower(collection)).Error, "select nft collection")
}

func (r *UserRepository) AddHolding(ctx context.Context, userID, collection string) error {
	holding := &models.NFTHolding{
		UserID:            userID,
		CollectionAddress: strings.ToLower(collection),
	}
	return errors.Wrap(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(holding).Error, "add nft holding")
}

func (r *UserRepository) HasHolding(ctx context.Context, userID, collection string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.NFTHolding{}).
		Where("user_id = ? AND collection_address = ?", userID, strings.ToLower(collection)).
		Count(&count).Error
	return count > 0, errors.Wrap(err, "check nft holding")
}
