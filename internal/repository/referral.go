package repository

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/blocklive/stagefun-sub002/internal/models"
)

type ReferralRepository struct {
	db *gorm.DB
}

func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

func (r *ReferralRepository) Create(ctx context.Context, grant *models.ReferralGrant) error {
	grant.ReferredAddress = strings.ToLower(grant.ReferredAddress)
	grant.PoolAddress = strings.ToLower(grant.PoolAddress)
	return errors.Wrap(r.db.WithContext(ctx).Create(grant).Error, "create referral grant")
}

// FindRedeemable returns the grant covering (referred, pool) that is unexpired at now and
// either unused or already redeemed by txHash, nil if none.
func (r *ReferralRepository) FindRedeemable(ctx context.Context, referred, pool, txHash string, now time.Time) (*models.ReferralGrant, error) {
	var grants []models.ReferralGrant
	err := r.db.WithContext(ctx).
		Where("referred_address = ? AND pool_address = ?", strings.ToLower(referred), strings.ToLower(pool)).
		Where("used_at IS NULL OR used_tx_hash = ?", strings.ToLower(txHash)).
		Order("created_at ASC").
		Find(&grants).Error
	if err != nil {
		return nil, errors.Wrap(err, "find referral grant")
	}
	for i := range grants {
		g := &grants[i]
		if g.UsedAt != nil || g.ExpiresAt.After(now) {
			return g, nil
		}
	}
	return nil, nil
}

// MarkUsed claims an unused grant for txHash. false means another redemption won.
func (r *ReferralRepository) MarkUsed(ctx context.Context, id, txHash string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ReferralGrant{}).
		Where("id = ? AND used_at IS NULL", id).
		Updates(map[string]interface{}{
			"used_at":      at,
			"used_tx_hash": strings.ToLower(txHash),
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "mark referral grant used")
	}
	return res.RowsAffected == 1, nil
}
