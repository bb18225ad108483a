package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blocklive/stagefun-sub002/internal/config"
	"github.com/blocklive/stagefun-sub002/internal/models"
	"github.com/blocklive/stagefun-sub002/internal/repository"
	"github.com/blocklive/stagefun-sub002/pkg/errors"
	"github.com/blocklive/stagefun-sub002/pkg/logger"
)

const (
	ActionPoolCreation   = "pool_creation"
	ActionCommit         = "pool_commit"
	ActionCommitReceived = "pool_commit_received"
	ActionPoolExecuting  = "pool_executing"
	ActionReferral       = "referral_commitment"
	ActionCheckin        = "daily_checkin"
	ActionOnboarding     = "onboarding"
)

// Rewards turns applied pool events into ledger awards.
type Rewards struct {
	cfg          *config.PointsConfig
	ledger       *Ledger
	userRepo     *repository.UserRepository
	referralRepo *repository.ReferralRepository
	now          func() time.Time
}

func NewRewards(
	cfg *config.PointsConfig,
	ledger *Ledger,
	userRepo *repository.UserRepository,
	referralRepo *repository.ReferralRepository,
) *Rewards {
	return &Rewards{
		cfg:          cfg,
		ledger:       ledger,
		userRepo:     userRepo,
		referralRepo: referralRepo,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// USDCPoints is floor(rate * amount / 10^decimals) for an amount in base units.
func (r *Rewards) USDCPoints(rate int64, baseUnits decimal.Decimal) int64 {
	return baseUnits.Shift(-r.cfg.USDCDecimals).Mul(decimal.NewFromInt(rate)).Floor().IntPart()
}

// userFor resolves the ledger user linked to a wallet.
func (r *Rewards) userFor(ctx context.Context, address, role string) (*models.User, error) {
	user, err := r.userRepo.FindByWallet(ctx, address)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "find user", err)
	}
	if user == nil {
		return nil, errors.New(errors.ErrDependencyNotFound,
			fmt.Sprintf("no user linked to %s wallet %s", role, address), nil)
	}
	return user, nil
}

func (r *Rewards) award(ctx context.Context, req AwardRequest) error {
	if req.BaseAmount < 1 {
		logger.WithFields(map[string]interface{}{
			"user_id":    req.UserID,
			"action_key": req.ActionKey,
			"tx_hash":    req.TxHash,
		}).Debug("reward rounds to zero, skipping")
		return nil
	}
	_, err := r.ledger.Award(ctx, req)
	return err
}

// PoolCreated awards the creator a flat amount, without multipliers.
func (r *Rewards) PoolCreated(ctx context.Context, pool *models.Pool) error {
	creator, err := r.userFor(ctx, pool.CreatorAddress, "creator")
	if err != nil {
		return err
	}
	return r.award(ctx, AwardRequest{
		UserID:      creator.ID,
		PointType:   models.PointTypeRaised,
		BaseAmount:  r.cfg.PoolCreationPoints,
		ActionKey:   ActionPoolCreation,
		TxHash:      pool.CreationTxHash,
		PoolAddress: pool.ContractAddress,
		Extra:       map[string]string{"poolName": pool.Name},
	})
}

// Committed awards the committer, the pool creator and, when a grant covers the
// commitment, the referrer. Every award is attempted; the first failure is returned.
func (r *Rewards) Committed(ctx context.Context, c *models.TierCommitment, pool *models.Pool) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	extra := map[string]string{
		"amount": c.Amount.String(),
		"tierId": fmt.Sprintf("%d", c.TierID),
	}

	if committer, err := r.userFor(ctx, c.UserAddress, "committer"); err != nil {
		keep(err)
	} else {
		keep(r.award(ctx, AwardRequest{
			UserID:          committer.ID,
			PointType:       models.PointTypeFunded,
			BaseAmount:      r.USDCPoints(r.cfg.CommitRate, c.Amount),
			ActionKey:       ActionCommit,
			TxHash:          c.TransactionHash,
			PoolAddress:     c.PoolAddress,
			ApplyMultiplier: true,
			Extra:           extra,
		}))
	}

	if creator, err := r.userFor(ctx, pool.CreatorAddress, "creator"); err != nil {
		keep(err)
	} else {
		keep(r.award(ctx, AwardRequest{
			UserID:          creator.ID,
			PointType:       models.PointTypeRaised,
			BaseAmount:      r.USDCPoints(r.cfg.CommitReceivedRate, c.Amount),
			ActionKey:       ActionCommitReceived,
			TxHash:          c.TransactionHash,
			PoolAddress:     c.PoolAddress,
			ApplyMultiplier: true,
			Extra:           extra,
		}))
	}

	keep(r.referral(ctx, c))
	return first
}

// referral claims the grant for this tx before awarding, so a retry after a failed
// award finds the same grant again.
func (r *Rewards) referral(ctx context.Context, c *models.TierCommitment) error {
	grant, err := r.referralRepo.FindRedeemable(ctx, c.UserAddress, c.PoolAddress, c.TransactionHash, r.now())
	if err != nil {
		return errors.New(errors.ErrStore, "find referral grant", err)
	}
	if grant == nil {
		return nil
	}

	if grant.UsedAt == nil {
		claimed, err := r.referralRepo.MarkUsed(ctx, grant.ID, c.TransactionHash, r.now())
		if err != nil {
			return errors.New(errors.ErrStore, "claim referral grant", err)
		}
		if !claimed {
			logger.WithFields(map[string]interface{}{
				"grant_id": grant.ID,
				"tx_hash":  c.TransactionHash,
			}).Info("referral grant claimed by another commitment")
			return nil
		}
	}

	return r.award(ctx, AwardRequest{
		UserID:          grant.ReferrerUserID,
		PointType:       models.PointTypeReferral,
		BaseAmount:      r.USDCPoints(r.cfg.ReferralRate, c.Amount),
		ActionKey:       ActionReferral,
		TxHash:          c.TransactionHash,
		PoolAddress:     c.PoolAddress,
		ApplyMultiplier: true,
		Extra: map[string]string{
			"grantId":  grant.ID,
			"referred": c.UserAddress,
		},
	})
}

// ExecutingKey dedups the execution bonus per pool rather than per status transaction.
func ExecutingKey(poolAddress string) string {
	return "executing:" + strings.ToLower(poolAddress)
}

// PoolExecuting awards the creator the execution bonus once per pool.
func (r *Rewards) PoolExecuting(ctx context.Context, pool *models.Pool, statusTxHash string) error {
	creator, err := r.userFor(ctx, pool.CreatorAddress, "creator")
	if err != nil {
		return err
	}
	return r.award(ctx, AwardRequest{
		UserID:          creator.ID,
		PointType:       models.PointTypeRaised,
		BaseAmount:      r.USDCPoints(r.cfg.ExecutingRate, pool.RaisedAmount),
		ActionKey:       ActionPoolExecuting,
		TxHash:          ExecutingKey(pool.ContractAddress),
		PoolAddress:     pool.ContractAddress,
		ApplyMultiplier: true,
		Extra: map[string]string{
			"raisedAmount": pool.RaisedAmount.String(),
			"statusTxHash": statusTxHash,
		},
	})
}
