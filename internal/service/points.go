package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/blocklive/stagefun-sub002/internal/config"
	"github.com/blocklive/stagefun-sub002/internal/models"
	"github.com/blocklive/stagefun-sub002/internal/repository"
	"github.com/blocklive/stagefun-sub002/pkg/errors"
	"github.com/blocklive/stagefun-sub002/pkg/logger"
)

// PointsService covers the user-initiated side of the ledger: check-ins, onboarding,
// referral grants, NFT selection and the read model.
type PointsService struct {
	db           *gorm.DB
	cfg          *config.PointsConfig
	ledger       *Ledger
	pointsRepo   *repository.PointsRepository
	userRepo     *repository.UserRepository
	referralRepo *repository.ReferralRepository
	multipliers  *MultiplierStack
	now          func() time.Time
}

func NewPointsService(
	db *gorm.DB,
	cfg *config.PointsConfig,
	ledger *Ledger,
	pointsRepo *repository.PointsRepository,
	userRepo *repository.UserRepository,
	referralRepo *repository.ReferralRepository,
	multipliers *MultiplierStack,
) *PointsService {
	return &PointsService{
		db:           db,
		cfg:          cfg,
		ledger:       ledger,
		pointsRepo:   pointsRepo,
		userRepo:     userRepo,
		referralRepo: referralRepo,
		multipliers:  multipliers,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *PointsService) checkinInterval() time.Duration {
	if s.cfg.CheckinInterval <= 0 {
		return 24 * time.Hour
	}
	return s.cfg.CheckinInterval
}

type CheckinResult struct {
	Awarded int64     `json:"awarded"`
	Streak  int       `json:"streak"`
	NextAt  time.Time `json:"nextAt"`
}

// CheckIn records a daily check-in for the wallet and awards streak-scaled points.
// The streak survives a gap of up to twice the interval.
func (s *PointsService) CheckIn(ctx context.Context, address string) (*CheckinResult, error) {
	user, err := s.userRepo.EnsureUser(ctx, address)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "ensure user", err)
	}

	now := s.now()
	interval := s.checkinInterval()
	var result *CheckinResult

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		points := s.pointsRepo.WithTx(tx)

		if _, err := points.CreateBalance(ctx, models.NewUserPoints(user.ID, models.PointTypeCheckin, 0)); err != nil {
			return errors.New(errors.ErrStore, "create balance", err)
		}
		balance, err := points.GetBalance(ctx, user.ID)
		if err != nil || balance == nil {
			return errors.New(errors.ErrStore, "load balance", err)
		}

		streak := 1
		if balance.LastCheckinAt != nil {
			since := now.Sub(*balance.LastCheckinAt)
			if since < interval {
				return errors.New(errors.ErrCheckInTooSoon,
					fmt.Sprintf("next check-in at %s", balance.LastCheckinAt.Add(interval).Format(time.RFC3339)), nil)
			}
			if since < 2*interval {
				streak = balance.CheckinStreak + 1
			}
		}

		advanced, err := points.AdvanceCheckin(ctx, user.ID, balance.CheckinCount, streak, now)
		if err != nil {
			return errors.New(errors.ErrStore, "advance check-in", err)
		}
		if !advanced {
			return errors.New(errors.ErrCheckInTooSoon, "concurrent check-in", nil)
		}

		base := s.multipliers.Table().StreakMultiplier(streak).
			Mul(decimalFromInt(s.cfg.CheckinPoints)).Floor().IntPart()
		award, err := s.ledger.awardInTx(ctx, tx, AwardRequest{
			UserID:     user.ID,
			PointType:  models.PointTypeCheckin,
			BaseAmount: base,
			ActionKey:  ActionCheckin,
			TxHash:     fmt.Sprintf("checkin:%s:%d", user.ID, balance.CheckinCount+1),
			Extra:      map[string]string{"streak": fmt.Sprintf("%d", streak)},
		})
		if err != nil {
			return err
		}

		result = &CheckinResult{Awarded: award.Awarded, Streak: streak, NextAt: now.Add(interval)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"user_id": user.ID,
		"streak":  result.Streak,
		"awarded": result.Awarded,
	}).Info("check-in recorded")
	return result, nil
}

// OnboardingKey makes the onboarding award once per user.
func OnboardingKey(userID string) string {
	return "onboarding:" + userID
}

func (s *PointsService) AwardOnboarding(ctx context.Context, address string) (*AwardResult, error) {
	user, err := s.userRepo.EnsureUser(ctx, address)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "ensure user", err)
	}
	return s.ledger.Award(ctx, AwardRequest{
		UserID:     user.ID,
		PointType:  models.PointTypeOnboarding,
		BaseAmount: s.cfg.OnboardingPoints,
		ActionKey:  ActionOnboarding,
		TxHash:     OnboardingKey(user.ID),
	})
}

// GrantReferral lets referrer earn on referred's first commitment to pool within ttl.
func (s *PointsService) GrantReferral(ctx context.Context, referrer, referred, pool string, ttl time.Duration) (*models.ReferralGrant, error) {
	if ttl <= 0 {
		return nil, errors.New(errors.ErrReferralInvalid, "ttl must be positive", nil)
	}
	if strings.EqualFold(referrer, referred) {
		return nil, errors.New(errors.ErrReferralInvalid, "cannot refer yourself", nil)
	}

	user, err := s.userRepo.EnsureUser(ctx, referrer)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "ensure referrer", err)
	}

	grant := &models.ReferralGrant{
		ID:              uuid.NewString(),
		ReferrerUserID:  user.ID,
		ReferredAddress: referred,
		PoolAddress:     pool,
		ExpiresAt:       s.now().Add(ttl),
	}
	if err := s.referralRepo.Create(ctx, grant); err != nil {
		return nil, errors.New(errors.ErrStore, "create referral grant", err)
	}
	return grant, nil
}

// SelectNFT records that the wallet holds collection and makes it the user's active NFT.
func (s *PointsService) SelectNFT(ctx context.Context, address, collection string) error {
	if !s.multipliers.Table().IsNFTCollection(collection) {
		return errors.New(errors.ErrInvalidInput, fmt.Sprintf("collection %s has no multiplier", collection), nil)
	}
	user, err := s.userRepo.EnsureUser(ctx, address)
	if err != nil {
		return errors.New(errors.ErrStore, "ensure user", err)
	}
	if err := s.userRepo.AddHolding(ctx, user.ID, collection); err != nil {
		return errors.New(errors.ErrStore, "add holding", err)
	}
	return s.userRepo.SelectNFTCollection(ctx, user.ID, collection)
}

type PointsSummary struct {
	Address      string                    `json:"address"`
	UserID       string                    `json:"userId"`
	Balance      models.UserPoints         `json:"balance"`
	Multipliers  Breakdown                 `json:"multipliers"`
	Transactions int64                     `json:"transactions"`
	Recent       []models.PointTransaction `json:"recent"`
}

// Summary is the read model for a wallet: balance columns plus the multipliers in effect.
func (s *PointsService) Summary(ctx context.Context, address string, recent int) (*PointsSummary, error) {
	user, err := s.userRepo.FindByWallet(ctx, address)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "find user", err)
	}
	if user == nil {
		return nil, errors.New(errors.ErrDependencyNotFound, fmt.Sprintf("no user for %s", address), nil)
	}

	summary := &PointsSummary{
		Address: strings.ToLower(address),
		UserID:  user.ID,
		Balance: models.UserPoints{UserID: user.ID},
	}
	balance, err := s.pointsRepo.GetBalance(ctx, user.ID)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "load balance", err)
	}
	if balance != nil {
		summary.Balance = *balance
	}

	in := MultiplierInput{
		TotalPoints:   summary.Balance.TotalPoints,
		Streak:        summary.Balance.CheckinStreak,
		NFTCollection: user.SelectedNFTCollection,
	}
	if in.NFTCollection != "" {
		if in.HoldsNFT, err = s.userRepo.HasHolding(ctx, user.ID, in.NFTCollection); err != nil {
			return nil, errors.New(errors.ErrStore, "load holding", err)
		}
	}
	summary.Multipliers = s.multipliers.Table().Compute(in)

	if summary.Transactions, err = s.pointsRepo.CountByUser(ctx, user.ID); err != nil {
		return nil, errors.New(errors.ErrStore, "count transactions", err)
	}
	if summary.Recent, err = s.pointsRepo.ListByUser(ctx, user.ID, recent); err != nil {
		return nil, errors.New(errors.ErrStore, "list transactions", err)
	}
	return summary, nil
}

func (s *PointsService) Leaderboard(ctx context.Context, limit int) ([]models.UserPoints, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.pointsRepo.TopByTotal(ctx, limit)
}
