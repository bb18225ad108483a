package service

import (
	"context"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/blocklive/stagefun-sub002/internal/models"
	"github.com/blocklive/stagefun-sub002/internal/notify"
	"github.com/blocklive/stagefun-sub002/internal/repository"
	"github.com/blocklive/stagefun-sub002/pkg/errors"
	"github.com/blocklive/stagefun-sub002/pkg/logger"
)

// AwardRequest describes one reward. TxHash, when set, makes the award exactly-once per
// (UserID, ActionKey, TxHash).
type AwardRequest struct {
	UserID          string
	PointType       models.PointType
	BaseAmount      int64
	ActionKey       string
	TxHash          string
	PoolAddress     string
	ApplyMultiplier bool
	Extra           map[string]string
}

type AwardResult struct {
	Awarded     int64
	Duplicate   bool
	Breakdown   *Breakdown
	Transaction *models.PointTransaction
}

// Ledger appends point transactions and keeps user_points equal to their per-type sums.
type Ledger struct {
	db          *gorm.DB
	pointsRepo  *repository.PointsRepository
	userRepo    *repository.UserRepository
	multipliers *MultiplierStack
	publisher   notify.Publisher
}

func NewLedger(
	db *gorm.DB,
	pointsRepo *repository.PointsRepository,
	userRepo *repository.UserRepository,
	multipliers *MultiplierStack,
	publisher notify.Publisher,
) *Ledger {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Ledger{
		db:          db,
		pointsRepo:  pointsRepo,
		userRepo:    userRepo,
		multipliers: multipliers,
		publisher:   publisher,
	}
}

// Award issues req in one transaction: ledger row, balance creation or increment.
// A repeated (user, action, tx) returns Duplicate with nothing written.
func (l *Ledger) Award(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	var result *AwardResult
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = l.awardInTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.announce(ctx, req, result)
	return result, nil
}

func (l *Ledger) awardInTx(ctx context.Context, tx *gorm.DB, req AwardRequest) (*AwardResult, error) {
	if req.BaseAmount < 1 {
		return nil, errors.New(errors.ErrInvalidAmount,
			fmt.Sprintf("award of %d %s points below one point", req.BaseAmount, req.PointType), nil)
	}
	if req.PointType.Column() == "" {
		return nil, errors.New(errors.ErrInvalidInput,
			fmt.Sprintf("unknown point type %q", req.PointType), nil)
	}

	points := l.pointsRepo.WithTx(tx)

	if req.TxHash != "" {
		exists, err := points.ExistsByDedup(ctx, req.UserID, req.ActionKey, req.TxHash)
		if err != nil {
			return nil, errors.New(errors.ErrStore, "probe ledger", err)
		}
		if exists {
			return &AwardResult{Duplicate: true}, nil
		}
	}

	awarded := req.BaseAmount
	var breakdown *Breakdown
	if req.ApplyMultiplier {
		b, err := l.breakdownFor(ctx, tx, req.UserID)
		if err != nil {
			return nil, err
		}
		breakdown = &b
		awarded = b.Apply(req.BaseAmount)
	}

	meta := models.PointMetadata{
		TxHash:      req.TxHash,
		PoolAddress: req.PoolAddress,
		BaseAmount:  req.BaseAmount,
		BonusAmount: awarded - req.BaseAmount,
		Multiplier:  "1",
		Extra:       req.Extra,
	}
	if breakdown != nil {
		meta.Multiplier = breakdown.Total.String()
		meta.Breakdown = breakdown.Map()
	}

	row := &models.PointTransaction{
		UserID:    req.UserID,
		PointType: req.PointType,
		Amount:    awarded,
		ActionKey: req.ActionKey,
		TxHash:    req.TxHash,
		Metadata:  datatypes.NewJSONType(meta),
	}
	inserted, err := points.InsertTransaction(ctx, row)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "append point transaction", err)
	}
	if !inserted {
		// lost a race with a concurrent award of the same key
		return &AwardResult{Duplicate: true}, nil
	}

	created, err := points.CreateBalance(ctx, models.NewUserPoints(req.UserID, req.PointType, awarded))
	if err != nil {
		return nil, errors.New(errors.ErrStore, "create balance", err)
	}
	if !created {
		if err := points.IncrementBalance(ctx, req.UserID, req.PointType, awarded); err != nil {
			return nil, errors.New(errors.ErrStore, "increment balance", err)
		}
	}

	return &AwardResult{
		Awarded:     awarded,
		Breakdown:   breakdown,
		Transaction: row,
	}, nil
}

// breakdownFor reads the user's current standing inside tx.
func (l *Ledger) breakdownFor(ctx context.Context, tx *gorm.DB, userID string) (Breakdown, error) {
	table := l.multipliers.Table()

	var in MultiplierInput
	balance, err := l.pointsRepo.WithTx(tx).GetBalance(ctx, userID)
	if err != nil {
		return Breakdown{}, errors.New(errors.ErrStore, "load balance", err)
	}
	if balance != nil {
		in.TotalPoints = balance.TotalPoints
		in.Streak = balance.CheckinStreak
	}

	users := l.userRepo.WithTx(tx)
	user, err := users.FindByID(ctx, userID)
	if err != nil {
		return Breakdown{}, errors.New(errors.ErrStore, "load user", err)
	}
	if user != nil && user.SelectedNFTCollection != "" {
		in.NFTCollection = user.SelectedNFTCollection
		in.HoldsNFT, err = users.HasHolding(ctx, userID, user.SelectedNFTCollection)
		if err != nil {
			return Breakdown{}, errors.New(errors.ErrStore, "load nft holding", err)
		}
	}
	return table.Compute(in), nil
}

func (l *Ledger) announce(ctx context.Context, req AwardRequest, result *AwardResult) {
	if result.Duplicate {
		logger.WithFields(map[string]interface{}{
			"user_id":    req.UserID,
			"action_key": req.ActionKey,
			"tx_hash":    req.TxHash,
		}).Debug("award already issued")
		return
	}

	logger.WithFields(map[string]interface{}{
		"user_id":    req.UserID,
		"point_type": req.PointType,
		"action_key": req.ActionKey,
		"base":       req.BaseAmount,
		"awarded":    result.Awarded,
		"tx_hash":    req.TxHash,
	}).Info("points awarded")

	notify.Send(ctx, l.publisher, notify.Message{
		Type:   notify.TypePointsAwarded,
		TxHash: req.TxHash,
		Fields: map[string]interface{}{
			"userId":     req.UserID,
			"pointType":  string(req.PointType),
			"actionKey":  req.ActionKey,
			"baseAmount": req.BaseAmount,
			"amount":     result.Awarded,
		},
	})
}
