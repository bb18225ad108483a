package service

import (
	"context"
	"fmt"

	"github.com/blocklive/stagefun-sub002/internal/models"
	"github.com/blocklive/stagefun-sub002/internal/repository"
	"github.com/blocklive/stagefun-sub002/pkg/errors"
	"github.com/blocklive/stagefun-sub002/pkg/logger"
)

// Drift is one accumulator that disagrees with the rows it is derived from.
type Drift struct {
	Field    string `json:"field"`
	Stored   string `json:"stored"`
	Expected string `json:"expected"`
}

type ReconcileReport struct {
	Subject string  `json:"subject"`
	Drifts  []Drift `json:"drifts"`
}

func (r *ReconcileReport) Consistent() bool {
	return len(r.Drifts) == 0
}

// Reconciler recomputes accumulators from their source rows: user_points from the ledger,
// users.total_funded and pools.raised_amount from live commitments.
type Reconciler struct {
	pointsRepo     *repository.PointsRepository
	userRepo       *repository.UserRepository
	poolRepo       *repository.PoolRepository
	commitmentRepo *repository.CommitmentRepository
}

func NewReconciler(
	pointsRepo *repository.PointsRepository,
	userRepo *repository.UserRepository,
	poolRepo *repository.PoolRepository,
	commitmentRepo *repository.CommitmentRepository,
) *Reconciler {
	return &Reconciler{
		pointsRepo:     pointsRepo,
		userRepo:       userRepo,
		poolRepo:       poolRepo,
		commitmentRepo: commitmentRepo,
	}
}

var ledgerTypes = []models.PointType{
	models.PointTypeFunded,
	models.PointTypeRaised,
	models.PointTypeOnboarding,
	models.PointTypeCheckin,
	models.PointTypeReferral,
}

// CheckUser compares every balance column of the wallet's user with its ledger sum and
// the user's funded total with their live commitments.
func (r *Reconciler) CheckUser(ctx context.Context, address string) (*ReconcileReport, error) {
	user, err := r.userRepo.FindByWallet(ctx, address)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "find user", err)
	}
	if user == nil {
		return nil, errors.New(errors.ErrDependencyNotFound, fmt.Sprintf("no user for %s", address), nil)
	}

	sums, err := r.pointsRepo.SumByType(ctx, user.ID)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "sum ledger", err)
	}
	balance, err := r.pointsRepo.GetBalance(ctx, user.ID)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "load balance", err)
	}
	if balance == nil {
		balance = &models.UserPoints{UserID: user.ID}
	}

	report := &ReconcileReport{Subject: user.ID}
	var total int64
	for _, t := range ledgerTypes {
		total += sums[t]
		if stored := balance.Get(t); stored != sums[t] {
			report.Drifts = append(report.Drifts, Drift{
				Field:    t.Column(),
				Stored:   fmt.Sprintf("%d", stored),
				Expected: fmt.Sprintf("%d", sums[t]),
			})
		}
	}
	if balance.TotalPoints != total {
		report.Drifts = append(report.Drifts, Drift{
			Field:    "total_points",
			Stored:   fmt.Sprintf("%d", balance.TotalPoints),
			Expected: fmt.Sprintf("%d", total),
		})
	}

	funded, err := r.commitmentRepo.SumByUser(ctx, user.WalletAddress)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "sum commitments", err)
	}
	if !user.TotalFunded.Equal(funded) {
		report.Drifts = append(report.Drifts, Drift{
			Field:    "total_funded",
			Stored:   user.TotalFunded.String(),
			Expected: funded.Round(0).String(),
		})
	}

	r.log(report)
	return report, nil
}

// CheckPool compares raised_amount with the sum of the pool's live commitments.
func (r *Reconciler) CheckPool(ctx context.Context, address string) (*ReconcileReport, error) {
	pool, err := r.poolRepo.GetByAddress(ctx, address)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "load pool", err)
	}
	if pool == nil {
		return nil, errors.New(errors.ErrDependencyNotFound, fmt.Sprintf("no pool %s", address), nil)
	}

	sum, err := r.commitmentRepo.SumByPool(ctx, pool.ContractAddress)
	if err != nil {
		return nil, errors.New(errors.ErrStore, "sum commitments", err)
	}

	report := &ReconcileReport{Subject: pool.ContractAddress}
	if !pool.RaisedAmount.Equal(sum) {
		report.Drifts = append(report.Drifts, Drift{
			Field:    "raised_amount",
			Stored:   pool.RaisedAmount.String(),
			Expected: sum.Round(0).String(),
		})
	}

	r.log(report)
	return report, nil
}

func (r *Reconciler) log(report *ReconcileReport) {
	if report.Consistent() {
		return
	}
	logger.WithFields(map[string]interface{}{
		"subject": report.Subject,
		"drifts":  len(report.Drifts),
	}).Warn("accumulator drift detected")
}

