package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/blocklive/stagefun-sub002/internal/blockchain"
	"github.com/blocklive/stagefun-sub002/internal/models"
	"github.com/blocklive/stagefun-sub002/internal/notify"
	"github.com/blocklive/stagefun-sub002/internal/repository"
	"github.com/blocklive/stagefun-sub002/pkg/errors"
	"github.com/blocklive/stagefun-sub002/pkg/logger"
)

// Applier derives pools, commitments and statuses from decoded events. Every handler is
// idempotent: state changes are gated on unique keys, and rewards run after the state
// change on every delivery so a reward that failed earlier is retried by the ledger's own dedup.
type Applier struct {
	db             *gorm.DB
	poolRepo       *repository.PoolRepository
	commitmentRepo *repository.CommitmentRepository
	userRepo       *repository.UserRepository
	rewards        *Rewards
	publisher      notify.Publisher
}

func NewApplier(
	db *gorm.DB,
	poolRepo *repository.PoolRepository,
	commitmentRepo *repository.CommitmentRepository,
	userRepo *repository.UserRepository,
	rewards *Rewards,
	publisher notify.Publisher,
) *Applier {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Applier{
		db:             db,
		poolRepo:       poolRepo,
		commitmentRepo: commitmentRepo,
		userRepo:       userRepo,
		rewards:        rewards,
		publisher:      publisher,
	}
}

// Register binds the three pool handlers to their topics.
func (a *Applier) Register(r *Router) {
	r.Register(blockchain.TopicPoolCreated, a.ApplyPoolCreated)
	r.Register(blockchain.TopicTierCommitted, a.ApplyTierCommitted)
	r.Register(blockchain.TopicPoolStatusUpdated, a.ApplyPoolStatusUpdated)
}

func txHashOf(log *blockchain.Log) string {
	return strings.ToLower(log.TxHash.Hex())
}

func addressOf(addr interface{ Hex() string }) string {
	return strings.ToLower(addr.Hex())
}

func amountOf(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}

func storeError(what string, err error) error {
	if errors.CodeOf(err) != "" {
		return err
	}
	return errors.New(errors.ErrStore, what, err)
}

func (a *Applier) announce(ctx context.Context, event *blockchain.DecodedEvent, fields map[string]interface{}) {
	fields["event"] = event.Kind.String()
	fields["removed"] = event.Log.Removed
	fields["blockNumber"] = event.Log.BlockNumber
	notify.Send(ctx, a.publisher, notify.Message{
		Type:    notify.TypeEventApplied,
		Network: event.Log.Network,
		TxHash:  txHashOf(event.Log),
		Fields:  fields,
	})
}

// ApplyPoolCreated inserts the pool as ACTIVE, or deletes it when the log was removed by a reorg.
func (a *Applier) ApplyPoolCreated(ctx context.Context, event *blockchain.DecodedEvent) Result {
	res := newResult(event.Log, event.Kind)
	e := event.PoolCreated
	txHash := txHashOf(event.Log)

	if event.Log.Removed {
		n, err := a.poolRepo.DeleteByCreationTx(ctx, txHash)
		if err != nil {
			return res.withError(storeError("delete reorged pool", err))
		}
		if n == 0 {
			return res.withOutcome(OutcomeDuplicate)
		}
		logger.WithFields(map[string]interface{}{
			"network": event.Log.Network,
			"pool":    addressOf(e.Pool),
			"tx_hash": txHash,
		}).Warn("pool creation reorged out")
		a.announce(ctx, event, map[string]interface{}{"pool": addressOf(e.Pool)})
		return res.withOutcome(OutcomeApplied)
	}

	endsAt := time.Time{}
	if e.EndTime != nil && e.EndTime.IsInt64() {
		endsAt = time.Unix(e.EndTime.Int64(), 0).UTC()
	}
	pool := &models.Pool{
		Network:         event.Log.Network,
		ContractAddress: addressOf(e.Pool),
		CreationTxHash:  txHash,
		Name:            e.Name,
		UniqueID:        e.UniqueID,
		CreatorAddress:  addressOf(e.Creator),
		TargetAmount:    amountOf(e.TargetAmount),
		CapAmount:       amountOf(e.CapAmount),
		RaisedAmount:    decimal.Zero,
		EndsAt:          endsAt,
		Status:          models.PoolStatusActive,
		Currency:        addressOf(e.Currency),
		BlockNumber:     int64(event.Log.BlockNumber),
	}

	created, err := a.poolRepo.CreateIgnore(ctx, pool)
	if err != nil {
		return res.withError(storeError("insert pool", err))
	}

	if created {
		res = res.withOutcome(OutcomeApplied)
		logger.WithFields(map[string]interface{}{
			"network": pool.Network,
			"pool":    pool.ContractAddress,
			"creator": pool.CreatorAddress,
			"tx_hash": txHash,
		}).Info("pool created")
		a.announce(ctx, event, map[string]interface{}{
			"pool":    pool.ContractAddress,
			"creator": pool.CreatorAddress,
			"name":    pool.Name,
		})
	} else {
		res = res.withOutcome(OutcomeDuplicate)
		existing, err := a.poolRepo.GetByCreationTx(ctx, txHash)
		if err != nil {
			return res.withError(storeError("load existing pool", err))
		}
		if existing == nil {
			// same address registered by another transaction; nothing of ours to reward
			return res
		}
		pool = existing
	}

	if err := a.rewards.PoolCreated(ctx, pool); err != nil {
		return res.withError(err)
	}
	return res
}

// ApplyTierCommitted records a commitment exactly once and moves the pool and user
// accumulators by relative deltas. A reorg removal deletes the row and reverses both deltas.
func (a *Applier) ApplyTierCommitted(ctx context.Context, event *blockchain.DecodedEvent) Result {
	res := newResult(event.Log, event.Kind)
	e := event.TierCommitted
	txHash := txHashOf(event.Log)

	if event.Log.Removed {
		return a.revertCommitment(ctx, event, res)
	}

	if !e.TierID.IsUint64() {
		return res.withError(errors.New(errors.ErrEventDecode,
			fmt.Sprintf("tier id %s overflows", e.TierID), nil))
	}
	commitment := &models.TierCommitment{
		Network:         event.Log.Network,
		UserAddress:     addressOf(e.User),
		PoolAddress:     addressOf(e.Pool),
		TierID:          e.TierID.Uint64(),
		Amount:          amountOf(e.Amount),
		TransactionHash: txHash,
		BlockNumber:     int64(event.Log.BlockNumber),
	}

	var pool *models.Pool
	var inserted bool
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pools := a.poolRepo.WithTx(tx)

		var err error
		pool, err = pools.GetByAddress(ctx, commitment.PoolAddress)
		if err != nil {
			return storeError("load pool", err)
		}
		if pool == nil {
			return errors.New(errors.ErrDependencyNotFound,
				fmt.Sprintf("pool %s not ingested yet", commitment.PoolAddress), nil)
		}

		// the insert is the exactly-once gate; nothing below runs twice for one tx hash
		inserted, err = a.commitmentRepo.WithTx(tx).InsertIgnore(ctx, commitment)
		if err != nil {
			return storeError("insert commitment", err)
		}
		if !inserted {
			return nil
		}

		if _, err := pools.AddRaised(ctx, commitment.PoolAddress, commitment.Amount); err != nil {
			return storeError("increment raised amount", err)
		}

		// the increment runs once per tx hash, so the committer row must exist now
		users := a.userRepo.WithTx(tx)
		if _, err := users.EnsureUser(ctx, commitment.UserAddress); err != nil {
			return storeError("ensure committer", err)
		}
		return addFunded(ctx, users, commitment.UserAddress, commitment.Amount, "increment funded amount")
	})
	if err != nil {
		return res.withError(err)
	}

	if inserted {
		res = res.withOutcome(OutcomeApplied)
		logger.WithFields(map[string]interface{}{
			"network": commitment.Network,
			"pool":    commitment.PoolAddress,
			"user":    commitment.UserAddress,
			"amount":  commitment.Amount.String(),
			"tx_hash": txHash,
		}).Info("tier commitment applied")
		a.announce(ctx, event, map[string]interface{}{
			"pool":   commitment.PoolAddress,
			"user":   commitment.UserAddress,
			"tierId": commitment.TierID,
			"amount": commitment.Amount.String(),
		})
	} else {
		res = res.withOutcome(OutcomeDuplicate)
		stored, err := a.commitmentRepo.GetByTxHash(ctx, txHash)
		if err != nil {
			return res.withError(storeError("load existing commitment", err))
		}
		if stored != nil {
			commitment = stored
		}
	}

	if err := a.rewards.Committed(ctx, commitment, pool); err != nil {
		return res.withError(err)
	}
	return res
}

func addFunded(ctx context.Context, users *repository.UserRepository, address string, delta decimal.Decimal, what string) error {
	n, err := users.AddFunded(ctx, address, delta)
	if err != nil {
		return storeError(what, err)
	}
	if n != 1 {
		return storeError(what, fmt.Errorf("no user row for wallet %s", address))
	}
	return nil
}

func (a *Applier) revertCommitment(ctx context.Context, event *blockchain.DecodedEvent, res Result) Result {
	txHash := txHashOf(event.Log)

	var removed *models.TierCommitment
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		removed, err = a.commitmentRepo.WithTx(tx).DeleteByTxHash(ctx, txHash)
		if err != nil {
			return storeError("delete reorged commitment", err)
		}
		if removed == nil {
			return nil
		}

		delta := removed.Amount.Neg()
		if _, err := a.poolRepo.WithTx(tx).AddRaised(ctx, removed.PoolAddress, delta); err != nil {
			return storeError("reverse raised amount", err)
		}
		return addFunded(ctx, a.userRepo.WithTx(tx), removed.UserAddress, delta, "reverse funded amount")
	})
	if err != nil {
		return res.withError(err)
	}
	if removed == nil {
		return res.withOutcome(OutcomeDuplicate)
	}

	logger.WithFields(map[string]interface{}{
		"network": event.Log.Network,
		"pool":    removed.PoolAddress,
		"user":    removed.UserAddress,
		"amount":  removed.Amount.String(),
		"tx_hash": txHash,
	}).Warn("tier commitment reorged out")
	a.announce(ctx, event, map[string]interface{}{
		"pool":   removed.PoolAddress,
		"user":   removed.UserAddress,
		"amount": removed.Amount.String(),
	})
	return res.withOutcome(OutcomeApplied)
}

// ApplyPoolStatusUpdated overwrites the pool status. Status is a point-in-time fact, so
// reorg removals are ignored. Reaching EXECUTING triggers the creator's execution bonus.
func (a *Applier) ApplyPoolStatusUpdated(ctx context.Context, event *blockchain.DecodedEvent) Result {
	res := newResult(event.Log, event.Kind)
	e := event.PoolStatusUpdated

	status, ok := models.PoolStatusFromCode(uint64(e.Status))
	if !ok {
		return res.withError(errors.New(errors.ErrEventDecode,
			fmt.Sprintf("unknown pool status code %d", e.Status), nil))
	}
	if event.Log.Removed {
		logger.WithFields(map[string]interface{}{
			"pool":    addressOf(e.Pool),
			"status":  status,
			"tx_hash": txHashOf(event.Log),
		}).Info("ignoring reorged status update")
		return res.withOutcome(OutcomeIgnored)
	}

	poolAddress := addressOf(e.Pool)
	pool, err := a.poolRepo.GetByAddress(ctx, poolAddress)
	if err != nil {
		return res.withError(storeError("load pool", err))
	}
	if pool == nil {
		return res.withError(errors.New(errors.ErrDependencyNotFound,
			fmt.Sprintf("pool %s not ingested yet", poolAddress), nil))
	}

	if pool.Status == status {
		res = res.withOutcome(OutcomeDuplicate)
	} else {
		if _, err := a.poolRepo.SetStatus(ctx, poolAddress, status); err != nil {
			return res.withError(storeError("update pool status", err))
		}
		logger.WithFields(map[string]interface{}{
			"pool":    poolAddress,
			"from":    pool.Status,
			"to":      status,
			"tx_hash": txHashOf(event.Log),
		}).Info("pool status updated")
		a.announce(ctx, event, map[string]interface{}{
			"pool":   poolAddress,
			"from":   string(pool.Status),
			"status": string(status),
		})
		pool.Status = status
		res = res.withOutcome(OutcomeApplied)
	}

	if status == models.PoolStatusExecuting {
		if err := a.rewards.PoolExecuting(ctx, pool, txHashOf(event.Log)); err != nil {
			return res.withError(err)
		}
	}
	return res
}
