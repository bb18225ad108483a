package service

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/blocklive/stagefun-sub002/internal/blockchain"
	"github.com/blocklive/stagefun-sub002/internal/config"
	"github.com/blocklive/stagefun-sub002/internal/database"
	"github.com/blocklive/stagefun-sub002/internal/models"
	"github.com/blocklive/stagefun-sub002/internal/repository"
)

var (
	factoryAddr  = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	poolAddr     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	otherPool    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	creatorAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	userAddr     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	referrerAddr = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	usdcAddr     = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

type testEnv struct {
	db  *gorm.DB
	cfg *config.Config

	events      *repository.EventRepository
	pools       *repository.PoolRepository
	commitments *repository.CommitmentRepository
	users       *repository.UserRepository
	points      *repository.PointsRepository
	referrals   *repository.ReferralRepository
	runs        *repository.SyncRunRepository

	multipliers  *MultiplierStack
	ledger       *Ledger
	rewards      *Rewards
	router       *Router
	tracker      *SyncTracker
	orchestrator *Orchestrator
	pointsSvc    *PointsService
	reconciler   *Reconciler
}

func newTestEnv(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Ingestion.Parallelism = 4
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := database.OpenMemory()
	require.NoError(t, err)

	env := &testEnv{
		db:          db,
		cfg:         cfg,
		events:      repository.NewEventRepository(db),
		pools:       repository.NewPoolRepository(db),
		commitments: repository.NewCommitmentRepository(db),
		users:       repository.NewUserRepository(db),
		points:      repository.NewPointsRepository(db),
		referrals:   repository.NewReferralRepository(db),
		runs:        repository.NewSyncRunRepository(db),
	}

	env.multipliers = NewMultiplierStack(&cfg.Points)
	env.ledger = NewLedger(db, env.points, env.users, env.multipliers, nil)
	env.rewards = NewRewards(&cfg.Points, env.ledger, env.users, env.referrals)
	env.router = NewRouter()
	NewApplier(db, env.pools, env.commitments, env.users, env.rewards, nil).Register(env.router)
	env.tracker = NewSyncTracker(env.runs)
	env.orchestrator = NewOrchestrator(env.events, blockchain.NewDecoder(), env.router, env.tracker, cfg.Ingestion)
	env.pointsSvc = NewPointsService(db, &cfg.Points, env.ledger, env.points, env.users, env.referrals, env.multipliers)
	env.reconciler = NewReconciler(env.points, env.users, env.pools, env.commitments)

	t.Cleanup(func() {
		env.orchestrator.Close()
		_ = database.Close(db)
	})
	return env
}

func (e *testEnv) process(t *testing.T, logs ...blockchain.RawLog) *Summary {
	t.Helper()
	summary, err := e.orchestrator.Process(context.Background(), Batch{
		Network: "base",
		Source:  SourceWebhook,
		Logs:    logs,
	})
	require.NoError(t, err)
	return summary
}

func (e *testEnv) link(t *testing.T, addr common.Address) *models.User {
	t.Helper()
	user, err := e.users.EnsureUser(context.Background(), addr.Hex())
	require.NoError(t, err)
	return user
}

func (e *testEnv) balance(t *testing.T, userID string) models.UserPoints {
	t.Helper()
	b, err := e.points.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	if b == nil {
		return models.UserPoints{UserID: userID}
	}
	return *b
}

func (e *testEnv) pool(t *testing.T, addr common.Address) *models.Pool {
	t.Helper()
	p, err := e.pools.GetByAddress(context.Background(), addr.Hex())
	require.NoError(t, err)
	return p
}

func (e *testEnv) transactions(t *testing.T, userID string) []models.PointTransaction {
	t.Helper()
	txs, err := e.points.ListByUser(context.Background(), userID, 0)
	require.NoError(t, err)
	return txs
}

func (e *testEnv) requireConsistent(t *testing.T, addrs ...common.Address) {
	t.Helper()
	for _, addr := range addrs {
		report, err := e.reconciler.CheckUser(context.Background(), addr.Hex())
		require.NoError(t, err)
		require.True(t, report.Consistent(), "balance drift for %s: %+v", addr.Hex(), report.Drifts)
	}
}

func (e *testEnv) eventStatus(t *testing.T, raw blockchain.RawLog) *models.BlockchainEvent {
	t.Helper()
	row, err := e.events.GetByKey(context.Background(), repository.EventKey{
		Network:         "base",
		TransactionHash: raw.TransactionHash,
		LogIndex:        uint(raw.LogIndex),
	})
	require.NoError(t, err)
	require.NotNil(t, row)
	return row
}
