package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/blocklive/stagefun-sub002/internal/database"
	"github.com/blocklive/stagefun-sub002/internal/models"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func TestEventInsertIgnoreAndStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepository(openDB(t))

	row := func() *models.BlockchainEvent {
		return &models.BlockchainEvent{
			Network:         "base",
			ContractAddress: "0xa1",
			Topics:          []string{"0x01"},
			Data:            "0x",
			BlockNumber:     10,
			TransactionHash: "0xabc",
			LogIndex:        2,
			Status:          models.EventStatusPending,
		}
	}

	n, err := repo.InsertIgnore(ctx, []*models.BlockchainEvent{row()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.InsertIgnore(ctx, []*models.BlockchainEvent{row()})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	key := EventKey{Network: "base", TransactionHash: "0xabc", LogIndex: 2}
	require.NoError(t, repo.MarkFailed(ctx, key, true, "pool missing"))
	require.NoError(t, repo.MarkFailed(ctx, key, false, "pool missing"))

	stored, err := repo.GetByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
	assert.True(t, stored.Removed)
	assert.Equal(t, []string{"0x01"}, []string(stored.Topics))

	retryable, err := repo.ListRetryable(ctx, "base", 3, 10)
	require.NoError(t, err)
	assert.Len(t, retryable, 1)
	retryable, err = repo.ListRetryable(ctx, "base", 2, 10)
	require.NoError(t, err)
	assert.Empty(t, retryable)

	require.NoError(t, repo.MarkProcessed(ctx, key, false))
	stored, err = repo.GetByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, stored.Status)
	assert.Empty(t, stored.ErrorMessage)
	assert.NotNil(t, stored.ProcessedAt)

	count, err := repo.CountByStatus(ctx, models.EventStatusProcessed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPointsLedgerAndBalance(t *testing.T) {
	ctx := context.Background()
	repo := NewPointsRepository(openDB(t))

	tx := &models.PointTransaction{UserID: "u1", PointType: models.PointTypeFunded, Amount: 30, ActionKey: "pool_commit", TxHash: "0x1"}
	inserted, err := repo.InsertTransaction(ctx, tx)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &models.PointTransaction{UserID: "u1", PointType: models.PointTypeFunded, Amount: 30, ActionKey: "pool_commit", TxHash: "0x1"}
	inserted, err = repo.InsertTransaction(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	// rows without a tx hash carry no dedup key
	for i := 0; i < 2; i++ {
		inserted, err = repo.InsertTransaction(ctx, &models.PointTransaction{UserID: "u1", PointType: models.PointTypeReferral, Amount: 5, ActionKey: "manual"})
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	exists, err := repo.ExistsByDedup(ctx, "u1", "pool_commit", "0x1")
	require.NoError(t, err)
	assert.True(t, exists)

	created, err := repo.CreateBalance(ctx, models.NewUserPoints("u1", models.PointTypeFunded, 30))
	require.NoError(t, err)
	assert.True(t, created)
	created, err = repo.CreateBalance(ctx, models.NewUserPoints("u1", models.PointTypeReferral, 10))
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, repo.IncrementBalance(ctx, "u1", models.PointTypeReferral, 10))

	assert.Error(t, repo.IncrementBalance(ctx, "u2", models.PointTypeReferral, 10))
	assert.Error(t, repo.IncrementBalance(ctx, "u1", "bonus", 10))

	balance, err := repo.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance.FundedPoints)
	assert.Equal(t, int64(10), balance.ReferralPoints)
	assert.Equal(t, int64(40), balance.TotalPoints)

	sums, err := repo.SumByType(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[models.PointType]int64{models.PointTypeFunded: 30, models.PointTypeReferral: 10}, sums)

	count, err := repo.CountByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestAdvanceCheckinIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := NewPointsRepository(openDB(t))
	_, err := repo.CreateBalance(ctx, models.NewUserPoints("u1", models.PointTypeCheckin, 0))
	require.NoError(t, err)

	now := time.Now().UTC()
	ok, err := repo.AdvanceCheckin(ctx, "u1", 0, 1, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// a second writer that read the same count loses
	ok, err = repo.AdvanceCheckin(ctx, "u1", 0, 1, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPoolAndCommitmentAccumulators(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	pools := NewPoolRepository(db)
	commitments := NewCommitmentRepository(db)

	created, err := pools.CreateIgnore(ctx, &models.Pool{
		Network:         "base",
		ContractAddress: "0xA1",
		CreationTxHash:  "0xc1",
		CreatorAddress:  "0xC0",
		Status:          models.PoolStatusActive,
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = pools.CreateIgnore(ctx, &models.Pool{Network: "base", ContractAddress: "0xa1", CreationTxHash: "0xc2", CreatorAddress: "0xc0"})
	require.NoError(t, err)
	assert.False(t, created)

	for _, c := range []struct {
		tx     string
		amount int64
	}{{"0xt1", 5_000_000}, {"0xt1", 5_000_000}, {"0xt2", 2_500_000}} {
		inserted, err := commitments.InsertIgnore(ctx, &models.TierCommitment{
			Network:         "base",
			UserAddress:     "0xb1",
			PoolAddress:     "0xa1",
			TierID:          1,
			Amount:          decimal.NewFromInt(c.amount),
			TransactionHash: c.tx,
		})
		require.NoError(t, err)
		if inserted {
			_, err = pools.AddRaised(ctx, "0xa1", decimal.NewFromInt(c.amount))
			require.NoError(t, err)
		}
	}

	removed, err := commitments.DeleteByTxHash(ctx, "0xt2")
	require.NoError(t, err)
	require.NotNil(t, removed)
	_, err = pools.AddRaised(ctx, "0xa1", removed.Amount.Neg())
	require.NoError(t, err)

	pool, err := pools.GetByAddress(ctx, "0xA1")
	require.NoError(t, err)
	sum, err := commitments.SumByPool(ctx, "0xa1")
	require.NoError(t, err)
	assert.Equal(t, "5000000", pool.RaisedAmount.String())
	assert.True(t, sum.Equal(pool.RaisedAmount))

	n, err := pools.SetStatus(ctx, "0xa1", models.PoolStatusExecuting)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	again, err := commitments.DeleteByTxHash(ctx, "0xt2")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestBlockCursorOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	repo := NewBlockRepository(openDB(t))

	last, err := repo.GetLastProcessed(ctx, "base")
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)

	require.NoError(t, repo.MarkProcessed(ctx, "base", 120))
	require.NoError(t, repo.MarkProcessed(ctx, "base", 90))
	last, err = repo.GetLastProcessed(ctx, "base")
	require.NoError(t, err)
	assert.Equal(t, int64(120), last)
}

func TestReferralRedemption(t *testing.T) {
	ctx := context.Background()
	repo := NewReferralRepository(openDB(t))
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, &models.ReferralGrant{
		ID:              "g1",
		ReferrerUserID:  "u1",
		ReferredAddress: "0xB1",
		PoolAddress:     "0xA1",
		ExpiresAt:       now.Add(time.Hour),
	}))

	grant, err := repo.FindRedeemable(ctx, "0xb1", "0xa1", "0xt1", now)
	require.NoError(t, err)
	require.NotNil(t, grant)

	claimed, err := repo.MarkUsed(ctx, grant.ID, "0xT1", now)
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = repo.MarkUsed(ctx, grant.ID, "0xt2", now)
	require.NoError(t, err)
	assert.False(t, claimed)

	// the redeeming tx still sees its grant, another tx does not
	grant, err = repo.FindRedeemable(ctx, "0xb1", "0xa1", "0xt1", now)
	require.NoError(t, err)
	assert.NotNil(t, grant)
	grant, err = repo.FindRedeemable(ctx, "0xb1", "0xa1", "0xt2", now)
	require.NoError(t, err)
	assert.Nil(t, grant)
}
