package repository

import (
	"context"
	"testing"
	"time"

	"github.com/openperks/points-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionRepository_Create(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	t.Run("create delegate entry", func(t *testing.T) {
		txn := &model.Transaction{
			SourceAccountID:    ptr(1),
			DestAccountID:      2,
			Amount:             100,
			Kind:               model.KindDelegate,
			ActorRef:           "mgr-1",
			BalanceAfterSource: ptr(900),
			BalanceAfterDest:   100,
		}

		created, err := repo.Create(ctx, txn)
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.Equal(t, *txn.SourceAccountID, *created.SourceAccountID)
		assert.Equal(t, txn.DestAccountID, created.DestAccountID)
		assert.Equal(t, txn.Amount, created.Amount)
		assert.Equal(t, model.KindDelegate, created.Kind)
		assert.Equal(t, int64(900), *created.BalanceAfterSource)
		assert.False(t, created.CreatedAt.IsZero())
	})

	t.Run("create issue entry with nil source", func(t *testing.T) {
		txn := &model.Transaction{
			SourceAccountID:  nil,
			DestAccountID:    3,
			Amount:           5000,
			Kind:             model.KindIssue,
			ActorRef:         "ops-1",
			BalanceAfterDest: 5000,
		}

		created, err := repo.Create(ctx, txn)
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.Nil(t, created.SourceAccountID)
		assert.Nil(t, created.BalanceAfterSource)
	})
}

func TestTransactionRepository_Get(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, &model.Transaction{
		SourceAccountID:    ptr(1),
		DestAccountID:      2,
		Amount:             42,
		Kind:               model.KindAward,
		Reference:          "peer-bonus-7",
		ActorRef:           "mgr-2",
		BalanceAfterSource: ptr(58),
		BalanceAfterDest:   42,
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "peer-bonus-7", got.Reference)
	assert.Equal(t, model.KindAward, got.Kind)
}

func TestTransactionRepository_List(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	seed := []*model.Transaction{
		{DestAccountID: 1, Amount: 1000, Kind: model.KindIssue, ActorRef: "ops", BalanceAfterDest: 1000, CreatedAt: base},
		{SourceAccountID: ptr(1), DestAccountID: 2, Amount: 400, Kind: model.KindDelegate, ActorRef: "mgr", BalanceAfterSource: ptr(600), BalanceAfterDest: 400, CreatedAt: base.Add(time.Minute)},
		{SourceAccountID: ptr(2), DestAccountID: 3, Amount: 100, Kind: model.KindAward, ActorRef: "mgr", BalanceAfterSource: ptr(300), BalanceAfterDest: 100, CreatedAt: base.Add(2 * time.Minute)},
		{SourceAccountID: ptr(1), DestAccountID: 4, Amount: 50, Kind: model.KindAward, ActorRef: "mgr", BalanceAfterSource: ptr(550), BalanceAfterDest: 50, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, txn := range seed {
		_, err := repo.Create(ctx, txn)
		require.NoError(t, err)
	}

	t.Run("account filter matches source or dest", func(t *testing.T) {
		entries, total, err := repo.List(ctx, model.TransactionFilter{AccountID: ptr(1)})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, entries, 3)
	})

	t.Run("ascending created_at order", func(t *testing.T) {
		entries, _, err := repo.List(ctx, model.TransactionFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 4)
		for i := 1; i < len(entries); i++ {
			assert.False(t, entries[i].CreatedAt.Before(entries[i-1].CreatedAt))
		}
	})

	t.Run("repeat reads yield the same sequence", func(t *testing.T) {
		first, _, err := repo.List(ctx, model.TransactionFilter{AccountID: ptr(1)})
		require.NoError(t, err)
		second, _, err := repo.List(ctx, model.TransactionFilter{AccountID: ptr(1)})
		require.NoError(t, err)
		require.Equal(t, len(first), len(second))
		for i := range first {
			assert.Equal(t, first[i].ID, second[i].ID)
		}
	})

	t.Run("kind filter", func(t *testing.T) {
		entries, total, err := repo.List(ctx, model.TransactionFilter{Kinds: []model.TransferKind{model.KindAward}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		for _, e := range entries {
			assert.Equal(t, model.KindAward, e.Kind)
		}
	})

	t.Run("time window", func(t *testing.T) {
		since := base.Add(30 * time.Second)
		until := base.Add(150 * time.Second)
		entries, total, err := repo.List(ctx, model.TransactionFilter{Since: &since, Until: &until})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, entries, 2)
	})

	t.Run("limit and offset paginate without reordering", func(t *testing.T) {
		page1, total, err := repo.List(ctx, model.TransactionFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		require.Len(t, page1, 2)

		page2, _, err := repo.List(ctx, model.TransactionFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page2, 2)
		assert.NotEqual(t, page1[0].ID, page2[0].ID)
	})
}

func TestTransactionRepository_SumIssued(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransactionRepository(db)
	accountRepo := NewAccountRepository(db)
	ctx := context.Background()

	pool, err := accountRepo.GetOrCreate(ctx, model.TierOrgPool, "org-a")
	require.NoError(t, err)
	otherPool, err := accountRepo.GetOrCreate(ctx, model.TierOrgPool, "org-b")
	require.NoError(t, err)

	seed := []*model.Transaction{
		{DestAccountID: pool.ID, Amount: 1000, Kind: model.KindIssue, ActorRef: "ops", BalanceAfterDest: 1000},
		{DestAccountID: pool.ID, Amount: 500, Kind: model.KindIssue, ActorRef: "ops", BalanceAfterDest: 1500},
		{DestAccountID: otherPool.ID, Amount: 200, Kind: model.KindIssue, ActorRef: "ops", BalanceAfterDest: 200},
		{SourceAccountID: ptr(pool.ID), DestAccountID: otherPool.ID, Amount: 300, Kind: model.KindDelegate, ActorRef: "mgr", BalanceAfterSource: ptr(1200), BalanceAfterDest: 500},
	}
	for _, txn := range seed {
		_, err := repo.Create(ctx, txn)
		require.NoError(t, err)
	}

	t.Run("all issuance", func(t *testing.T) {
		total, err := repo.SumIssued(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1700), total)
	})

	t.Run("scoped to one owner", func(t *testing.T) {
		total, err := repo.SumIssued(ctx, []string{"org-a"})
		require.NoError(t, err)
		assert.Equal(t, int64(1500), total)
	})

	t.Run("delegations are not issuance", func(t *testing.T) {
		total, err := repo.SumIssued(ctx, []string{"org-b"})
		require.NoError(t, err)
		assert.Equal(t, int64(200), total)
	})
}

func ptr(i int64) *int64 {
	return &i
}
