package e2e

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/openperks/points-ledger/internal/model"
	"github.com/openperks/points-ledger/internal/queue"
	"github.com/openperks/points-ledger/internal/repository"
	"github.com/openperks/points-ledger/internal/services"
	"github.com/openperks/points-ledger/pkg/pg"
	"github.com/openperks/points-ledger/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testDB = pg.DB

type TestEnvironment struct {
	DB                *pg.DB
	Redis             *miniredis.Miniredis
	RedisAdapter      redis.RedisAdapter
	Queue             *queue.Queue
	AccountRepo       *repository.AccountRepository
	TransactionRepo   *repository.TransactionRepository
	GrantRepo         *repository.GrantRepository
	TransferService   *services.TransferService
	AllocationService *services.AllocationService
	AccountService    *services.AccountService
	AuditService      *services.AuditService
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.AccountEntity{},
		&repository.TransactionEntity{},
		&repository.GrantEntity{},
	)
	require.NoError(t, err)

	pgDB := &testDB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Use unique connection name per test to avoid global adapter caching issues
	connName := fmt.Sprintf("test-%d", time.Now().UnixNano())
	redisAdapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	queueConfig := queue.QueueConfig{
		Name:              "test:transfers",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}

	q, err := queue.NewQueue(redisAdapter, queueConfig)
	require.NoError(t, err)

	accountRepo := repository.NewAccountRepository(pgDB)
	transactionRepo := repository.NewTransactionRepository(pgDB)
	grantRepo := repository.NewGrantRepository(pgDB)

	transferService := services.NewTransferService(accountRepo, transactionRepo, q)
	allocationService := services.NewAllocationService(transferService, accountRepo, transactionRepo, grantRepo)
	accountService := services.NewAccountService(accountRepo)
	auditService := services.NewAuditService(transactionRepo, accountRepo)

	return &TestEnvironment{
		DB:                pgDB,
		Redis:             mr,
		RedisAdapter:      redisAdapter,
		Queue:             q,
		AccountRepo:       accountRepo,
		TransactionRepo:   transactionRepo,
		GrantRepo:         grantRepo,
		TransferService:   transferService,
		AllocationService: allocationService,
		AccountService:    accountService,
		AuditService:      auditService,
	}
}

func (env *TestEnvironment) Cleanup() {
	// Stop queue first (gracefully drain messages)
	if env.Queue != nil {
		_ = env.Queue.Stop(5 * time.Second)
	}
	// Give time for any in-flight operations to complete
	time.Sleep(100 * time.Millisecond)
	// Then close Redis
	if env.Redis != nil {
		env.Redis.Close()
	}
}

// seedGrants installs a platform operator and an allocator for org-acme.
func (env *TestEnvironment) seedGrants(t *testing.T, ctx context.Context) {
	t.Helper()

	_, err := env.GrantRepo.Create(ctx, &model.Grant{
		ActorRef:  "ops-1",
		Authority: model.AuthorityPlatformOperator,
		OwnerRef:  model.OwnerRefPlatform,
	})
	require.NoError(t, err)

	_, err = env.GrantRepo.Create(ctx, &model.Grant{
		ActorRef:  "mgr-1",
		Authority: model.AuthorityOrgAllocator,
		OwnerRef:  "org-acme",
	})
	require.NoError(t, err)
}

func TestE2E_AllocationFlow(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedGrants(t, ctx)

	pool, err := env.AccountService.GetOrCreateAccount(ctx, model.TierOrgPool, "org-acme")
	require.NoError(t, err)
	budget, err := env.AccountService.GetOrCreateAccount(ctx, model.TierSubunitBudget, "org-acme")
	require.NoError(t, err)
	wallet, err := env.AccountService.GetOrCreateAccount(ctx, model.TierHolderWallet, "emp-7")
	require.NoError(t, err)

	// Issue 50,000 into the pool.
	issued, err := env.AllocationService.IssueToOrg(ctx, pool.ID, 50_000, "ops-1")
	require.NoError(t, err)
	assert.Equal(t, model.KindIssue, issued.Kind)
	assert.Nil(t, issued.SourceAccountID)

	balance, err := env.AccountRepo.GetBalance(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), balance)

	// Delegate 10,000 down to the budget.
	_, err = env.AllocationService.DelegateToSubunit(ctx, pool.ID, budget.ID, 10_000, "mgr-1")
	require.NoError(t, err)

	balance, err = env.AccountRepo.GetBalance(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40_000), balance)

	balance, err = env.AccountRepo.GetBalance(ctx, budget.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), balance)

	// Award 1,000 from the pool to the wallet.
	awarded, err := env.AllocationService.AwardToHolder(ctx, pool.ID, wallet.ID, 1_000, "q3-recognition", "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, int64(39_000), *awarded.BalanceAfterSource)
	assert.Equal(t, int64(1_000), awarded.BalanceAfterDest)

	// The books still balance.
	report, err := env.AuditService.ConservationCheck(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.Drift)
	assert.Equal(t, int64(50_000), report.ExpectedTotal)

	// Every committed transfer was published for downstream consumers.
	stats, err := env.Queue.GetStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalMessages, int64(3))
}

func TestE2E_InsufficientBalanceLeavesNoTrace(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedGrants(t, ctx)

	budget, err := env.AccountService.GetOrCreateAccount(ctx, model.TierSubunitBudget, "org-acme")
	require.NoError(t, err)
	wallet, err := env.AccountService.GetOrCreateAccount(ctx, model.TierHolderWallet, "emp-7")
	require.NoError(t, err)

	require.NoError(t, env.AccountRepo.Credit(ctx, budget.ID, 500))

	// 1,000 from a budget holding 500: rejected, nothing changes.
	_, err = env.AllocationService.AwardToHolder(ctx, budget.ID, wallet.ID, 1_000, "", "mgr-1")
	assert.ErrorIs(t, err, services.ErrInsufficientBalance)

	balance, err := env.AccountRepo.GetBalance(ctx, budget.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	balance, err = env.AccountRepo.GetBalance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	var count int64
	env.DB.Read(ctx).Model(&repository.TransactionEntity{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestE2E_WalletIsASink(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedGrants(t, ctx)

	pool, err := env.AccountService.GetOrCreateAccount(ctx, model.TierOrgPool, "org-acme")
	require.NoError(t, err)
	wallet, err := env.AccountService.GetOrCreateAccount(ctx, model.TierHolderWallet, "emp-7")
	require.NoError(t, err)

	require.NoError(t, env.AccountRepo.Credit(ctx, wallet.ID, 500))

	// Even a funded wallet can never be a source.
	_, err = env.TransferService.Transfer(ctx, model.TransferRequest{
		SourceAccountID: &wallet.ID,
		DestAccountID:   pool.ID,
		Amount:          100,
		Kind:            model.KindAward,
		ActorRef:        "emp-7",
	})
	assert.ErrorIs(t, err, services.ErrIllegalTierTransfer)
}

func TestE2E_ClawbackDrainsPoolOnly(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedGrants(t, ctx)

	pool, err := env.AccountService.GetOrCreateAccount(ctx, model.TierOrgPool, "org-acme")
	require.NoError(t, err)
	wallet, err := env.AccountService.GetOrCreateAccount(ctx, model.TierHolderWallet, "emp-7")
	require.NoError(t, err)

	_, err = env.AllocationService.IssueToOrg(ctx, pool.ID, 40_000, "ops-1")
	require.NoError(t, err)
	_, err = env.AllocationService.AwardToHolder(ctx, pool.ID, wallet.ID, 1_000, "", "mgr-1")
	require.NoError(t, err)

	// Full clawback of what the pool still holds.
	clawed, err := env.AllocationService.Clawback(ctx, pool.ID, nil, "subscription ended", "ops-1")
	require.NoError(t, err)
	assert.Equal(t, int64(39_000), clawed.Amount)
	assert.Equal(t, model.KindReversal, clawed.Kind)

	balance, err := env.AccountRepo.GetBalance(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	// Downstream points stay where they are and remain spendable.
	balance, err = env.AccountRepo.GetBalance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), balance)

	// An empty pool cannot award anymore.
	_, err = env.AllocationService.AwardToHolder(ctx, pool.ID, wallet.ID, 100, "", "mgr-1")
	assert.ErrorIs(t, err, services.ErrInsufficientBalance)

	// Points moved to the reserve, not out of the universe.
	report, err := env.AuditService.ConservationCheck(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.Drift)
}

func TestE2E_ReversalPreservesHistory(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedGrants(t, ctx)

	pool, err := env.AccountService.GetOrCreateAccount(ctx, model.TierOrgPool, "org-acme")
	require.NoError(t, err)
	wallet, err := env.AccountService.GetOrCreateAccount(ctx, model.TierHolderWallet, "emp-7")
	require.NoError(t, err)

	_, err = env.AllocationService.IssueToOrg(ctx, pool.ID, 10_000, "ops-1")
	require.NoError(t, err)
	awarded, err := env.AllocationService.AwardToHolder(ctx, pool.ID, wallet.ID, 1_000, "fat-finger", "mgr-1")
	require.NoError(t, err)

	reversal, err := env.AllocationService.ReverseTransaction(ctx, awarded.ID, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, model.KindReversal, reversal.Kind)
	assert.Equal(t, fmt.Sprintf("txn:%d", awarded.ID), reversal.Reference)

	// The original row is still there, unmodified.
	history, _, err := env.AuditService.HistoryFor(ctx, wallet.ID, nil, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, awarded.ID, history[0].ID)
	assert.Equal(t, int64(1_000), history[0].Amount)
	assert.Equal(t, model.KindAward, history[0].Kind)

	// Identical output on a repeat read.
	again, _, err := env.AuditService.HistoryFor(ctx, wallet.ID, nil, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, again, len(history))
	for i := range history {
		assert.Equal(t, history[i].ID, again[i].ID)
	}

	// Net effect of the pair is zero.
	balance, err := env.AccountRepo.GetBalance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	balance, err = env.AccountRepo.GetBalance(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), balance)
}

func TestE2E_UnauthorizedActors(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedGrants(t, ctx)

	pool, err := env.AccountService.GetOrCreateAccount(ctx, model.TierOrgPool, "org-acme")
	require.NoError(t, err)
	otherPool, err := env.AccountService.GetOrCreateAccount(ctx, model.TierOrgPool, "org-other")
	require.NoError(t, err)

	// mgr-1 allocates for org-acme, not the platform and not org-other.
	_, err = env.AllocationService.IssueToOrg(ctx, pool.ID, 1_000, "mgr-1")
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	_, err = env.AllocationService.DelegateToSubunit(ctx, otherPool.ID, pool.ID, 100, "mgr-1")
	assert.ErrorIs(t, err, services.ErrUnauthorized)
}

func TestE2E_ConcurrentAwards(t *testing.T) {
	t.Skip("Skipping concurrency test - SQLite doesn't handle concurrent writes well. Use PostgreSQL for concurrent testing.")

	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seedGrants(t, ctx)

	pool, err := env.AccountService.GetOrCreateAccount(ctx, model.TierOrgPool, "org-acme")
	require.NoError(t, err)
	wallet, err := env.AccountService.GetOrCreateAccount(ctx, model.TierHolderWallet, "emp-7")
	require.NoError(t, err)

	_, err = env.AllocationService.IssueToOrg(ctx, pool.ID, 1_000, "ops-1")
	require.NoError(t, err)

	// Two racing 700-point awards from a 1,000-point pool: exactly one may
	// land.
	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.AllocationService.AwardToHolder(ctx, pool.ID, wallet.ID, 700, "", "mgr-1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, rejections int
	for err := range results {
		if err == nil {
			successes++
		} else if errors.Is(err, services.ErrInsufficientBalance) {
			rejections++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, rejections)

	balance, err := env.AccountRepo.GetBalance(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance)
}
