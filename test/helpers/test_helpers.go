package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/openperks/points-ledger/internal/model"
	"github.com/openperks/points-ledger/internal/repository"
	"github.com/openperks/points-ledger/pkg/pg"
	"github.com/openperks/points-ledger/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.AccountEntity{},
		&repository.TransactionEntity{},
		&repository.GrantEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	adapter, err := redis.NewRedisAdapter("test", "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestAccount(t *testing.T, db *pg.DB, tier model.Tier, ownerRef string, balance int64) *repository.AccountEntity {
	ctx := context.Background()
	account := &repository.AccountEntity{
		Tier:             string(tier),
		OwnerRef:         ownerRef,
		Balance:          balance,
		LifetimeCredited: balance,
		Status:           string(model.AccountStatusActive),
	}
	err := db.Write(ctx).Create(account).Error
	require.NoError(t, err)
	return account
}

func CreateTestTransaction(t *testing.T, db *pg.DB, source *int64, dest int64, amount int64, kind model.TransferKind) *repository.TransactionEntity {
	ctx := context.Background()
	txn := &repository.TransactionEntity{
		SourceAccountID:  source,
		DestAccountID:    dest,
		Amount:           amount,
		Kind:             string(kind),
		ActorRef:         "test-actor",
		BalanceAfterDest: amount,
	}
	err := db.Write(ctx).Create(txn).Error
	require.NoError(t, err)
	return txn
}

func CreateTestGrant(t *testing.T, db *pg.DB, actorRef, authority, ownerRef string) *repository.GrantEntity {
	ctx := context.Background()
	grant := &repository.GrantEntity{
		ActorRef:  actorRef,
		Authority: authority,
		OwnerRef:  ownerRef,
	}
	err := db.Write(ctx).Create(grant).Error
	require.NoError(t, err)
	return grant
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
