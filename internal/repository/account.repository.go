package repository

import (
	"context"
	"errors"

	"github.com/openperks/points-ledger/internal/model"
	"github.com/openperks/points-ledger/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrInsufficientFunds  = errors.New("insufficient account balance")
	ErrInactiveAccount    = errors.New("account is not active")
	ErrConcurrentUpdate   = errors.New("concurrent update detected")
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

type AccountRepository struct {
	*pg.DB
}

func NewAccountRepository(db *pg.DB) *AccountRepository {
	return &AccountRepository{
		db,
	}
}

// GetOrCreate resolves the account for (tier, ownerRef), creating it lazily
// at zero balance on first reference. The unique index on (tier, owner_ref)
// guarantees one account per owner per tier even under concurrent creation.
func (r *AccountRepository) GetOrCreate(ctx context.Context, tier model.Tier, ownerRef string) (*model.Account, error) {
	entity := &AccountEntity{
		Tier:     string(tier),
		OwnerRef: ownerRef,
		Status:   string(model.AccountStatusActive),
	}

	err := r.Write(ctx).WithContext(ctx).
		Where("tier = ? AND owner_ref = ?", string(tier), ownerRef).
		FirstOrCreate(entity).
		Error
	if err != nil {
		return nil, err
	}

	return toAccountModel(entity), nil
}

func (r *AccountRepository) Get(ctx context.Context, id int64) (*model.Account, error) {
	var entity AccountEntity

	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return toAccountModel(&entity), nil
}

// GetForUpdate re-reads an account under SELECT FOR UPDATE. It must only be
// called inside WithinTransaction; the lock is what makes the subsequent
// balance check race-free.
func (r *AccountRepository) GetForUpdate(ctx context.Context, id int64) (*model.Account, error) {
	var entity AccountEntity

	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return toAccountModel(&entity), nil
}

// Debit decrements balance and bumps lifetime_debited in one statement.
// The balance guard in the WHERE clause is a second line of defense behind
// the caller's locked read; RowsAffected == 0 after a successful locked
// read means another writer got in between.
func (r *AccountRepository) Debit(ctx context.Context, id int64, amount int64) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&AccountEntity{}).
		Where("id = ? AND balance >= ?", id, amount).
		Updates(map[string]interface{}{
			"balance":          gorm.Expr("balance - ?", amount),
			"lifetime_debited": gorm.Expr("lifetime_debited + ?", amount),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.checkDebitFailureReason(ctx, id, amount)
	}

	return nil
}

// checkDebitFailureReason determines why the debit touched no rows.
func (r *AccountRepository) checkDebitFailureReason(ctx context.Context, id int64, amount int64) error {
	var entity AccountEntity
	err := r.Write(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	if entity.Balance < amount {
		return ErrInsufficientFunds
	}

	// Balance was sufficient but update failed - likely concurrent modification
	return ErrConcurrentUpdate
}

// Credit increments balance and bumps lifetime_credited in one statement.
func (r *AccountRepository) Credit(ctx context.Context, id int64, amount int64) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&AccountEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"balance":           gorm.Expr("balance + ?", amount),
			"lifetime_credited": gorm.Expr("lifetime_credited + ?", amount),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func (r *AccountRepository) GetBalance(ctx context.Context, id int64) (int64, error) {
	var entity AccountEntity
	err := r.Read(ctx).WithContext(ctx).
		Select("balance").
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}

	return entity.Balance, nil
}

func (r *AccountRepository) Deactivate(ctx context.Context, id int64) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&AccountEntity{}).
		Where("id = ?", id).
		Update("status", string(model.AccountStatusInactive))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func (r *AccountRepository) ListByOwner(ctx context.Context, ownerRef string) ([]*model.Account, error) {
	var entities []*AccountEntity

	err := r.Read(ctx).WithContext(ctx).
		Where("owner_ref = ?", ownerRef).
		Order("tier ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}

	return toAccountModels(entities), nil
}

// SumNetCredited returns sum(lifetime_credited - lifetime_debited) across
// the accounts owned by ownerRefs, or across every account when ownerRefs
// is empty. Used by the conservation check.
func (r *AccountRepository) SumNetCredited(ctx context.Context, ownerRefs []string) (int64, error) {
	var total int64

	q := r.Read(ctx).WithContext(ctx).
		Model(&AccountEntity{}).
		Select("COALESCE(SUM(lifetime_credited - lifetime_debited), 0)")
	if len(ownerRefs) > 0 {
		q = q.Where("owner_ref IN ?", ownerRefs)
	}

	if err := q.Scan(&total).Error; err != nil {
		return 0, err
	}

	return total, nil
}
