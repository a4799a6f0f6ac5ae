package repository

import (
	"context"

	"github.com/openperks/points-ledger/internal/model"
	"github.com/openperks/points-ledger/pkg/pg"
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

// Create appends one ledger entry. There is deliberately no Update or
// Delete on this repository: the transactions table is append-only.
func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toTransactionModel(entity), nil
}

func (r *TransactionRepository) Get(ctx context.Context, id int64) (*model.Transaction, error) {
	var entity TransactionEntity

	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		return nil, err
	}

	return toTransactionModel(&entity), nil
}

// List returns entries matching the filter ordered by created_at ascending,
// ties broken by id, so the same query always yields the same sequence.
func (r *TransactionRepository) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&TransactionEntity{})

	if f.AccountID != nil {
		q = q.Where("source_account_id = ? OR dest_account_id = ?", *f.AccountID, *f.AccountID)
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		q = q.Where("kind IN ?", kinds)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		q = q.Where("created_at < ?", *f.Until)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var entities []*TransactionEntity
	err := q.Order("created_at ASC, id ASC").
		Limit(limit).
		Offset(f.Offset).
		Find(&entities).
		Error
	if err != nil {
		return nil, 0, err
	}

	return toTransactionModels(entities), total, nil
}

// SumIssued totals all issue-kind amounts credited to accounts owned by
// ownerRefs (every account when empty). This is the "expected total" side
// of the conservation check.
func (r *TransactionRepository) SumIssued(ctx context.Context, ownerRefs []string) (int64, error) {
	var total int64

	q := r.Read(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Select("COALESCE(SUM(transactions.amount), 0)").
		Where("transactions.kind = ?", string(model.KindIssue))
	if len(ownerRefs) > 0 {
		q = q.Joins("JOIN accounts ON accounts.id = transactions.dest_account_id").
			Where("accounts.owner_ref IN ?", ownerRefs)
	}

	if err := q.Scan(&total).Error; err != nil {
		return 0, err
	}

	return total, nil
}
