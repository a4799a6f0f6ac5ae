package repository

import (
	"time"

	"github.com/openperks/points-ledger/internal/model"
)

type TransactionEntity struct {
	ID                 int64     `db:"id"                   gorm:"primaryKey;autoIncrement;column:id"`
	SourceAccountID    *int64    `db:"source_account_id"    gorm:"column:source_account_id;index:idx_txn_source_created,priority:1"`
	DestAccountID      int64     `db:"dest_account_id"      gorm:"column:dest_account_id;not null;index:idx_txn_dest_created,priority:1"`
	Amount             int64     `db:"amount"               gorm:"column:amount;not null"`
	Kind               string    `db:"kind"                 gorm:"column:kind;not null;index"`
	Reference          string    `db:"reference"            gorm:"column:reference"`
	ActorRef           string    `db:"actor_ref"            gorm:"column:actor_ref;not null"`
	BalanceAfterSource *int64    `db:"balance_after_source" gorm:"column:balance_after_source"`
	BalanceAfterDest   int64     `db:"balance_after_dest"   gorm:"column:balance_after_dest;not null"`
	CreatedAt          time.Time `db:"created_at"           gorm:"column:created_at;autoCreateTime;index:idx_txn_source_created,priority:2;index:idx_txn_dest_created,priority:2"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:                 m.ID,
		SourceAccountID:    m.SourceAccountID,
		DestAccountID:      m.DestAccountID,
		Amount:             m.Amount,
		Kind:               string(m.Kind),
		Reference:          m.Reference,
		ActorRef:           m.ActorRef,
		BalanceAfterSource: m.BalanceAfterSource,
		BalanceAfterDest:   m.BalanceAfterDest,
		CreatedAt:          m.CreatedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:                 e.ID,
		SourceAccountID:    e.SourceAccountID,
		DestAccountID:      e.DestAccountID,
		Amount:             e.Amount,
		Kind:               model.TransferKind(e.Kind),
		Reference:          e.Reference,
		ActorRef:           e.ActorRef,
		BalanceAfterSource: e.BalanceAfterSource,
		BalanceAfterDest:   e.BalanceAfterDest,
		CreatedAt:          e.CreatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
