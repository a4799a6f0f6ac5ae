package model

import (
	"errors"
	"time"
)

// TransferKind classifies a ledger entry by the workflow that produced it.
type TransferKind string

const (
	KindIssue    TransferKind = "issue"
	KindDelegate TransferKind = "delegate"
	KindAward    TransferKind = "award"
	KindReversal TransferKind = "reversal"
)

// Transaction is one append-only ledger entry. Rows are inserted exactly
// once by the transfer engine and never updated or deleted; corrections are
// expressed as new reversal rows referencing the original ID.
type Transaction struct {
	ID              int64        `json:"id"                db:"id"                gorm:"primaryKey;autoIncrement;column:id"`
	SourceAccountID *int64       `json:"source_account_id" db:"source_account_id" gorm:"column:source_account_id;index"` // nil = issuance from outside the tracked universe
	DestAccountID   int64        `json:"dest_account_id"   db:"dest_account_id"   gorm:"column:dest_account_id;not null;index"`
	Amount          int64        `json:"amount"            db:"amount"            gorm:"column:amount;not null"`
	Kind            TransferKind `json:"kind"              db:"kind"              gorm:"column:kind;not null"`
	Reference       string       `json:"reference"         db:"reference"         gorm:"column:reference"`
	ActorRef        string       `json:"actor_ref"         db:"actor_ref"         gorm:"column:actor_ref;not null"`
	// Post-transfer balance snapshots, recorded at write time for
	// tamper-evidence. BalanceAfterSource is nil for issuances.
	BalanceAfterSource *int64    `json:"balance_after_source" db:"balance_after_source" gorm:"column:balance_after_source"`
	BalanceAfterDest   int64     `json:"balance_after_dest"   db:"balance_after_dest"   gorm:"column:balance_after_dest;not null"`
	CreatedAt          time.Time `json:"created_at"           db:"created_at"           gorm:"column:created_at;autoCreateTime;index"`
}

func (Transaction) TableName() string { return "transactions" }

// TransferRequest is the input for a single transfer engine call.
type TransferRequest struct {
	SourceAccountID *int64 // nil only for issuance
	DestAccountID   int64
	Amount          int64
	Kind            TransferKind
	Reference       string
	ActorRef        string
}

func (r TransferRequest) Validate() error {
	if r.DestAccountID == 0 {
		return errors.New("dest_account_id is required")
	}
	if r.ActorRef == "" {
		return errors.New("actor_ref is required")
	}
	switch r.Kind {
	case KindIssue, KindDelegate, KindAward, KindReversal:
	default:
		return errors.New("unknown transfer kind")
	}
	return nil
}

// TransactionFilter controls history queries. History is always ordered by
// created_at ascending (ties broken by id) so repeated reads are identical.
type TransactionFilter struct {
	AccountID *int64 // matches source OR dest
	Kinds     []TransferKind
	Since     *time.Time
	Until     *time.Time
	Limit     int // default 100
	Offset    int
}
