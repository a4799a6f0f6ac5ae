package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openperks/points-ledger/internal/model"
	"github.com/openperks/points-ledger/internal/repository"
	"github.com/openperks/points-ledger/pkg/logger"
	"github.com/openperks/points-ledger/pkg/prom"
)

var (
	ErrInvalidAmount       = errors.New("transfer amount must be positive")
	ErrIllegalTierTransfer = errors.New("transfer not allowed between these tiers")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownAccount      = errors.New("unknown account")
	ErrInactiveAccount     = errors.New("account is not active")
	ErrUnauthorized        = errors.New("actor is not authorized for this operation")
	ErrUnknownTransaction  = errors.New("unknown transaction")
)

type AccountRepository interface {
	Get(ctx context.Context, id int64) (*model.Account, error)
	GetForUpdate(ctx context.Context, id int64) (*model.Account, error)
	Debit(ctx context.Context, id int64, amount int64) error
	Credit(ctx context.Context, id int64, amount int64) error
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	Get(ctx context.Context, id int64) (*model.Transaction, error)
}

// EventPublisher receives committed transfers as a fire-and-forget signal
// for downstream consumers (notifications). Delivery is best effort; the
// ledger never waits on it.
type EventPublisher interface {
	PublishJSON(ctx context.Context, v interface{}, metadata map[string]string) (string, error)
}

// TransferService executes exactly one atomic, validated movement of points
// between two accounts. All balance mutation in the system flows through
// Transfer; nothing else writes balance or the lifetime counters.
type TransferService struct {
	accountRepo     AccountRepository
	transactionRepo TransactionRepository
	events          EventPublisher
}

func NewTransferService(accountRepo AccountRepository, transactionRepo TransactionRepository, events EventPublisher) *TransferService {
	return &TransferService{
		accountRepo:     accountRepo,
		transactionRepo: transactionRepo,
		events:          events,
	}
}

// Transfer validates and applies one movement. The read-check-write
// sequence runs inside a single store transaction with both rows locked, so
// two concurrent transfers draining the same source cannot both pass the
// balance check against a stale read. Any precondition failure aborts with
// no side effects.
func (s *TransferService) Transfer(ctx context.Context, req model.TransferRequest) (*model.Transaction, error) {
	const maxRetries = 3
	const baseDelay = 2 * time.Millisecond

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		prom.IncTransferResult(string(req.Kind), "invalid_amount")
		return nil, ErrInvalidAmount
	}

	started := time.Now()
	var record *model.Transaction
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		record, err = s.transferAttempt(ctx, req)

		if err == nil {
			break
		}

		// Business rejections are final, only lock contention is retried.
		if !errors.Is(err, repository.ErrConcurrentUpdate) {
			s.recordFailure(req.Kind, err)
			return nil, err
		}

		if attempt < maxRetries {
			delay := baseDelay * time.Duration(1<<attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				continue
			}
		}
	}
	if err != nil {
		s.recordFailure(req.Kind, err)
		return nil, fmt.Errorf("%w: %v", repository.ErrMaxRetriesExceeded, err)
	}

	prom.IncTransferResult(string(req.Kind), "ok")
	prom.ObserveTransferDuration(time.Since(started).Seconds(), string(req.Kind))

	s.publish(ctx, record)

	return record, nil
}

func (s *TransferService) transferAttempt(ctx context.Context, req model.TransferRequest) (*model.Transaction, error) {
	var record *model.Transaction

	err := s.accountRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		source, dest, err := s.lockAccounts(ctx, req)
		if err != nil {
			return err
		}

		if err := checkTierEdge(source, dest, req.Kind); err != nil {
			return err
		}

		var balanceAfterSource *int64
		if source != nil {
			if source.Balance < req.Amount {
				return ErrInsufficientBalance
			}
			if err := s.accountRepo.Debit(ctx, source.ID, req.Amount); err != nil {
				return mapAccountErr(err)
			}
			after := source.Balance - req.Amount
			balanceAfterSource = &after
		}

		if err := s.accountRepo.Credit(ctx, dest.ID, req.Amount); err != nil {
			return mapAccountErr(err)
		}

		record, err = s.transactionRepo.Create(ctx, &model.Transaction{
			SourceAccountID:    req.SourceAccountID,
			DestAccountID:      req.DestAccountID,
			Amount:             req.Amount,
			Kind:               req.Kind,
			Reference:          req.Reference,
			ActorRef:           req.ActorRef,
			BalanceAfterSource: balanceAfterSource,
			BalanceAfterDest:   dest.Balance + req.Amount,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// lockAccounts takes row locks in ascending id order so two transfers
// touching the same pair of accounts in opposite directions cannot
// deadlock.
func (s *TransferService) lockAccounts(ctx context.Context, req model.TransferRequest) (source, dest *model.Account, err error) {
	ids := []int64{req.DestAccountID}
	if req.SourceAccountID != nil {
		if *req.SourceAccountID == req.DestAccountID {
			return nil, nil, ErrIllegalTierTransfer
		}
		ids = append(ids, *req.SourceAccountID)
		if ids[0] > ids[1] {
			ids[0], ids[1] = ids[1], ids[0]
		}
	}

	accounts := make(map[int64]*model.Account, len(ids))
	for _, id := range ids {
		a, err := s.accountRepo.GetForUpdate(ctx, id)
		if err != nil {
			return nil, nil, mapAccountErr(err)
		}
		accounts[id] = a
	}

	dest = accounts[req.DestAccountID]
	if !dest.Active() {
		return nil, nil, ErrInactiveAccount
	}
	if req.SourceAccountID != nil {
		source = accounts[*req.SourceAccountID]
		if !source.Active() {
			return nil, nil, ErrInactiveAccount
		}
	}

	return source, dest, nil
}

// checkTierEdge enforces the static tier transfer table. Issuances (nil
// source) may only land in an org pool or the platform reserve; reversals
// are the one kind allowed to traverse an edge backwards.
func checkTierEdge(source, dest *model.Account, kind model.TransferKind) error {
	if source == nil {
		if kind != model.KindIssue {
			return ErrIllegalTierTransfer
		}
		if dest.Tier != model.TierOrgPool && dest.Tier != model.TierPlatformReserve {
			return ErrIllegalTierTransfer
		}
		return nil
	}

	if kind == model.KindReversal {
		if !model.TierEdgeAllowed(dest.Tier, source.Tier) {
			return ErrIllegalTierTransfer
		}
		return nil
	}

	if !model.TierEdgeAllowed(source.Tier, dest.Tier) {
		return ErrIllegalTierTransfer
	}
	return nil
}

// Reverse appends a compensating entry for a committed transaction. The
// original row is left untouched; the pair nets to zero.
func (s *TransferService) Reverse(ctx context.Context, transactionID int64, actorRef string) (*model.Transaction, error) {
	original, err := s.transactionRepo.Get(ctx, transactionID)
	if err != nil {
		return nil, ErrUnknownTransaction
	}
	if original.SourceAccountID == nil {
		// Issuances have no source to give the points back to.
		return nil, ErrIllegalTierTransfer
	}

	return s.Transfer(ctx, model.TransferRequest{
		SourceAccountID: &original.DestAccountID,
		DestAccountID:   *original.SourceAccountID,
		Amount:          original.Amount,
		Kind:            model.KindReversal,
		Reference:       fmt.Sprintf("txn:%d", original.ID),
		ActorRef:        actorRef,
	})
}

func (s *TransferService) recordFailure(kind model.TransferKind, err error) {
	outcome := "error"
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		outcome = "insufficient_balance"
	case errors.Is(err, ErrIllegalTierTransfer):
		outcome = "illegal_tier"
	case errors.Is(err, ErrUnknownAccount):
		outcome = "unknown_account"
		// A caller handed us an account that does not exist: that is a
		// data-integrity problem on their side, not a user mistake.
		logger.Error("transfer referenced unknown account", "kind", kind)
	case errors.Is(err, ErrInactiveAccount):
		outcome = "inactive_account"
		logger.Error("transfer referenced inactive account", "kind", kind)
	}
	prom.IncTransferResult(string(kind), outcome)
}

func (s *TransferService) publish(ctx context.Context, record *model.Transaction) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishJSON(ctx, record, nil); err != nil {
		// Fire and forget: a failed publish never fails the transfer.
		logger.Warn("failed to publish transfer event", "transaction_id", record.ID, "error", err)
	}
}

func mapAccountErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrAccountNotFound):
		return ErrUnknownAccount
	case errors.Is(err, repository.ErrInsufficientFunds):
		return ErrInsufficientBalance
	case errors.Is(err, repository.ErrInactiveAccount):
		return ErrInactiveAccount
	default:
		return err
	}
}
