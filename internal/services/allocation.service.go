package services

import (
	"context"
	"fmt"

	"github.com/openperks/points-ledger/internal/model"
)

// Authorizer is the single capability check every allocation workflow goes
// through: "does this actor hold authority X over owner Y". Identity and
// session handling live elsewhere; the ledger only needs the boolean.
type Authorizer interface {
	HasAuthority(ctx context.Context, actorRef, authority, ownerRef string) (bool, error)
}

type TransferEngine interface {
	Transfer(ctx context.Context, req model.TransferRequest) (*model.Transaction, error)
	Reverse(ctx context.Context, transactionID int64, actorRef string) (*model.Transaction, error)
}

type RegistryReader interface {
	Get(ctx context.Context, id int64) (*model.Account, error)
	GetOrCreate(ctx context.Context, tier model.Tier, ownerRef string) (*model.Account, error)
}

type TransactionReader interface {
	Get(ctx context.Context, id int64) (*model.Transaction, error)
}

// AllocationService exposes the four domain workflows. Each one is a
// capability check plus a single transfer; no workflow touches balances
// directly.
type AllocationService struct {
	engine       TransferEngine
	registry     RegistryReader
	transactions TransactionReader
	authz        Authorizer
}

func NewAllocationService(engine TransferEngine, registry RegistryReader, transactions TransactionReader, authz Authorizer) *AllocationService {
	return &AllocationService{
		engine:       engine,
		registry:     registry,
		transactions: transactions,
		authz:        authz,
	}
}

// IssueToOrg mints points into an org pool. This is the only operation that
// increases the total points in the system; everything else conserves it.
func (s *AllocationService) IssueToOrg(ctx context.Context, orgPoolAccountID int64, amount int64, actorRef string) (*model.Transaction, error) {
	if err := s.requireAuthority(ctx, actorRef, model.AuthorityPlatformOperator, model.OwnerRefPlatform); err != nil {
		return nil, err
	}

	return s.engine.Transfer(ctx, model.TransferRequest{
		SourceAccountID: nil,
		DestAccountID:   orgPoolAccountID,
		Amount:          amount,
		Kind:            model.KindIssue,
		ActorRef:        actorRef,
	})
}

// DelegateToSubunit moves part of an org pool into a department budget.
func (s *AllocationService) DelegateToSubunit(ctx context.Context, orgPoolAccountID, subunitAccountID int64, amount int64, actorRef string) (*model.Transaction, error) {
	pool, err := s.registry.Get(ctx, orgPoolAccountID)
	if err != nil {
		return nil, mapAccountErr(err)
	}
	if err := s.requireAuthority(ctx, actorRef, model.AuthorityOrgAllocator, pool.OwnerRef); err != nil {
		return nil, err
	}

	return s.engine.Transfer(ctx, model.TransferRequest{
		SourceAccountID: &orgPoolAccountID,
		DestAccountID:   subunitAccountID,
		Amount:          amount,
		Kind:            model.KindDelegate,
		ActorRef:        actorRef,
	})
}

// AwardToHolder grants points to an individual wallet from either an org
// pool or a subunit budget; the tier table decides which sources are legal.
func (s *AllocationService) AwardToHolder(ctx context.Context, sourceAccountID, holderWalletID int64, amount int64, reference, actorRef string) (*model.Transaction, error) {
	source, err := s.registry.Get(ctx, sourceAccountID)
	if err != nil {
		return nil, mapAccountErr(err)
	}
	if err := s.requireAuthority(ctx, actorRef, model.AuthorityOrgAllocator, source.OwnerRef); err != nil {
		return nil, err
	}

	return s.engine.Transfer(ctx, model.TransferRequest{
		SourceAccountID: &sourceAccountID,
		DestAccountID:   holderWalletID,
		Amount:          amount,
		Kind:            model.KindAward,
		Reference:       reference,
		ActorRef:        actorRef,
	})
}

// Clawback returns an org pool's remaining balance to the platform reserve,
// typically when the org's subscription ends. Points already delegated or
// awarded downstream stay where they are and remain spendable; only the
// pool's own balance comes back.
func (s *AllocationService) Clawback(ctx context.Context, orgPoolAccountID int64, amount *int64, reason, actorRef string) (*model.Transaction, error) {
	if err := s.requireAuthority(ctx, actorRef, model.AuthorityPlatformOperator, model.OwnerRefPlatform); err != nil {
		return nil, err
	}

	pool, err := s.registry.Get(ctx, orgPoolAccountID)
	if err != nil {
		return nil, mapAccountErr(err)
	}
	if pool.Tier != model.TierOrgPool {
		return nil, ErrIllegalTierTransfer
	}

	clawAmount := pool.Balance
	if amount != nil {
		clawAmount = *amount
	}

	reserve, err := s.registry.GetOrCreate(ctx, model.TierPlatformReserve, model.OwnerRefPlatform)
	if err != nil {
		return nil, err
	}

	return s.engine.Transfer(ctx, model.TransferRequest{
		SourceAccountID: &orgPoolAccountID,
		DestAccountID:   reserve.ID,
		Amount:          clawAmount,
		Kind:            model.KindReversal,
		Reference:       reason,
		ActorRef:        actorRef,
	})
}

// ReverseTransaction undoes a committed award or delegation by appending a
// compensating entry. The actor must be an allocator for the original
// source account's owner; platform operators may reverse anything.
func (s *AllocationService) ReverseTransaction(ctx context.Context, transactionID int64, actorRef string) (*model.Transaction, error) {
	original, err := s.transactions.Get(ctx, transactionID)
	if err != nil {
		return nil, ErrUnknownTransaction
	}
	if original.SourceAccountID == nil {
		return nil, ErrIllegalTierTransfer
	}

	source, err := s.registry.Get(ctx, *original.SourceAccountID)
	if err != nil {
		return nil, mapAccountErr(err)
	}

	if err := s.requireAuthority(ctx, actorRef, model.AuthorityOrgAllocator, source.OwnerRef); err != nil {
		if opErr := s.requireAuthority(ctx, actorRef, model.AuthorityPlatformOperator, model.OwnerRefPlatform); opErr != nil {
			return nil, err
		}
	}

	return s.engine.Reverse(ctx, transactionID, actorRef)
}

func (s *AllocationService) requireAuthority(ctx context.Context, actorRef, authority, ownerRef string) error {
	ok, err := s.authz.HasAuthority(ctx, actorRef, authority, ownerRef)
	if err != nil {
		return fmt.Errorf("authority check: %w", err)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}
