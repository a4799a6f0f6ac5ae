package services

import (
	"context"

	"github.com/openperks/points-ledger/internal/model"
)

type AccountRegistry interface {
	GetOrCreate(ctx context.Context, tier model.Tier, ownerRef string) (*model.Account, error)
	Get(ctx context.Context, id int64) (*model.Account, error)
	ListByOwner(ctx context.Context, ownerRef string) ([]*model.Account, error)
	Deactivate(ctx context.Context, id int64) error
}

// AccountService is the registry mapping logical owners to accounts. It is
// pure lookup and lazy creation; no balance logic lives here, so onboarding
// a new holder never needs a funded source.
type AccountService struct {
	accounts AccountRegistry
}

func NewAccountService(accounts AccountRegistry) *AccountService {
	return &AccountService{
		accounts: accounts,
	}
}

func (s *AccountService) GetOrCreateAccount(ctx context.Context, tier model.Tier, ownerRef string) (*model.Account, error) {
	switch tier {
	case model.TierPlatformReserve, model.TierOrgPool, model.TierSubunitBudget, model.TierHolderWallet:
	default:
		return nil, ErrIllegalTierTransfer
	}
	if ownerRef == "" {
		return nil, ErrUnknownAccount
	}

	return s.accounts.GetOrCreate(ctx, tier, ownerRef)
}

func (s *AccountService) Get(ctx context.Context, id int64) (*model.Account, error) {
	a, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, mapAccountErr(err)
	}
	return a, nil
}

func (s *AccountService) ListByOwner(ctx context.Context, ownerRef string) ([]*model.Account, error) {
	return s.accounts.ListByOwner(ctx, ownerRef)
}

// Deactivate marks an account inactive when its owner is deactivated.
// Accounts are never deleted; an inactive account can no longer be a
// transfer endpoint but its history stays intact.
func (s *AccountService) Deactivate(ctx context.Context, id int64) error {
	if err := s.accounts.Deactivate(ctx, id); err != nil {
		return mapAccountErr(err)
	}
	return nil
}
