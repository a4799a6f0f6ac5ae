package fixtures

import (
	"time"

	"github.com/openperks/points-ledger/internal/model"
)

var (
	TestOrgPool = model.Account{
		ID:       1,
		Tier:     model.TierOrgPool,
		OwnerRef: "org-acme",
		Balance:  50_000,
		Status:   model.AccountStatusActive,
	}

	TestSubunitBudget = model.Account{
		ID:       2,
		Tier:     model.TierSubunitBudget,
		OwnerRef: "org-acme",
		Balance:  10_000,
		Status:   model.AccountStatusActive,
	}

	TestHolderWallet = model.Account{
		ID:       3,
		Tier:     model.TierHolderWallet,
		OwnerRef: "emp-7",
		Balance:  0,
		Status:   model.AccountStatusActive,
	}

	TestPlatformReserve = model.Account{
		ID:       4,
		Tier:     model.TierPlatformReserve,
		OwnerRef: model.OwnerRefPlatform,
		Balance:  0,
		Status:   model.AccountStatusActive,
	}

	TestInactiveWallet = model.Account{
		ID:       5,
		Tier:     model.TierHolderWallet,
		OwnerRef: "emp-gone",
		Balance:  250,
		Status:   model.AccountStatusInactive,
	}
)

var (
	GrantPlatformOperator = model.Grant{
		ActorRef:  "ops-1",
		Authority: model.AuthorityPlatformOperator,
		OwnerRef:  model.OwnerRefPlatform,
	}

	GrantOrgAllocator = model.Grant{
		ActorRef:  "mgr-1",
		Authority: model.AuthorityOrgAllocator,
		OwnerRef:  "org-acme",
	}
)

func NewTestAccount(id int64, tier model.Tier, ownerRef string, balance int64) *model.Account {
	return &model.Account{
		ID:               id,
		Tier:             tier,
		OwnerRef:         ownerRef,
		Balance:          balance,
		LifetimeCredited: balance,
		Status:           model.AccountStatusActive,
	}
}

func NewTestTransaction(id int64, source *int64, dest int64, amount int64, kind model.TransferKind) *model.Transaction {
	return &model.Transaction{
		ID:               id,
		SourceAccountID:  source,
		DestAccountID:    dest,
		Amount:           amount,
		Kind:             kind,
		ActorRef:         "ops-1",
		BalanceAfterDest: amount,
		CreatedAt:        time.Now(),
	}
}

func NewTransferRequest(source *int64, dest int64, amount int64, kind model.TransferKind, actorRef string) model.TransferRequest {
	return model.TransferRequest{
		SourceAccountID: source,
		DestAccountID:   dest,
		Amount:          amount,
		Kind:            kind,
		ActorRef:        actorRef,
	}
}

func HistoryFilter(accountID int64) model.TransactionFilter {
	return model.TransactionFilter{
		AccountID: &accountID,
		Limit:     50,
		Offset:    0,
	}
}

func HistoryFilterByTimeRange(accountID int64, since, until time.Time) model.TransactionFilter {
	return model.TransactionFilter{
		AccountID: &accountID,
		Since:     &since,
		Until:     &until,
		Limit:     50,
		Offset:    0,
	}
}
