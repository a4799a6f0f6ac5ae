package services

import (
	"context"
	"testing"

	"github.com/openperks/points-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) HasAuthority(ctx context.Context, actorRef, authority, ownerRef string) (bool, error) {
	args := m.Called(ctx, actorRef, authority, ownerRef)
	return args.Bool(0), args.Error(1)
}

type MockTransferEngine struct {
	mock.Mock
}

func (m *MockTransferEngine) Transfer(ctx context.Context, req model.TransferRequest) (*model.Transaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransferEngine) Reverse(ctx context.Context, transactionID int64, actorRef string) (*model.Transaction, error) {
	args := m.Called(ctx, transactionID, actorRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

type MockRegistryReader struct {
	mock.Mock
}

func (m *MockRegistryReader) Get(ctx context.Context, id int64) (*model.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *MockRegistryReader) GetOrCreate(ctx context.Context, tier model.Tier, ownerRef string) (*model.Account, error) {
	args := m.Called(ctx, tier, ownerRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

type MockTransactionReader struct {
	mock.Mock
}

func (m *MockTransactionReader) Get(ctx context.Context, id int64) (*model.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func newAllocationFixture() (*AllocationService, *MockTransferEngine, *MockRegistryReader, *MockTransactionReader, *MockAuthorizer) {
	engine := new(MockTransferEngine)
	registry := new(MockRegistryReader)
	transactions := new(MockTransactionReader)
	authz := new(MockAuthorizer)
	service := NewAllocationService(engine, registry, transactions, authz)
	return service, engine, registry, transactions, authz
}

func TestAllocationService_IssueToOrg(t *testing.T) {
	ctx := context.Background()

	t.Run("platform operator may issue", func(t *testing.T) {
		service, engine, _, _, authz := newAllocationFixture()

		authz.On("HasAuthority", ctx, "ops-1", model.AuthorityPlatformOperator, model.OwnerRefPlatform).
			Return(true, nil)
		engine.On("Transfer", ctx, mock.MatchedBy(func(req model.TransferRequest) bool {
			return req.SourceAccountID == nil &&
				req.DestAccountID == 3 &&
				req.Amount == 5000 &&
				req.Kind == model.KindIssue
		})).Return(&model.Transaction{ID: 1, DestAccountID: 3, Amount: 5000, Kind: model.KindIssue}, nil)

		result, err := service.IssueToOrg(ctx, 3, 5000, "ops-1")
		require.NoError(t, err)
		assert.NotNil(t, result)

		engine.AssertExpectations(t)
	})

	t.Run("anyone else is rejected before the engine runs", func(t *testing.T) {
		service, engine, _, _, authz := newAllocationFixture()

		authz.On("HasAuthority", ctx, "mgr-1", model.AuthorityPlatformOperator, model.OwnerRefPlatform).
			Return(false, nil)

		result, err := service.IssueToOrg(ctx, 3, 5000, "mgr-1")
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Nil(t, result)

		engine.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
	})
}

func TestAllocationService_DelegateToSubunit(t *testing.T) {
	ctx := context.Background()

	t.Run("allocator of the pool's org may delegate", func(t *testing.T) {
		service, engine, registry, _, authz := newAllocationFixture()

		registry.On("Get", ctx, int64(1)).
			Return(&model.Account{ID: 1, Tier: model.TierOrgPool, OwnerRef: "org-acme", Balance: 1000, Status: model.AccountStatusActive}, nil)
		authz.On("HasAuthority", ctx, "mgr-1", model.AuthorityOrgAllocator, "org-acme").
			Return(true, nil)
		engine.On("Transfer", ctx, mock.MatchedBy(func(req model.TransferRequest) bool {
			return req.SourceAccountID != nil && *req.SourceAccountID == 1 &&
				req.DestAccountID == 2 &&
				req.Kind == model.KindDelegate
		})).Return(&model.Transaction{ID: 2, DestAccountID: 2, Amount: 400, Kind: model.KindDelegate}, nil)

		result, err := service.DelegateToSubunit(ctx, 1, 2, 400, "mgr-1")
		require.NoError(t, err)
		assert.NotNil(t, result)
	})

	t.Run("allocator of a different org is rejected", func(t *testing.T) {
		service, engine, registry, _, authz := newAllocationFixture()

		registry.On("Get", ctx, int64(1)).
			Return(&model.Account{ID: 1, Tier: model.TierOrgPool, OwnerRef: "org-acme", Status: model.AccountStatusActive}, nil)
		authz.On("HasAuthority", ctx, "mgr-other", model.AuthorityOrgAllocator, "org-acme").
			Return(false, nil)

		result, err := service.DelegateToSubunit(ctx, 1, 2, 400, "mgr-other")
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Nil(t, result)

		engine.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
	})
}

func TestAllocationService_AwardToHolder(t *testing.T) {
	ctx := context.Background()

	service, engine, registry, _, authz := newAllocationFixture()

	registry.On("Get", ctx, int64(2)).
		Return(&model.Account{ID: 2, Tier: model.TierSubunitBudget, OwnerRef: "org-acme", Balance: 400, Status: model.AccountStatusActive}, nil)
	authz.On("HasAuthority", ctx, "mgr-1", model.AuthorityOrgAllocator, "org-acme").
		Return(true, nil)
	engine.On("Transfer", ctx, mock.MatchedBy(func(req model.TransferRequest) bool {
		return req.Kind == model.KindAward && req.Reference == "spot-bonus"
	})).Return(&model.Transaction{ID: 3, DestAccountID: 9, Amount: 100, Kind: model.KindAward}, nil)

	result, err := service.AwardToHolder(ctx, 2, 9, 100, "spot-bonus", "mgr-1")
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestAllocationService_Clawback(t *testing.T) {
	ctx := context.Background()

	pool := &model.Account{ID: 1, Tier: model.TierOrgPool, OwnerRef: "org-acme", Balance: 750, Status: model.AccountStatusActive}
	reserve := &model.Account{ID: 100, Tier: model.TierPlatformReserve, OwnerRef: model.OwnerRefPlatform, Status: model.AccountStatusActive}

	t.Run("nil amount drains the pool's full balance", func(t *testing.T) {
		service, engine, registry, _, authz := newAllocationFixture()

		authz.On("HasAuthority", ctx, "ops-1", model.AuthorityPlatformOperator, model.OwnerRefPlatform).
			Return(true, nil)
		registry.On("Get", ctx, int64(1)).Return(pool, nil)
		registry.On("GetOrCreate", ctx, model.TierPlatformReserve, model.OwnerRefPlatform).Return(reserve, nil)
		engine.On("Transfer", ctx, mock.MatchedBy(func(req model.TransferRequest) bool {
			return *req.SourceAccountID == 1 &&
				req.DestAccountID == 100 &&
				req.Amount == 750 &&
				req.Kind == model.KindReversal &&
				req.Reference == "subscription ended"
		})).Return(&model.Transaction{ID: 4, DestAccountID: 100, Amount: 750, Kind: model.KindReversal}, nil)

		result, err := service.Clawback(ctx, 1, nil, "subscription ended", "ops-1")
		require.NoError(t, err)
		assert.Equal(t, int64(750), result.Amount)
	})

	t.Run("explicit partial amount", func(t *testing.T) {
		service, engine, registry, _, authz := newAllocationFixture()

		authz.On("HasAuthority", ctx, "ops-1", model.AuthorityPlatformOperator, model.OwnerRefPlatform).
			Return(true, nil)
		registry.On("Get", ctx, int64(1)).Return(pool, nil)
		registry.On("GetOrCreate", ctx, model.TierPlatformReserve, model.OwnerRefPlatform).Return(reserve, nil)
		engine.On("Transfer", ctx, mock.MatchedBy(func(req model.TransferRequest) bool {
			return req.Amount == 200
		})).Return(&model.Transaction{ID: 5, DestAccountID: 100, Amount: 200, Kind: model.KindReversal}, nil)

		amount := int64(200)
		result, err := service.Clawback(ctx, 1, &amount, "budget correction", "ops-1")
		require.NoError(t, err)
		assert.Equal(t, int64(200), result.Amount)
	})

	t.Run("only org pools can be clawed back", func(t *testing.T) {
		service, engine, registry, _, authz := newAllocationFixture()

		authz.On("HasAuthority", ctx, "ops-1", model.AuthorityPlatformOperator, model.OwnerRefPlatform).
			Return(true, nil)
		registry.On("Get", ctx, int64(9)).
			Return(&model.Account{ID: 9, Tier: model.TierHolderWallet, OwnerRef: "emp-1", Balance: 50, Status: model.AccountStatusActive}, nil)

		result, err := service.Clawback(ctx, 9, nil, "", "ops-1")
		assert.ErrorIs(t, err, ErrIllegalTierTransfer)
		assert.Nil(t, result)

		engine.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
	})

	t.Run("requires platform operator", func(t *testing.T) {
		service, engine, _, _, authz := newAllocationFixture()

		authz.On("HasAuthority", ctx, "mgr-1", model.AuthorityPlatformOperator, model.OwnerRefPlatform).
			Return(false, nil)

		result, err := service.Clawback(ctx, 1, nil, "", "mgr-1")
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Nil(t, result)

		engine.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
	})
}

func TestAllocationService_ReverseTransaction(t *testing.T) {
	ctx := context.Background()

	original := &model.Transaction{
		ID:              42,
		SourceAccountID: ptr(1),
		DestAccountID:   9,
		Amount:          100,
		Kind:            model.KindAward,
	}

	t.Run("allocator of the source owner may reverse", func(t *testing.T) {
		service, engine, registry, transactions, authz := newAllocationFixture()

		transactions.On("Get", ctx, int64(42)).Return(original, nil)
		registry.On("Get", ctx, int64(1)).
			Return(&model.Account{ID: 1, Tier: model.TierOrgPool, OwnerRef: "org-acme", Status: model.AccountStatusActive}, nil)
		authz.On("HasAuthority", ctx, "mgr-1", model.AuthorityOrgAllocator, "org-acme").
			Return(true, nil)
		engine.On("Reverse", ctx, int64(42), "mgr-1").
			Return(&model.Transaction{ID: 43, DestAccountID: 1, Amount: 100, Kind: model.KindReversal}, nil)

		result, err := service.ReverseTransaction(ctx, 42, "mgr-1")
		require.NoError(t, err)
		assert.Equal(t, int64(43), result.ID)
	})

	t.Run("platform operator may reverse anything", func(t *testing.T) {
		service, engine, registry, transactions, authz := newAllocationFixture()

		transactions.On("Get", ctx, int64(42)).Return(original, nil)
		registry.On("Get", ctx, int64(1)).
			Return(&model.Account{ID: 1, Tier: model.TierOrgPool, OwnerRef: "org-acme", Status: model.AccountStatusActive}, nil)
		authz.On("HasAuthority", ctx, "ops-1", model.AuthorityOrgAllocator, "org-acme").
			Return(false, nil)
		authz.On("HasAuthority", ctx, "ops-1", model.AuthorityPlatformOperator, model.OwnerRefPlatform).
			Return(true, nil)
		engine.On("Reverse", ctx, int64(42), "ops-1").
			Return(&model.Transaction{ID: 44, DestAccountID: 1, Amount: 100, Kind: model.KindReversal}, nil)

		result, err := service.ReverseTransaction(ctx, 42, "ops-1")
		require.NoError(t, err)
		assert.NotNil(t, result)
	})

	t.Run("neither authority", func(t *testing.T) {
		service, engine, registry, transactions, authz := newAllocationFixture()

		transactions.On("Get", ctx, int64(42)).Return(original, nil)
		registry.On("Get", ctx, int64(1)).
			Return(&model.Account{ID: 1, Tier: model.TierOrgPool, OwnerRef: "org-acme", Status: model.AccountStatusActive}, nil)
		authz.On("HasAuthority", ctx, "emp-1", model.AuthorityOrgAllocator, "org-acme").
			Return(false, nil)
		authz.On("HasAuthority", ctx, "emp-1", model.AuthorityPlatformOperator, model.OwnerRefPlatform).
			Return(false, nil)

		result, err := service.ReverseTransaction(ctx, 42, "emp-1")
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Nil(t, result)

		engine.AssertNotCalled(t, "Reverse", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		service, _, _, transactions, _ := newAllocationFixture()

		transactions.On("Get", ctx, int64(999)).Return(nil, assert.AnError)

		result, err := service.ReverseTransaction(ctx, 999, "ops-1")
		assert.ErrorIs(t, err, ErrUnknownTransaction)
		assert.Nil(t, result)
	})
}
