package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/openperks/points-ledger/internal/model"
	"github.com/openperks/points-ledger/internal/services"
	xhttp "github.com/openperks/points-ledger/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type MockAllocationService struct {
	mock.Mock
}

func (m *MockAllocationService) IssueToOrg(ctx context.Context, orgPoolAccountID int64, amount int64, actorRef string) (*model.Transaction, error) {
	args := m.Called(ctx, orgPoolAccountID, amount, actorRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockAllocationService) DelegateToSubunit(ctx context.Context, orgPoolAccountID, subunitAccountID int64, amount int64, actorRef string) (*model.Transaction, error) {
	args := m.Called(ctx, orgPoolAccountID, subunitAccountID, amount, actorRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockAllocationService) AwardToHolder(ctx context.Context, sourceAccountID, holderWalletID int64, amount int64, reference, actorRef string) (*model.Transaction, error) {
	args := m.Called(ctx, sourceAccountID, holderWalletID, amount, reference, actorRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockAllocationService) Clawback(ctx context.Context, orgPoolAccountID int64, amount *int64, reason, actorRef string) (*model.Transaction, error) {
	args := m.Called(ctx, orgPoolAccountID, amount, reason, actorRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockAllocationService) ReverseTransaction(ctx context.Context, transactionID int64, actorRef string) (*model.Transaction, error) {
	args := m.Called(ctx, transactionID, actorRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func TestAllocationHandler_Issue(t *testing.T) {
	t.Run("successful issuance", func(t *testing.T) {
		svc := new(MockAllocationService)
		handler := NewAllocationHandler(svc)

		reqBody := issueRequest{
			OrgPoolAccountID: 3,
			Amount:           5000,
			ActorRef:         "ops-1",
		}
		bodyBytes, _ := json.Marshal(reqBody)

		svc.On("IssueToOrg", mock.Anything, int64(3), int64(5000), "ops-1").
			Return(&model.Transaction{ID: 1, DestAccountID: 3, Amount: 5000, Kind: model.KindIssue}, nil)

		ctx := setupTestContext("POST", "/allocations/issue", bodyBytes)
		handler.Issue(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())

		var response model.Transaction
		err := json.Unmarshal(ctx.Response.Body(), &response)
		require.NoError(t, err)
		assert.Equal(t, int64(1), response.ID)
		assert.Equal(t, model.KindIssue, response.Kind)

		svc.AssertExpectations(t)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		svc := new(MockAllocationService)
		handler := NewAllocationHandler(svc)

		ctx := setupTestContext("POST", "/allocations/issue", []byte("not json"))
		handler.Issue(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("unauthorized maps to 403", func(t *testing.T) {
		svc := new(MockAllocationService)
		handler := NewAllocationHandler(svc)

		bodyBytes, _ := json.Marshal(issueRequest{OrgPoolAccountID: 3, Amount: 5000, ActorRef: "emp-1"})
		svc.On("IssueToOrg", mock.Anything, int64(3), int64(5000), "emp-1").
			Return(nil, services.ErrUnauthorized)

		ctx := setupTestContext("POST", "/allocations/issue", bodyBytes)
		handler.Issue(ctx)

		assert.Equal(t, 403, ctx.Response.StatusCode())
	})
}

func TestAllocationHandler_Award_ErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected int
	}{
		{"insufficient balance", services.ErrInsufficientBalance, 422},
		{"illegal tier", services.ErrIllegalTierTransfer, 422},
		{"invalid amount", services.ErrInvalidAmount, 422},
		{"unknown account", services.ErrUnknownAccount, 404},
		{"inactive account", services.ErrInactiveAccount, 409},
		{"unauthorized", services.ErrUnauthorized, 403},
		{"internal", assert.AnError, 500},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockAllocationService)
			handler := NewAllocationHandler(svc)

			bodyBytes, _ := json.Marshal(awardRequest{
				SourceAccountID: 2,
				HolderWalletID:  9,
				Amount:          100,
				ActorRef:        "mgr-1",
			})
			svc.On("AwardToHolder", mock.Anything, int64(2), int64(9), int64(100), "", "mgr-1").
				Return(nil, tc.err)

			ctx := setupTestContext("POST", "/allocations/award", bodyBytes)
			handler.Award(ctx)

			assert.Equal(t, tc.expected, ctx.Response.StatusCode())
		})
	}
}

func TestAllocationHandler_Clawback(t *testing.T) {
	t.Run("full drain with nil amount", func(t *testing.T) {
		svc := new(MockAllocationService)
		handler := NewAllocationHandler(svc)

		bodyBytes, _ := json.Marshal(clawbackRequest{
			OrgPoolAccountID: 1,
			Reason:           "subscription ended",
			ActorRef:         "ops-1",
		})

		svc.On("Clawback", mock.Anything, int64(1), (*int64)(nil), "subscription ended", "ops-1").
			Return(&model.Transaction{ID: 4, DestAccountID: 100, Amount: 750, Kind: model.KindReversal}, nil)

		ctx := setupTestContext("POST", "/allocations/clawback", bodyBytes)
		handler.Clawback(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})
}

func TestAllocationHandler_Reverse(t *testing.T) {
	t.Run("unknown transaction maps to 404", func(t *testing.T) {
		svc := new(MockAllocationService)
		handler := NewAllocationHandler(svc)

		bodyBytes, _ := json.Marshal(reverseRequest{TransactionID: 999, ActorRef: "ops-1"})
		svc.On("ReverseTransaction", mock.Anything, int64(999), "ops-1").
			Return(nil, services.ErrUnknownTransaction)

		ctx := setupTestContext("POST", "/allocations/reverse", bodyBytes)
		handler.Reverse(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
	})
}
