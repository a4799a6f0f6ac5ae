package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/openperks/points-ledger/internal/model"
	xhttp "github.com/openperks/points-ledger/pkg/http"
)

type AccountService interface {
	GetOrCreateAccount(ctx context.Context, tier model.Tier, ownerRef string) (*model.Account, error)
	Get(ctx context.Context, id int64) (*model.Account, error)
	ListByOwner(ctx context.Context, ownerRef string) ([]*model.Account, error)
	Deactivate(ctx context.Context, id int64) error
}

type AccountHandler struct {
	svc AccountService
}

func RegisterAccountRoutes(e *router.Group, h *AccountHandler) {
	e.POST("/accounts", h.GetOrCreate)
	e.GET("/accounts", h.Get)
	e.GET("/accounts/by-owner", h.ListByOwner)
	e.POST("/accounts/deactivate", h.Deactivate)
}

func NewAccountHandler(svc AccountService) *AccountHandler {
	return &AccountHandler{
		svc: svc,
	}
}

type getOrCreateAccountRequest struct {
	Tier     model.Tier `json:"tier"`
	OwnerRef string     `json:"owner_ref"`
}

type deactivateAccountRequest struct {
	AccountID int64 `json:"account_id"`
}

type accountListResponse struct {
	Items []*model.Account `json:"items"`
}

func (h *AccountHandler) GetOrCreate(ctx *xhttp.RequestCtx) {
	var req getOrCreateAccountRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	account, err := h.svc.GetOrCreateAccount(ctx, req.Tier, req.OwnerRef)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, account)
}

func (h *AccountHandler) Get(ctx *xhttp.RequestCtx) {
	id, ok := queryInt64(ctx, "id")
	if !ok {
		writeError(ctx, 400, "id is required")
		return
	}
	account, err := h.svc.Get(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, account)
}

func (h *AccountHandler) ListByOwner(ctx *xhttp.RequestCtx) {
	ownerRef := query(ctx, "owner_ref")
	if ownerRef == "" {
		writeError(ctx, 400, "owner_ref is required")
		return
	}
	accounts, err := h.svc.ListByOwner(ctx, ownerRef)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, accountListResponse{Items: accounts})
}

func (h *AccountHandler) Deactivate(ctx *xhttp.RequestCtx) {
	var req deactivateAccountRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if err := h.svc.Deactivate(ctx, req.AccountID); err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, map[string]string{"status": "inactive"})
}
