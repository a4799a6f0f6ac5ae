package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/fasthttp/router"
	"github.com/openperks/points-ledger/internal/model"
	"github.com/openperks/points-ledger/internal/services"
	xhttp "github.com/openperks/points-ledger/pkg/http"
)

type AllocationService interface {
	IssueToOrg(ctx context.Context, orgPoolAccountID int64, amount int64, actorRef string) (*model.Transaction, error)
	DelegateToSubunit(ctx context.Context, orgPoolAccountID, subunitAccountID int64, amount int64, actorRef string) (*model.Transaction, error)
	AwardToHolder(ctx context.Context, sourceAccountID, holderWalletID int64, amount int64, reference, actorRef string) (*model.Transaction, error)
	Clawback(ctx context.Context, orgPoolAccountID int64, amount *int64, reason, actorRef string) (*model.Transaction, error)
	ReverseTransaction(ctx context.Context, transactionID int64, actorRef string) (*model.Transaction, error)
}

type AllocationHandler struct {
	svc AllocationService
}

func RegisterAllocationRoutes(e *router.Group, h *AllocationHandler) {
	e.POST("/allocations/issue", h.Issue)
	e.POST("/allocations/delegate", h.Delegate)
	e.POST("/allocations/award", h.Award)
	e.POST("/allocations/clawback", h.Clawback)
	e.POST("/allocations/reverse", h.Reverse)
}

func NewAllocationHandler(svc AllocationService) *AllocationHandler {
	return &AllocationHandler{
		svc: svc,
	}
}

type issueRequest struct {
	OrgPoolAccountID int64  `json:"org_pool_account_id"`
	Amount           int64  `json:"amount"`
	ActorRef         string `json:"actor_ref"`
}

type delegateRequest struct {
	OrgPoolAccountID int64  `json:"org_pool_account_id"`
	SubunitAccountID int64  `json:"subunit_account_id"`
	Amount           int64  `json:"amount"`
	ActorRef         string `json:"actor_ref"`
}

type awardRequest struct {
	SourceAccountID int64  `json:"source_account_id"`
	HolderWalletID  int64  `json:"holder_wallet_id"`
	Amount          int64  `json:"amount"`
	Reference       string `json:"reference"`
	ActorRef        string `json:"actor_ref"`
}

type clawbackRequest struct {
	OrgPoolAccountID int64  `json:"org_pool_account_id"`
	Amount           *int64 `json:"amount"` // nil = full remaining balance
	Reason           string `json:"reason"`
	ActorRef         string `json:"actor_ref"`
}

type reverseRequest struct {
	TransactionID int64  `json:"transaction_id"`
	ActorRef      string `json:"actor_ref"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *AllocationHandler) Issue(ctx *xhttp.RequestCtx) {
	var req issueRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	txn, err := h.svc.IssueToOrg(ctx, req.OrgPoolAccountID, req.Amount, req.ActorRef)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, txn)
}

func (h *AllocationHandler) Delegate(ctx *xhttp.RequestCtx) {
	var req delegateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	txn, err := h.svc.DelegateToSubunit(ctx, req.OrgPoolAccountID, req.SubunitAccountID, req.Amount, req.ActorRef)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, txn)
}

func (h *AllocationHandler) Award(ctx *xhttp.RequestCtx) {
	var req awardRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	txn, err := h.svc.AwardToHolder(ctx, req.SourceAccountID, req.HolderWalletID, req.Amount, req.Reference, req.ActorRef)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, txn)
}

func (h *AllocationHandler) Clawback(ctx *xhttp.RequestCtx) {
	var req clawbackRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	txn, err := h.svc.Clawback(ctx, req.OrgPoolAccountID, req.Amount, req.Reason, req.ActorRef)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, txn)
}

func (h *AllocationHandler) Reverse(ctx *xhttp.RequestCtx) {
	var req reverseRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	txn, err := h.svc.ReverseTransaction(ctx, req.TransactionID, req.ActorRef)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, txn)
}

/* --------------------------------- Helpers ----------------------------------- */

// writeServiceError maps the ledger error taxonomy onto HTTP statuses.
// Business rejections are 4xx outcomes the caller surfaces to the end user,
// not incidents.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		writeError(ctx, 403, err.Error())
	case errors.Is(err, services.ErrUnknownAccount), errors.Is(err, services.ErrUnknownTransaction):
		writeError(ctx, 404, err.Error())
	case errors.Is(err, services.ErrInactiveAccount):
		writeError(ctx, 409, err.Error())
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrIllegalTierTransfer),
		errors.Is(err, services.ErrInsufficientBalance):
		writeError(ctx, 422, err.Error())
	default:
		writeError(ctx, 500, err.Error())
	}
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func queryInt64(ctx *xhttp.RequestCtx, key string) (int64, bool) {
	v := query(ctx, key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
