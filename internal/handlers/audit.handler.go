package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/openperks/points-ledger/internal/model"
	"github.com/openperks/points-ledger/internal/services"
	xhttp "github.com/openperks/points-ledger/pkg/http"
)

type AuditService interface {
	HistoryFor(ctx context.Context, accountID int64, since, until *time.Time, limit, offset int) ([]*model.Transaction, int64, error)
	ConservationCheck(ctx context.Context, ownerRefs []string) (*model.ConservationReport, error)
	TierSummary(ctx context.Context, ownerRef string) ([]*model.TierSummary, error)
}

type AuditHandler struct {
	svc AuditService
}

func RegisterAuditRoutes(e *router.Group, h *AuditHandler) {
	e.GET("/audit/history", h.History)
	e.GET("/audit/conservation", h.Conservation)
	e.GET("/audit/tier-summary", h.TierSummary)
}

func NewAuditHandler(svc AuditService) *AuditHandler {
	return &AuditHandler{
		svc: svc,
	}
}

type historyResponse struct {
	Items []*model.Transaction `json:"items"`
	Total int64                `json:"total"`
}

type tierSummaryResponse struct {
	Items []*model.TierSummary `json:"items"`
}

func (h *AuditHandler) History(ctx *xhttp.RequestCtx) {
	accountID, ok := queryInt64(ctx, "account_id")
	if !ok {
		writeError(ctx, 400, "account_id is required")
		return
	}

	var since, until *time.Time
	if v := query(ctx, "since"); v != "" {
		if t, err := parseTime(v); err == nil {
			since = &t
		}
	}
	if v := query(ctx, "until"); v != "" {
		if t, err := parseTime(v); err == nil {
			until = &t
		}
	}

	limit := 0
	offset := 0
	if v := query(ctx, "limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	items, total, err := h.svc.HistoryFor(ctx, accountID, since, until, limit, offset)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, historyResponse{Items: items, Total: total})
}

func (h *AuditHandler) Conservation(ctx *xhttp.RequestCtx) {
	var ownerRefs []string
	if v := query(ctx, "owners"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				ownerRefs = append(ownerRefs, parts[i])
			}
		}
	}

	report, err := h.svc.ConservationCheck(ctx, ownerRefs)
	if err != nil {
		// The report is still returned alongside the drift error so
		// operators can see the numbers.
		if errors.Is(err, services.ErrConservationDrift) {
			writeJSON(ctx, 500, report)
			return
		}
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, report)
}

func (h *AuditHandler) TierSummary(ctx *xhttp.RequestCtx) {
	ownerRef := query(ctx, "owner_ref")
	if ownerRef == "" {
		writeError(ctx, 400, "owner_ref is required")
		return
	}

	items, err := h.svc.TierSummary(ctx, ownerRef)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, tierSummaryResponse{Items: items})
}
