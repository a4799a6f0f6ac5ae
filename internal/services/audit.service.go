package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openperks/points-ledger/internal/model"
	"github.com/openperks/points-ledger/pkg/logger"
	"github.com/openperks/points-ledger/pkg/prom"
)

// ErrConservationDrift is a standing invariant violation, not a request
// failure: it means points were created or destroyed outside of issuance.
// It pages an operator and is never silently corrected.
var ErrConservationDrift = errors.New("conservation drift detected")

type AuditTransactionRepository interface {
	List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
	SumIssued(ctx context.Context, ownerRefs []string) (int64, error)
}

type AuditAccountRepository interface {
	SumNetCredited(ctx context.Context, ownerRefs []string) (int64, error)
	ListByOwner(ctx context.Context, ownerRef string) ([]*model.Account, error)
}

// AuditService is the read-only projection layer over the append-only
// record. It reads the store directly; the transfer engine is write-path
// only.
type AuditService struct {
	transactionRepo AuditTransactionRepository
	accountRepo     AuditAccountRepository
}

func NewAuditService(transactionRepo AuditTransactionRepository, accountRepo AuditAccountRepository) *AuditService {
	return &AuditService{
		transactionRepo: transactionRepo,
		accountRepo:     accountRepo,
	}
}

// HistoryFor returns the ledger entries touching one account within the
// window, ordered by created_at ascending. Calling it twice with the same
// arguments and no intervening writes yields identical output.
func (s *AuditService) HistoryFor(ctx context.Context, accountID int64, since, until *time.Time, limit, offset int) ([]*model.Transaction, int64, error) {
	return s.transactionRepo.List(ctx, model.TransactionFilter{
		AccountID: &accountID,
		Since:     since,
		Until:     until,
		Limit:     limit,
		Offset:    offset,
	})
}

// ConservationCheck compares what the accounts say exists against what was
// ever issued. ownerRefs scopes the check; empty means the whole system.
// Non-zero drift is reported, gauged for alerting, and returned alongside
// ErrConservationDrift - it is never corrected here.
func (s *AuditService) ConservationCheck(ctx context.Context, ownerRefs []string) (*model.ConservationReport, error) {
	expected, err := s.transactionRepo.SumIssued(ctx, ownerRefs)
	if err != nil {
		return nil, err
	}

	actual, err := s.accountRepo.SumNetCredited(ctx, ownerRefs)
	if err != nil {
		return nil, err
	}

	report := &model.ConservationReport{
		ExpectedTotal: expected,
		ActualSum:     actual,
		Drift:         actual - expected,
	}

	scope := "all"
	if len(ownerRefs) > 0 {
		scope = strings.Join(ownerRefs, ",")
	}
	prom.SetConservationDrift(scope, float64(report.Drift))

	if report.Drift != 0 {
		logger.Error("conservation drift detected",
			"scope", scope,
			"expected_total", report.ExpectedTotal,
			"actual_sum", report.ActualSum,
			"drift", report.Drift,
		)
		return report, ErrConservationDrift
	}

	return report, nil
}

// TierSummary is the dashboard projection for one owner: how much each of
// its accounts was ever allocated, pushed further down, and still holds.
// Purely derived, no state.
func (s *AuditService) TierSummary(ctx context.Context, ownerRef string) ([]*model.TierSummary, error) {
	accounts, err := s.accountRepo.ListByOwner(ctx, ownerRef)
	if err != nil {
		return nil, err
	}

	summaries := make([]*model.TierSummary, len(accounts))
	for i, a := range accounts {
		summaries[i] = &model.TierSummary{
			AccountID:       a.ID,
			Tier:            a.Tier,
			OwnerRef:        a.OwnerRef,
			Allocated:       a.LifetimeCredited,
			DistributedDown: a.LifetimeDebited,
			Held:            a.Balance,
		}
	}

	return summaries, nil
}
