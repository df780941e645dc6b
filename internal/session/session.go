package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/audit"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/lock"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/matcher"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/repository"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/variance"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
)

var tracer = otel.Tracer("ledgerfy.session")

var (
	// ErrReasonRequired is returned when a variance is accepted without a reason
	ErrReasonRequired = errors.New("a reason is required to close an item with variance")
	ErrNoAccounts     = errors.New("at least one account is required")
	ErrInvalidPeriod  = errors.New("period end is before start")
)

// MatchRequest identifies a manual candidate for a decision
type MatchRequest struct {
	AccountID     string `json:"account_id" binding:"required"`
	RecordID      string `json:"record_id" binding:"required"`
	LedgerEntryID string `json:"ledger_entry_id" binding:"required"`
	Actor         string `json:"-"`
}

// Service runs reconciliation sessions: in-progress → completed → reviewed.
// Every mutation holds the report lock and the locks of the accounts it touches.
type Service interface {
	OpenSession(ctx context.Context, period domain.Period, accountIDs []string, actor string) (string, error)
	Advance(ctx context.Context, reportID string) (*domain.ReconciliationReport, error)
	AcceptMatch(ctx context.Context, reportID string, req MatchRequest) (*domain.ReconciliationReport, error)
	RejectMatch(ctx context.Context, reportID string, req MatchRequest) (*domain.ReconciliationReport, error)
	AcceptVariance(ctx context.Context, reportID, accountID, reason, actor string) (*domain.ReconciliationReport, error)
	Close(ctx context.Context, reportID, actor string) (*domain.ReconciliationReport, error)
	GetReport(ctx context.Context, reportID string) (*domain.ReconciliationReport, error)
	Export(ctx context.Context, reportID string) (*domain.ReportSnapshot, error)
}

type sessionService struct {
	reports  repository.ReportRepository
	ledger   repository.LedgerStore
	engine   *matcher.Engine
	analyzer *variance.Analyzer
	locker   lock.Locker
	audit    audit.Publisher
	now      func() time.Time
}

func NewService(
	reports repository.ReportRepository,
	ledger repository.LedgerStore,
	engine *matcher.Engine,
	analyzer *variance.Analyzer,
	locker lock.Locker,
	publisher audit.Publisher,
) Service {
	return &sessionService{
		reports:  reports,
		ledger:   ledger,
		engine:   engine,
		analyzer: analyzer,
		locker:   locker,
		audit:    publisher,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *sessionService) OpenSession(ctx context.Context, period domain.Period, accountIDs []string, actor string) (string, error) {
	accounts := normalizeAccounts(accountIDs)
	if len(accounts) == 0 {
		return "", ErrNoAccounts
	}
	if !period.From.IsZero() && !period.To.IsZero() && period.To.Before(period.From) {
		return "", fmt.Errorf("%w: %s < %s", ErrInvalidPeriod, period.To.Format("2006-01-02"), period.From.Format("2006-01-02"))
	}

	now := s.now()
	report := &domain.ReconciliationReport{
		ID:         uuid.New().String(),
		Period:     period,
		AccountIDs: accounts,
		Status:     domain.ReportInProgress,
		CreatedBy:  actor,
		CreatedAt:  now,
	}
	for _, id := range accounts {
		report.Items = append(report.Items, domain.ReconciliationItem{
			AccountID: id,
			Status:    domain.ItemPending,
			Priority:  domain.ImpactLow,
		})
	}

	if err := s.reports.Create(ctx, report); err != nil {
		return "", fmt.Errorf("failed to create report: %w", err)
	}

	logger.GetLogger().WithFields(logrus.Fields{
		"report_id": report.ID,
		"period":    period.Name,
		"accounts":  len(accounts),
		"actor":     actor,
	}).Info("Reconciliation session opened")

	audit.Emit(ctx, s.audit, audit.Event{
		Action:     audit.ActionSessionOpened,
		Actor:      actor,
		EntityType: "report",
		EntityID:   report.ID,
		OccurredAt: now,
		Details:    map[string]string{"accounts": strings.Join(accounts, ",")},
	})

	return report.ID, nil
}

// Advance re-runs matching and variance analysis for every unresolved item.
// Resolved items are left as they are, so repeated calls without new data change nothing.
func (s *sessionService) Advance(ctx context.Context, reportID string) (*domain.ReconciliationReport, error) {
	ctx, span := tracer.Start(ctx, "ReconciliationSession.Advance")
	defer span.End()
	span.SetAttributes(attribute.String("report_id", reportID))

	report, unlock, err := s.lockReport(ctx, reportID, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer unlock()

	for i := range report.Items {
		if report.Items[i].Resolved() {
			continue
		}
		s.evaluate(ctx, report, &report.Items[i])
	}
	finalize(report)

	if err := s.reports.Update(ctx, report); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to save report: %w", err)
	}

	logger.GetLogger().WithFields(logrus.Fields{
		"report_id":      report.ID,
		"status":         report.Status,
		"total_variance": report.TotalVariance,
	}).Info("Reconciliation session advanced")

	return report, nil
}

func (s *sessionService) AcceptMatch(ctx context.Context, reportID string, req MatchRequest) (*domain.ReconciliationReport, error) {
	return s.decide(ctx, reportID, req, true)
}

func (s *sessionService) RejectMatch(ctx context.Context, reportID string, req MatchRequest) (*domain.ReconciliationReport, error) {
	return s.decide(ctx, reportID, req, false)
}

func (s *sessionService) decide(ctx context.Context, reportID string, req MatchRequest, accept bool) (*domain.ReconciliationReport, error) {
	report, unlock, err := s.lockReport(ctx, reportID, []string{req.AccountID})
	if err != nil {
		return nil, err
	}
	defer unlock()

	item := report.Item(req.AccountID)
	if item == nil {
		return nil, domain.ErrUnknownAccount
	}
	if item.Resolved() {
		return nil, fmt.Errorf("item %s is %s: %w", item.AccountID, item.Status, domain.ErrInvalidTransition)
	}

	var candidate *domain.MatchCandidate
	for i := range item.Candidates {
		c := &item.Candidates[i]
		if c.ImportRecordID == req.RecordID && c.LedgerEntryID != nil && *c.LedgerEntryID == req.LedgerEntryID {
			candidate = c
			break
		}
	}
	if candidate == nil || candidate.Confidence != domain.ConfidenceManual || candidate.Accepted {
		return nil, domain.ErrCandidateNotFound
	}
	if accept {
		for _, d := range report.Decisions {
			if d.Accepted && d.AccountID == req.AccountID && d.LedgerEntryID == req.LedgerEntryID {
				return nil, domain.ErrLedgerEntryConsumed
			}
		}
	}

	now := s.now()
	report.Decisions = append(report.Decisions, domain.MatchDecision{
		AccountID:     req.AccountID,
		RecordID:      req.RecordID,
		LedgerEntryID: req.LedgerEntryID,
		Accepted:      accept,
		Actor:         req.Actor,
		DecidedAt:     now,
	})
	s.evaluate(ctx, report, item)
	finalize(report)

	if err := s.reports.Update(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}

	action := audit.ActionMatchRejected
	if accept {
		action = audit.ActionMatchAccepted
	}
	logger.GetLogger().WithFields(logrus.Fields{
		"report_id":       report.ID,
		"account_id":      req.AccountID,
		"record_id":       req.RecordID,
		"ledger_entry_id": req.LedgerEntryID,
		"actor":           req.Actor,
		"action":          action,
	}).Info("Match decision recorded")

	audit.Emit(ctx, s.audit, audit.Event{
		Action:     action,
		Actor:      req.Actor,
		EntityType: "report",
		EntityID:   report.ID,
		OccurredAt: now,
		Details: map[string]string{
			"account_id":      req.AccountID,
			"record_id":       req.RecordID,
			"ledger_entry_id": req.LedgerEntryID,
		},
	})

	return report, nil
}

// AcceptVariance resolves an item without a zero difference. The variance stays on the item.
func (s *sessionService) AcceptVariance(ctx context.Context, reportID, accountID, reason, actor string) (*domain.ReconciliationReport, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}

	report, unlock, err := s.lockReport(ctx, reportID, []string{accountID})
	if err != nil {
		return nil, err
	}
	defer unlock()

	item := report.Item(accountID)
	if item == nil {
		return nil, domain.ErrUnknownAccount
	}
	if item.Resolved() {
		return nil, fmt.Errorf("item %s is already resolved: %w", accountID, domain.ErrInvalidTransition)
	}

	item.ClosedWithVariance = true
	item.CloseReason = strings.TrimSpace(reason)
	finalize(report)

	if err := s.reports.Update(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}

	now := s.now()
	logger.GetLogger().WithFields(logrus.Fields{
		"report_id":  report.ID,
		"account_id": accountID,
		"difference": item.Difference,
		"actor":      actor,
	}).Info("Item closed with variance")

	audit.Emit(ctx, s.audit, audit.Event{
		Action:     audit.ActionVarianceClosed,
		Actor:      actor,
		EntityType: "report",
		EntityID:   report.ID,
		OccurredAt: now,
		Details: map[string]string{
			"account_id": accountID,
			"difference": fmt.Sprintf("%d", item.Difference),
			"reason":     item.CloseReason,
		},
	})

	return report, nil
}

// Close moves the report to reviewed; it cannot change afterwards
func (s *sessionService) Close(ctx context.Context, reportID, actor string) (*domain.ReconciliationReport, error) {
	report, unlock, err := s.lockReport(ctx, reportID, nil)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	report.Status = domain.ReportReviewed
	report.ReviewedBy = actor
	report.ReviewedAt = &now

	if err := s.reports.Update(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}

	logger.GetLogger().WithFields(logrus.Fields{
		"report_id": report.ID,
		"actor":     actor,
	}).Info("Reconciliation session closed")

	audit.Emit(ctx, s.audit, audit.Event{
		Action:     audit.ActionSessionClosed,
		Actor:      actor,
		EntityType: "report",
		EntityID:   report.ID,
		OccurredAt: now,
		Details:    map[string]string{"total_variance": fmt.Sprintf("%d", report.TotalVariance)},
	})

	return report, nil
}

func (s *sessionService) GetReport(ctx context.Context, reportID string) (*domain.ReconciliationReport, error) {
	return s.reports.GetByID(ctx, reportID)
}

// Export returns a read-only snapshot of a completed or reviewed report
func (s *sessionService) Export(ctx context.Context, reportID string) (*domain.ReportSnapshot, error) {
	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report.Status == domain.ReportInProgress {
		return nil, domain.ErrReportNotFinal
	}

	return &domain.ReportSnapshot{
		ReportID:      report.ID,
		Period:        report.Period,
		Status:        report.Status,
		TotalVariance: report.TotalVariance,
		Items:         report.Items,
		Decisions:     report.Decisions,
		ReviewedBy:    report.ReviewedBy,
		ReviewedAt:    report.ReviewedAt,
		ExportedAt:    s.now(),
	}, nil
}

// lockReport locks the report and the given accounts (all accounts when nil) and loads the report.
// A reviewed report is rejected before anything changes.
func (s *sessionService) lockReport(ctx context.Context, reportID string, accountIDs []string) (*domain.ReconciliationReport, func(), error) {
	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, nil, err
	}
	if accountIDs == nil {
		accountIDs = report.AccountIDs
	}

	keys := []string{"report:" + reportID}
	for _, id := range accountIDs {
		keys = append(keys, "account:"+id)
	}
	unlock, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock report: %w", err)
	}

	// reload under the lock
	report, err = s.reports.GetByID(ctx, reportID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	if report.Status == domain.ReportReviewed {
		unlock()
		return nil, nil, domain.ErrSessionClosedViolation
	}
	return report, unlock, nil
}

// evaluate recomputes one item from the ledger store. Store failures mark the item as error.
func (s *sessionService) evaluate(ctx context.Context, report *domain.ReconciliationReport, item *domain.ReconciliationItem) {
	ctx, span := tracer.Start(ctx, "ReconciliationSession.evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("account_id", item.AccountID))

	log := logger.GetLogger().WithFields(logrus.Fields{
		"report_id":  report.ID,
		"account_id": item.AccountID,
	})

	markError := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Error("Failed to evaluate reconciliation item")
		item.Status = domain.ItemError
		item.ErrorMessage = err.Error()
	}

	records, err := s.ledger.Postings(ctx, item.AccountID, report.Period)
	if err != nil {
		markError(fmt.Errorf("failed to load postings: %w", err))
		return
	}
	entries, err := s.ledger.Entries(ctx, item.AccountID, report.Period)
	if err != nil {
		markError(fmt.Errorf("failed to load ledger entries: %w", err))
		return
	}
	opening, err := s.ledger.OpeningBalance(ctx, item.AccountID, report.Period.From)
	if err != nil {
		markError(fmt.Errorf("failed to load opening balance: %w", err))
		return
	}

	decisions := matcher.Decisions{Accepted: map[matcher.Pair]bool{}, Rejected: map[matcher.Pair]bool{}}
	decided := make(map[matcher.Pair]domain.MatchDecision)
	for _, d := range report.Decisions {
		if d.AccountID != item.AccountID {
			continue
		}
		pair := matcher.Pair{RecordID: d.RecordID, LedgerEntryID: d.LedgerEntryID}
		if d.Accepted {
			decisions.Accepted[pair] = true
		} else {
			decisions.Rejected[pair] = true
		}
		decided[pair] = d
	}

	result := s.engine.Run(records, entries, decisions)

	unmatched, pending := len(result.UnmatchedEntries), 0
	for i := range result.Candidates {
		c := &result.Candidates[i]
		if c.LedgerEntryID != nil {
			if d, ok := decided[matcher.Pair{RecordID: c.ImportRecordID, LedgerEntryID: *c.LedgerEntryID}]; ok && d.Accepted {
				decidedAt := d.DecidedAt
				c.DecidedBy = d.Actor
				c.DecidedAt = &decidedAt
			}
		}
		switch {
		case c.IsMatched():
		case c.Confidence == domain.ConfidenceManual:
			pending++
			unmatched++
		default:
			unmatched++
		}
	}

	book, external := opening, opening
	for _, e := range entries {
		book += e.Amount
	}
	for _, r := range records {
		external += r.SignedAmount()
	}

	v := s.analyzer.Analyze(item.AccountID, book, external, unmatched)
	item.BookBalance = book
	item.ExternalBalance = external
	item.Difference = v.Variance
	item.UnmatchedCount = unmatched
	item.PendingCount = pending
	item.Variance = &v
	item.Priority = v.Impact
	item.Candidates = result.Candidates
	item.ErrorMessage = ""

	switch {
	case item.Difference == 0 && unmatched == 0:
		item.Status = domain.ItemReconciled
		if item.LastReconciledAt == nil {
			now := s.now()
			item.LastReconciledAt = &now
		}
	case pending > 0:
		item.Status = domain.ItemPending
	default:
		item.Status = domain.ItemUnreconciled
	}

	log.WithFields(logrus.Fields{
		"status":     item.Status,
		"difference": item.Difference,
		"unmatched":  unmatched,
		"pending":    pending,
	}).Debug("Reconciliation item evaluated")
}

// finalize recomputes the report totals and status from its items
func finalize(report *domain.ReconciliationReport) {
	var total int64
	resolved := true
	for _, item := range report.Items {
		if item.Difference < 0 {
			total -= item.Difference
		} else {
			total += item.Difference
		}
		if !item.Resolved() {
			resolved = false
		}
	}
	report.TotalVariance = total
	if resolved {
		report.Status = domain.ReportCompleted
	} else {
		report.Status = domain.ReportInProgress
	}
}

func normalizeAccounts(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
