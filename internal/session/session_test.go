package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/audit"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/lock"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/matcher"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/repository/memory"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/session"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/variance"
)

var (
	march  = domain.Period{Name: "2024-03", From: date(1), To: date(31)}
	ctx    = context.Background()
	broken = errors.New("ledger unavailable")
)

func date(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

// flakyLedger fails reads for one account
type flakyLedger struct {
	*memory.LedgerStore
	failing string
}

func (l *flakyLedger) Entries(ctx context.Context, accountID string, period domain.Period) ([]domain.LedgerEntry, error) {
	if accountID == l.failing {
		return nil, broken
	}
	return l.LedgerStore.Entries(ctx, accountID, period)
}

type fixture struct {
	svc      session.Service
	ledger   *flakyLedger
	recorder *audit.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ledger := &flakyLedger{LedgerStore: memory.NewLedgerStore(), failing: "BROKEN"}
	analyzer, err := variance.NewAnalyzer(variance.DefaultThresholds(0.5, 2))
	require.NoError(t, err)
	recorder := &audit.Recorder{}

	svc := session.NewService(
		memory.NewReportStore(),
		ledger,
		matcher.NewEngine(matcher.Config{DateToleranceDays: 3, RoundingTolerance: 5, ManualWindowDays: 31}),
		analyzer,
		lock.NewLocalLocker(),
		recorder,
	)
	return fixture{svc: svc, ledger: ledger, recorder: recorder}
}

func (f fixture) post(t *testing.T, account, sourceID string, day int, amount int64, dir domain.Direction, ref string) {
	t.Helper()
	_, err := f.ledger.Post(ctx, domain.Posting{
		ID:             sourceID,
		IdempotencyKey: "job-1:" + sourceID,
		ImportID:       "job-1",
		Record: domain.CanonicalRecord{
			SourceID:  sourceID,
			Date:      date(day),
			Amount:    amount,
			Direction: dir,
			Reference: ref,
			AccountID: account,
			ImportID:  "job-1",
		},
	})
	require.NoError(t, err)
}

func (f fixture) open(t *testing.T, accounts ...string) string {
	t.Helper()
	id, err := f.svc.OpenSession(ctx, march, accounts, "alice")
	require.NoError(t, err)
	return id
}

func TestOpenSession(t *testing.T) {
	f := newFixture(t)

	id := f.open(t, "ACC-2", "ACC-1", "ACC-2", " ")
	report, err := f.svc.GetReport(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, domain.ReportInProgress, report.Status)
	assert.Equal(t, []string{"ACC-1", "ACC-2"}, report.AccountIDs)
	require.Len(t, report.Items, 2)
	assert.Equal(t, domain.ItemPending, report.Items[0].Status)
	assert.Equal(t, audit.ActionSessionOpened, f.recorder.Events()[0].Action)

	_, err = f.svc.OpenSession(ctx, march, nil, "alice")
	assert.ErrorIs(t, err, session.ErrNoAccounts)
	_, err = f.svc.OpenSession(ctx, march, []string{"  "}, "alice")
	assert.ErrorIs(t, err, session.ErrNoAccounts)
	_, err = f.svc.OpenSession(ctx, domain.Period{From: date(31), To: date(1)}, []string{"ACC-1"}, "alice")
	assert.ErrorIs(t, err, session.ErrInvalidPeriod)
}

func TestAdvance_ExactMatchReconciles(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEntries(domain.LedgerEntry{ID: "E1", AccountID: "ACC-1", Date: date(5), Amount: 50000, Reference: "INV-1"})
	f.post(t, "ACC-1", "S1", 5, 50000, domain.Credit, "inv-1")

	report, err := f.svc.Advance(ctx, f.open(t, "ACC-1"))
	require.NoError(t, err)

	item := report.Item("ACC-1")
	require.NotNil(t, item)
	assert.Equal(t, domain.ItemReconciled, item.Status)
	assert.Equal(t, int64(0), item.Difference)
	assert.NotNil(t, item.LastReconciledAt)
	require.Len(t, item.Candidates, 1)
	assert.Equal(t, domain.ConfidenceExact, item.Candidates[0].Confidence)
	assert.Equal(t, domain.ReportCompleted, report.Status)
	assert.Equal(t, int64(0), report.TotalVariance)
}

func TestAdvance_VarianceIsClassified(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEntries(domain.LedgerEntry{ID: "E1", AccountID: "ACC-2", Date: date(10), Amount: 1248750})
	f.post(t, "ACC-2", "S1", 10, 1250000, domain.Credit, "")

	report, err := f.svc.Advance(ctx, f.open(t, "ACC-2"))
	require.NoError(t, err)

	item := report.Item("ACC-2")
	assert.Equal(t, domain.ItemUnreconciled, item.Status)
	assert.Equal(t, int64(1250), item.Difference)
	require.NotNil(t, item.Variance)
	assert.True(t, item.Variance.VariancePercentage.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, domain.ImpactLow, item.Priority)
	assert.Equal(t, 2, item.UnmatchedCount)
	assert.Nil(t, item.LastReconciledAt)
	assert.Equal(t, int64(1250), report.TotalVariance)
	assert.Equal(t, domain.ReportInProgress, report.Status)
}

func TestAdvance_ReconciledRequiresEveryRecordMatched(t *testing.T) {
	f := newFixture(t)
	// balances agree but the pairs do not match: +100 -100 on the statement vs nothing in the book
	f.post(t, "ACC-1", "S1", 3, 100, domain.Credit, "")
	f.post(t, "ACC-1", "S2", 20, 100, domain.Debit, "")

	report, err := f.svc.Advance(ctx, f.open(t, "ACC-1"))
	require.NoError(t, err)

	item := report.Item("ACC-1")
	assert.Equal(t, int64(0), item.Difference)
	assert.Equal(t, domain.ItemUnreconciled, item.Status)
	assert.Equal(t, domain.ReasonOffsettingRecords, item.Variance.ReasonCode)
}

func TestAdvance_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEntries(
		domain.LedgerEntry{ID: "E1", AccountID: "ACC-1", Date: date(5), Amount: 50000, Reference: "INV-1"},
		domain.LedgerEntry{ID: "E2", AccountID: "ACC-2", Date: date(6), Amount: 1000},
	)
	f.post(t, "ACC-1", "S1", 5, 50000, domain.Credit, "INV-1")
	f.post(t, "ACC-2", "S2", 7, 1003, domain.Credit, "")
	id := f.open(t, "ACC-1", "ACC-2")

	first, err := f.svc.Advance(ctx, id)
	require.NoError(t, err)
	second, err := f.svc.Advance(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestManualDecisionsAndVarianceAcceptance(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEntries(domain.LedgerEntry{ID: "E1", AccountID: "ACC-1", Date: date(6), Amount: 1000})
	f.post(t, "ACC-1", "S1", 7, 1003, domain.Credit, "")
	id := f.open(t, "ACC-1")

	report, err := f.svc.Advance(ctx, id)
	require.NoError(t, err)
	item := report.Item("ACC-1")
	assert.Equal(t, domain.ItemPending, item.Status)
	assert.Equal(t, 1, item.PendingCount)
	require.Len(t, item.Candidates, 1)
	assert.Equal(t, domain.ConfidenceManual, item.Candidates[0].Confidence)

	req := session.MatchRequest{AccountID: "ACC-1", RecordID: "job-1/S1", LedgerEntryID: "E1", Actor: "bob"}
	report, err = f.svc.AcceptMatch(ctx, id, req)
	require.NoError(t, err)
	item = report.Item("ACC-1")
	assert.True(t, item.Candidates[0].IsMatched())
	assert.Equal(t, "bob", item.Candidates[0].DecidedBy)
	assert.Equal(t, 0, item.UnmatchedCount)
	assert.Equal(t, domain.ItemUnreconciled, item.Status, "a rounding difference remains")
	require.Len(t, report.Decisions, 1)

	_, err = f.svc.AcceptMatch(ctx, id, req)
	assert.ErrorIs(t, err, domain.ErrCandidateNotFound)

	_, err = f.svc.AcceptVariance(ctx, id, "ACC-1", "", "bob")
	assert.ErrorIs(t, err, session.ErrReasonRequired)

	report, err = f.svc.AcceptVariance(ctx, id, "ACC-1", "bank charge rounding", "bob")
	require.NoError(t, err)
	assert.True(t, report.Item("ACC-1").ClosedWithVariance)
	assert.Equal(t, domain.ReportCompleted, report.Status)
	assert.Equal(t, int64(3), report.TotalVariance)

	actions := []audit.Action{}
	for _, e := range f.recorder.Events() {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, audit.ActionMatchAccepted)
	assert.Contains(t, actions, audit.ActionVarianceClosed)
}

func TestRejectMatch(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEntries(domain.LedgerEntry{ID: "E1", AccountID: "ACC-1", Date: date(6), Amount: 1000})
	f.post(t, "ACC-1", "S1", 7, 1003, domain.Credit, "")
	id := f.open(t, "ACC-1")
	_, err := f.svc.Advance(ctx, id)
	require.NoError(t, err)

	report, err := f.svc.RejectMatch(ctx, id, session.MatchRequest{AccountID: "ACC-1", RecordID: "job-1/S1", LedgerEntryID: "E1", Actor: "bob"})
	require.NoError(t, err)

	item := report.Item("ACC-1")
	assert.Equal(t, domain.ConfidenceUnmatched, item.Candidates[0].Confidence)
	assert.Equal(t, domain.ItemUnreconciled, item.Status)

	// the rejection sticks across advances
	report, err = f.svc.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfidenceUnmatched, report.Item("ACC-1").Candidates[0].Confidence)
}

func TestDecisionOnUnknownAccount(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, "ACC-1")

	_, err := f.svc.AcceptMatch(ctx, id, session.MatchRequest{AccountID: "ACC-9", RecordID: "x", LedgerEntryID: "y"})
	assert.ErrorIs(t, err, domain.ErrUnknownAccount)
}

func TestAdvance_StoreFailureMarksItemError(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEntries(domain.LedgerEntry{ID: "E1", AccountID: "ACC-1", Date: date(5), Amount: 500, Reference: "R"})
	f.post(t, "ACC-1", "S1", 5, 500, domain.Credit, "R")

	report, err := f.svc.Advance(ctx, f.open(t, "ACC-1", "BROKEN"))
	require.NoError(t, err)

	assert.Equal(t, domain.ItemReconciled, report.Item("ACC-1").Status)
	assert.Equal(t, domain.ItemError, report.Item("BROKEN").Status)
	assert.Contains(t, report.Item("BROKEN").ErrorMessage, "ledger unavailable")
	assert.Equal(t, domain.ReportInProgress, report.Status)
}

func TestClose_RejectsFurtherMutation(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEntries(domain.LedgerEntry{ID: "E1", AccountID: "ACC-1", Date: date(5), Amount: 700})
	id := f.open(t, "ACC-1")
	_, err := f.svc.Advance(ctx, id)
	require.NoError(t, err)

	closed, err := f.svc.Close(ctx, id, "carol")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportReviewed, closed.Status)
	assert.Equal(t, "carol", closed.ReviewedBy)

	// new data arrives after review
	f.post(t, "ACC-1", "S1", 5, 700, domain.Credit, "")

	_, err = f.svc.Advance(ctx, id)
	assert.ErrorIs(t, err, domain.ErrSessionClosedViolation)
	_, err = f.svc.AcceptVariance(ctx, id, "ACC-1", "late", "carol")
	assert.ErrorIs(t, err, domain.ErrSessionClosedViolation)
	_, err = f.svc.Close(ctx, id, "carol")
	assert.ErrorIs(t, err, domain.ErrSessionClosedViolation)

	after, err := f.svc.GetReport(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, closed, after)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEntries(domain.LedgerEntry{ID: "E1", AccountID: "ACC-1", Date: date(5), Amount: 500, Reference: "R"})
	id := f.open(t, "ACC-1")

	_, err := f.svc.Export(ctx, id)
	assert.ErrorIs(t, err, domain.ErrReportNotFinal)

	f.post(t, "ACC-1", "S1", 5, 500, domain.Credit, "R")
	_, err = f.svc.Advance(ctx, id)
	require.NoError(t, err)

	snapshot, err := f.svc.Export(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, snapshot.ReportID)
	assert.Equal(t, domain.ReportCompleted, snapshot.Status)
	require.Len(t, snapshot.Items, 1)
	assert.False(t, snapshot.ExportedAt.IsZero())

	_, err = f.svc.Export(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
