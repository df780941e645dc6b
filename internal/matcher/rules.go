package matcher

import (
	"fmt"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
)

// MatchingRule is one tier of the cascade
type MatchingRule interface {
	Confidence() domain.Confidence
	Match(record domain.CanonicalRecord, entry domain.LedgerEntry) bool
	Rationale(record domain.CanonicalRecord, entry domain.LedgerEntry) string
}

// ExactRule requires account, date, signed amount and normalized reference to agree
type ExactRule struct{}

func (ExactRule) Confidence() domain.Confidence { return domain.ConfidenceExact }

func (ExactRule) Match(record domain.CanonicalRecord, entry domain.LedgerEntry) bool {
	ref := normalizeReference(record.Reference)
	return sameAccount(record, entry) &&
		domain.DaysBetween(record.Date, entry.Date) == 0 &&
		record.SignedAmount() == entry.Amount &&
		ref != "" && ref == normalizeReference(entry.Reference)
}

func (ExactRule) Rationale(domain.CanonicalRecord, domain.LedgerEntry) string {
	return "exact: account, date, amount and reference agree"
}

// ProbableRule requires the same amount with dates inside a tolerance window
type ProbableRule struct {
	ToleranceDays int
}

func (r ProbableRule) Confidence() domain.Confidence { return domain.ConfidenceProbable }

func (r ProbableRule) Match(record domain.CanonicalRecord, entry domain.LedgerEntry) bool {
	return sameAccount(record, entry) &&
		record.SignedAmount() == entry.Amount &&
		domain.DaysBetween(record.Date, entry.Date) <= r.ToleranceDays
}

func (r ProbableRule) Rationale(record domain.CanonicalRecord, entry domain.LedgerEntry) string {
	return fmt.Sprintf("probable: amount agrees, dates %d day(s) apart", domain.DaysBetween(record.Date, entry.Date))
}

// ManualRule accepts a small rounding difference on the same side of the ledger.
// The date must fall inside WindowDays; the pair is only a proposal.
type ManualRule struct {
	Tolerance  int64
	WindowDays int
}

func (r ManualRule) Confidence() domain.Confidence { return domain.ConfidenceManual }

func (r ManualRule) Match(record domain.CanonicalRecord, entry domain.LedgerEntry) bool {
	signed := record.SignedAmount()
	if !sameAccount(record, entry) || (signed > 0) != (entry.Amount > 0) || entry.Amount == 0 {
		return false
	}
	return abs(signed-entry.Amount) <= r.Tolerance &&
		domain.DaysBetween(record.Date, entry.Date) <= r.WindowDays
}

func (r ManualRule) Rationale(record domain.CanonicalRecord, entry domain.LedgerEntry) string {
	return fmt.Sprintf("manual: amount differs by %d, dates %d day(s) apart",
		abs(record.SignedAmount()-entry.Amount), domain.DaysBetween(record.Date, entry.Date))
}

func sameAccount(record domain.CanonicalRecord, entry domain.LedgerEntry) bool {
	return record.AccountID != "" && record.AccountID == entry.AccountID
}

func normalizeReference(s string) string {
	return domain.NormalizeRef(s)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
