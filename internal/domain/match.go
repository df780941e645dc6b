package domain

import "time"

// Confidence is the tier a match candidate was proposed at
type Confidence string

const (
	ConfidenceExact     Confidence = "exact"
	ConfidenceProbable  Confidence = "probable"
	ConfidenceManual    Confidence = "manual"
	ConfidenceUnmatched Confidence = "unmatched"
)

// MatchCandidate pairs an imported record with a ledger entry.
// Exact and probable candidates are accepted on creation; manual ones wait for a decision.
type MatchCandidate struct {
	ImportRecordID   string     `json:"import_record_id"`
	LedgerEntryID    *string    `json:"ledger_entry_id,omitempty"`
	Confidence       Confidence `json:"confidence"`
	Rationale        string     `json:"rationale"`
	AmountDifference int64      `json:"amount_difference"`
	DateDistanceDays int        `json:"date_distance_days"`
	Accepted         bool       `json:"accepted"`
	DecidedBy        string     `json:"decided_by,omitempty"`
	DecidedAt        *time.Time `json:"decided_at,omitempty"`
}

// IsMatched reports whether the candidate counts as a match for reconciliation
func (c MatchCandidate) IsMatched() bool {
	return c.LedgerEntryID != nil && c.Accepted
}

// MatchDecision records an explicit acceptance or rejection of a manual candidate
type MatchDecision struct {
	AccountID     string    `json:"account_id"`
	RecordID      string    `json:"record_id"`
	LedgerEntryID string    `json:"ledger_entry_id"`
	Accepted      bool      `json:"accepted"`
	Actor         string    `json:"actor"`
	DecidedAt     time.Time `json:"decided_at"`
}
