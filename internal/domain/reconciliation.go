package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemStatus is the reconciliation state of one account
type ItemStatus string

const (
	ItemReconciled   ItemStatus = "reconciled"
	ItemPending      ItemStatus = "pending"
	ItemUnreconciled ItemStatus = "unreconciled"
	ItemError        ItemStatus = "error"
)

// Impact classifies the size of a variance
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// Variance reason codes
const (
	ReasonBalanced          = "BALANCED"
	ReasonBalanceMismatch   = "BALANCE_MISMATCH"
	ReasonUnmatchedRecords  = "UNMATCHED_RECORDS"
	ReasonOffsettingRecords = "UNMATCHED_OFFSETTING"
)

// VarianceEntry is the book-vs-external difference of one account
type VarianceEntry struct {
	AccountID          string          `json:"account_id"`
	ExpectedAmount     int64           `json:"expected_amount"`
	ActualAmount       int64           `json:"actual_amount"`
	Variance           int64           `json:"variance"`
	VariancePercentage decimal.Decimal `json:"variance_percentage"`
	Impact             Impact          `json:"impact"`
	ReasonCode         string          `json:"reason_code"`
	UnmatchedCount     int             `json:"unmatched_count"`
}

// ReconciliationItem is the per-account line of a report
type ReconciliationItem struct {
	AccountID          string           `json:"account_id"`
	BookBalance        int64            `json:"book_balance"`
	ExternalBalance    int64            `json:"external_balance"`
	Difference         int64            `json:"difference"`
	Status             ItemStatus       `json:"status"`
	Priority           Impact           `json:"priority"`
	UnmatchedCount     int              `json:"unmatched_count"`
	PendingCount       int              `json:"pending_count"`
	Variance           *VarianceEntry   `json:"variance,omitempty"`
	Candidates         []MatchCandidate `json:"candidates,omitempty"`
	ClosedWithVariance bool             `json:"closed_with_variance"`
	CloseReason        string           `json:"close_reason,omitempty"`
	ErrorMessage       string           `json:"error_message,omitempty"`
	LastReconciledAt   *time.Time       `json:"last_reconciled_at,omitempty"`
}

// Resolved reports whether the item no longer needs matching
func (i ReconciliationItem) Resolved() bool {
	return i.Status == ItemReconciled || i.ClosedWithVariance
}

// ReportStatus is the lifecycle state of a ReconciliationReport
type ReportStatus string

const (
	ReportInProgress ReportStatus = "in-progress"
	ReportCompleted  ReportStatus = "completed"
	ReportReviewed   ReportStatus = "reviewed"
)

// ReconciliationReport aggregates the items of one session
type ReconciliationReport struct {
	ID            string               `json:"id" db:"id"`
	Period        Period               `json:"period" db:"period"`
	AccountIDs    []string             `json:"account_ids" db:"account_ids"`
	Items         []ReconciliationItem `json:"items" db:"items"`
	Decisions     []MatchDecision      `json:"decisions" db:"decisions"`
	TotalVariance int64                `json:"total_variance" db:"total_variance"`
	Status        ReportStatus         `json:"status" db:"status"`
	CreatedBy     string               `json:"created_by" db:"created_by"`
	CreatedAt     time.Time            `json:"created_at" db:"created_at"`
	ReviewedBy    string               `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt    *time.Time           `json:"reviewed_at,omitempty" db:"reviewed_at"`
}

// Item returns the item for the account, or nil
func (r *ReconciliationReport) Item(accountID string) *ReconciliationItem {
	for i := range r.Items {
		if r.Items[i].AccountID == accountID {
			return &r.Items[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the report
func (r *ReconciliationReport) Clone() *ReconciliationReport {
	if r == nil {
		return nil
	}
	c := *r
	c.AccountIDs = append([]string(nil), r.AccountIDs...)
	c.Decisions = append([]MatchDecision(nil), r.Decisions...)
	c.Items = make([]ReconciliationItem, len(r.Items))
	for i, item := range r.Items {
		item.Candidates = append([]MatchCandidate(nil), item.Candidates...)
		if item.Variance != nil {
			v := *item.Variance
			item.Variance = &v
		}
		if item.LastReconciledAt != nil {
			t := *item.LastReconciledAt
			item.LastReconciledAt = &t
		}
		c.Items[i] = item
	}
	if r.ReviewedAt != nil {
		t := *r.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}

// ReportSnapshot is the read-only export form of a finished report
type ReportSnapshot struct {
	ReportID      string               `json:"report_id"`
	Period        Period               `json:"period"`
	Status        ReportStatus         `json:"status"`
	TotalVariance int64                `json:"total_variance"`
	Items         []ReconciliationItem `json:"items"`
	Decisions     []MatchDecision      `json:"decisions"`
	ReviewedBy    string               `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time           `json:"reviewed_at,omitempty"`
	ExportedAt    time.Time            `json:"exported_at"`
}
