package domain

import "time"

// LedgerEntry is a book record owned by the ledger store; read-only to the engine.
// Amount is signed (credits positive) and BookBalance is the running balance after the entry.
type LedgerEntry struct {
	ID          string    `json:"id" db:"id"`
	AccountID   string    `json:"account_id" db:"account_id"`
	Date        time.Time `json:"date" db:"date"`
	Amount      int64     `json:"amount" db:"amount"`
	Reference   string    `json:"reference" db:"reference"`
	BookBalance int64     `json:"book_balance" db:"book_balance"`
}

// Posting is a committed CanonicalRecord written to the ledger store
type Posting struct {
	ID             string          `json:"id" db:"id"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	ImportID       string          `json:"import_id" db:"import_id"`
	Record         CanonicalRecord `json:"record" db:"record"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Period is an inclusive calendar date range; a zero bound is open
type Period struct {
	Name string    `json:"name"`
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether the date falls inside the period
func (p Period) Contains(t time.Time) bool {
	d := DateOf(t)
	if !p.From.IsZero() && d.Before(DateOf(p.From)) {
		return false
	}
	if !p.To.IsZero() && d.After(DateOf(p.To)) {
		return false
	}
	return true
}
